package bulk

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/filemaker-mcp/internal/fmclient"
	"git.cscs.ch/openchami/filemaker-mcp/internal/metrics"
)

const (
	defaultExportPageSize = 100
	defaultExportMaxPages = 1000
)

// ExportFormat is a serialization format for exports.
type ExportFormat string

const (
	FormatStructured ExportFormat = "json"
	FormatDelimited  ExportFormat = "csv"
	FormatMarkup     ExportFormat = "xml"
)

// ParseExportFormat accepts a format name or its alias. An empty value means
// json.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json", "structured":
		return FormatStructured, nil
	case "csv", "delimited":
		return FormatDelimited, nil
	case "xml", "markup":
		return FormatMarkup, nil
	default:
		return "", invalidf("unsupported export format %q (expected json, csv or xml)", raw)
	}
}

// ExportRequest describes one export.
type ExportRequest struct {
	Layout          string
	Format          ExportFormat
	Query           []map[string]any
	Fields          []string
	IncludeMetadata bool
	PageSize        int
	MaxPages        int
}

// ExportMetadata is the optional header of a structured export.
type ExportMetadata struct {
	ExportDate  string `json:"exportDate"`
	Layout      string `json:"layout"`
	RecordCount int    `json:"recordCount"`
	Fields      any    `json:"fields"`
}

// ExportResult carries the serialized payload and its description.
type ExportResult struct {
	Layout       string       `json:"layout"`
	Format       ExportFormat `json:"format"`
	RecordCount  int          `json:"recordCount"`
	PagesFetched int          `json:"pagesFetched"`
	Truncated    bool         `json:"truncated"`
	SizeBytes    int          `json:"sizeBytes"`
	Size         string       `json:"size"`
	Checksum     string       `json:"checksum"`
	Data         string       `json:"data"`
}

// Exporter reads a whole layout and serializes it.
type Exporter struct {
	pages *Paginator
	opts  Options
	log   zerolog.Logger
}

// NewExporter creates an exporter reading through pages.
func NewExporter(pages *Paginator, opts Options, logger zerolog.Logger) *Exporter {
	return &Exporter{
		pages: pages,
		opts:  opts.normalized(),
		log:   logger.With().Str("component", "exporter").Logger(),
	}
}

// Export collects every matching record and serializes the projection.
func (ex *Exporter) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if req.Format == "" {
		req.Format = FormatStructured
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultExportPageSize
	}
	if req.MaxPages <= 0 {
		req.MaxPages = defaultExportMaxPages
	}

	fetched, err := ex.pages.FetchAll(ctx, PageQuery{
		Layout:   req.Layout,
		Query:    req.Query,
		PageSize: req.PageSize,
		MaxPages: req.MaxPages,
	})
	if err != nil {
		return nil, fmt.Errorf("exporting %q: %w", req.Layout, err)
	}

	layout := strings.TrimSpace(req.Layout)
	var payload []byte
	switch req.Format {
	case FormatStructured:
		payload, err = ex.encodeStructured(layout, fetched.Records, req)
	case FormatDelimited:
		payload, err = encodeDelimited(fetched.Records, req.Fields)
	case FormatMarkup:
		payload, err = encodeMarkup(layout, fetched.Records, req.Fields)
	default:
		return nil, invalidf("unsupported export format %q", req.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s export: %w", req.Format, err)
	}

	metrics.AddBulkItems("export", "succeeded", len(fetched.Records))
	ex.log.Info().
		Str("layout", layout).
		Str("format", string(req.Format)).
		Int("records", len(fetched.Records)).
		Int("bytes", len(payload)).
		Bool("truncated", fetched.HasMore).
		Msg("export completed")

	return &ExportResult{
		Layout:       layout,
		Format:       req.Format,
		RecordCount:  len(fetched.Records),
		PagesFetched: fetched.PagesFetched,
		Truncated:    fetched.HasMore,
		SizeBytes:    len(payload),
		Size:         humanize.Bytes(uint64(len(payload))),
		Checksum:     fmt.Sprintf("%016x", xxhash.Sum64(payload)),
		Data:         string(payload),
	}, nil
}

func (ex *Exporter) encodeStructured(layout string, records []fmclient.Record, req ExportRequest) ([]byte, error) {
	projected := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		projected = append(projected, Project(rec.Fields, req.Fields))
	}

	doc := struct {
		Metadata *ExportMetadata  `json:"metadata,omitempty"`
		Records  []map[string]any `json:"records"`
	}{Records: projected}
	if req.IncludeMetadata {
		var fields any = "all"
		if len(req.Fields) > 0 {
			fields = req.Fields
		}
		doc.Metadata = &ExportMetadata{
			ExportDate:  ex.opts.Now().UTC().Format(time.RFC3339),
			Layout:      layout,
			RecordCount: len(records),
			Fields:      fields,
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// columns returns the projection, or the union of field names in first-seen
// order with each record's own names sorted.
func columns(records []fmclient.Record, fields []string) []string {
	if len(fields) > 0 {
		return fields
	}
	seen := map[string]struct{}{}
	var out []string
	for _, rec := range records {
		names := make([]string, 0, len(rec.Fields))
		for name := range rec.Fields {
			if _, ok := seen[name]; !ok {
				names = append(names, name)
			}
		}
		slices.Sort(names)
		for _, name := range names {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

func encodeDelimited(records []fmclient.Record, fields []string) ([]byte, error) {
	header := columns(records, fields)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(header) > 0 {
		if err := w.Write(header); err != nil {
			return nil, err
		}
	}
	row := make([]string, len(header))
	for _, rec := range records {
		for i, name := range header {
			row[i] = scalarText(rec.Fields[name])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type xmlExport struct {
	XMLName xml.Name    `xml:"export"`
	Layout  string      `xml:"layout,attr"`
	Records []xmlRecord `xml:"record"`
}

type xmlRecord struct {
	ID     string     `xml:"id,attr,omitempty"`
	Fields []xmlField `xml:"field"`
}

type xmlField struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

func encodeMarkup(layout string, records []fmclient.Record, fields []string) ([]byte, error) {
	doc := xmlExport{Layout: layout, Records: make([]xmlRecord, 0, len(records))}
	for _, rec := range records {
		projected := Project(rec.Fields, fields)
		names := fields
		if len(names) == 0 {
			names = make([]string, 0, len(projected))
			for name := range projected {
				names = append(names, name)
			}
			slices.Sort(names)
		}
		xr := xmlRecord{ID: rec.ID}
		for _, name := range names {
			value, ok := projected[name]
			if !ok {
				continue
			}
			xr.Fields = append(xr.Fields, xmlField{Name: name, Value: scalarText(value)})
		}
		doc.Records = append(doc.Records, xr)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package tools

import (
	"context"
	"encoding/json"
	"strings"

	"git.cscs.ch/openchami/filemaker-mcp/internal/bulk"
	"git.cscs.ch/openchami/filemaker-mcp/internal/fmclient"
)

type sortArg struct {
	FieldName string `json:"fieldName"`
	SortOrder string `json:"sortOrder,omitempty"`
}

func parseSort(args []sortArg) ([]fmclient.SortField, error) {
	if len(args) == 0 {
		return nil, nil
	}
	sort := make([]fmclient.SortField, 0, len(args))
	for i, s := range args {
		field := strings.TrimSpace(s.FieldName)
		if field == "" {
			return nil, validationErrorf("sort[%d].fieldName is required", i)
		}
		order := strings.ToLower(strings.TrimSpace(s.SortOrder))
		switch order {
		case "", fmclient.SortAscend, fmclient.SortDescend:
		default:
			return nil, validationErrorf("sort[%d].sortOrder must be ascend or descend", i)
		}
		sort = append(sort, fmclient.SortField{Field: field, Order: order})
	}
	return sort, nil
}

func (r *Runner) paginatedQuery(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Layout   string          `json:"layout"`
		Query    json.RawMessage `json:"query,omitempty"`
		Page     *int            `json:"page,omitempty"`
		PageSize *int            `json:"pageSize,omitempty"`
		MaxPages *int            `json:"maxPages,omitempty"`
		Sort     []sortArg       `json:"sort,omitempty"`
		Fields   []string        `json:"fields,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	layout, err := requiredLayout("layout", req.Layout)
	if err != nil {
		return nil, err
	}
	query, err := findQuery(req.Query)
	if err != nil {
		return nil, err
	}
	sort, err := parseSort(req.Sort)
	if err != nil {
		return nil, err
	}
	page, err := positiveOr(req.Page, "page", 1)
	if err != nil {
		return nil, err
	}
	pageSize, err := positiveOr(req.PageSize, "pageSize", r.cfg.PageSize)
	if err != nil {
		return nil, err
	}
	maxPages, err := positiveOr(req.MaxPages, "maxPages", r.cfg.MaxPages)
	if err != nil {
		return nil, err
	}

	result, err := r.pages.FetchAll(ctx, bulk.PageQuery{
		Layout:    layout,
		Query:     query,
		Sort:      sort,
		PageSize:  pageSize,
		MaxPages:  maxPages,
		StartPage: page,
	})
	if err != nil {
		return nil, mapExecutionError(err, "querying records")
	}

	fields := trimStringList(req.Fields)
	records := make([]map[string]any, 0, len(result.Records))
	for _, rec := range result.Records {
		records = append(records, map[string]any{
			"recordId":  rec.ID,
			"fieldData": bulk.Project(rec.Fields, fields),
		})
	}
	return map[string]any{
		"layout":       layout,
		"startPage":    page,
		"pageSize":     pageSize,
		"pagesFetched": result.PagesFetched,
		"hasMore":      result.HasMore,
		"foundCount":   result.FoundCount,
		"recordCount":  len(records),
		"records":      records,
	}, nil
}

func (r *Runner) bulkExport(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Layout          string          `json:"layout"`
		Format          string          `json:"format,omitempty"`
		Query           json.RawMessage `json:"query,omitempty"`
		Fields          []string        `json:"fields,omitempty"`
		IncludeMetadata *bool           `json:"includeMetadata,omitempty"`
		MaxPages        *int            `json:"maxPages,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	layout, err := requiredLayout("layout", req.Layout)
	if err != nil {
		return nil, err
	}
	format, err := bulk.ParseExportFormat(req.Format)
	if err != nil {
		return nil, mapExecutionError(err, "exporting records")
	}
	query, err := findQuery(req.Query)
	if err != nil {
		return nil, err
	}
	maxPages, err := positiveOr(req.MaxPages, "maxPages", r.cfg.ExportMaxPages)
	if err != nil {
		return nil, err
	}
	includeMetadata := true
	if req.IncludeMetadata != nil {
		includeMetadata = *req.IncludeMetadata
	}

	result, err := r.exporter.Export(ctx, bulk.ExportRequest{
		Layout:          layout,
		Format:          format,
		Query:           query,
		Fields:          trimStringList(req.Fields),
		IncludeMetadata: includeMetadata,
		PageSize:        r.cfg.PageSize,
		MaxPages:        maxPages,
	})
	if err != nil {
		return nil, mapExecutionError(err, "exporting records")
	}
	return toMap(result)
}

package bulk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/filemaker-mcp/internal/fmclient"
	"git.cscs.ch/openchami/filemaker-mcp/internal/metrics"
)

// ImportMode selects how imported records reach the target layout.
type ImportMode string

const (
	ImportModeCreate         ImportMode = "create"
	ImportModeUpdateOrCreate ImportMode = "updateOrCreate"
)

// ParseImportMode validates an import mode. An empty value means create.
func ParseImportMode(raw string) (ImportMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "create":
		return ImportModeCreate, nil
	case "updateorcreate", "update", "upsert":
		return ImportModeUpdateOrCreate, nil
	default:
		return "", invalidf("unsupported import mode %q (expected create or updateOrCreate)", raw)
	}
}

// DuplicatePolicy decides what happens in updateOrCreate mode when no
// existing record matches.
type DuplicatePolicy string

const (
	DuplicateSkip   DuplicatePolicy = "skip"
	DuplicateUpdate DuplicatePolicy = "update"
	DuplicateCreate DuplicatePolicy = "create"
)

// ParseDuplicatePolicy validates a duplicate policy. An empty value means skip.
func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DuplicateSkip:
		return DuplicateSkip, nil
	case DuplicateUpdate:
		return DuplicateUpdate, nil
	case DuplicateCreate:
		return DuplicateCreate, nil
	default:
		return "", invalidf("unsupported duplicate handling %q (expected skip, update or create)", raw)
	}
}

// ImportRequest describes one bulk import.
type ImportRequest struct {
	Layout          string
	Items           []map[string]any
	FieldMapping    map[string]string
	Mode            ImportMode
	DuplicatePolicy DuplicatePolicy
	// KeyFields are target field names identifying an existing record.
	KeyFields []string
	// RequiredFields are target field names every mapped record must carry.
	RequiredFields []string
}

// RecordError is a failed record kept verbatim with its error.
type RecordError struct {
	Record map[string]any `json:"record"`
	Error  string         `json:"error"`
}

// ImportResult counts the outcome of an import. Successful+Failed+Skipped
// equals Total unless the run was cancelled.
type ImportResult struct {
	RunID       string        `json:"runId"`
	Layout      string        `json:"layout"`
	Mode        ImportMode    `json:"importMode"`
	Total       int           `json:"total"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Errors      []RecordError `json:"errors"`
	SuccessRate string        `json:"successRate"`
	FailureRate string        `json:"failureRate"`
	Duration    string        `json:"duration"`
}

type importAction int

const (
	actionCreated importAction = iota
	actionUpdated
	actionSkipped
)

// Importer loads external records into a layout.
type Importer struct {
	store RecordStore
	opts  Options
	log   zerolog.Logger
}

// NewImporter creates an importer.
func NewImporter(store RecordStore, opts Options, logger zerolog.Logger) *Importer {
	return &Importer{
		store: store,
		opts:  opts.normalized(),
		log:   logger.With().Str("component", "importer").Logger(),
	}
}

// Import maps and writes every item. Per-item failures are counted and kept
// in the result; only an invalid request or cancellation returns an error.
func (im *Importer) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	layout := strings.TrimSpace(req.Layout)
	if layout == "" {
		return nil, invalidf("layout is required")
	}
	if req.Mode == "" {
		req.Mode = ImportModeCreate
	}
	if req.DuplicatePolicy == "" {
		req.DuplicatePolicy = DuplicateSkip
	}
	if req.Mode != ImportModeCreate && req.Mode != ImportModeUpdateOrCreate {
		return nil, invalidf("unsupported import mode %q", req.Mode)
	}
	if req.Mode == ImportModeUpdateOrCreate && len(req.KeyFields) == 0 {
		return nil, invalidf("keyFields are required in updateOrCreate mode")
	}

	started := time.Now()
	result := &ImportResult{
		RunID:  uuid.NewString(),
		Layout: layout,
		Mode:   req.Mode,
		Total:  len(req.Items),
		Errors: []RecordError{},
	}
	finish := func() *ImportResult {
		result.SuccessRate = rate(result.Successful, result.Total)
		result.FailureRate = rate(result.Failed, result.Total)
		result.Duration = time.Since(started).String()
		metrics.AddBulkItems("import", "succeeded", result.Successful)
		metrics.AddBulkItems("import", "failed", result.Failed)
		metrics.AddBulkItems("import", "skipped", result.Skipped)
		return result
	}

	chunks := Chunk(req.Items, im.opts.ImportChunkSize)
	for i, chunk := range chunks {
		for _, item := range chunk {
			if err := ctx.Err(); err != nil {
				return finish(), fmt.Errorf("import aborted: %w", err)
			}
			action, err := im.importOne(ctx, layout, req, item)
			if aborted(ctx, err) {
				return finish(), fmt.Errorf("import aborted: %w", ctx.Err())
			}
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, RecordError{Record: item, Error: errorText(err)})
				continue
			}
			switch action {
			case actionCreated:
				result.Successful++
				result.Created++
			case actionUpdated:
				result.Successful++
				result.Updated++
			case actionSkipped:
				result.Skipped++
			}
		}

		im.log.Debug().Str("layout", layout).Int("chunk", i+1).Int("items", len(chunk)).Msg("import chunk processed")
		if i < len(chunks)-1 {
			if err := pause(ctx, im.opts.ChunkDelay); err != nil {
				return finish(), fmt.Errorf("import aborted: %w", err)
			}
		}
	}

	finish()
	im.log.Info().
		Str("run_id", result.RunID).
		Str("layout", layout).
		Int("total", result.Total).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("import completed")
	return result, nil
}

func (im *Importer) importOne(ctx context.Context, layout string, req ImportRequest, item map[string]any) (importAction, error) {
	mapped := MapFields(item, req.FieldMapping)
	for _, field := range req.RequiredFields {
		if isBlank(mapped[field]) {
			return 0, fmt.Errorf("required field %q is missing", field)
		}
	}

	if req.Mode == ImportModeCreate {
		if _, err := im.store.Create(ctx, layout, mapped); err != nil {
			return 0, err
		}
		return actionCreated, nil
	}

	existing, err := im.lookup(ctx, layout, mapped, req.KeyFields)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		if err := im.store.Update(ctx, layout, existing.ID, mapped); err != nil {
			return 0, err
		}
		return actionUpdated, nil
	}

	if req.DuplicatePolicy == DuplicateCreate {
		if _, err := im.store.Create(ctx, layout, mapped); err != nil {
			return 0, err
		}
		return actionCreated, nil
	}
	return actionSkipped, nil
}

func (im *Importer) lookup(ctx context.Context, layout string, record map[string]any, keyFields []string) (*fmclient.Record, error) {
	criteria := make(map[string]any, len(keyFields))
	for _, key := range keyFields {
		value, ok := record[key]
		if !ok || isBlank(value) {
			return nil, fmt.Errorf("key field %q is missing", key)
		}
		criteria[key] = ExactMatch(value)
	}

	found, err := im.store.Find(ctx, layout, fmclient.FindRequest{
		Query: []map[string]any{criteria},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("looking up existing record: %w", err)
	}
	if len(found.Records) == 0 {
		return nil, nil
	}
	return &found.Records[0], nil
}

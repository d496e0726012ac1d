package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/filemaker-mcp/internal/metrics"
)

// Operation is a record operation a batch can run.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ErrUnsupportedOperation is returned for an operation outside the closed set.
var ErrUnsupportedOperation = errors.New("unsupported batch operation")

// ParseOperation validates an operation name.
func ParseOperation(raw string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := operationHandlers[op]; !ok {
		return "", fmt.Errorf("%w %q (expected create, update or delete)", ErrUnsupportedOperation, raw)
	}
	return op, nil
}

// BatchItem is one record of a batch. Create uses FieldData, update uses
// both fields and delete uses RecordID.
type BatchItem struct {
	RecordID  string         `json:"recordId,omitempty"`
	FieldData map[string]any `json:"fieldData,omitempty"`
}

// ItemResult is the outcome of one item. Position is 1-based across the
// whole batch.
type ItemResult struct {
	Position int    `json:"position"`
	RecordID string `json:"recordId,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// BatchOutcome summarizes one chunk.
type BatchOutcome struct {
	Index     int          `json:"batchIndex"`
	ItemCount int          `json:"recordCount"`
	Success   bool         `json:"success"`
	Errors    []ItemResult `json:"errors"`
	Results   []ItemResult `json:"results"`
}

// BatchSummary aggregates all chunk outcomes.
type BatchSummary struct {
	SuccessfulBatches int `json:"successfulBatches"`
	FailedBatches     int `json:"failedBatches"`
	TotalErrors       int `json:"totalErrors"`
	SucceededItems    int `json:"succeededItems"`
	FailedItems       int `json:"failedItems"`
}

// BatchReport is the result of a batch run.
type BatchReport struct {
	Operation    Operation      `json:"operation"`
	Layout       string         `json:"layout"`
	TotalRecords int            `json:"totalRecords"`
	TotalBatches int            `json:"totalBatches"`
	BatchSize    int            `json:"batchSize"`
	Results      []BatchOutcome `json:"results"`
	Summary      BatchSummary   `json:"summary"`
	Duration     string         `json:"duration"`
}

type operationHandler func(ctx context.Context, store RecordStore, layout string, item BatchItem) (string, error)

var operationHandlers = map[Operation]operationHandler{
	OperationCreate: func(ctx context.Context, store RecordStore, layout string, item BatchItem) (string, error) {
		return store.Create(ctx, layout, item.FieldData)
	},
	OperationUpdate: func(ctx context.Context, store RecordStore, layout string, item BatchItem) (string, error) {
		id := strings.TrimSpace(item.RecordID)
		if id == "" {
			return "", fmt.Errorf("recordId is required for update")
		}
		return id, store.Update(ctx, layout, id, item.FieldData)
	},
	OperationDelete: func(ctx context.Context, store RecordStore, layout string, item BatchItem) (string, error) {
		id := strings.TrimSpace(item.RecordID)
		if id == "" {
			return "", fmt.Errorf("recordId is required for delete")
		}
		return id, store.Delete(ctx, layout, id)
	},
}

// Executor runs batches of single-record operations.
type Executor struct {
	store RecordStore
	opts  Options
	log   zerolog.Logger
}

// NewExecutor creates a batch executor.
func NewExecutor(store RecordStore, opts Options, logger zerolog.Logger) *Executor {
	return &Executor{
		store: store,
		opts:  opts.normalized(),
		log:   logger.With().Str("component", "batch").Logger(),
	}
}

// Run applies op to every item, chunkSize items per chunk. Item failures are
// recorded in the report. On cancellation the partial report is returned with
// the context error.
func (e *Executor) Run(ctx context.Context, op Operation, layout string, items []BatchItem, chunkSize int) (*BatchReport, error) {
	handler, ok := operationHandlers[op]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedOperation, op)
	}
	layout = strings.TrimSpace(layout)
	if layout == "" {
		return nil, invalidf("layout is required")
	}
	if chunkSize < 1 {
		chunkSize = 1
	}

	started := time.Now()
	chunks := Chunk(items, chunkSize)
	report := &BatchReport{
		Operation:    op,
		Layout:       layout,
		TotalRecords: len(items),
		TotalBatches: len(chunks),
		BatchSize:    chunkSize,
		Results:      make([]BatchOutcome, 0, len(chunks)),
	}
	finish := func() *BatchReport {
		report.Duration = time.Since(started).String()
		metrics.AddBulkItems("batch", "succeeded", report.Summary.SucceededItems)
		metrics.AddBulkItems("batch", "failed", report.Summary.FailedItems)
		return report
	}

	position := 0
	for i, chunk := range chunks {
		outcome := BatchOutcome{
			Index:     i + 1,
			ItemCount: len(chunk),
			Success:   true,
			Errors:    []ItemResult{},
			Results:   make([]ItemResult, 0, len(chunk)),
		}
		for _, item := range chunk {
			if err := ctx.Err(); err != nil {
				report.Results = append(report.Results, outcome)
				return finish(), fmt.Errorf("batch %s aborted: %w", op, err)
			}
			position++
			id, err := handler(ctx, e.store, layout, item)
			if aborted(ctx, err) {
				report.Results = append(report.Results, outcome)
				return finish(), fmt.Errorf("batch %s aborted: %w", op, ctx.Err())
			}

			result := ItemResult{Position: position, RecordID: id, Success: err == nil}
			if result.RecordID == "" {
				result.RecordID = strings.TrimSpace(item.RecordID)
			}
			if err != nil {
				result.Error = errorText(err)
				outcome.Success = false
				outcome.Errors = append(outcome.Errors, result)
				report.Summary.FailedItems++
				report.Summary.TotalErrors++
			} else {
				report.Summary.SucceededItems++
			}
			outcome.Results = append(outcome.Results, result)
		}

		if outcome.Success {
			report.Summary.SuccessfulBatches++
		} else {
			report.Summary.FailedBatches++
		}
		report.Results = append(report.Results, outcome)
		e.log.Debug().
			Str("operation", string(op)).
			Int("batch", outcome.Index).
			Int("items", outcome.ItemCount).
			Int("errors", len(outcome.Errors)).
			Msg("batch chunk processed")

		if i < len(chunks)-1 {
			if err := pause(ctx, e.opts.ChunkDelay); err != nil {
				return finish(), fmt.Errorf("batch %s aborted: %w", op, err)
			}
		}
	}

	finish()
	e.log.Info().
		Str("operation", string(op)).
		Str("layout", layout).
		Int("records", report.TotalRecords).
		Int("failed_batches", report.Summary.FailedBatches).
		Int("errors", report.Summary.TotalErrors).
		Msg("batch run completed")
	return report, nil
}

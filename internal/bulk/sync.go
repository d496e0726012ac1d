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

const (
	// DefaultWatermarkField is the FileMaker modification timestamp field.
	DefaultWatermarkField = "_modificationTimestamp"
	// TimestampLayout is the FileMaker timestamp format used in find criteria.
	TimestampLayout = "01/02/2006 15:04:05"

	defaultSyncPageSize = 100
	defaultSyncMaxPages = 1000
)

// ConflictStrategy decides which side wins when both records exist.
type ConflictStrategy string

const (
	SourceWins ConflictStrategy = "source_wins"
	TargetWins ConflictStrategy = "target_wins"
	Manual     ConflictStrategy = "manual"
)

// ParseConflictStrategy validates a strategy name. An empty value means
// source_wins.
func ParseConflictStrategy(raw string) (ConflictStrategy, error) {
	switch ConflictStrategy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SourceWins:
		return SourceWins, nil
	case TargetWins:
		return TargetWins, nil
	case Manual:
		return Manual, nil
	default:
		return "", invalidf("unsupported conflict resolution %q (expected source_wins, target_wins or manual)", raw)
	}
}

// SyncRequest describes one sync run from a source to a target layout.
type SyncRequest struct {
	SourceLayout string
	TargetLayout string
	KeyField     string
	// Watermark limits the source to records modified after it.
	Watermark      *time.Time
	WatermarkField string
	Strategy       ConflictStrategy
	PageSize       int
	MaxPages       int
}

// SyncResult reports one sync run. NextWatermark is the completion time and
// can be passed as the watermark of the following run.
type SyncResult struct {
	RunID         string        `json:"runId"`
	SourceLayout  string        `json:"sourceLayout"`
	TargetLayout  string        `json:"targetLayout"`
	Strategy      string        `json:"conflictResolution"`
	Processed     int           `json:"processed"`
	Added         int           `json:"added"`
	Updated       int           `json:"updated"`
	Errors        []RecordError `json:"errors"`
	SuccessRate   string        `json:"successRate"`
	Truncated     bool          `json:"truncated"`
	StartedAt     time.Time     `json:"startedAt"`
	NextWatermark time.Time     `json:"nextWatermark"`
}

// Syncer copies records from one layout to another, matching on a key field.
type Syncer struct {
	store RecordStore
	pages *Paginator
	opts  Options
	log   zerolog.Logger
}

// NewSyncer creates a sync engine.
func NewSyncer(store RecordStore, pages *Paginator, opts Options, logger zerolog.Logger) *Syncer {
	return &Syncer{
		store: store,
		pages: pages,
		opts:  opts.normalized(),
		log:   logger.With().Str("component", "sync").Logger(),
	}
}

// Sync copies every source record into the target, overwriting matches.
func (s *Syncer) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	source := strings.TrimSpace(req.SourceLayout)
	target := strings.TrimSpace(req.TargetLayout)
	keyField := strings.TrimSpace(req.KeyField)
	switch {
	case source == "":
		return nil, invalidf("sourceLayout is required")
	case target == "":
		return nil, invalidf("targetLayout is required")
	case keyField == "":
		return nil, invalidf("keyField is required")
	}
	if req.Strategy == "" {
		req.Strategy = SourceWins
	}
	if req.Strategy != SourceWins {
		return nil, invalidf("conflict resolution %q is not implemented", req.Strategy)
	}
	if req.WatermarkField == "" {
		req.WatermarkField = DefaultWatermarkField
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultSyncPageSize
	}
	if req.MaxPages <= 0 {
		req.MaxPages = defaultSyncMaxPages
	}

	result := &SyncResult{
		RunID:        uuid.NewString(),
		SourceLayout: source,
		TargetLayout: target,
		Strategy:     string(req.Strategy),
		Errors:       []RecordError{},
		StartedAt:    s.opts.Now().UTC(),
	}
	finish := func() *SyncResult {
		result.SuccessRate = rate(result.Added+result.Updated, result.Processed)
		result.NextWatermark = s.opts.Now().UTC()
		metrics.AddBulkItems("sync", "succeeded", result.Added+result.Updated)
		metrics.AddBulkItems("sync", "failed", len(result.Errors))
		return result
	}

	var query []map[string]any
	if req.Watermark != nil {
		query = []map[string]any{{req.WatermarkField: ">" + req.Watermark.In(s.opts.ServerLocation).Format(TimestampLayout)}}
	}
	fetched, err := s.pages.FetchAll(ctx, PageQuery{
		Layout:   source,
		Query:    query,
		PageSize: req.PageSize,
		MaxPages: req.MaxPages,
	})
	if err != nil {
		return nil, fmt.Errorf("reading source layout: %w", err)
	}
	result.Truncated = fetched.HasMore

	for _, rec := range fetched.Records {
		if err := ctx.Err(); err != nil {
			return finish(), fmt.Errorf("sync aborted: %w", err)
		}
		result.Processed++
		added, err := s.syncOne(ctx, target, keyField, rec)
		if aborted(ctx, err) {
			return finish(), fmt.Errorf("sync aborted: %w", ctx.Err())
		}
		switch {
		case err != nil:
			result.Errors = append(result.Errors, RecordError{Record: rec.Fields, Error: errorText(err)})
		case added:
			result.Added++
		default:
			result.Updated++
		}
	}

	finish()
	s.log.Info().
		Str("run_id", result.RunID).
		Str("source", source).
		Str("target", target).
		Int("processed", result.Processed).
		Int("added", result.Added).
		Int("updated", result.Updated).
		Int("errors", len(result.Errors)).
		Msg("sync completed")
	return result, nil
}

func (s *Syncer) syncOne(ctx context.Context, target, keyField string, rec fmclient.Record) (bool, error) {
	key, ok := rec.Fields[keyField]
	if !ok || isBlank(key) {
		return false, fmt.Errorf("key field %q is missing", keyField)
	}

	found, err := s.store.Find(ctx, target, fmclient.FindRequest{
		Query: []map[string]any{{keyField: ExactMatch(key)}},
		Limit: 1,
	})
	if err != nil {
		return false, fmt.Errorf("looking up target record: %w", err)
	}

	fields := MapFields(rec.Fields, nil)
	if len(found.Records) > 0 {
		if err := s.store.Update(ctx, target, found.Records[0].ID, fields); err != nil {
			return false, err
		}
		return false, nil
	}
	if _, err := s.store.Create(ctx, target, fields); err != nil {
		return false, err
	}
	return true, nil
}

// Package tools executes MCP tool calls against FileMaker through the bulk
// workflows, the shared cache and the advisory rate limiter.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/filemaker-mcp/internal/bulk"
	"git.cscs.ch/openchami/filemaker-mcp/internal/cache"
	"git.cscs.ch/openchami/filemaker-mcp/internal/fmclient"
	"git.cscs.ch/openchami/filemaker-mcp/internal/ratelimit"
)

const (
	defaultBatchSize      = 50
	defaultPageSize       = 100
	defaultMaxPages       = 10
	defaultExportMaxPages = 1000
	defaultRateWindow     = time.Minute
)

// RecordClient is the FileMaker client surface the runner needs.
type RecordClient interface {
	bulk.RecordStore
	Ping(ctx context.Context) error
	LayoutMetadata(ctx context.Context, layout string) (map[string]any, error)
}

// Config holds tool defaults. Zero values fall back to built-in defaults.
type Config struct {
	BatchSize      int
	PageSize       int
	MaxPages       int
	ExportMaxPages int
	CacheTTL       time.Duration
	RateWindow     time.Duration
	Pacing         bulk.Options
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	if c.ExportMaxPages <= 0 {
		c.ExportMaxPages = defaultExportMaxPages
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = cache.DefaultTTL
	}
	if c.RateWindow <= 0 {
		c.RateWindow = defaultRateWindow
	}
	return c
}

type handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Runner executes MCP tool calls.
type Runner struct {
	cfg      Config
	client   RecordClient
	batch    *bulk.Executor
	pages    *bulk.Paginator
	importer *bulk.Importer
	exporter *bulk.Exporter
	syncer   *bulk.Syncer
	cache    *cache.Cache
	limiter  *ratelimit.Limiter
	log      zerolog.Logger
	handlers map[Name]handler
}

// NewRunner wires the bulk workflows around client. The cache and limiter
// are shared by every call the runner serves.
func NewRunner(client RecordClient, store *cache.Cache, limiter *ratelimit.Limiter, cfg Config, logger zerolog.Logger) *Runner {
	cfg = cfg.withDefaults()
	if store == nil {
		store = cache.New()
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	pages := bulk.NewPaginator(client, cfg.Pacing, logger)

	r := &Runner{
		cfg:      cfg,
		client:   client,
		batch:    bulk.NewExecutor(client, cfg.Pacing, logger),
		pages:    pages,
		importer: bulk.NewImporter(client, cfg.Pacing, logger),
		exporter: bulk.NewExporter(pages, cfg.Pacing, logger),
		syncer:   bulk.NewSyncer(client, pages, cfg.Pacing, logger),
		cache:    store,
		limiter:  limiter,
		log:      logger.With().Str("component", "tools").Logger(),
	}
	r.handlers = map[Name]handler{
		BatchOperations:    r.batchOperations,
		PaginatedQuery:     r.paginatedQuery,
		BulkImport:         r.bulkImport,
		BulkExport:         r.bulkExport,
		DataSync:           r.dataSync,
		PerformanceMonitor: r.performanceMonitor,
		CacheManagement:    r.cacheManagement,
		RateLimitHandler:   r.rateLimitHandler,
	}
	return r
}

// Implemented returns the names the runner can dispatch.
func (r *Runner) Implemented() []Name {
	names := make([]Name, 0, len(r.handlers))
	for _, name := range Names() {
		if _, ok := r.handlers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Call executes one tool by name and returns JSON-like map content.
func (r *Runner) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	h, ok := r.handlers[Name(strings.TrimSpace(name))]
	if !ok {
		return nil, validationErrorf("tool %s is not implemented", strings.TrimSpace(name))
	}
	return h(ctx, args)
}

// ToolError carries an HTTP-style status code and message for tool failures.
type ToolError struct {
	statusCode int
	message    string
}

// Error implements error.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.message)
}

// StatusCode returns the attached status code.
func (e *ToolError) StatusCode() int {
	if e == nil || e.statusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.statusCode
}

func validationErrorf(format string, args ...any) error {
	return &ToolError{
		statusCode: http.StatusBadRequest,
		message:    fmt.Sprintf(format, args...),
	}
}

type statusCoder interface {
	StatusCode() int
}

func mapExecutionError(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}
	if errors.Is(err, bulk.ErrInvalidRequest) || errors.Is(err, bulk.ErrUnsupportedOperation) {
		return &ToolError{statusCode: http.StatusBadRequest, message: err.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ToolError{
			statusCode: http.StatusGatewayTimeout,
			message:    fallback + ": request timed out",
		}
	}
	if errors.Is(err, context.Canceled) {
		return &ToolError{
			statusCode: http.StatusRequestTimeout,
			message:    fallback + ": request canceled",
		}
	}

	var authErr *fmclient.AuthError
	if errors.As(err, &authErr) {
		return &ToolError{statusCode: http.StatusUnauthorized, message: fmt.Sprintf("%s: %v", fallback, err)}
	}
	var notFound *fmclient.NotFoundError
	if errors.As(err, &notFound) {
		return &ToolError{statusCode: http.StatusNotFound, message: fmt.Sprintf("%s: %v", fallback, err)}
	}
	var remote statusCoder
	if errors.As(err, &remote) {
		return &ToolError{statusCode: remote.StatusCode(), message: fmt.Sprintf("%s: %v", fallback, err)}
	}
	return &ToolError{
		statusCode: http.StatusInternalServerError,
		message:    fmt.Sprintf("%s: %v", fallback, err),
	}
}

func decodeArgsStrict(args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return validationErrorf("invalid tool arguments: %v", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return validationErrorf("invalid tool arguments: %v", err)
	}
	if decoder.More() {
		return validationErrorf("tool arguments must be a single JSON object")
	}
	return nil
}

func toMap(v any) (map[string]any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding tool response: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, fmt.Errorf("decoding tool response: %w", err)
	}
	return decoded, nil
}

func requiredLayout(field, value string) (string, error) {
	layout := strings.TrimSpace(value)
	if layout == "" {
		return "", validationErrorf("%s is required", field)
	}
	return layout, nil
}

// findQuery accepts a single find request object or an array of them.
func findQuery(raw json.RawMessage) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var many []map[string]any
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return nil, validationErrorf("query must be an object or an array of objects: %v", err)
		}
		return many, nil
	}
	var one map[string]any
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, validationErrorf("query must be an object or an array of objects: %v", err)
	}
	if len(one) == 0 {
		return nil, nil
	}
	return []map[string]any{one}, nil
}

func trimStringList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func positiveOr(value *int, field string, fallback int) (int, error) {
	if value == nil {
		return fallback, nil
	}
	if *value < 1 {
		return 0, validationErrorf("%s must be >= 1", field)
	}
	return *value, nil
}

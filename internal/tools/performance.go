package tools

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"git.cscs.ch/openchami/filemaker-mcp/internal/bulk"
	"git.cscs.ch/openchami/filemaker-mcp/internal/fmclient"
)

const (
	perfBatchPages     = 5
	slowExecution      = 5 * time.Second
	highHeapGrowth     = 100 << 20
	lowThroughputLimit = 10.0
)

type probeResult struct {
	RecordCount int            `json:"recordCount"`
	Detail      map[string]any `json:"detail,omitempty"`
}

func (r *Runner) performanceMonitor(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Operation string   `json:"operation"`
		Layout    string   `json:"layout,omitempty"`
		Duration  *float64 `json:"duration,omitempty"`
		Metrics   []string `json:"metrics,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	test := strings.ToLower(strings.TrimSpace(req.Operation))
	layout := strings.TrimSpace(req.Layout)

	var probe func(context.Context, string) (probeResult, error)
	switch test {
	case "connection_test":
		probe = r.probeConnection
	case "query_performance":
		probe = r.probeQuery
	case "batch_performance":
		probe = r.probeBatchRead
	default:
		return nil, validationErrorf("unsupported performance test %q (expected connection_test, query_performance or batch_performance)", req.Operation)
	}
	if test != "connection_test" && layout == "" {
		return nil, validationErrorf("layout is required for %s", test)
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	started := time.Now()
	result, err := probe(ctx, layout)
	elapsed := time.Since(started)
	runtime.ReadMemStats(&after)
	if err != nil {
		return nil, mapExecutionError(err, "running "+test)
	}

	heapDelta := int64(after.HeapAlloc) - int64(before.HeapAlloc)
	throughput := 0.0
	if seconds := elapsed.Seconds(); seconds > 0 {
		throughput = float64(result.RecordCount) / seconds
	}
	metrics := map[string]any{
		"executionTimeMs": elapsed.Milliseconds(),
		"throughput":      throughput,
		"recordCount":     result.RecordCount,
		"memory": map[string]any{
			"heapAllocBytes": after.HeapAlloc,
			"heapAlloc":      humanize.Bytes(after.HeapAlloc),
			"heapDeltaBytes": heapDelta,
		},
	}
	if len(result.Detail) > 0 {
		metrics["detail"] = result.Detail
	}

	return map[string]any{
		"operation":       "performance_monitor",
		"testType":        test,
		"metrics":         metrics,
		"recommendations": recommendations(elapsed, heapDelta, throughput),
	}, nil
}

func (r *Runner) probeConnection(ctx context.Context, layout string) (probeResult, error) {
	if err := r.client.Ping(ctx); err != nil {
		return probeResult{}, err
	}
	if layout == "" {
		return probeResult{Detail: map[string]any{"connected": true}}, nil
	}
	meta, err := r.client.LayoutMetadata(ctx, layout)
	if err != nil {
		return probeResult{}, err
	}
	found, err := r.client.Find(ctx, layout, fmclient.FindRequest{Limit: 1})
	if err != nil {
		return probeResult{}, err
	}
	fields, _ := meta["fieldMetaData"].([]any)
	return probeResult{
		RecordCount: len(found.Records),
		Detail: map[string]any{
			"connected":        true,
			"fieldCount":       len(fields),
			"totalRecordCount": found.TotalRecordCount,
		},
	}, nil
}

func (r *Runner) probeQuery(ctx context.Context, layout string) (probeResult, error) {
	found, err := r.client.Find(ctx, layout, fmclient.FindRequest{Limit: r.cfg.PageSize})
	if err != nil {
		return probeResult{}, err
	}
	return probeResult{
		RecordCount: len(found.Records),
		Detail:      map[string]any{"pageSize": r.cfg.PageSize, "foundCount": found.FoundCount},
	}, nil
}

func (r *Runner) probeBatchRead(ctx context.Context, layout string) (probeResult, error) {
	result, err := r.pages.FetchAll(ctx, bulk.PageQuery{
		Layout:   layout,
		PageSize: r.cfg.PageSize,
		MaxPages: perfBatchPages,
	})
	if err != nil {
		return probeResult{}, err
	}
	return probeResult{
		RecordCount: len(result.Records),
		Detail:      map[string]any{"pagesFetched": result.PagesFetched, "hasMore": result.HasMore},
	}, nil
}

func recommendations(elapsed time.Duration, heapDelta int64, throughput float64) []string {
	out := []string{}
	if elapsed > slowExecution {
		out = append(out, "Consider implementing caching for frequently accessed data")
	}
	if heapDelta > highHeapGrowth {
		out = append(out, "Monitor memory usage; large result sets are held in memory")
	}
	if throughput < lowThroughputLimit {
		out = append(out, "Consider batch operations to improve throughput")
	}
	return out
}

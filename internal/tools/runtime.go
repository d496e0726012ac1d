package tools

import (
	"context"
	"strings"
	"time"
)

func (r *Runner) cacheManagement(_ context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Action  string   `json:"action"`
		Key     string   `json:"key,omitempty"`
		Data    any      `json:"data,omitempty"`
		TTL     *float64 `json:"ttl,omitempty"`
		Confirm *bool    `json:"confirm,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if action == "" {
		action = "get"
	}
	key := strings.TrimSpace(req.Key)
	needsKey := action == "get" || action == "set" || action == "delete"
	if needsKey && key == "" {
		return nil, validationErrorf("key is required for action %s", action)
	}

	switch action {
	case "set":
		ttl := r.cfg.CacheTTL
		if req.TTL != nil {
			if *req.TTL <= 0 {
				return nil, validationErrorf("ttl must be > 0 seconds")
			}
			ttl = time.Duration(*req.TTL * float64(time.Second))
		}
		r.cache.Set(key, req.Data, ttl)
		return map[string]any{"operation": "cache_set", "key": key, "ttl": ttl.Seconds(), "success": true}, nil

	case "get":
		value, found := r.cache.Get(key)
		return map[string]any{"operation": "cache_get", "key": key, "found": found, "data": value}, nil

	case "delete":
		return map[string]any{"operation": "cache_delete", "key": key, "success": r.cache.Delete(key)}, nil

	case "clear":
		removed := r.cache.Clear()
		r.log.Info().Int("removed", removed).Msg("cache cleared")
		return map[string]any{"operation": "cache_clear", "success": true, "removed": removed}, nil

	case "stats":
		stats := r.cache.Stats()
		return map[string]any{
			"operation": "cache_stats",
			"stats":     map[string]any{"size": stats.Size, "keys": stats.Keys},
		}, nil

	default:
		return nil, validationErrorf("unsupported cache action %q (expected get, set, delete, clear or stats)", req.Action)
	}
}

func (r *Runner) rateLimitHandler(_ context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Operation   string   `json:"operation"`
		TimeWindow  *float64 `json:"timeWindow,omitempty"`
		Requests    any      `json:"requests,omitempty"`
		MaxRequests any      `json:"maxRequests,omitempty"`
		Strategy    string   `json:"strategy,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	op := strings.TrimSpace(req.Operation)
	if op == "" {
		return nil, validationErrorf("operation is required")
	}
	window := r.cfg.RateWindow
	if req.TimeWindow != nil {
		if *req.TimeWindow <= 0 {
			return nil, validationErrorf("timeWindow must be > 0 milliseconds")
		}
		window = time.Duration(*req.TimeWindow * float64(time.Millisecond))
	}

	decision := r.limiter.Check(op, window)
	out, err := toMap(decision)
	if err != nil {
		return nil, err
	}
	out["timeWindow"] = window.Milliseconds()
	return out, nil
}

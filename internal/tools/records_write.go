package tools

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"git.cscs.ch/openchami/filemaker-mcp/internal/bulk"
)

func (r *Runner) batchOperations(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Operation string            `json:"operation"`
		Layout    string            `json:"layout"`
		Records   []json.RawMessage `json:"records"`
		BatchSize *int              `json:"batchSize,omitempty"`
		Confirm   *bool             `json:"confirm,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	op, err := bulk.ParseOperation(req.Operation)
	if err != nil {
		return nil, validationErrorf("%v", err)
	}
	layout, err := requiredLayout("layout", req.Layout)
	if err != nil {
		return nil, err
	}
	if req.Records == nil {
		return nil, validationErrorf("records is required")
	}
	batchSize, err := positiveOr(req.BatchSize, "batchSize", r.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	items, err := parseBatchItems(req.Records)
	if err != nil {
		return nil, err
	}

	report, err := r.batch.Run(ctx, op, layout, items, batchSize)
	if err != nil {
		return nil, mapExecutionError(err, "running batch "+string(op))
	}
	return toMap(report)
}

// parseBatchItems accepts {recordId, fieldData} items as well as bare field
// objects, which are treated as fieldData.
func parseBatchItems(raw []json.RawMessage) ([]bulk.BatchItem, error) {
	items := make([]bulk.BatchItem, 0, len(raw))
	for i, entry := range raw {
		var fields map[string]any
		if err := json.Unmarshal(entry, &fields); err != nil {
			return nil, validationErrorf("records[%d] must be an object", i)
		}

		_, hasID := fields["recordId"]
		_, hasData := fields["fieldData"]
		if !hasID && !hasData {
			items = append(items, bulk.BatchItem{FieldData: fields})
			continue
		}
		for _, key := range slices.Sorted(maps.Keys(fields)) {
			if key != "recordId" && key != "fieldData" {
				return nil, validationErrorf("records[%d]: field %q must be nested under fieldData when recordId or fieldData is set", i, key)
			}
		}

		var item struct {
			RecordID  any            `json:"recordId"`
			FieldData map[string]any `json:"fieldData"`
		}
		decoder := json.NewDecoder(strings.NewReader(string(entry)))
		decoder.UseNumber()
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&item); err != nil {
			return nil, validationErrorf("records[%d]: %v", i, err)
		}
		var id string
		switch typed := item.RecordID.(type) {
		case nil:
		case string:
			id = strings.TrimSpace(typed)
		case json.Number:
			id = typed.String()
		default:
			return nil, validationErrorf("records[%d]: recordId must be a string or number", i)
		}
		items = append(items, bulk.BatchItem{RecordID: id, FieldData: item.FieldData})
	}
	return items, nil
}

func (r *Runner) bulkImport(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Layout            string            `json:"layout"`
		Data              []map[string]any  `json:"data"`
		FieldMapping      map[string]string `json:"fieldMapping,omitempty"`
		ImportMode        string            `json:"importMode,omitempty"`
		DuplicateHandling string            `json:"duplicateHandling,omitempty"`
		KeyFields         []string          `json:"keyFields,omitempty"`
		RequiredFields    []string          `json:"requiredFields,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	layout, err := requiredLayout("layout", req.Layout)
	if err != nil {
		return nil, err
	}
	if req.Data == nil {
		return nil, validationErrorf("data is required")
	}
	mode, err := bulk.ParseImportMode(req.ImportMode)
	if err != nil {
		return nil, mapExecutionError(err, "importing records")
	}
	policy, err := bulk.ParseDuplicatePolicy(req.DuplicateHandling)
	if err != nil {
		return nil, mapExecutionError(err, "importing records")
	}

	result, err := r.importer.Import(ctx, bulk.ImportRequest{
		Layout:          layout,
		Items:           req.Data,
		FieldMapping:    req.FieldMapping,
		Mode:            mode,
		DuplicatePolicy: policy,
		KeyFields:       trimStringList(req.KeyFields),
		RequiredFields:  trimStringList(req.RequiredFields),
	})
	if err != nil {
		return nil, mapExecutionError(err, "importing records")
	}
	return toMap(result)
}

func (r *Runner) dataSync(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		SourceLayout       string `json:"sourceLayout"`
		TargetLayout       string `json:"targetLayout"`
		KeyField           string `json:"keyField"`
		LastSyncTime       string `json:"lastSyncTime,omitempty"`
		WatermarkField     string `json:"watermarkField,omitempty"`
		ConflictResolution string `json:"conflictResolution,omitempty"`
		SyncMode           string `json:"syncMode,omitempty"`
		MaxPages           *int   `json:"maxPages,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	source, err := requiredLayout("sourceLayout", req.SourceLayout)
	if err != nil {
		return nil, err
	}
	target, err := requiredLayout("targetLayout", req.TargetLayout)
	if err != nil {
		return nil, err
	}
	keyField := strings.TrimSpace(req.KeyField)
	if keyField == "" {
		return nil, validationErrorf("keyField is required")
	}
	strategy, err := bulk.ParseConflictStrategy(req.ConflictResolution)
	if err != nil {
		return nil, mapExecutionError(err, "syncing records")
	}
	maxPages, err := positiveOr(req.MaxPages, "maxPages", r.cfg.ExportMaxPages)
	if err != nil {
		return nil, err
	}

	var watermark *time.Time
	if raw := strings.TrimSpace(req.LastSyncTime); raw != "" {
		parsed, err := parseWatermark(raw, r.cfg.Pacing.ServerLocation)
		if err != nil {
			return nil, err
		}
		watermark = &parsed
	}

	result, err := r.syncer.Sync(ctx, bulk.SyncRequest{
		SourceLayout:   source,
		TargetLayout:   target,
		KeyField:       keyField,
		Watermark:      watermark,
		WatermarkField: strings.TrimSpace(req.WatermarkField),
		Strategy:       strategy,
		PageSize:       r.cfg.PageSize,
		MaxPages:       maxPages,
	})
	if err != nil {
		return nil, mapExecutionError(err, "syncing records")
	}

	out, err := toMap(result)
	if err != nil {
		return nil, err
	}
	if mode := strings.TrimSpace(req.SyncMode); mode != "" {
		out["syncMode"] = mode
	}
	return out, nil
}

var watermarkLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	bulk.TimestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// parseWatermark reads zone-less timestamps as server-local time.
func parseWatermark(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range watermarkLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, validationErrorf("lastSyncTime %q is not a recognized timestamp (use RFC 3339 or MM/DD/YYYY HH:MM:SS)", raw)
}

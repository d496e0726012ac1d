package fmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Sort orders accepted by the Data API.
const (
	SortAscend  = "ascend"
	SortDescend = "descend"
)

// Record is one Data API record.
type Record struct {
	ID         string         `json:"recordId"`
	ModID      string         `json:"modId,omitempty"`
	Fields     map[string]any `json:"fieldData"`
	PortalData map[string]any `json:"portalData,omitempty"`
}

// SortField is one sort criterion.
type SortField struct {
	Field string `json:"fieldName"`
	Order string `json:"sortOrder,omitempty"`
}

// FindRequest selects a page of records. Offset is zero-based; the client
// converts it to the one-based offset used on the wire.
type FindRequest struct {
	Query  []map[string]any
	Limit  int
	Offset int
	Sort   []SortField
}

// FindResult is one page of records.
type FindResult struct {
	Records          []Record
	FoundCount       int
	ReturnedCount    int
	TotalRecordCount int
}

type findBody struct {
	Query  []map[string]any `json:"query"`
	Limit  string           `json:"limit,omitempty"`
	Offset string           `json:"offset,omitempty"`
	Sort   []SortField      `json:"sort,omitempty"`
}

type recordsResponse struct {
	Data     []Record `json:"data"`
	DataInfo struct {
		FoundCount       int `json:"foundCount"`
		ReturnedCount    int `json:"returnedCount"`
		TotalRecordCount int `json:"totalRecordCount"`
	} `json:"dataInfo"`
}

type fieldDataBody struct {
	FieldData map[string]any `json:"fieldData"`
}

// Create inserts a record and returns its identifier.
func (c *Client) Create(ctx context.Context, layout string, fields map[string]any) (string, error) {
	layout = strings.TrimSpace(layout)
	if layout == "" {
		return "", fmt.Errorf("layout is required")
	}
	if fields == nil {
		fields = map[string]any{}
	}

	var created struct {
		RecordID string `json:"recordId"`
	}
	err := c.do(ctx, request{
		op:     fmt.Sprintf("creating record in %q", layout),
		method: http.MethodPost,
		path:   layoutPath(layout) + "/records",
		body:   fieldDataBody{FieldData: fields},
	}, &created)
	if err != nil {
		return "", err
	}
	return created.RecordID, nil
}

// Update patches the fields of one record.
func (c *Client) Update(ctx context.Context, layout, id string, fields map[string]any) error {
	layout = strings.TrimSpace(layout)
	recordID := strings.TrimSpace(id)
	if layout == "" {
		return fmt.Errorf("layout is required")
	}
	if recordID == "" {
		return fmt.Errorf("record id is required")
	}
	if fields == nil {
		fields = map[string]any{}
	}

	return c.do(ctx, request{
		op:     fmt.Sprintf("updating record %s in %q", recordID, layout),
		method: http.MethodPatch,
		path:   layoutPath(layout) + "/records/" + url.PathEscape(recordID),
		body:   fieldDataBody{FieldData: fields},
	}, nil)
}

// Delete removes one record.
func (c *Client) Delete(ctx context.Context, layout, id string) error {
	layout = strings.TrimSpace(layout)
	recordID := strings.TrimSpace(id)
	if layout == "" {
		return fmt.Errorf("layout is required")
	}
	if recordID == "" {
		return fmt.Errorf("record id is required")
	}

	return c.do(ctx, request{
		op:     fmt.Sprintf("deleting record %s in %q", recordID, layout),
		method: http.MethodDelete,
		path:   layoutPath(layout) + "/records/" + url.PathEscape(recordID),
	}, nil)
}

// Find returns one page of records. Requests with criteria use the _find
// endpoint; the rest list the layout. An empty match is not an error.
func (c *Client) Find(ctx context.Context, layout string, req FindRequest) (*FindResult, error) {
	layout = strings.TrimSpace(layout)
	if layout == "" {
		return nil, fmt.Errorf("layout is required")
	}
	if req.Limit < 0 || req.Offset < 0 {
		return nil, fmt.Errorf("limit and offset must be >= 0")
	}

	var (
		resp recordsResponse
		err  error
	)
	if len(req.Query) > 0 {
		body := findBody{Query: req.Query, Sort: req.Sort}
		if req.Limit > 0 {
			body.Limit = strconv.Itoa(req.Limit)
		}
		body.Offset = strconv.Itoa(req.Offset + 1)
		err = c.do(ctx, request{
			op:     fmt.Sprintf("finding records in %q", layout),
			method: http.MethodPost,
			path:   layoutPath(layout) + "/_find",
			body:   body,
		}, &resp)
	} else {
		query := url.Values{}
		if req.Limit > 0 {
			query.Set("_limit", strconv.Itoa(req.Limit))
		}
		query.Set("_offset", strconv.Itoa(req.Offset+1))
		if len(req.Sort) > 0 {
			encoded, encodeErr := json.Marshal(req.Sort)
			if encodeErr != nil {
				return nil, fmt.Errorf("encoding sort: %w", encodeErr)
			}
			query.Set("_sort", string(encoded))
		}
		err = c.do(ctx, request{
			op:     fmt.Sprintf("listing records in %q", layout),
			method: http.MethodGet,
			path:   layoutPath(layout) + "/records",
			query:  query,
		}, &resp)
	}
	if err != nil {
		if isNoRecordsMatch(err) {
			return &FindResult{Records: []Record{}}, nil
		}
		return nil, err
	}

	records := resp.Data
	if records == nil {
		records = []Record{}
	}
	for i := range records {
		if records[i].Fields == nil {
			records[i].Fields = map[string]any{}
		}
	}
	return &FindResult{
		Records:          records,
		FoundCount:       resp.DataInfo.FoundCount,
		ReturnedCount:    resp.DataInfo.ReturnedCount,
		TotalRecordCount: resp.DataInfo.TotalRecordCount,
	}, nil
}

// LayoutMetadata returns the field and value-list metadata of a layout.
func (c *Client) LayoutMetadata(ctx context.Context, layout string) (map[string]any, error) {
	layout = strings.TrimSpace(layout)
	if layout == "" {
		return nil, fmt.Errorf("layout is required")
	}
	var meta map[string]any
	if err := c.do(ctx, request{
		op:     fmt.Sprintf("getting layout metadata for %q", layout),
		method: http.MethodGet,
		path:   layoutPath(layout),
	}, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Ping verifies that a session can be opened and the database answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, request{
		op:     "listing layouts",
		method: http.MethodGet,
		path:   "/layouts",
	}, nil)
}

func layoutPath(layout string) string {
	return "/layouts/" + url.PathEscape(layout)
}

func isNoRecordsMatch(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.HasCode(codeNoRecordsMatch)
}

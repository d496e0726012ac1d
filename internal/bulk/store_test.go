package bulk

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/filemaker-mcp/internal/fmclient"
)

// memStore is an in-memory RecordStore. Find understands "==" exact-match
// criteria and ignores any other criterion.
type memStore struct {
	mu      sync.Mutex
	nextID  int
	layouts map[string][]fmclient.Record

	failCreate func(fields map[string]any) error
	failUpdate func(id string) error
	failDelete func(id string) error

	finds   []fmclient.FindRequest
	creates int
	updates int
	deletes int
}

func newMemStore() *memStore {
	return &memStore{layouts: map[string][]fmclient.Record{}}
}

func (m *memStore) seed(layout string, records ...map[string]any) {
	for _, fields := range records {
		_, _ = m.Create(context.Background(), layout, fields)
	}
	m.creates = 0
}

func (m *memStore) records(layout string) []fmclient.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]fmclient.Record, 0, len(m.layouts[layout]))
	for _, rec := range m.layouts[layout] {
		out = append(out, fmclient.Record{ID: rec.ID, Fields: copyFields(rec.Fields)})
	}
	return out
}

func (m *memStore) Create(_ context.Context, layout string, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.failCreate != nil {
		if err := m.failCreate(fields); err != nil {
			return "", err
		}
	}
	m.nextID++
	id := strconv.Itoa(m.nextID)
	m.layouts[layout] = append(m.layouts[layout], fmclient.Record{ID: id, Fields: copyFields(fields)})
	return id, nil
}

func (m *memStore) Update(_ context.Context, layout, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.failUpdate != nil {
		if err := m.failUpdate(id); err != nil {
			return err
		}
	}
	for i, rec := range m.layouts[layout] {
		if rec.ID == id {
			for k, v := range fields {
				m.layouts[layout][i].Fields[k] = v
			}
			return nil
		}
	}
	return fmt.Errorf("record %s not found", id)
}

func (m *memStore) Delete(_ context.Context, layout, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.failDelete != nil {
		if err := m.failDelete(id); err != nil {
			return err
		}
	}
	records := m.layouts[layout]
	for i, rec := range records {
		if rec.ID == id {
			m.layouts[layout] = append(records[:i], records[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("record %s not found", id)
}

func (m *memStore) Find(_ context.Context, layout string, req fmclient.FindRequest) (*fmclient.FindResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds = append(m.finds, req)

	var matched []fmclient.Record
	for _, rec := range m.layouts[layout] {
		if matchesAny(rec.Fields, req.Query) {
			matched = append(matched, fmclient.Record{ID: rec.ID, Fields: copyFields(rec.Fields)})
		}
	}
	found := len(matched)
	if req.Offset >= len(matched) {
		matched = nil
	} else {
		matched = matched[req.Offset:]
	}
	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
	}
	if matched == nil {
		matched = []fmclient.Record{}
	}
	return &fmclient.FindResult{Records: matched, FoundCount: found, ReturnedCount: len(matched)}, nil
}

func matchesAny(fields map[string]any, query []map[string]any) bool {
	if len(query) == 0 {
		return true
	}
	for _, criteria := range query {
		if matchesAll(fields, criteria) {
			return true
		}
	}
	return false
}

func matchesAll(fields map[string]any, criteria map[string]any) bool {
	for name, raw := range criteria {
		want, ok := raw.(string)
		if !ok || !strings.HasPrefix(want, "==") {
			continue
		}
		if scalarText(fields[name]) != unescapeFind(strings.TrimPrefix(want, "==")) {
			return false
		}
	}
	return true
}

func unescapeFind(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// pagedStore returns full pages of size for the first pages calls, then
// empty pages.
type pagedStore struct {
	memStore
	size  int
	pages int
	calls int
}

func (p *pagedStore) Find(_ context.Context, _ string, req fmclient.FindRequest) (*fmclient.FindResult, error) {
	p.calls++
	p.finds = append(p.finds, req)
	page := req.Offset/p.size + 1
	if page > p.pages {
		return &fmclient.FindResult{Records: []fmclient.Record{}, FoundCount: p.size * p.pages}, nil
	}
	records := make([]fmclient.Record, p.size)
	for i := range records {
		n := req.Offset + i + 1
		records[i] = fmclient.Record{ID: strconv.Itoa(n), Fields: map[string]any{"n": float64(n)}}
	}
	return &fmclient.FindResult{Records: records, FoundCount: p.size * p.pages, ReturnedCount: p.size}, nil
}

func testOptions() Options {
	return Options{
		ImportChunkSize: 2,
		Now:             func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) },
	}
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

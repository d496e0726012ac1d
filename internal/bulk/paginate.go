package bulk

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/filemaker-mcp/internal/fmclient"
)

// PageQuery selects the records to page through.
type PageQuery struct {
	Layout    string
	Query     []map[string]any
	Sort      []fmclient.SortField
	PageSize  int
	MaxPages  int
	StartPage int
}

// PageResult holds every record read by FetchAll. HasMore is true only when
// the page ceiling stopped the run before the data ran out, so Records may be
// incomplete.
type PageResult struct {
	Records      []fmclient.Record
	PagesFetched int
	HasMore      bool
	FoundCount   int
}

// Paginator reads a layout page by page.
type Paginator struct {
	store RecordStore
	opts  Options
	log   zerolog.Logger
}

// NewPaginator creates a paginator.
func NewPaginator(store RecordStore, opts Options, logger zerolog.Logger) *Paginator {
	return &Paginator{
		store: store,
		opts:  opts.normalized(),
		log:   logger.With().Str("component", "paginator").Logger(),
	}
}

// FetchAll reads pages starting at q.StartPage until a short page or the
// q.MaxPages ceiling.
func (p *Paginator) FetchAll(ctx context.Context, q PageQuery) (*PageResult, error) {
	layout := strings.TrimSpace(q.Layout)
	if layout == "" {
		return nil, invalidf("layout is required")
	}
	if q.PageSize < 1 {
		return nil, invalidf("page size must be >= 1")
	}
	if q.MaxPages < 1 {
		return nil, invalidf("max pages must be >= 1")
	}
	page := q.StartPage
	if page < 1 {
		page = 1
	}

	result := &PageResult{Records: []fmclient.Record{}}
	hasMore := true
	for hasMore && result.PagesFetched < q.MaxPages {
		found, err := p.store.Find(ctx, layout, fmclient.FindRequest{
			Query:  q.Query,
			Limit:  q.PageSize,
			Offset: (page - 1) * q.PageSize,
			Sort:   q.Sort,
		})
		if err != nil {
			return nil, fmt.Errorf("fetching page %d of %q: %w", page, layout, err)
		}
		result.PagesFetched++
		result.Records = append(result.Records, found.Records...)
		result.FoundCount = found.FoundCount
		hasMore = len(found.Records) == q.PageSize

		p.log.Debug().
			Str("layout", layout).
			Int("page", page).
			Int("returned", len(found.Records)).
			Bool("has_more", hasMore).
			Msg("page fetched")
		page++

		if hasMore && result.PagesFetched < q.MaxPages {
			if err := pause(ctx, p.opts.PageDelay); err != nil {
				return nil, fmt.Errorf("paging %q: %w", layout, err)
			}
		}
	}
	result.HasMore = hasMore
	return result, nil
}

package bulk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"git.cscs.ch/openchami/filemaker-mcp/internal/fmclient"
)

func TestFetchAll_StopsOnEmptyPage(t *testing.T) {
	store := &pagedStore{size: 5, pages: 3}
	pager := NewPaginator(store, testOptions(), nopLogger())

	result, err := pager.FetchAll(context.Background(), PageQuery{Layout: "People", PageSize: 5, MaxPages: 10})
	require.NoError(t, err)
	require.Len(t, result.Records, 15)
	require.False(t, result.HasMore)
	require.Equal(t, 4, result.PagesFetched)
	require.Equal(t, 15, result.FoundCount)
	require.Equal(t, []int{0, 5, 10, 15}, offsets(store.finds))
}

func TestFetchAll_CeilingLeavesHasMore(t *testing.T) {
	store := &pagedStore{size: 5, pages: 3}
	pager := NewPaginator(store, testOptions(), nopLogger())

	result, err := pager.FetchAll(context.Background(), PageQuery{Layout: "People", PageSize: 5, MaxPages: 2})
	require.NoError(t, err)
	require.Len(t, result.Records, 10)
	require.True(t, result.HasMore)
	require.Equal(t, 2, result.PagesFetched)
}

func TestFetchAll_ShortPageEnds(t *testing.T) {
	store := newMemStore()
	for range 7 {
		store.seed("People", map[string]any{"Name": "x"})
	}
	pager := NewPaginator(store, testOptions(), nopLogger())

	result, err := pager.FetchAll(context.Background(), PageQuery{Layout: "People", PageSize: 3, MaxPages: 10})
	require.NoError(t, err)
	require.Len(t, result.Records, 7)
	require.Equal(t, 3, result.PagesFetched)
	require.False(t, result.HasMore)
}

func TestFetchAll_StartPageAndSort(t *testing.T) {
	store := &pagedStore{size: 2, pages: 5}
	pager := NewPaginator(store, testOptions(), nopLogger())
	sort := []fmclient.SortField{{Field: "n", Order: fmclient.SortDescend}}

	result, err := pager.FetchAll(context.Background(), PageQuery{
		Layout:    "People",
		PageSize:  2,
		MaxPages:  1,
		StartPage: 3,
		Sort:      sort,
	})
	require.NoError(t, err)
	require.Equal(t, "5", result.Records[0].ID)
	require.Equal(t, 4, store.finds[0].Offset)
	require.Equal(t, sort, store.finds[0].Sort)
}

func TestFetchAll_Validation(t *testing.T) {
	pager := NewPaginator(newMemStore(), testOptions(), nopLogger())

	_, err := pager.FetchAll(context.Background(), PageQuery{PageSize: 1, MaxPages: 1})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = pager.FetchAll(context.Background(), PageQuery{Layout: "People", MaxPages: 1})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = pager.FetchAll(context.Background(), PageQuery{Layout: "People", PageSize: 1})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

type failingFinder struct {
	memStore
	err error
}

func (f *failingFinder) Find(context.Context, string, fmclient.FindRequest) (*fmclient.FindResult, error) {
	return nil, f.err
}

func TestFetchAll_RemoteFailureFailsRun(t *testing.T) {
	remote := &fmclient.RemoteError{Status: 500, Messages: []fmclient.Message{{Code: "102", Message: "Field is missing"}}}
	pager := NewPaginator(&failingFinder{err: remote}, testOptions(), nopLogger())

	_, err := pager.FetchAll(context.Background(), PageQuery{Layout: "People", PageSize: 5, MaxPages: 2})
	var got *fmclient.RemoteError
	require.True(t, errors.As(err, &got))
	require.Contains(t, err.Error(), "fetching page 1")
}

func offsets(reqs []fmclient.FindRequest) []int {
	out := make([]int, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Offset)
	}
	return out
}

package bulk

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}
	for _, size := range []int{1, 2, 3, 7, 10} {
		chunks := Chunk(items, size)
		require.Len(t, chunks, (len(items)+size-1)/size, "size %d", size)
		for i, chunk := range chunks[:len(chunks)-1] {
			require.Len(t, chunk, size, "size %d chunk %d", size, i)
		}
		require.Equal(t, items, slices.Concat(chunks...), "size %d", size)
	}

	require.Empty(t, Chunk([]int{}, 3))
	require.Len(t, Chunk(items, 0), len(items))
}

func TestChunk_AppendDoesNotLeakIntoNextChunk(t *testing.T) {
	items := []int{1, 2, 3, 4}
	chunks := Chunk(items, 2)
	_ = append(chunks[0], 99)
	require.Equal(t, []int{3, 4}, chunks[1])
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation(" Create ")
	require.NoError(t, err)
	require.Equal(t, OperationCreate, op)

	_, err = ParseOperation("upsert")
	require.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestExecutorRun_CreatesInChunks(t *testing.T) {
	store := newMemStore()
	exec := NewExecutor(store, testOptions(), nopLogger())

	items := []BatchItem{
		{FieldData: map[string]any{"Name": "a"}},
		{FieldData: map[string]any{"Name": "b"}},
		{FieldData: map[string]any{"Name": "c"}},
	}
	report, err := exec.Run(context.Background(), OperationCreate, "People", items, 2)
	require.NoError(t, err)
	require.Equal(t, 3, report.TotalRecords)
	require.Equal(t, 2, report.TotalBatches)
	require.Len(t, report.Results, 2)
	require.Equal(t, 1, report.Results[0].Index)
	require.Equal(t, 2, report.Results[0].ItemCount)
	require.Equal(t, 1, report.Results[1].ItemCount)
	require.Equal(t, BatchSummary{SuccessfulBatches: 2, SucceededItems: 3}, report.Summary)
	require.Len(t, store.records("People"), 3)
	require.Equal(t, "3", report.Results[1].Results[0].RecordID)
}

func TestExecutorRun_ItemFailureDoesNotAbort(t *testing.T) {
	store := newMemStore()
	store.seed("People",
		map[string]any{"Name": "a"},
		map[string]any{"Name": "b"},
		map[string]any{"Name": "c"},
	)
	store.failDelete = func(id string) error {
		if id == "1" {
			return errors.New("record is locked")
		}
		return nil
	}
	exec := NewExecutor(store, testOptions(), nopLogger())

	items := []BatchItem{{RecordID: "1"}, {RecordID: "2"}, {RecordID: "3"}}
	report, err := exec.Run(context.Background(), OperationDelete, "People", items, 1)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.False(t, report.Results[0].Success)
	assert.True(t, report.Results[1].Success)
	assert.True(t, report.Results[2].Success)
	require.Len(t, report.Results[0].Errors, 1)
	assert.Equal(t, 1, report.Results[0].Errors[0].Position)
	assert.Equal(t, "record is locked", report.Results[0].Errors[0].Error)
	assert.Equal(t, BatchSummary{
		SuccessfulBatches: 2,
		FailedBatches:     1,
		TotalErrors:       1,
		SucceededItems:    2,
		FailedItems:       1,
	}, report.Summary)
	require.Equal(t, 3, store.deletes)
}

func TestExecutorRun_UpdateRequiresRecordID(t *testing.T) {
	store := newMemStore()
	store.seed("People", map[string]any{"Name": "a"})
	exec := NewExecutor(store, testOptions(), nopLogger())

	report, err := exec.Run(context.Background(), OperationUpdate, "People", []BatchItem{
		{FieldData: map[string]any{"Name": "x"}},
		{RecordID: "1", FieldData: map[string]any{"Name": "z"}},
	}, 10)
	require.NoError(t, err)
	require.False(t, report.Results[0].Success)
	require.Contains(t, report.Results[0].Errors[0].Error, "recordId is required")
	require.Equal(t, "z", store.records("People")[0].Fields["Name"])
	require.Equal(t, 1, store.updates)
}

func TestExecutorRun_UnsupportedOperationMakesNoCalls(t *testing.T) {
	store := newMemStore()
	exec := NewExecutor(store, testOptions(), nopLogger())

	report, err := exec.Run(context.Background(), Operation("merge"), "People", []BatchItem{{RecordID: "1"}}, 1)
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	require.Nil(t, report)
	require.Zero(t, store.creates+store.updates+store.deletes)
}

func TestExecutorRun_CancelledReturnsPartialReport(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	store.failCreate = func(fields map[string]any) error {
		if fields["Name"] == "b" {
			cancel()
			return context.Canceled
		}
		return nil
	}
	exec := NewExecutor(store, testOptions(), nopLogger())

	report, err := exec.Run(ctx, OperationCreate, "People", []BatchItem{
		{FieldData: map[string]any{"Name": "a"}},
		{FieldData: map[string]any{"Name": "b"}},
		{FieldData: map[string]any{"Name": "c"}},
	}, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	require.Equal(t, 1, report.Summary.SucceededItems)
	require.Zero(t, report.Summary.FailedItems)
	require.Equal(t, 2, store.creates)
}

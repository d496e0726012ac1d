// Package bulk turns single-record Data API calls into paced, chunked and
// partially recoverable bulk workflows: batch CRUD, paginated reads, import,
// export and one-way layout sync.
//
// Every workflow runs sequentially. Remote calls are issued one at a time and
// fixed delays separate chunks and pages. Item-level failures are recorded in
// the returned report and never abort a run; only invalid requests and
// cancellation do.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.cscs.ch/openchami/filemaker-mcp/internal/fmclient"
)

const (
	defaultChunkDelay      = 100 * time.Millisecond
	defaultPageDelay       = 50 * time.Millisecond
	defaultImportChunkSize = 50
)

// ErrInvalidRequest marks request-level validation failures. Runs that fail
// with it never reached the remote store.
var ErrInvalidRequest = errors.New("invalid bulk request")

// RecordStore is the subset of the Data API client used by bulk workflows.
type RecordStore interface {
	Create(ctx context.Context, layout string, fields map[string]any) (string, error)
	Update(ctx context.Context, layout, id string, fields map[string]any) error
	Delete(ctx context.Context, layout, id string) error
	Find(ctx context.Context, layout string, req fmclient.FindRequest) (*fmclient.FindResult, error)
}

// Options tunes pacing. Zero delays disable pacing.
type Options struct {
	// ChunkDelay separates consecutive chunks in batch and import runs.
	ChunkDelay time.Duration
	// PageDelay separates consecutive page fetches.
	PageDelay time.Duration
	// ImportChunkSize groups import items for pacing. Defaults to 50.
	ImportChunkSize int
	// Now overrides the clock used for timestamps in reports.
	Now func() time.Time
	// ServerLocation is the FileMaker server's time zone. Zone-less
	// timestamps in find criteria are written in it. Defaults to UTC.
	ServerLocation *time.Location
}

// DefaultOptions returns the production pacing.
func DefaultOptions() Options {
	return Options{
		ChunkDelay:      defaultChunkDelay,
		PageDelay:       defaultPageDelay,
		ImportChunkSize: defaultImportChunkSize,
		Now:             time.Now,
	}
}

func (o Options) normalized() Options {
	if o.ChunkDelay < 0 {
		o.ChunkDelay = 0
	}
	if o.PageDelay < 0 {
		o.PageDelay = 0
	}
	if o.ImportChunkSize <= 0 {
		o.ImportChunkSize = defaultImportChunkSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.ServerLocation == nil {
		o.ServerLocation = time.UTC
	}
	return o
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// aborted reports whether an item failure was caused by cancellation of the
// run itself rather than by the remote store.
func aborted(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}

func rate(part, total int) string {
	if total <= 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(part)/float64(total)*100)
}

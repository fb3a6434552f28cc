package source

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/timmy/rostersync/internal/domain"
)

// Page is one page of raw records fetched from a paginated source.
type Page struct {
	Kind domain.EntityKind
	// Cursor is the cursor that produced this page; empty for the first page.
	Cursor string
	// NextCursor is empty on the last page.
	NextCursor string
	Records    []*domain.RawRecord
}

// Last reports whether no further pages follow.
func (p Page) Last() bool {
	return p.NextCursor == ""
}

// FetchOptions controls a paginated fetch.
type FetchOptions struct {
	Limit        int
	UpdatedSince *time.Time
	// StartCursor resumes a sequence from a stored checkpoint.
	StartCursor string
}

// PageSource defines the interface for paginated record sources.
type PageSource interface {
	// GetSourceID returns the unique identifier for this source.
	GetSourceID() string

	// FetchPage fetches one page of kind starting at cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - kind: entity kind to fetch.
	//   - cursor: pagination cursor or empty for the first page.
	//   - opts: page size and incremental filter.
	// Returns:
	//   - Page: fetched records and the next cursor.
	//   - error: non-nil if fetching fails after retries.
	FetchPage(ctx context.Context, kind domain.EntityKind, cursor string, opts FetchOptions) (Page, error)

	// Ping checks connectivity and credentials.
	Ping(ctx context.Context) error
}

// Pages returns a lazy page sequence over src. The sequence is finite and
// restartable: each range over it starts again from opts.StartCursor.
// Iteration stops after the first error, which is yielded with a zero page.
func Pages(ctx context.Context, src PageSource, kind domain.EntityKind, opts FetchOptions) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		cursor := opts.StartCursor
		seen := map[string]bool{}
		for {
			if err := ctx.Err(); err != nil {
				yield(Page{Kind: kind, Cursor: cursor}, err)
				return
			}
			page, err := src.FetchPage(ctx, kind, cursor, opts)
			if err != nil {
				yield(Page{Kind: kind, Cursor: cursor}, err)
				return
			}
			if !yield(page, nil) || page.Last() {
				return
			}
			seen[cursor] = true
			if seen[page.NextCursor] {
				yield(Page{Kind: kind, Cursor: page.NextCursor},
					fmt.Errorf("%s: cursor %q repeated", kind, page.NextCursor))
				return
			}
			cursor = page.NextCursor
		}
	}
}

// RowError describes one bulk row that could not be parsed.
type RowError struct {
	Row    int    `json:"row"`
	Ref    string `json:"ref,omitempty"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("row %d (%s): %s", e.Row, e.Ref, e.Reason)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// Batch is the parsed content of one bulk upload.
type Batch struct {
	Kind      domain.EntityKind
	Name      string
	Records   []*domain.RawRecord
	RowErrors []RowError
}

package bulk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/timmy/rostersync/internal/domain"
	"github.com/timmy/rostersync/internal/logger"
	"github.com/timmy/rostersync/internal/source"
	"golang.org/x/sync/errgroup"
)

const reasonDuplicate = "duplicate in batch"

// Options controls how a bulk file is parsed.
type Options struct {
	// Format overrides detection from the file name.
	Format Format
	// AsOf stamps ObservedAt on every record without an updated_at column. Zero means now.
	AsOf time.Time
}

func (o Options) asOf() time.Time {
	if o.AsOf.IsZero() {
		return time.Now().UTC()
	}
	return o.AsOf.UTC()
}

// Parse decodes one bulk file into raw records. It never fails as a whole:
// unreadable rows, and an unreadable header, are reported as row errors.
// Row numbers are 1-based file lines.
// Parameters:
//   - r: file content.
//   - kind: entity kind every row describes.
//   - opts: format and observation time.
//
// Returns:
//   - []*domain.RawRecord: parsed records in file order, duplicates removed.
//   - []source.RowError: rejected rows ordered by row.
func Parse(r io.Reader, kind domain.EntityKind, opts Options) ([]*domain.RawRecord, []source.RowError) {
	if domain.Schema(kind) == nil {
		return nil, []source.RowError{{Reason: fmt.Sprintf("unknown entity kind %q", kind)}}
	}
	p := &rowParser{kind: kind, asOf: opts.asOf()}

	switch opts.Format {
	case FormatJSONL:
		p.parseJSONL(r)
	case FormatCSV, "":
		p.parseCSV(r)
	default:
		return nil, []source.RowError{{Reason: fmt.Sprintf("unsupported bulk format %q", opts.Format)}}
	}

	records, dups := dedupe(kind, p.records)
	rowErrors := append(p.rowErrors, dups...)
	sort.SliceStable(rowErrors, func(i, j int) bool { return rowErrors[i].Row < rowErrors[j].Row })
	return records, rowErrors
}

// ParseBatch parses r and wraps the result as a named batch.
func ParseBatch(r io.Reader, name string, kind domain.EntityKind, opts Options) source.Batch {
	if opts.Format == "" {
		if f, err := FormatFromName(name); err == nil {
			opts.Format = f
		}
	}
	records, rowErrors := Parse(r, kind, opts)
	return source.Batch{Kind: kind, Name: name, Records: records, RowErrors: rowErrors}
}

// ParseFiles parses several files concurrently, one goroutine per file.
// The returned batches are in the order of paths.
// Parameters:
//   - ctx: context for cancellation.
//   - kind: entity kind of every file.
//   - paths: files to parse.
//   - opts: shared parse options.
//
// Returns:
//   - []source.Batch: one batch per path.
//   - error: non-nil if a file cannot be opened or its format is unknown.
func ParseFiles(ctx context.Context, kind domain.EntityKind, paths []string, opts Options) ([]source.Batch, error) {
	batches := make([]source.Batch, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fileOpts := opts
			if fileOpts.Format == "" {
				f, err := FormatFromName(path)
				if err != nil {
					return err
				}
				fileOpts.Format = f
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()

			start := time.Now()
			batches[i] = ParseBatch(f, filepath.Base(path), kind, fileOpts)
			logger.With(logger.Fields{
				logger.FieldEntityKind: kind,
				logger.FieldCount:      len(batches[i].Records),
				"row_errors":           len(batches[i].RowErrors),
				"file":                 path,
			}).Since(start).Info(ctx, "Parsed bulk file")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

// rowParser accumulates records and row errors for one file.
type rowParser struct {
	kind      domain.EntityKind
	asOf      time.Time
	records   []*domain.RawRecord
	rowErrors []source.RowError
}

func (p *rowParser) fail(row int, ref, reason string) {
	p.rowErrors = append(p.rowErrors, source.RowError{Row: row, Ref: ref, Reason: reason})
}

// addRow builds a record from normalized column values. Empty values are
// treated as not supplied.
func (p *rowParser) addRow(row int, cols map[string]string) {
	rec, err := domain.NewRawRecord(p.kind, domain.DataSourceBulk, p.asOf)
	if err != nil {
		p.fail(row, "", err.Error())
		return
	}
	rec.Row = row
	rec.ExternalID = cols[columnExternalID]

	if v := cols[columnUpdatedAt]; v != "" {
		t, err := domain.ParseTimestamp(v)
		if err != nil {
			p.fail(row, rec.ExternalID, fmt.Sprintf("%s: %v", columnUpdatedAt, err))
			return
		}
		rec.ObservedAt = t
	}

	for _, field := range domain.Schema(p.kind).Fields {
		v, ok := cols[field]
		if !ok || v == "" {
			continue
		}
		if err := rec.Set(field, v); err != nil {
			p.fail(row, rec.ExternalID, err.Error())
			return
		}
	}
	p.records = append(p.records, rec)
}

// dedupe keeps the last row per external id, or per natural key for rows
// without one, and reports every earlier row.
func dedupe(kind domain.EntityKind, records []*domain.RawRecord) ([]*domain.RawRecord, []source.RowError) {
	schema := domain.Schema(kind)
	last := make(map[string]int, len(records))
	keys := make([]string, len(records))
	for i, rec := range records {
		key := ""
		if rec.ExternalID != "" {
			key = "id:" + rec.ExternalID
		} else {
			vals := rec.Values()
			if nk := schema.NaturalKeyOf(func(n string) string { return vals[n] }); nk != "" {
				key = "nk:" + nk
			}
		}
		keys[i] = key
		if key != "" {
			last[key] = i
		}
	}

	out := make([]*domain.RawRecord, 0, len(records))
	var dups []source.RowError
	for i, rec := range records {
		if keys[i] != "" && last[keys[i]] != i {
			dups = append(dups, source.RowError{Row: rec.Row, Ref: rec.Ref(), Reason: reasonDuplicate})
			continue
		}
		out = append(out, rec)
	}
	return out, dups
}

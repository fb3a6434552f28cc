package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/rostersync/internal/logger"
)

// Archive keeps raw bulk uploads in object storage.
type Archive struct {
	store  BlobStore
	prefix string
	now    func() time.Time
}

// NewArchive creates an Archive writing under prefix.
func NewArchive(store BlobStore, prefix string) *Archive {
	return &Archive{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Key builds the object key for an upload: prefix/kind/YYYY/MM/DD/<uuid>-name.
func (a *Archive) Key(kind, name string) string {
	day := a.now().UTC().Format("2006/01/02")
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	return path.Join(a.prefix, kind, day, uuid.NewString()+"-"+base)
}

// Put stores data and returns its key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - kind: entity kind the file describes.
//   - name: original file name.
//   - data: raw file content.
//
// Returns:
//   - string: object key of the archived file.
//   - error: non-nil if the upload fails.
func (a *Archive) Put(ctx context.Context, kind, name string, data []byte) (string, error) {
	key := a.Key(kind, name)
	if err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentTypeFor(name)); err != nil {
		return "", err
	}
	return key, nil
}

// Open returns an archived file for replay.
// A missing key yields an error wrapping ErrObjectNotFound.
func (a *Archive) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	info, err := a.store.Stat(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("archived upload: %w", err)
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldSize: info.Size,
		"key":            key,
		"archived_at":    info.ModifiedAt,
	}).Debug("Opening archived upload")
	return a.store.Get(ctx, key)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".jsonl", ".ndjson":
		return "application/x-ndjson"
	}
	return "application/octet-stream"
}

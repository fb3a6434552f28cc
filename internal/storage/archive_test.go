package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(data)), ContentType: m.types[key]}, nil
}

func TestArchivePutAndOpen(t *testing.T) {
	store := newMemoryStore()
	a := NewArchive(store, "/uploads/")
	a.now = func() time.Time { return time.Date(2025, 4, 9, 23, 0, 0, 0, time.UTC) }

	key, err := a.Put(context.Background(), "people", `C:\exports\people.csv`, []byte("id,email\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "uploads/people/2025/04/09/"), key)
	assert.True(t, strings.HasSuffix(key, "-people.csv"), key)
	assert.Equal(t, "text/csv", store.types[key])

	rc, err := a.Open(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "id,email\n", string(data))

	_, err = a.Open(context.Background(), "uploads/missing.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestEndpointFlavor(t *testing.T) {
	assert.Equal(t, "minio:9000", normalizeEndpoint("http://minio:9000/"))
	assert.Equal(t, "acct.r2.cloudflarestorage.com", normalizeEndpoint("https://acct.r2.cloudflarestorage.com/bucket"))
	assert.Equal(t, FlavorR2, detectFlavor("https://acct.r2.cloudflarestorage.com"))
	assert.Equal(t, FlavorS3, detectFlavor("s3.eu-west-1.amazonaws.com"))
	assert.Equal(t, FlavorS3Compatible, detectFlavor("minio:9000"))
}

package history

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockGCSWriter struct {
	buf    bytes.Buffer
	closed bool
	err    error
}

func (m *mockGCSWriter) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return m.err
}

type mockGCSObjectHandle struct {
	writer   *mockGCSWriter
	closeErr error
}

func (m *mockGCSObjectHandle) NewWriter(context.Context) io.WriteCloser {
	if m.writer == nil {
		m.writer = &mockGCSWriter{err: m.closeErr}
	}
	return m.writer
}

type mockGCSBucketHandle struct {
	mu       sync.Mutex
	objects  map[string]*mockGCSObjectHandle
	closeErr error
}

func (m *mockGCSBucketHandle) Object(name string) GCSObjectHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{closeErr: m.closeErr}
	}
	return m.objects[name]
}

// decoded returns every object's entries keyed by object name.
func (m *mockGCSBucketHandle) decoded(t *testing.T) map[string][]Entry {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]Entry, len(m.objects))
	for name, obj := range m.objects {
		gz, err := gzip.NewReader(bytes.NewReader(obj.writer.buf.Bytes()))
		require.NoError(t, err)
		dec := json.NewDecoder(gz)
		for dec.More() {
			var e Entry
			require.NoError(t, dec.Decode(&e))
			out[name] = append(out[name], e)
		}
	}
	return out
}

type mockGCSClient struct {
	bucket *mockGCSBucketHandle
	names  []string
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{}}
}

func (m *mockGCSClient) Bucket(name string) GCSBucketHandle {
	m.names = append(m.names, name)
	return m.bucket
}

// mockUploader records the batches it receives.
type mockUploader struct {
	mu      sync.Mutex
	batches [][]*Entry
	err     error
	closed  bool
}

func (m *mockUploader) UploadBatch(_ context.Context, entries []*Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]*Entry(nil), entries...))
	return m.err
}

func (m *mockUploader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockUploader) received() [][]*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*Entry(nil), m.batches...)
}

package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemStore is an in-memory Store used by tests and by deployments that
// start without S3 credentials. Safe for concurrent use.
type MemStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	public  map[string]bool
}

type memObject struct {
	data     []byte
	mimeType string
	folder   bool
}

// NewMem returns an empty in-memory store.
func NewMem() *MemStore {
	return &MemStore{
		objects: make(map[string]memObject),
		public:  make(map[string]bool),
	}
}

func (m *MemStore) CreateFolder(ctx context.Context, name string) (string, error) {
	handle := name + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[handle] = memObject{folder: true}
	return handle, nil
}

func (m *MemStore) CreateFile(ctx context.Context, name, mimeType string, content io.Reader, parent string) (Created, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return Created{}, fmt.Errorf("blob: read content: %w", err)
	}
	handle := parent + name
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[handle] = memObject{data: data, mimeType: mimeType}
	return Created{Handle: handle, PublicLink: "mem://" + handle}, nil
}

func (m *MemStore) SetPublicReadable(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[handle]; !ok {
		return ErrNotFound
	}
	m.public[handle] = true
	return nil
}

func (m *MemStore) Metadata(ctx context.Context, handle string) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[handle]
	if !ok || obj.folder {
		return Metadata{}, ErrNotFound
	}
	return Metadata{Size: int64(len(obj.data)), MIMEType: obj.mimeType}, nil
}

func (m *MemStore) RangeStream(ctx context.Context, handle string, start, end int64) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[handle]
	if !ok || obj.folder {
		return nil, ErrNotFound
	}
	size := int64(len(obj.data))
	if start < 0 || start > end || start >= size {
		return nil, fmt.Errorf("blob: range %d-%d out of bounds for %d bytes", start, end, size)
	}
	if end >= size {
		end = size - 1
	}
	return io.NopCloser(bytes.NewReader(obj.data[start : end+1])), nil
}

func (m *MemStore) Delete(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.HasSuffix(handle, "/") {
		for key := range m.objects {
			if strings.HasPrefix(key, handle) || key == handle {
				delete(m.objects, key)
				delete(m.public, key)
			}
		}
		return nil
	}
	if _, ok := m.objects[handle]; !ok {
		return ErrNotFound
	}
	delete(m.objects, handle)
	delete(m.public, handle)
	return nil
}

// IsPublic reports whether SetPublicReadable was called for handle.
// Test helper.
func (m *MemStore) IsPublic(handle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.public[handle]
}

// Put stores a ready-made object under handle. Test helper.
func (m *MemStore) Put(handle, mimeType string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[handle] = memObject{data: data, mimeType: mimeType}
}

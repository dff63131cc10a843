package devserver

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
)

type mediaBlob struct {
	contentType string
	data        []byte
}

// mediaStore keeps uploads in memory for the lifetime of the process.
type mediaStore struct {
	mu    sync.RWMutex
	blobs map[string]mediaBlob
}

func newMediaStore() *mediaStore {
	return &mediaStore{blobs: make(map[string]mediaBlob)}
}

func (m *mediaStore) put(data []byte) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.blobs[id] = mediaBlob{contentType: http.DetectContentType(data), data: data}
	m.mu.Unlock()
	return id
}

func (m *mediaStore) get(id string) (mediaBlob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[id]
	return b, ok
}

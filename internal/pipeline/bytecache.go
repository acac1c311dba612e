package pipeline

import (
	"sync"

	"github.com/google/uuid"

	"analysis-pipeline/internal/entity"
)

// CachedMedia is a raw media payload held for downstream stages of one job.
type CachedMedia struct {
	MediaID     uuid.UUID
	Type        entity.MediaType
	SourceURL   string
	ContentType string
	VideoIndex  int
	Data        []byte
}

// ByteCache keeps media bytes per resource for the lifetime of one job run.
// Bytes never reach the durable resource records.
type ByteCache struct {
	mu    sync.RWMutex
	items map[uuid.UUID][]CachedMedia
}

func NewByteCache() *ByteCache {
	return &ByteCache{items: map[uuid.UUID][]CachedMedia{}}
}

func (c *ByteCache) Put(resourceID uuid.UUID, m CachedMedia) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[resourceID] = append(c.items[resourceID], m)
}

func (c *ByteCache) Get(resourceID uuid.UUID) []CachedMedia {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CachedMedia(nil), c.items[resourceID]...)
}

// Has reports whether bytes for mediaID are cached under resourceID.
func (c *ByteCache) Has(resourceID, mediaID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.items[resourceID] {
		if m.MediaID == mediaID {
			return true
		}
	}
	return false
}

// Size is the total number of cached bytes.
func (c *ByteCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, list := range c.items {
		for _, m := range list {
			n += len(m.Data)
		}
	}
	return n
}

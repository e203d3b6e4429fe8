package connregistry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

// defaultSnapshotTTL mirrors Registry's default when a SchemaCache is
// constructed outside of NewRegistry (tests, standalone use).
const defaultSnapshotTTL = 15 * time.Minute

// SchemaCache holds one SchemaSnapshot per connection behind a single
// mutex. Grounded on pkg/adapters/datasource's ConnectionManager map
// pattern (pool_connector.go, connection_manager.go): a plain
// mutex-guarded map is the right shape here too, since snapshots are
// replaced wholesale on refresh rather than mutated field-by-field, and
// the number of distinct connections a tenant registers is small enough
// that sharding would add complexity without measurable benefit.
type SchemaCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[uuid.UUID]*models.SchemaSnapshot
}

func NewSchemaCache() *SchemaCache {
	return &SchemaCache{
		ttl: defaultSnapshotTTL,
		m:   make(map[uuid.UUID]*models.SchemaSnapshot),
	}
}

func (c *SchemaCache) Get(connectionID uuid.UUID) (*models.SchemaSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.m[connectionID]
	return snap, ok
}

func (c *SchemaCache) Put(connectionID uuid.UUID, snapshot *models.SchemaSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[connectionID] = snapshot
}

func (c *SchemaCache) Delete(connectionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, connectionID)
}

// Package cache keeps hot flow definitions in memory. Every webhook of
// a call re-reads the line's flow, so a short TTL in front of the
// database removes almost all of that read traffic.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/velora-auto/trunkline/backend/internal/flow"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

// DefaultTTL bounds how stale a served flow can be after an edit made
// by another instance
const DefaultTTL = 30 * time.Second

type entry struct {
	def     *types.FlowDefinition
	expires time.Time
}

// FlowCache is a TTL read-through cache implementing flow.Store
type FlowCache struct {
	store   flow.Store
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]entry
	clock   func() time.Time
}

// NewFlowCache wraps a flow store with a TTL cache
func NewFlowCache(store flow.Store, ttl time.Duration) *FlowCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FlowCache{
		store:   store,
		ttl:     ttl,
		entries: make(map[string]entry),
		clock:   time.Now,
	}
}

func key(tenantID, lineID string) string { return tenantID + "/" + lineID }

// GetFlowForLine serves from cache when fresh, reading through otherwise
func (c *FlowCache) GetFlowForLine(ctx context.Context, tenantID, lineID string) (*types.FlowDefinition, error) {
	k := key(tenantID, lineID)

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if ok && c.clock().Before(e.expires) {
		return e.def, nil
	}

	def, err := c.store.GetFlowForLine(ctx, tenantID, lineID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[k] = entry{def: def, expires: c.clock().Add(c.ttl)}
	c.mu.Unlock()
	return def, nil
}

// PutFlow writes through and replaces the cached entry so the editing
// instance serves the new flow immediately
func (c *FlowCache) PutFlow(ctx context.Context, def *types.FlowDefinition) error {
	if err := c.store.PutFlow(ctx, def); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[key(def.TenantID, def.LineID)] = entry{def: def, expires: c.clock().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// Invalidate drops a cached flow
func (c *FlowCache) Invalidate(tenantID, lineID string) {
	c.mu.Lock()
	delete(c.entries, key(tenantID, lineID))
	c.mu.Unlock()
}

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/velora-auto/trunkline/backend/internal/flow"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

type countingStore struct {
	reads int
	defs  map[string]*types.FlowDefinition
}

func newCountingStore() *countingStore {
	return &countingStore{defs: make(map[string]*types.FlowDefinition)}
}

func (s *countingStore) GetFlowForLine(_ context.Context, tenantID, lineID string) (*types.FlowDefinition, error) {
	s.reads++
	if def, ok := s.defs[tenantID+"/"+lineID]; ok {
		return def, nil
	}
	return nil, flow.ErrFlowNotFound
}

func (s *countingStore) PutFlow(_ context.Context, def *types.FlowDefinition) error {
	s.defs[def.TenantID+"/"+def.LineID] = def
	return nil
}

func def(name string) *types.FlowDefinition {
	return &types.FlowDefinition{TenantID: "t1", LineID: "l1", Name: name}
}

func TestFlowCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := newCountingStore()
	backing.defs["t1/l1"] = def("v1")
	c := NewFlowCache(backing, time.Minute)

	for i := 0; i < 3; i++ {
		got, err := c.GetFlowForLine(ctx, "t1", "l1")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if got.Name != "v1" {
			t.Errorf("got %s", got.Name)
		}
	}
	if backing.reads != 1 {
		t.Errorf("expected a single backing read, got %d", backing.reads)
	}
}

func TestFlowCacheTTLExpiry(t *testing.T) {
	ctx := context.Background()
	backing := newCountingStore()
	backing.defs["t1/l1"] = def("v1")
	c := NewFlowCache(backing, time.Minute)

	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	c.clock = func() time.Time { return now }

	_, _ = c.GetFlowForLine(ctx, "t1", "l1")
	backing.defs["t1/l1"] = def("v2")

	// Still fresh
	got, _ := c.GetFlowForLine(ctx, "t1", "l1")
	if got.Name != "v1" {
		t.Errorf("expected cached v1, got %s", got.Name)
	}

	now = now.Add(2 * time.Minute)
	got, _ = c.GetFlowForLine(ctx, "t1", "l1")
	if got.Name != "v2" {
		t.Errorf("expected re-read after expiry, got %s", got.Name)
	}
	if backing.reads != 2 {
		t.Errorf("expected 2 backing reads, got %d", backing.reads)
	}
}

func TestFlowCacheErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	backing := newCountingStore()
	c := NewFlowCache(backing, time.Minute)

	if _, err := c.GetFlowForLine(ctx, "t1", "l1"); !errors.Is(err, flow.ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}

	backing.defs["t1/l1"] = def("v1")
	got, err := c.GetFlowForLine(ctx, "t1", "l1")
	if err != nil || got.Name != "v1" {
		t.Errorf("miss must not be cached: %v %v", got, err)
	}
}

func TestFlowCachePutWritesThrough(t *testing.T) {
	ctx := context.Background()
	backing := newCountingStore()
	c := NewFlowCache(backing, time.Minute)

	if err := c.PutFlow(ctx, def("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if backing.defs["t1/l1"] == nil {
		t.Fatal("put must reach the backing store")
	}

	got, err := c.GetFlowForLine(ctx, "t1", "l1")
	if err != nil || got.Name != "v1" {
		t.Fatalf("get after put: %v %v", got, err)
	}
	if backing.reads != 0 {
		t.Errorf("put must prime the cache, got %d reads", backing.reads)
	}
}

func TestFlowCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	backing := newCountingStore()
	backing.defs["t1/l1"] = def("v1")
	c := NewFlowCache(backing, time.Minute)

	_, _ = c.GetFlowForLine(ctx, "t1", "l1")
	backing.defs["t1/l1"] = def("v2")
	c.Invalidate("t1", "l1")

	got, _ := c.GetFlowForLine(ctx, "t1", "l1")
	if got.Name != "v2" {
		t.Errorf("invalidate must force a re-read, got %s", got.Name)
	}
}

package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/velora-auto/trunkline/backend/internal/flow"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

// MemoryStore is an in-memory Backend with the same optimistic
// concurrency semantics as DynamoDB. Used when persistence is disabled
// and throughout the tests.
type MemoryStore struct {
	mu       sync.Mutex
	segments map[string]*types.CallSegment // key: tenant/callID
	flows    map[string]*types.FlowDefinition
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		segments: make(map[string]*types.CallSegment),
		flows:    make(map[string]*types.FlowDefinition),
	}
}

func segKey(tenantID, callID string) string { return tenantID + "/" + callID }

// CreateSegment inserts a new segment, failing on duplicates
func (s *MemoryStore) CreateSegment(_ context.Context, seg *types.CallSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := segKey(seg.TenantID, seg.CallID)
	if _, ok := s.segments[key]; ok {
		return ErrSegmentExists
	}
	seg.Version = 1
	s.segments[key] = copySegment(seg)
	return nil
}

// GetSegment returns a copy of the stored segment
func (s *MemoryStore) GetSegment(_ context.Context, tenantID, callID string) (*types.CallSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[segKey(tenantID, callID)]
	if !ok {
		return nil, ErrSegmentNotFound
	}
	return copySegment(seg), nil
}

// UpdateSegment applies the write only when the version matches
func (s *MemoryStore) UpdateSegment(_ context.Context, seg *types.CallSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := segKey(seg.TenantID, seg.CallID)
	stored, ok := s.segments[key]
	if !ok {
		return ErrSegmentNotFound
	}
	if stored.Version != seg.Version {
		return ErrVersionConflict
	}
	seg.Version++
	s.segments[key] = copySegment(seg)
	return nil
}

// GetChain returns all segments of a chain ordered by segment number
func (s *MemoryStore) GetChain(_ context.Context, tenantID, chainID string) ([]types.CallSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.CallSegment
	for _, seg := range s.segments {
		if seg.TenantID == tenantID && seg.ChainID == chainID {
			out = append(out, *copySegment(seg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SegmentNumber < out[j].SegmentNumber
	})
	return out, nil
}

// FindSegmentByLeg locates a segment owning the given leg ID
func (s *MemoryStore) FindSegmentByLeg(_ context.Context, tenantID, legID string) (*types.CallSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg, ok := s.segments[segKey(tenantID, legID)]; ok {
		return copySegment(seg), nil
	}
	for _, seg := range s.segments {
		if seg.TenantID == tenantID && seg.HasLeg(legID) {
			return copySegment(seg), nil
		}
	}
	return nil, ErrSegmentNotFound
}

// GetFlowForLine loads the flow configured for a tenant phone line
func (s *MemoryStore) GetFlowForLine(_ context.Context, tenantID, lineID string) (*types.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.flows[segKey(tenantID, lineID)]
	if !ok {
		return nil, flow.ErrFlowNotFound
	}
	return copyFlow(def), nil
}

// PutFlow stores a flow definition for a line
func (s *MemoryStore) PutFlow(_ context.Context, def *types.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[segKey(def.TenantID, def.LineID)] = copyFlow(def)
	return nil
}

// copySegment deep-copies through JSON so callers can never mutate
// stored state without going through UpdateSegment
func copySegment(seg *types.CallSegment) *types.CallSegment {
	raw, _ := json.Marshal(seg)
	var out types.CallSegment
	_ = json.Unmarshal(raw, &out)
	return &out
}

func copyFlow(def *types.FlowDefinition) *types.FlowDefinition {
	raw, _ := json.Marshal(def)
	var out types.FlowDefinition
	_ = json.Unmarshal(raw, &out)
	return &out
}

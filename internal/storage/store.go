package storage

import (
	"context"
	"errors"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

var (
	// ErrSegmentNotFound is returned when no segment exists for a key
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrSegmentExists is returned when creating a segment that already exists
	ErrSegmentExists = errors.New("segment already exists")

	// ErrVersionConflict is returned when an update lost a concurrent race.
	// Callers retry through Mutate, re-reading the row first.
	ErrVersionConflict = errors.New("segment version conflict")
)

// SegmentStore persists call segments keyed by tenant and caller-leg
// call ID. Updates are optimistic: UpdateSegment only succeeds when the
// stored Version matches the one the segment was read with.
type SegmentStore interface {
	CreateSegment(ctx context.Context, seg *types.CallSegment) error
	GetSegment(ctx context.Context, tenantID, callID string) (*types.CallSegment, error)
	UpdateSegment(ctx context.Context, seg *types.CallSegment) error

	// GetChain returns all segments sharing a chain ID, ordered by
	// segment number
	GetChain(ctx context.Context, tenantID, chainID string) ([]types.CallSegment, error)

	// FindSegmentByLeg locates the segment owning a leg ID, which may
	// be a caller leg (the segment key) or a dialed agent leg
	FindSegmentByLeg(ctx context.Context, tenantID, legID string) (*types.CallSegment, error)
}

// maxMutateRetries bounds the CAS retry loop. Conflicts are short
// races between webhook callbacks, so a handful of retries is plenty.
const maxMutateRetries = 5

// Mutate applies fn to the current segment row and writes it back as
// one atomic read-decide-write. On a version conflict the row is
// re-read and fn re-applied, so two concurrent callbacks can never both
// act on the same stale state. fn may return ErrNoChange to skip the
// write.
func Mutate(ctx context.Context, store SegmentStore, tenantID, callID string, fn func(*types.CallSegment) error) (*types.CallSegment, error) {
	var lastErr error
	for i := 0; i < maxMutateRetries; i++ {
		seg, err := store.GetSegment(ctx, tenantID, callID)
		if err != nil {
			return nil, err
		}
		if err := fn(seg); err != nil {
			if errors.Is(err, ErrNoChange) {
				return seg, nil
			}
			return nil, err
		}
		if err := store.UpdateSegment(ctx, seg); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return seg, nil
	}
	return nil, lastErr
}

// ErrNoChange tells Mutate the mutation decided to no-op
var ErrNoChange = errors.New("no change")

// Package transcripts distributes a chain-level transcript onto the
// chain's segments. Providers transcribe the whole recording with
// offsets from the start of the call; each segment keeps only the
// utterances spoken during its own lifetime, re-based to its start.
package transcripts

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/storage"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

// Segmenter writes per-segment transcripts
type Segmenter struct {
	store  storage.SegmentStore
	logger zerolog.Logger
}

// NewSegmenter creates a segmenter
func NewSegmenter(store storage.SegmentStore, logger zerolog.Logger) *Segmenter {
	return &Segmenter{
		store:  store,
		logger: logger.With().Str("component", "transcripts").Logger(),
	}
}

// Apply distributes a chain transcript across the chain's segments.
// A single-segment chain stores the transcript verbatim; otherwise each
// segment receives the utterances overlapping its time window, clipped
// and re-based to the segment start.
func (sg *Segmenter) Apply(ctx context.Context, tenantID, chainID string, transcript []types.Utterance) error {
	chain, err := sg.store.GetChain(ctx, tenantID, chainID)
	if err != nil {
		return err
	}
	if len(chain) == 0 {
		return fmt.Errorf("chain %s has no segments", chainID)
	}

	if len(chain) == 1 {
		return sg.write(ctx, tenantID, chain[0].CallID, transcript)
	}

	chainStart := chain[0].StartedAt
	for i := range chain {
		start, end, closed := chain[i].Window(chainStart)
		part := Assign(transcript, start, end, closed)
		if err := sg.write(ctx, tenantID, chain[i].CallID, part); err != nil {
			return err
		}
	}
	return nil
}

func (sg *Segmenter) write(ctx context.Context, tenantID, callID string, part []types.Utterance) error {
	_, err := storage.Mutate(ctx, sg.store, tenantID, callID, func(s *types.CallSegment) error {
		if len(part) == 0 && len(s.Transcript) == 0 {
			return storage.ErrNoChange
		}
		s.Transcript = part
		return nil
	})
	return err
}

// Assign selects the utterances overlapping the window [start, end) and
// re-bases their offsets to the window start. An utterance straddling a
// boundary appears in both neighbors, clipped to each window; closed is
// false for a still-open window extending indefinitely.
func Assign(transcript []types.Utterance, start, end float64, closed bool) []types.Utterance {
	var out []types.Utterance
	for _, u := range transcript {
		if u.EndSecs <= start {
			continue
		}
		if closed && u.StartSecs >= end {
			continue
		}

		clipped := u
		clipped.StartSecs = u.StartSecs - start
		if clipped.StartSecs < 0 {
			clipped.StartSecs = 0
		}
		clipped.EndSecs = u.EndSecs - start
		if closed && u.EndSecs > end {
			clipped.EndSecs = end - start
		}
		out = append(out, clipped)
	}
	return out
}

package transcripts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/storage"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

func utter(speaker, text string, start, end float64) types.Utterance {
	return types.Utterance{Speaker: speaker, Text: text, StartSecs: start, EndSecs: end}
}

func TestAssignClipsAndRebases(t *testing.T) {
	transcript := []types.Utterance{
		utter("buyer", "hello", 2, 5),
		utter("agent", "one moment", 55, 65), // straddles the 60s boundary
		utter("agent", "finance here", 70, 75),
	}

	first := Assign(transcript, 0, 60, true)
	if len(first) != 2 {
		t.Fatalf("expected 2 utterances in first window, got %d", len(first))
	}
	if first[0].StartSecs != 2 || first[0].EndSecs != 5 {
		t.Errorf("untouched utterance moved: %+v", first[0])
	}
	// Straddler is clipped to the window end
	if first[1].StartSecs != 55 || first[1].EndSecs != 60 {
		t.Errorf("straddler not clipped: %+v", first[1])
	}

	second := Assign(transcript, 60, 90, true)
	if len(second) != 2 {
		t.Fatalf("expected 2 utterances in second window, got %d", len(second))
	}
	// Straddler appears again, re-based and clipped at the front
	if second[0].Text != "one moment" || second[0].StartSecs != 0 || second[0].EndSecs != 5 {
		t.Errorf("straddler not re-based: %+v", second[0])
	}
	if second[1].StartSecs != 10 || second[1].EndSecs != 15 {
		t.Errorf("bad re-base: %+v", second[1])
	}
}

func TestAssignOpenWindow(t *testing.T) {
	transcript := []types.Utterance{
		utter("buyer", "early", 0, 10),
		utter("agent", "late", 500, 510),
	}

	out := Assign(transcript, 60, 0, false)
	if len(out) != 1 {
		t.Fatalf("expected only the late utterance, got %d", len(out))
	}
	if out[0].Text != "late" || out[0].StartSecs != 440 || out[0].EndSecs != 450 {
		t.Errorf("bad open-window assignment: %+v", out[0])
	}
}

func TestAssignBoundaryExclusive(t *testing.T) {
	transcript := []types.Utterance{
		utter("", "ends at start", 0, 60),
		utter("", "starts at end", 90, 95),
	}
	out := Assign(transcript, 60, 90, true)
	if len(out) != 0 {
		t.Errorf("boundary-touching utterances must not be assigned: %+v", out)
	}
}

func newChainStore(t *testing.T, segments int) (*storage.MemoryStore, time.Time) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	chainStart := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	for i := 0; i < segments; i++ {
		callID := "CA1"
		if i > 0 {
			callID = types.TransferCallID("CA1", i)
		}
		seg := &types.CallSegment{
			TenantID:      "t1",
			CallID:        callID,
			CallerLegID:   "CA1",
			ChainID:       "CA1",
			SegmentNumber: i,
			LineID:        "l1",
			Status:        types.StatusTransferred,
			StartedAt:     chainStart.Add(time.Duration(i) * time.Minute),
		}
		if i < segments-1 {
			ended := chainStart.Add(time.Duration(i+1) * time.Minute)
			seg.EndedAt = &ended
		} else {
			seg.Status = types.StatusCompleted
			ended := chainStart.Add(time.Duration(i+1) * time.Minute)
			seg.EndedAt = &ended
		}
		if err := store.CreateSegment(ctx, seg); err != nil {
			t.Fatalf("create segment %d: %v", i, err)
		}
	}
	return store, chainStart
}

func TestApplySingleSegmentVerbatim(t *testing.T) {
	ctx := context.Background()
	store, _ := newChainStore(t, 1)
	sg := NewSegmenter(store, zerolog.Nop())

	transcript := []types.Utterance{
		utter("buyer", "hello", 2, 5),
		utter("agent", "hi there", 6, 9),
	}
	if err := sg.Apply(ctx, "t1", "CA1", transcript); err != nil {
		t.Fatalf("apply: %v", err)
	}

	seg, _ := store.GetSegment(ctx, "t1", "CA1")
	if len(seg.Transcript) != 2 {
		t.Fatalf("expected verbatim transcript, got %d utterances", len(seg.Transcript))
	}
	if seg.Transcript[0].StartSecs != 2 {
		t.Errorf("single-segment offsets must not be re-based: %+v", seg.Transcript[0])
	}
}

func TestApplyDistributesAcrossChain(t *testing.T) {
	ctx := context.Background()
	store, _ := newChainStore(t, 2) // windows [0,60) and [60,120)
	sg := NewSegmenter(store, zerolog.Nop())

	transcript := []types.Utterance{
		utter("buyer", "hello", 2, 5),
		utter("agent", "transferring you", 58, 62),
		utter("agent", "finance desk", 70, 75),
	}
	if err := sg.Apply(ctx, "t1", "CA1", transcript); err != nil {
		t.Fatalf("apply: %v", err)
	}

	seg0, _ := store.GetSegment(ctx, "t1", "CA1")
	if len(seg0.Transcript) != 2 {
		t.Fatalf("segment 0: expected 2 utterances, got %d", len(seg0.Transcript))
	}
	if seg0.Transcript[1].EndSecs != 60 {
		t.Errorf("segment 0 straddler not clipped: %+v", seg0.Transcript[1])
	}

	seg1, _ := store.GetSegment(ctx, "t1", "CA1_transfer_1")
	if len(seg1.Transcript) != 2 {
		t.Fatalf("segment 1: expected 2 utterances, got %d", len(seg1.Transcript))
	}
	if seg1.Transcript[0].StartSecs != 0 || seg1.Transcript[0].EndSecs != 2 {
		t.Errorf("segment 1 straddler not re-based: %+v", seg1.Transcript[0])
	}
	if seg1.Transcript[1].StartSecs != 10 {
		t.Errorf("segment 1 offset wrong: %+v", seg1.Transcript[1])
	}
}

func TestApplyUnknownChain(t *testing.T) {
	store := storage.NewMemoryStore()
	sg := NewSegmenter(store, zerolog.Nop())
	if err := sg.Apply(context.Background(), "t1", "nope", nil); err == nil {
		t.Fatal("expected error for unknown chain")
	}
}

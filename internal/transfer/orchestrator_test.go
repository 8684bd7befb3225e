package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/callback"
	"github.com/velora-auto/trunkline/backend/internal/resolve"
	"github.com/velora-auto/trunkline/backend/internal/storage"
	"github.com/velora-auto/trunkline/backend/internal/telephony"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

type fakeTel struct {
	nextLeg    int
	placed     []telephony.CallRequest
	terminated []string
	redirects  map[string]string
	placeErr   error
}

func (f *fakeTel) PlaceCall(_ context.Context, req telephony.CallRequest) (string, error) {
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.nextLeg++
	f.placed = append(f.placed, req)
	return fmt.Sprintf("XLEG%d", f.nextLeg), nil
}

func (f *fakeTel) TerminateCall(_ context.Context, legID string) error {
	f.terminated = append(f.terminated, legID)
	return nil
}

func (f *fakeTel) RedirectCall(_ context.Context, legID, url string) error {
	if f.redirects == nil {
		f.redirects = make(map[string]string)
	}
	f.redirects[legID] = url
	return nil
}

type fakeDir struct{}

func (fakeDir) LookupUserByID(context.Context, string, string) (*types.Identity, error) {
	return nil, fmt.Errorf("not found")
}
func (fakeDir) LookupUserByEmail(context.Context, string, string) (*types.Identity, error) {
	return nil, fmt.Errorf("not found")
}
func (fakeDir) FindBuyerByPhone(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("not found")
}

func newOrchestrator(store storage.SegmentStore, tel telephony.Client) *Orchestrator {
	urls := callback.NewBuilder("https://voice.example.com")
	resolver := resolve.NewResolver(fakeDir{}, zerolog.Nop())
	return New(store, resolver, tel, urls, nil, zerolog.Nop())
}

func inProgressSegment(number int) *types.CallSegment {
	now := time.Now()
	answered := now.Add(5 * time.Second)
	callID := "CA1"
	if number > 0 {
		callID = types.TransferCallID("CA1", number)
	}
	return &types.CallSegment{
		TenantID:      "t1",
		CallID:        callID,
		CallerLegID:   "CA1",
		ChainID:       "CA1",
		SegmentNumber: number,
		LineID:        "l1",
		Direction:     types.DirectionInbound,
		Status:        types.StatusInProgress,
		CallerNumber:  "+15550009999",
		StartedAt:     now,
		AnsweredAt:    &answered,
		AnsweredBy: &types.Identity{
			Kind:  types.IdentityPhone,
			Phone: "+15551111111",
		},
		AllLegs: []string{"LEG1"},
		Scratch: types.ScratchState{SchemaVersion: types.ScratchSchemaVersion},
	}
}

func TestTransferOpensNextSegment(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	tel := &fakeTel{}
	_ = store.CreateSegment(ctx, inProgressSegment(0))
	o := newOrchestrator(store, tel)

	base := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	o.clock = func() time.Time { return base }

	res, err := o.Transfer(ctx, Request{
		TenantID:    "t1",
		LegID:       "LEG1",
		Destination: "+15552222222",
		Reason:      "needs finance",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if res.To.CallID != "CA1_transfer_1" {
		t.Errorf("bad next segment id: %s", res.To.CallID)
	}
	if res.To.CallerLegID != "CA1" {
		t.Errorf("caller leg must carry over: %s", res.To.CallerLegID)
	}
	if !res.To.AgentDialedFromTransfer {
		t.Error("next segment must suppress dial-on-join")
	}
	if res.To.ConferenceName != "conf_CA1_transfer_1_0" {
		t.Errorf("bad conference name: %s", res.To.ConferenceName)
	}
	if res.To.TransferredFrom == nil || res.To.TransferredFrom.Phone != "+15551111111" {
		t.Errorf("transfer source not recorded: %+v", res.To.TransferredFrom)
	}
	if len(res.To.Scratch.PendingLegs) != 1 || res.To.Scratch.PendingLegs[0] != "XLEG1" {
		t.Errorf("dialed leg not pending: %v", res.To.Scratch.PendingLegs)
	}

	if res.From.Status != types.StatusTransferred {
		t.Errorf("previous segment must be transferred, got %s", res.From.Status)
	}
	if res.From.EndedAt == nil || res.From.TransferredAt == nil {
		t.Error("previous segment timestamps missing")
	}
	if res.From.DurationSecs <= 0 {
		t.Errorf("previous segment duration missing: %f", res.From.DurationSecs)
	}
	if res.From.TransferReason != "needs finance" {
		t.Errorf("reason not recorded: %s", res.From.TransferReason)
	}

	// Target first, then the caller
	if len(tel.placed) != 1 || tel.placed[0].To != "+15552222222" {
		t.Fatalf("target not dialed: %+v", tel.placed)
	}
	redirect := tel.redirects["CA1"]
	if redirect == "" {
		t.Fatal("caller was not moved")
	}
	if !strings.Contains(redirect, "call=CA1_transfer_1") || !strings.Contains(redirect, "role=caller") {
		t.Errorf("caller must join the new conference as caller: %s", redirect)
	}
}

func TestTransferByCallerLeg(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.CreateSegment(ctx, inProgressSegment(0))
	o := newOrchestrator(store, &fakeTel{})

	res, err := o.Transfer(ctx, Request{TenantID: "t1", LegID: "CA1", Destination: "+15552222222"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.To.SegmentNumber != 1 {
		t.Errorf("expected segment 1, got %d", res.To.SegmentNumber)
	}
}

func TestTransferFromIdentityOverridesAnsweredBy(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.CreateSegment(ctx, inProgressSegment(0))
	o := newOrchestrator(store, &fakeTel{})

	res, err := o.Transfer(ctx, Request{
		TenantID:    "t1",
		LegID:       "CA1",
		Destination: "+15552222222",
		FromIdentity: &types.Identity{
			Kind:   types.IdentityUser,
			UserID: "u42",
			Name:   "Sam Reception",
		},
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	from := res.To.TransferredFrom
	if from == nil || from.UserID != "u42" {
		t.Fatalf("console identity must win over the answering leg: %+v", from)
	}
	if from.Phone == "+15551111111" {
		t.Error("answering identity leaked through the override")
	}
}

func TestTransferFollowsChainToOpenTail(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	seg0 := inProgressSegment(0)
	now := time.Now()
	seg0.Status = types.StatusTransferred
	seg0.EndedAt = &now
	_ = store.CreateSegment(ctx, seg0)
	seg1 := inProgressSegment(1)
	seg1.AllLegs = []string{"LEG2"}
	_ = store.CreateSegment(ctx, seg1)

	o := newOrchestrator(store, &fakeTel{})

	// LEG1 belongs to segment 0, but that segment was already closed by
	// the first transfer; the chain's open tail is the one to move
	res, err := o.Transfer(ctx, Request{TenantID: "t1", LegID: "LEG1", Destination: "+15553333333"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.From.CallID != "CA1_transfer_1" {
		t.Errorf("expected tail segment closed, got %s", res.From.CallID)
	}
	if res.To.CallID != "CA1_transfer_2" {
		t.Errorf("expected segment 2 opened, got %s", res.To.CallID)
	}
}

func TestTransferRejectsRingingSegment(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seg := inProgressSegment(0)
	seg.Status = types.StatusRinging
	seg.AnsweredAt = nil
	seg.AnsweredBy = nil
	_ = store.CreateSegment(ctx, seg)
	o := newOrchestrator(store, &fakeTel{})

	_, err := o.Transfer(ctx, Request{TenantID: "t1", LegID: "CA1", Destination: "+15552222222"})
	if !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
}

func TestTransferUnknownLeg(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newOrchestrator(store, &fakeTel{})

	_, err := o.Transfer(context.Background(), Request{TenantID: "t1", LegID: "nope", Destination: "+15552222222"})
	if !errors.Is(err, ErrNoActiveSegment) {
		t.Fatalf("expected ErrNoActiveSegment, got %v", err)
	}
}

func TestTransferRace(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.CreateSegment(ctx, inProgressSegment(0))

	// A concurrent transfer already created segment 1
	pre := inProgressSegment(1)
	pre.Status = types.StatusRinging
	_ = store.CreateSegment(ctx, pre)

	o := newOrchestrator(store, &fakeTel{})
	_, err := o.Transfer(ctx, Request{TenantID: "t1", LegID: "CA1", Destination: "+15552222222"})
	if !errors.Is(err, ErrTransferRace) {
		t.Fatalf("expected ErrTransferRace, got %v", err)
	}
}

func TestTransferDialFailureAbortsSegment(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.CreateSegment(ctx, inProgressSegment(0))
	tel := &fakeTel{placeErr: errors.New("provider down")}
	o := newOrchestrator(store, tel)

	_, err := o.Transfer(ctx, Request{TenantID: "t1", LegID: "CA1", Destination: "+15552222222"})
	if err == nil {
		t.Fatal("expected error")
	}

	// The original segment is untouched, the aborted one is failed
	seg0, _ := store.GetSegment(ctx, "t1", "CA1")
	if seg0.Status != types.StatusInProgress {
		t.Errorf("original segment must survive a failed dial, got %s", seg0.Status)
	}
	next, _ := store.GetSegment(ctx, "t1", "CA1_transfer_1")
	if next.Status != types.StatusFailed {
		t.Errorf("aborted segment must be failed, got %s", next.Status)
	}
	if len(tel.redirects) != 0 {
		t.Error("caller must not be moved on a failed dial")
	}
}

func TestTransferUnresolvableDestination(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.CreateSegment(ctx, inProgressSegment(0))
	o := newOrchestrator(store, &fakeTel{})

	_, err := o.Transfer(ctx, Request{
		TenantID:    "t1",
		LegID:       "CA1",
		Destination: "ghost@dealer.example.com",
	})
	if !errors.Is(err, resolve.ErrUnresolvable) {
		t.Fatalf("expected ErrUnresolvable, got %v", err)
	}
	// Nothing was created
	if _, err := store.GetSegment(ctx, "t1", "CA1_transfer_1"); !errors.Is(err, storage.ErrSegmentNotFound) {
		t.Errorf("no segment should exist, got %v", err)
	}
}

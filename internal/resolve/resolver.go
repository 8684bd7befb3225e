package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

// ErrUnresolvable is returned when a user-id or email destination has
// no matching platform user. Callers degrade to a spoken apology and
// fall through; they never abort the call.
var ErrUnresolvable = errors.New("destination cannot be resolved")

// Class tags what a raw destination string looks like
type Class string

const (
	ClassPhone  Class = "phone"
	ClassUserID Class = "user_id"
	ClassEmail  Class = "email"
)

// Classify decides what a destination string is. This is the single
// classifier shared by the dial-time and answer-time code paths so the
// two cannot drift.
func Classify(destination string) Class {
	if _, err := uuid.Parse(destination); err == nil {
		return ClassUserID
	}
	if strings.Contains(destination, "@") {
		return ClassEmail
	}
	return ClassPhone
}

// TargetKind says how a resolved destination is dialed
type TargetKind string

const (
	TargetPhone  TargetKind = "phone"
	TargetClient TargetKind = "client" // a platform user reachable at tenant:userId
)

// Target is a dialable address plus the identity an answer on it is
// attributed to
type Target struct {
	Kind     TargetKind
	Address  string // phone number, or "tenant:userId" for clients
	Identity types.Identity
}

// DialString returns the address as the provider expects it on an
// outbound call: client targets carry the client: scheme.
func (t *Target) DialString() string {
	if t.Kind == TargetClient {
		return "client:" + t.Address
	}
	return t.Address
}

// Directory looks up platform users and buyers. Implemented by the
// tenant-management service; faked in tests.
type Directory interface {
	LookupUserByID(ctx context.Context, tenantID, userID string) (*types.Identity, error)
	LookupUserByEmail(ctx context.Context, tenantID, email string) (*types.Identity, error)
	FindBuyerByPhone(ctx context.Context, tenantID, phone string) (buyerID string, err error)
}

// ClientAddress computes the deterministic per-tenant client address
// for a platform user. Dial-time and answer-time both derive it here.
func ClientAddress(tenantID, userID string) string {
	return tenantID + ":" + userID
}

// Resolver turns destination strings into dial targets
type Resolver struct {
	dir    Directory
	logger zerolog.Logger
}

// NewResolver creates a resolver backed by the given directory
func NewResolver(dir Directory, logger zerolog.Logger) *Resolver {
	return &Resolver{
		dir:    dir,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve classifies and resolves a destination for a tenant.
// Phone numbers resolve without any lookup. User IDs and emails resolve
// to a client target; if the user does not exist the error wraps
// ErrUnresolvable.
func (r *Resolver) Resolve(ctx context.Context, tenantID, destination string) (*Target, error) {
	switch Classify(destination) {
	case ClassPhone:
		return &Target{
			Kind:    TargetPhone,
			Address: destination,
			Identity: types.Identity{
				Kind:    types.IdentityPhone,
				Phone:   destination,
				Address: destination,
			},
		}, nil

	case ClassUserID:
		identity, err := r.dir.LookupUserByID(ctx, tenantID, destination)
		if err != nil {
			return nil, fmt.Errorf("%w: user id %s: %s", ErrUnresolvable, destination, err)
		}
		return r.clientTarget(tenantID, identity), nil

	case ClassEmail:
		identity, err := r.dir.LookupUserByEmail(ctx, tenantID, destination)
		if err != nil {
			return nil, fmt.Errorf("%w: email %s: %s", ErrUnresolvable, destination, err)
		}
		return r.clientTarget(tenantID, identity), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnresolvable, destination)
}

func (r *Resolver) clientTarget(tenantID string, identity *types.Identity) *Target {
	addr := ClientAddress(tenantID, identity.UserID)
	id := *identity
	id.Kind = types.IdentityUser
	id.Address = addr
	return &Target{
		Kind:     TargetClient,
		Address:  addr,
		Identity: id,
	}
}

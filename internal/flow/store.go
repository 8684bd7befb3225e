package flow

import (
	"context"
	"errors"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

// ErrFlowNotFound is returned when a line has no flow configured
var ErrFlowNotFound = errors.New("flow not found")

// Store persists flow definitions per tenant phone line
type Store interface {
	GetFlowForLine(ctx context.Context, tenantID, lineID string) (*types.FlowDefinition, error)
	PutFlow(ctx context.Context, def *types.FlowDefinition) error
}

package lifecycle

import (
	"context"
	"time"

	"kanban/internal/model"
	rediskey "kanban/pkg/redis"
)

// CardSnapshot is a card together with the loop it belongs to.
type CardSnapshot struct {
	Card model.Card
	Loop model.Loop
}

// TransitionWrite is everything ApplyTransition persists in one transaction.
type TransitionWrite struct {
	Transition *model.CardTransition

	// ExpectedStage guards the card update; a mismatch yields ErrStageChanged.
	ExpectedStage model.Stage

	LinkedOrderID   *string
	LinkedOrderType model.OrderType

	// CompleteCycle increments completed_cycles and clears every linked order.
	CompleteCycle bool
}

// Store is the durable side: cards, loops and the transition ledger.
type Store interface {
	// GetCard loads a card scoped by tenant. Returns ErrCardNotFound when absent.
	GetCard(ctx context.Context, tenantID, cardID string) (*CardSnapshot, error)
	// FindCard loads a card without tenant scoping. Only the scan entry point uses it.
	FindCard(ctx context.Context, cardID string) (*CardSnapshot, error)
	// FindTransitionByIdempotencyKey returns nil, nil when no transition carries the key.
	FindTransitionByIdempotencyKey(ctx context.Context, tenantID, cardID, key string) (*model.CardTransition, error)
	// ApplyTransition inserts the transition and updates the card atomically.
	ApplyTransition(ctx context.Context, w TransitionWrite) (*model.Card, error)
	// FindCycleStart returns when the card first entered triggered in the given cycle, or nil.
	FindCycleStart(ctx context.Context, tenantID, cardID string, cycle int) (*time.Time, error)
}

// ClaimStore is the fast idempotency path for scans. It may be nil.
type ClaimStore interface {
	Claim(ctx context.Context, cardID, idemKey, tenantID string) (rediskey.ClaimResult, error)
	MarkCompleted(ctx context.Context, cardID, idemKey string, result any) error
	MarkFailed(ctx context.Context, cardID, idemKey, reason string) error
}

package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kanban/internal/model"
	"kanban/internal/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// publishTimeout bounds post-commit event emission; it is detached from the request context.
const publishTimeout = 5 * time.Second

// TransitionRequest asks for one stage change.
type TransitionRequest struct {
	TenantID string
	CardID   string
	ToStage  model.Stage

	UserID string
	Role   Role
	Method model.Method

	IdempotencyKey  string
	LinkedOrderID   string
	LinkedOrderType model.OrderType
	Notes           string
	Metadata        map[string]any
}

// TransitionResult is what a transition produced. Replayed is true when an earlier
// transition with the same idempotency key was returned instead of executing again; in that
// case Transition is the original record and Card is the card as it is now, which may have
// moved on since.
type TransitionResult struct {
	Card       model.Card           `json:"card"`
	Loop       model.Loop           `json:"-"`
	Transition model.CardTransition `json:"transition"`
	Replayed   bool                 `json:"replayed"`
}

// Orchestrator executes validated stage transitions.
type Orchestrator struct {
	store Store
	pub   queue.Publisher
	log   *zap.Logger
	now   func() time.Time
}

func NewOrchestrator(store Store, pub queue.Publisher, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{store: store, pub: pub, log: log, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

func (req TransitionRequest) validate() error {
	switch {
	case req.TenantID == "":
		return &Error{Code: CodeValidation, Message: "tenantId is required", Field: "tenantId"}
	case req.CardID == "":
		return &Error{Code: CodeValidation, Message: "cardId is required", Field: "cardId"}
	case !req.ToStage.Valid():
		return &Error{Code: CodeValidation, Message: fmt.Sprintf("unknown stage %q", req.ToStage), Field: "toStage"}
	case req.Role == "":
		return &Error{Code: CodeValidation, Message: "role is required", Field: "role"}
	}
	return nil
}

// TransitionCard runs the transition pipeline. Each step can abort the operation;
// nothing is written before step 8 and events are only attempted after it commits.
func (o *Orchestrator) TransitionCard(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	// 1. idempotent replay from the ledger
	if prior, err := o.replayKey(ctx, req); err != nil || prior != nil {
		return prior, err
	}

	// 2. card
	snap, err := o.store.GetCard(ctx, req.TenantID, req.CardID)
	if errors.Is(err, ErrCardNotFound) {
		return nil, newError(CodeCardNotFound, "card %s not found", req.CardID)
	}
	if err != nil {
		return nil, fmt.Errorf("load card: %w", err)
	}
	card, loop := snap.Card, snap.Loop
	if !card.IsActive {
		return nil, newError(CodeCardInactive, "card %s is inactive", card.ID)
	}
	from := card.CurrentStage

	// 3. graph
	rule, ok := FindRule(from, req.ToStage)
	if !ok {
		// a concurrent call with the same key may have moved the card after step 1
		if prior, err := o.replayKey(ctx, req); err != nil || prior != nil {
			return prior, err
		}
		return nil, newError(CodeInvalidTransition, "cannot transition from %s to %s", from, req.ToStage)
	}

	// 4. role
	if !rule.AllowsRole(req.Role) {
		return nil, newError(CodeRoleNotAllowed, "role %s may not transition %s -> %s", req.Role, from, req.ToStage)
	}

	// 5. loop type
	if !rule.AllowsLoopType(loop.LoopType) {
		return nil, newError(CodeLoopTypeIncompatible, "transition %s -> %s is not allowed for %s loops", from, req.ToStage, loop.LoopType)
	}

	// 6. method
	method := req.Method
	if method == "" {
		method = model.MethodManual
	}
	if !rule.AllowsMethod(method) {
		return nil, newError(CodeMethodNotAllowed, "method %s is not allowed for %s -> %s", method, from, req.ToStage)
	}

	// 7. preconditions
	if rule.RequiresLinkedOrder {
		if req.LinkedOrderID == "" {
			return nil, &Error{Code: CodePreconditionFailed, Field: "linkedOrderId",
				Message: fmt.Sprintf("transition %s -> %s requires linkedOrderId", from, req.ToStage)}
		}
		if !rule.AcceptsOrderType(req.LinkedOrderType) {
			return nil, &Error{Code: CodePreconditionFailed, Field: "linkedOrderType",
				Message: fmt.Sprintf("linkedOrderType %q is not accepted for %s -> %s", req.LinkedOrderType, from, req.ToStage)}
		}
	}

	// 8. persist
	now := o.now().UTC()
	tr, err := o.newTransition(req, card, method, now)
	if err != nil {
		return nil, err
	}
	write := TransitionWrite{
		Transition:    tr,
		ExpectedStage: from,
		CompleteCycle: from == model.StageRestocked && req.ToStage == model.StageCreated,
	}
	if req.LinkedOrderID != "" && !write.CompleteCycle {
		if _, ok := model.LinkedOrderColumn(req.LinkedOrderType); ok {
			id := req.LinkedOrderID
			write.LinkedOrderID = &id
			write.LinkedOrderType = req.LinkedOrderType
		}
	}

	updated, err := o.store.ApplyTransition(ctx, write)
	if errors.Is(err, ErrStageChanged) {
		if prior, rerr := o.replayKey(ctx, req); rerr != nil || prior != nil {
			return prior, rerr
		}
		return nil, newError(CodeInvalidTransition, "card %s is no longer in stage %s", card.ID, from)
	}
	if err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}

	o.log.Info("card transitioned",
		zap.String("tenant_id", card.TenantID),
		zap.String("card_id", card.ID),
		zap.String("from", string(from)),
		zap.String("to", string(req.ToStage)),
		zap.String("method", string(method)),
		zap.Int("cycle", tr.CycleNumber),
	)

	// 9. events, best effort
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	o.emitTransitionEvents(pubCtx, *updated, loop, *tr, req)

	return &TransitionResult{Card: *updated, Loop: loop, Transition: *tr}, nil
}

// Replay returns the result of an earlier transition recorded under key, or nil when none exists.
func (o *Orchestrator) Replay(ctx context.Context, tenantID, cardID, key string) (*TransitionResult, error) {
	prior, err := o.store.FindTransitionByIdempotencyKey(ctx, tenantID, cardID, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if prior == nil {
		return nil, nil
	}
	res := &TransitionResult{Transition: *prior, Replayed: true}
	snap, err := o.store.GetCard(ctx, tenantID, cardID)
	switch {
	case err == nil:
		res.Card, res.Loop = snap.Card, snap.Loop
	case !errors.Is(err, ErrCardNotFound):
		return nil, fmt.Errorf("load card: %w", err)
	}
	o.log.Debug("idempotent replay",
		zap.String("tenant_id", tenantID),
		zap.String("card_id", cardID),
		zap.String("transition_id", prior.ID),
	)
	return res, nil
}

func (o *Orchestrator) replayKey(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if req.IdempotencyKey == "" {
		return nil, nil
	}
	return o.Replay(ctx, req.TenantID, req.CardID, req.IdempotencyKey)
}

func (o *Orchestrator) newTransition(req TransitionRequest, card model.Card, method model.Method, now time.Time) (*model.CardTransition, error) {
	meta := make(map[string]any, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.IdempotencyKey != "" {
		meta["idempotencyKey"] = req.IdempotencyKey
	}
	if req.LinkedOrderID != "" {
		meta["linkedOrderId"] = req.LinkedOrderID
		meta["linkedOrderType"] = string(req.LinkedOrderType)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, &Error{Code: CodeValidation, Field: "metadata", Message: "metadata is not serializable: " + err.Error()}
	}

	tr := &model.CardTransition{
		ID:                   uuid.NewString(),
		TenantID:             card.TenantID,
		CardID:               card.ID,
		LoopID:               card.LoopID,
		CycleNumber:          card.CurrentCycle(),
		FromStage:            card.CurrentStage,
		ToStage:              req.ToStage,
		Method:               method,
		TransitionedAt:       now,
		Metadata:             datatypes.JSON(raw),
		StageDurationSeconds: secondsSince(card.CurrentStageEnteredAt, now),
	}
	if req.IdempotencyKey != "" {
		k := req.IdempotencyKey
		tr.IdempotencyKey = &k
	}
	if req.UserID != "" {
		u := req.UserID
		tr.TransitionedByUserID = &u
	}
	if req.Notes != "" {
		n := req.Notes
		tr.Notes = &n
	}
	return tr, nil
}

// secondsSince is whole seconds from start to now. A missing start yields nil, never zero.
func secondsSince(start *time.Time, now time.Time) *int64 {
	if start == nil || start.IsZero() {
		return nil
	}
	d := int64(now.Sub(*start) / time.Second)
	if d < 0 {
		d = 0
	}
	return &d
}

func (o *Orchestrator) emitTransitionEvents(ctx context.Context, card model.Card, loop model.Loop, tr model.CardTransition, req TransitionRequest) {
	builders := []eventBuilder{
		func(context.Context) (*queue.Event, error) {
			ev := queue.NewEvent(queue.EventTransition, card.TenantID, card.ID, card.LoopID, map[string]any{
				"transitionId":         tr.ID,
				"fromStage":            tr.FromStage,
				"toStage":              tr.ToStage,
				"method":               tr.Method,
				"cycleNumber":          tr.CycleNumber,
				"userId":               tr.TransitionedByUserID,
				"stageDurationSeconds": tr.StageDurationSeconds,
			})
			return &ev, nil
		},
	}

	if tr.ToStage == model.StageTriggered {
		builders = append(builders, func(context.Context) (*queue.Event, error) {
			ev := queue.NewEvent(queue.EventQueueEntry, card.TenantID, card.ID, card.LoopID, map[string]any{
				"loopType":    loop.LoopType,
				"partId":      loop.PartID,
				"facilityId":  loop.FacilityID,
				"triggeredAt": tr.TransitionedAt,
			})
			return &ev, nil
		})
	}

	if tr.ToStage == model.StageOrdered && req.LinkedOrderID != "" {
		builders = append(builders, func(context.Context) (*queue.Event, error) {
			ev := queue.NewEvent(queue.EventOrderLinked, card.TenantID, card.ID, card.LoopID, map[string]any{
				"orderId":   req.LinkedOrderID,
				"orderType": req.LinkedOrderType,
			})
			return &ev, nil
		})
	}

	if tr.FromStage == model.StageRestocked && tr.ToStage == model.StageCreated {
		builders = append(builders, func(ctx context.Context) (*queue.Event, error) {
			started, err := o.store.FindCycleStart(ctx, card.TenantID, card.ID, tr.CycleNumber)
			if err != nil {
				return nil, fmt.Errorf("cycle start: %w", err)
			}
			ev := queue.NewEvent(queue.EventCycleComplete, card.TenantID, card.ID, card.LoopID, map[string]any{
				"cycleNumber":               tr.CycleNumber,
				"completedCycles":           card.CompletedCycles,
				"totalCycleDurationSeconds": secondsSince(started, tr.TransitionedAt),
			})
			return &ev, nil
		})
	}

	publishBestEffort(ctx, o.pub, o.log.With(zap.String("card_id", card.ID)), builders...)
}

package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"kanban/internal/model"
	"kanban/internal/queue"
	rediskey "kanban/pkg/redis"

	"go.uber.org/zap"
)

// ScanRequest is a physical QR scan. The card id is the only credential.
type ScanRequest struct {
	CardID         string
	IdempotencyKey string
	// TenantHint, when set, must match the card's tenant.
	TenantHint string
	UserID     string
	Metadata   map[string]any
}

// ScanResult is returned to the scanning device.
type ScanResult struct {
	Card       model.Card           `json:"card"`
	Transition model.CardTransition `json:"transition"`
	LoopType   model.LoopType       `json:"loop_type"`
	PartID     string               `json:"part_id"`
	Replayed   bool                 `json:"replayed"`
}

// ScanSummary is the small payload kept on a completed claim.
type ScanSummary struct {
	CardID   string         `json:"card_id"`
	LoopType model.LoopType `json:"loop_type"`
	PartID   string         `json:"part_id"`
}

// ScanService is the unauthenticated scan entry point in front of the Orchestrator.
type ScanService struct {
	orch   *Orchestrator
	store  Store
	claims ClaimStore
	pub    queue.Publisher
	log    *zap.Logger
}

// NewScanService wires the entry point. claims may be nil; the ledger still enforces idempotency.
func NewScanService(orch *Orchestrator, store Store, claims ClaimStore, pub queue.Publisher, log *zap.Logger) *ScanService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ScanService{orch: orch, store: store, claims: claims, pub: pub, log: log}
}

// TriggerCardByScan moves a card from created to triggered in response to a QR scan.
func (s *ScanService) TriggerCardByScan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if req.CardID == "" {
		return nil, &Error{Code: CodeValidation, Field: "cardId", Message: "cardId is required"}
	}
	log := s.log.With(zap.String("card_id", req.CardID), zap.String("idempotency_key", req.IdempotencyKey))

	claimed := false
	if req.IdempotencyKey != "" && s.claims != nil {
		res, err := s.claims.Claim(ctx, req.CardID, req.IdempotencyKey, req.TenantHint)
		switch {
		case err != nil:
			// degrade: the ledger replay below still catches true duplicates
			log.Warn("scan claim store unavailable", zap.Error(err))
		case !res.Allowed:
			return s.duplicate(ctx, req, res.ExistingStatus)
		default:
			claimed = true
		}
	}

	fail := func(err error) error {
		if claimed {
			s.markFailed(ctx, req, err.Error())
		}
		return err
	}

	snap, err := s.store.FindCard(ctx, req.CardID)
	if errors.Is(err, ErrCardNotFound) {
		return nil, fail(newError(CodeCardNotFound, "card %s not found", req.CardID))
	}
	if err != nil {
		return nil, fail(fmt.Errorf("load card: %w", err))
	}
	card := snap.Card
	if req.TenantHint != "" && req.TenantHint != card.TenantID {
		return nil, fail(newError(CodeTenantMismatch, "card %s does not belong to this tenant", req.CardID))
	}

	// durable fallback for retries the claim store did not see; runs after the card load so a
	// same-key commit visible in snap is always visible here
	if req.IdempotencyKey != "" {
		prior, err := s.orch.Replay(ctx, card.TenantID, card.ID, req.IdempotencyKey)
		if err != nil {
			return nil, fail(err)
		}
		if prior != nil {
			out := scanResult(prior, snap.Loop)
			if claimed {
				s.markCompleted(ctx, req, out)
			}
			return out, nil
		}
	}

	if res := DetectScanConflict(card.CurrentStage, card.IsActive); res != ConflictNone {
		s.publishConflict(ctx, card, res, req)
		log.Info("scan conflict", zap.String("resolution", string(res)), zap.String("stage", string(card.CurrentStage)))
		return nil, fail(conflictError(res, card))
	}

	result, err := s.orch.TransitionCard(ctx, TransitionRequest{
		TenantID:       card.TenantID,
		CardID:         card.ID,
		ToStage:        model.StageTriggered,
		UserID:         req.UserID,
		Role:           RolePublicScan,
		Method:         model.MethodQRScan,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return nil, fail(s.reinterpret(ctx, card.ID, err))
	}

	out := scanResult(result, snap.Loop)
	if claimed {
		s.markCompleted(ctx, req, out)
	}
	return out, nil
}

// duplicate handles a held claim. Whatever the claim says, a committed transition in the ledger
// is returned as the original result; only a scan with nothing recorded is rejected.
func (s *ScanService) duplicate(ctx context.Context, req ScanRequest, status string) (*ScanResult, error) {
	dup := &Error{
		Code:           CodeDuplicateScan,
		Message:        fmt.Sprintf("scan %s for card %s is already %s", req.IdempotencyKey, req.CardID, status),
		ExistingStatus: status,
	}
	snap, err := s.store.FindCard(ctx, req.CardID)
	if err != nil {
		return nil, dup
	}
	if req.TenantHint != "" && req.TenantHint != snap.Card.TenantID {
		return nil, newError(CodeTenantMismatch, "card %s does not belong to this tenant", req.CardID)
	}
	prior, err := s.orch.Replay(ctx, snap.Card.TenantID, snap.Card.ID, req.IdempotencyKey)
	if err != nil || prior == nil {
		return nil, dup
	}
	out := scanResult(prior, snap.Loop)
	if status == rediskey.ClaimPending {
		// the holder committed but never resolved its claim
		s.markCompleted(ctx, req, out)
	}
	return out, nil
}

// reinterpret maps an invalid-transition from the orchestrator to already_triggered when the card
// left created between the pre-check and the guarded write.
func (s *ScanService) reinterpret(ctx context.Context, cardID string, err error) error {
	if !IsCode(err, CodeInvalidTransition) {
		return err
	}
	snap, ferr := s.store.FindCard(ctx, cardID)
	if ferr != nil || snap.Card.CurrentStage == model.StageCreated {
		return err
	}
	return conflictError(ConflictAlreadyTriggered, snap.Card)
}

func (s *ScanService) publishConflict(ctx context.Context, card model.Card, res ConflictResolution, req ScanRequest) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	publishBestEffort(pubCtx, s.pub, s.log, func(context.Context) (*queue.Event, error) {
		ev := queue.NewEvent(queue.EventScanConflict, card.TenantID, card.ID, card.LoopID, map[string]any{
			"resolution":     res,
			"currentStage":   card.CurrentStage,
			"isActive":       card.IsActive,
			"idempotencyKey": req.IdempotencyKey,
		})
		return &ev, nil
	})
}

func (s *ScanService) markCompleted(ctx context.Context, req ScanRequest, out *ScanResult) {
	summary := ScanSummary{CardID: req.CardID, LoopType: out.LoopType, PartID: out.PartID}
	if err := s.claims.MarkCompleted(context.WithoutCancel(ctx), req.CardID, req.IdempotencyKey, summary); err != nil {
		s.log.Warn("scan claim mark completed", zap.String("card_id", req.CardID), zap.Error(err))
	}
}

func (s *ScanService) markFailed(ctx context.Context, req ScanRequest, reason string) {
	if err := s.claims.MarkFailed(context.WithoutCancel(ctx), req.CardID, req.IdempotencyKey, reason); err != nil {
		s.log.Warn("scan claim mark failed", zap.String("card_id", req.CardID), zap.Error(err))
	}
}

func scanResult(r *TransitionResult, loop model.Loop) *ScanResult {
	return &ScanResult{
		Card:       r.Card,
		Transition: r.Transition,
		LoopType:   loop.LoopType,
		PartID:     loop.PartID,
		Replayed:   r.Replayed,
	}
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kanban/internal/lifecycle"
	"kanban/internal/model"

	"gorm.io/gorm"
)

// CardRepository is the durable store for cards, loops and the transition ledger.
type CardRepository struct {
	db *gorm.DB
}

func NewCardRepository(db *gorm.DB) *CardRepository {
	return &CardRepository{db: db}
}

func (r *CardRepository) GetCard(ctx context.Context, tenantID, cardID string) (*lifecycle.CardSnapshot, error) {
	return r.loadCard(ctx, r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", cardID, tenantID))
}

func (r *CardRepository) FindCard(ctx context.Context, cardID string) (*lifecycle.CardSnapshot, error) {
	return r.loadCard(ctx, r.db.WithContext(ctx).Where("id = ?", cardID))
}

func (r *CardRepository) loadCard(ctx context.Context, q *gorm.DB) (*lifecycle.CardSnapshot, error) {
	var card model.Card
	if err := q.First(&card).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.ErrCardNotFound
		}
		return nil, err
	}
	var loop model.Loop
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", card.LoopID, card.TenantID).
		First(&loop).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("loop %s for card %s missing", card.LoopID, card.ID)
		}
		return nil, err
	}
	return &lifecycle.CardSnapshot{Card: card, Loop: loop}, nil
}

func (r *CardRepository) FindTransitionByIdempotencyKey(ctx context.Context, tenantID, cardID, key string) (*model.CardTransition, error) {
	var rows []model.CardTransition
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND card_id = ? AND idempotency_key = ?", tenantID, cardID, key).
		Order("transitioned_at ASC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ApplyTransition updates the card only if it is still active and in w.ExpectedStage, then
// inserts the ledger row, all in one transaction. Losing either guard yields ErrStageChanged.
func (r *CardRepository) ApplyTransition(ctx context.Context, w lifecycle.TransitionWrite) (*model.Card, error) {
	tr := w.Transition
	if tr == nil {
		return nil, fmt.Errorf("transition is required")
	}

	var updated model.Card
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		enteredAt := tr.TransitionedAt
		updates := map[string]any{
			"current_stage":            tr.ToStage,
			"current_stage_entered_at": &enteredAt,
			"updated_at":               tr.TransitionedAt,
		}
		if w.LinkedOrderID != nil {
			if col, ok := model.LinkedOrderColumn(w.LinkedOrderType); ok {
				updates[col] = *w.LinkedOrderID
			}
		}
		if w.CompleteCycle {
			updates["completed_cycles"] = gorm.Expr("completed_cycles + 1")
			for _, t := range model.OrderTypes {
				col, _ := model.LinkedOrderColumn(t)
				updates[col] = nil
			}
		}

		res := tx.Model(&model.Card{}).
			Where("id = ? AND tenant_id = ? AND current_stage = ? AND is_active = ?",
				tr.CardID, tr.TenantID, w.ExpectedStage, true).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return lifecycle.ErrStageChanged
		}

		if err := tx.Create(tr).Error; err != nil {
			if errorsLikeUnique(err) {
				return lifecycle.ErrStageChanged
			}
			return err
		}

		return tx.Where("id = ?", tr.CardID).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *CardRepository) FindCycleStart(ctx context.Context, tenantID, cardID string, cycle int) (*time.Time, error) {
	var rows []model.CardTransition
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND card_id = ? AND cycle_number = ? AND to_stage = ?",
			tenantID, cardID, cycle, model.StageTriggered).
		Order("transitioned_at ASC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t := rows[0].TransitionedAt
	return &t, nil
}

// ListTransitions returns a card's history, oldest first.
func (r *CardRepository) ListTransitions(ctx context.Context, tenantID, cardID string) ([]model.CardTransition, error) {
	var rows []model.CardTransition
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND card_id = ?", tenantID, cardID).
		Order("transitioned_at ASC").
		Find(&rows).Error
	return rows, err
}

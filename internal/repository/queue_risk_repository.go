package repository

import (
	"context"
	"errors"
	"time"

	"kanban/internal/model"
	"kanban/internal/queuerisk"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type triggeredRow struct {
	CardID                string
	TenantID              string
	LoopID                string
	CurrentStageEnteredAt *time.Time
	PartID                string
	FacilityID            string
	LoopType              model.LoopType
	OrderQuantity         int
	MinQuantity           int
	StatedLeadTimeDays    *int
	SafetyStockDays       *float64
}

type triggerCountRow struct {
	LoopID   string
	Triggers int
}

// LoadTriggeredCardsWithConsumption returns active triggered cards on active loops, each with the
// number of times its loop entered triggered since asOf minus lookbackDays.
func (r *CardRepository) LoadTriggeredCardsWithConsumption(ctx context.Context, tenantID string, lookbackDays int, asOf time.Time) ([]queuerisk.TriggeredCard, error) {
	var rows []triggeredRow
	err := r.db.WithContext(ctx).
		Table("kanban_cards AS c").
		Select(`c.id AS card_id, c.tenant_id, c.loop_id, c.current_stage_entered_at,
			l.part_id, l.facility_id, l.loop_type, l.order_quantity, l.min_quantity,
			l.stated_lead_time_days, l.safety_stock_days`).
		Joins("JOIN kanban_loops AS l ON l.id = c.loop_id AND l.tenant_id = c.tenant_id").
		Where("c.tenant_id = ? AND c.current_stage = ? AND c.is_active = ? AND l.is_active = ?",
			tenantID, model.StageTriggered, true, true).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	loopIDs := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if !seen[row.LoopID] {
			seen[row.LoopID] = true
			loopIDs = append(loopIDs, row.LoopID)
		}
	}

	since := asOf.UTC().Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	var counts []triggerCountRow
	err = r.db.WithContext(ctx).
		Model(&model.CardTransition{}).
		Select("loop_id, COUNT(*) AS triggers").
		Where("tenant_id = ? AND to_stage = ? AND transitioned_at >= ? AND loop_id IN ?",
			tenantID, model.StageTriggered, since, loopIDs).
		Group("loop_id").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	byLoop := make(map[string]int, len(counts))
	for _, c := range counts {
		byLoop[c.LoopID] = c.Triggers
	}

	out := make([]queuerisk.TriggeredCard, 0, len(rows))
	for _, row := range rows {
		out = append(out, queuerisk.TriggeredCard{
			CardID:             row.CardID,
			TenantID:           row.TenantID,
			LoopID:             row.LoopID,
			PartID:             row.PartID,
			FacilityID:         row.FacilityID,
			LoopType:           row.LoopType,
			TriggeredAt:        row.CurrentStageEnteredAt,
			OrderQuantity:      row.OrderQuantity,
			MinQuantity:        row.MinQuantity,
			StatedLeadTimeDays: row.StatedLeadTimeDays,
			SafetyStockDays:    row.SafetyStockDays,
			TriggerCount:       byLoop[row.LoopID],
		})
	}
	return out, nil
}

func (r *CardRepository) QueueRiskLookbackDays(ctx context.Context, tenantID string) (*int, error) {
	var s model.TenantSettings
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.QueueRiskLookbackDays, nil
}

// SetQueueRiskLookbackDays upserts the tenant's lookback window. The value is clamped to the allowed range.
func (r *CardRepository) SetQueueRiskLookbackDays(ctx context.Context, tenantID string, days int) (int, error) {
	days = queuerisk.ClampLookbackDays(days)
	s := model.TenantSettings{TenantID: tenantID, UpdatedAt: time.Now().UTC(), QueueRiskLookbackDays: &days}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"queue_risk_lookback_days", "updated_at"}),
		}).
		Create(&s).Error
	return days, err
}

func (r *CardRepository) TenantsWithTriggeredCards(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Card{}).
		Distinct("tenant_id").
		Where("current_stage = ? AND is_active = ?", model.StageTriggered, true).
		Order("tenant_id").
		Pluck("tenant_id", &ids).Error
	return ids, err
}

package model

import (
	"time"

	"gorm.io/datatypes"
)

// CardTransition is an append-only ledger row: one per executed stage change.
// The (tenant, card, idempotency key) index is what makes retries replay instead of re-execute.
type CardTransition struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	TenantID       string  `gorm:"type:varchar(36);not null;index;uniqueIndex:ux_transition_idem,priority:1" json:"tenant_id"`
	CardID         string  `gorm:"type:varchar(36);not null;index:idx_transition_card_cycle,priority:1;uniqueIndex:ux_transition_idem,priority:2" json:"card_id"`
	IdempotencyKey *string `gorm:"size:128;uniqueIndex:ux_transition_idem,priority:3" json:"idempotency_key,omitempty"`
	LoopID         string  `gorm:"type:varchar(36);not null;index" json:"loop_id"`

	CycleNumber int    `gorm:"not null;index:idx_transition_card_cycle,priority:2" json:"cycle_number"`
	FromStage   Stage  `gorm:"size:32;not null" json:"from_stage"`
	ToStage     Stage  `gorm:"size:32;not null;index" json:"to_stage"`
	Method      Method `gorm:"size:16;not null" json:"method"`

	TransitionedAt       time.Time      `gorm:"not null;index" json:"transitioned_at"`
	TransitionedByUserID *string        `gorm:"type:varchar(36)" json:"transitioned_by_user_id"`
	Notes                *string        `gorm:"size:1024" json:"notes,omitempty"`
	Metadata             datatypes.JSON `json:"metadata,omitempty"`
	StageDurationSeconds *int64         `json:"stage_duration_seconds"`
}

func (CardTransition) TableName() string { return "card_transitions" }

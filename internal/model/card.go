package model

import (
	"time"
)

// Card is one physical kanban card cycling through a loop.
type Card struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID   string `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	LoopID     string `gorm:"type:varchar(36);not null;index" json:"loop_id"`
	CardNumber int    `gorm:"not null;default:1" json:"card_number"`

	// CurrentStage is only ever written together with a CardTransition row.
	CurrentStage          Stage      `gorm:"size:32;not null;default:created;index" json:"current_stage"`
	CurrentStageEnteredAt *time.Time `json:"current_stage_entered_at"`
	CompletedCycles       int        `gorm:"not null;default:0" json:"completed_cycles"`
	IsActive              bool       `gorm:"not null;default:true" json:"is_active"`

	LinkedPurchaseOrderID *string `gorm:"type:varchar(36)" json:"linked_purchase_order_id"`
	LinkedWorkOrderID     *string `gorm:"type:varchar(36)" json:"linked_work_order_id"`
	LinkedTransferOrderID *string `gorm:"type:varchar(36)" json:"linked_transfer_order_id"`
}

func (Card) TableName() string { return "kanban_cards" }

// CurrentCycle is the cycle number the card is working through right now.
func (c Card) CurrentCycle() int { return c.CompletedCycles + 1 }

// LinkedOrderColumn maps an order type to its column on kanban_cards.
func LinkedOrderColumn(t OrderType) (string, bool) {
	switch t {
	case OrderPurchase:
		return "linked_purchase_order_id", true
	case OrderWork:
		return "linked_work_order_id", true
	case OrderTransfer:
		return "linked_transfer_order_id", true
	}
	return "", false
}

package model

import "time"

// EventReceipt records that a downstream event was handled once.
// EventID is unique, so a redelivered message fails the insert and is skipped.
type EventReceipt struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	EventID   string    `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	EventType string    `gorm:"size:64;not null;index" json:"event_type"`
	TenantID  string    `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	CardID    string    `gorm:"type:varchar(36);index" json:"card_id"`
	Occurred  time.Time `gorm:"not null" json:"occurred"`
}

func (EventReceipt) TableName() string { return "event_receipts" }

// AllModels is the AutoMigrate set for the service.
func AllModels() []any {
	return []any{
		&Loop{},
		&Card{},
		&CardTransition{},
		&TenantSettings{},
		&EventReceipt{},
	}
}

package model

import "time"

// Loop is the template a card instantiates from. The lifecycle engine only reads it.
type Loop struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID         string   `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	PartID           string   `gorm:"type:varchar(36);not null;index" json:"part_id"`
	FacilityID       string   `gorm:"type:varchar(36);not null" json:"facility_id"`
	SourceFacilityID *string  `gorm:"type:varchar(36)" json:"source_facility_id"`
	SupplierID       *string  `gorm:"type:varchar(36)" json:"supplier_id"`
	LoopType         LoopType `gorm:"size:32;not null" json:"loop_type"`

	OrderQuantity      int      `gorm:"not null;default:1" json:"order_quantity"`
	MinQuantity        int      `gorm:"not null;default:0" json:"min_quantity"`
	StatedLeadTimeDays *int     `json:"stated_lead_time_days"`
	SafetyStockDays    *float64 `json:"safety_stock_days"`
	IsActive           bool     `gorm:"not null;default:true" json:"is_active"`
}

func (Loop) TableName() string { return "kanban_loops" }

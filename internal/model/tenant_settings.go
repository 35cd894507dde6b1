package model

import "time"

// TenantSettings holds per-tenant tuning knobs read by background jobs.
type TenantSettings struct {
	TenantID  string    `gorm:"type:varchar(36);primaryKey" json:"tenant_id"`
	UpdatedAt time.Time `json:"updated_at"`

	// nil means the scanner default applies.
	QueueRiskLookbackDays *int `json:"queue_risk_lookback_days"`
}

func (TenantSettings) TableName() string { return "tenant_settings" }

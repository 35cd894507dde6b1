package queuerisk

import "math"

const (
	DefaultLeadTimeDays  = 7
	DefaultLookbackDays  = 30
	MinLookbackDays      = 7
	MaxLookbackDays      = 90
	minAgeHighHours      = 12
	minAgeMediumHours    = 8
	maxSupplyMediumDays  = 7.0
	supplyHighFactor     = 0.35
	supplyMediumFactor   = 0.5
	ageMediumShareOfHigh = 0.75
	minSupplyHighDays    = 1.0
	maxSupplyHighDays    = 3.0
)

// Thresholds are the cut-offs used to classify one card. They are returned with each item
// so a reader can see why it was flagged.
type Thresholds struct {
	AgeHoursMedium     int     `json:"age_hours_medium"`
	AgeHoursHigh       int     `json:"age_hours_high"`
	DaysOfSupplyMedium float64 `json:"days_of_supply_medium"`
	DaysOfSupplyHigh   float64 `json:"days_of_supply_high"`
	LookbackDays       int     `json:"lookback_days"`
}

// replenishmentDays is lead time plus safety stock, with the defaults applied.
func replenishmentDays(leadTimeDays *int, safetyStockDays *float64) float64 {
	lead := float64(DefaultLeadTimeDays)
	if leadTimeDays != nil {
		lead = float64(*leadTimeDays)
	}
	safety := 0.0
	if safetyStockDays != nil {
		safety = *safetyStockDays
	}
	return lead + safety
}

// AgeThresholds returns how many hours in triggered make a card medium and high risk.
func AgeThresholds(leadTimeDays *int, safetyStockDays *float64) (medium, high int) {
	total := replenishmentDays(leadTimeDays, safetyStockDays)
	high = max(minAgeHighHours, int(math.Round(total*24)))
	medium = max(minAgeMediumHours, int(math.Round(float64(high)*ageMediumShareOfHigh)))
	return medium, high
}

// SupplyThresholds returns the days-of-supply cut-offs. Lower supply is worse.
func SupplyThresholds(leadTimeDays *int, safetyStockDays *float64) (medium, high float64) {
	total := replenishmentDays(leadTimeDays, safetyStockDays)
	high = clamp(total*supplyHighFactor, minSupplyHighDays, maxSupplyHighDays)
	medium = math.Min(maxSupplyMediumDays, clamp(total*supplyMediumFactor, high+1, high+2))
	return medium, high
}

// ClampLookbackDays bounds a lookback window; zero or negative means the default.
func ClampLookbackDays(days int) int {
	if days <= 0 {
		return DefaultLookbackDays
	}
	return min(MaxLookbackDays, max(MinLookbackDays, days))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

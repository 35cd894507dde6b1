package queuerisk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"kanban/internal/model"
	"kanban/internal/queue"

	"go.uber.org/zap"
)

// RiskLevel is the severity of a queued card.
type RiskLevel string

const (
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (l RiskLevel) rank() int {
	switch l {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	}
	return 0
}

func worse(a, b RiskLevel) RiskLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// TriggeredCard is the per-card record the scanner needs. How it is queried is up to the Source.
type TriggeredCard struct {
	CardID      string
	TenantID    string
	LoopID      string
	PartID      string
	FacilityID  string
	LoopType    model.LoopType
	TriggeredAt *time.Time

	OrderQuantity      int
	MinQuantity        int
	StatedLeadTimeDays *int
	SafetyStockDays    *float64

	// TriggerCount is how many times the loop entered triggered inside the lookback window.
	TriggerCount int
}

// Source is the query layer behind the scanner.
type Source interface {
	LoadTriggeredCardsWithConsumption(ctx context.Context, tenantID string, lookbackDays int, asOf time.Time) ([]TriggeredCard, error)
	// QueueRiskLookbackDays returns the tenant's configured window, or nil.
	QueueRiskLookbackDays(ctx context.Context, tenantID string) (*int, error)
	TenantsWithTriggeredCards(ctx context.Context) ([]string, error)
}

// Item is one flagged card. It is derived on every scan and never stored.
type Item struct {
	CardID     string         `json:"card_id"`
	LoopID     string         `json:"loop_id"`
	PartID     string         `json:"part_id"`
	FacilityID string         `json:"facility_id"`
	LoopType   model.LoopType `json:"loop_type"`

	RiskLevel             RiskLevel  `json:"risk_level"`
	AgeRisk               RiskLevel  `json:"age_risk,omitempty"`
	SupplyRisk            RiskLevel  `json:"supply_risk,omitempty"`
	TriggeredAt           *time.Time `json:"triggered_at"`
	AgeHours              float64    `json:"age_hours"`
	EstimatedDaysOfSupply *float64   `json:"estimated_days_of_supply"`
	DailyConsumption      *float64   `json:"daily_consumption"`
	Reason                string     `json:"reason"`
	Thresholds            Thresholds `json:"thresholds"`
}

// Options tune a scan. Zero values pick the defaults.
type Options struct {
	Limit int
	// LookbackDays overrides the tenant setting when positive.
	LookbackDays int
	// Emit publishes one queue.risk_detected event per returned item.
	Emit bool
}

// Result is the outcome of a scan.
type Result struct {
	TenantID        string    `json:"tenant_id"`
	GeneratedAt     time.Time `json:"generated_at"`
	LookbackDays    int       `json:"lookback_days"`
	TotalFlagged    int       `json:"total_flagged"`
	Items           []Item    `json:"items"`
	EventsPublished int       `json:"events_published"`
}

// Scanner scores stockout risk for triggered cards. It never writes card or loop state.
type Scanner struct {
	src Source
	pub queue.Publisher
	log *zap.Logger
	now func() time.Time
}

func NewScanner(src Source, pub queue.Publisher, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{src: src, pub: pub, log: log, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

func (s *Scanner) Scan(ctx context.Context, tenantID string, opts Options) (*Result, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	lookback, err := s.lookbackDays(ctx, tenantID, opts.LookbackDays)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	now := s.now().UTC()
	cards, err := s.src.LoadTriggeredCardsWithConsumption(ctx, tenantID, lookback, now)
	if err != nil {
		return nil, fmt.Errorf("load triggered cards: %w", err)
	}

	items := make([]Item, 0, len(cards))
	for _, c := range cards {
		if it, ok := Assess(c, lookback, now); ok {
			items = append(items, it)
		}
	}
	sortItems(items)

	res := &Result{
		TenantID:     tenantID,
		GeneratedAt:  now,
		LookbackDays: lookback,
		TotalFlagged: len(items),
		Items:        items,
	}
	if len(res.Items) > limit {
		res.Items = res.Items[:limit]
	}
	if opts.Emit {
		res.EventsPublished = s.emit(ctx, tenantID, res.Items)
	}

	s.log.Debug("queue risk scan",
		zap.String("tenant_id", tenantID),
		zap.Int("cards", len(cards)),
		zap.Int("flagged", res.TotalFlagged),
		zap.Int("events", res.EventsPublished),
	)
	return res, nil
}

func (s *Scanner) lookbackDays(ctx context.Context, tenantID string, override int) (int, error) {
	if override > 0 {
		return ClampLookbackDays(override), nil
	}
	configured, err := s.src.QueueRiskLookbackDays(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("tenant lookback: %w", err)
	}
	if configured == nil {
		return DefaultLookbackDays, nil
	}
	return ClampLookbackDays(*configured), nil
}

// Assess scores one card. ok is false when neither signal reaches medium.
func Assess(c TriggeredCard, lookbackDays int, now time.Time) (Item, bool) {
	ageMed, ageHigh := AgeThresholds(c.StatedLeadTimeDays, c.SafetyStockDays)
	supMed, supHigh := SupplyThresholds(c.StatedLeadTimeDays, c.SafetyStockDays)

	it := Item{
		CardID:      c.CardID,
		LoopID:      c.LoopID,
		PartID:      c.PartID,
		FacilityID:  c.FacilityID,
		LoopType:    c.LoopType,
		TriggeredAt: c.TriggeredAt,
		Thresholds: Thresholds{
			AgeHoursMedium:     ageMed,
			AgeHoursHigh:       ageHigh,
			DaysOfSupplyMedium: supMed,
			DaysOfSupplyHigh:   supHigh,
			LookbackDays:       lookbackDays,
		},
	}

	var reasons []string

	if c.TriggeredAt != nil {
		age := now.Sub(*c.TriggeredAt).Hours()
		if age < 0 {
			age = 0
		}
		it.AgeHours = round1(age)
		switch {
		case age >= float64(ageHigh):
			it.AgeRisk = RiskHigh
		case age >= float64(ageMed):
			it.AgeRisk = RiskMedium
		}
		if it.AgeRisk != "" {
			reasons = append(reasons, fmt.Sprintf("in queue for %.1fh (medium %dh, high %dh)", it.AgeHours, ageMed, ageHigh))
		}
	}

	// no history in the window: supply risk is unknown, not zero
	if c.TriggerCount > 0 && lookbackDays > 0 {
		daily := float64(max(1, c.OrderQuantity)*c.TriggerCount) / float64(lookbackDays)
		days := float64(c.MinQuantity) / daily
		it.DailyConsumption = ptr(round2(daily))
		it.EstimatedDaysOfSupply = ptr(round2(days))
		switch {
		case days <= supHigh:
			it.SupplyRisk = RiskHigh
		case days <= supMed:
			it.SupplyRisk = RiskMedium
		}
		if it.SupplyRisk != "" {
			reasons = append(reasons, fmt.Sprintf("about %.1f days of supply left (medium %.1fd, high %.1fd)", days, supMed, supHigh))
		}
	}

	it.RiskLevel = worse(it.AgeRisk, it.SupplyRisk)
	if it.RiskLevel == "" {
		return Item{}, false
	}
	it.Reason = strings.Join(reasons, "; ")
	return it, true
}

// sortItems orders by risk level, then by time in queue, both descending.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := items[i].RiskLevel.rank(), items[j].RiskLevel.rank()
		if ri != rj {
			return ri > rj
		}
		return items[i].AgeHours > items[j].AgeHours
	})
}

func (s *Scanner) emit(ctx context.Context, tenantID string, items []Item) int {
	if s.pub == nil {
		return 0
	}
	sent := 0
	for _, it := range items {
		ev := queue.NewEvent(queue.EventRiskDetected, tenantID, it.CardID, it.LoopID, map[string]any{
			"riskLevel":             it.RiskLevel,
			"ageHours":              it.AgeHours,
			"estimatedDaysOfSupply": it.EstimatedDaysOfSupply,
			"reason":                it.Reason,
			"partId":                it.PartID,
			"facilityId":            it.FacilityID,
			"loopType":              it.LoopType,
			"thresholds":            it.Thresholds,
		})
		if err := s.pub.Publish(ctx, ev); err != nil {
			s.log.Warn("risk event publish failed", zap.String("card_id", it.CardID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

func ptr[T any](v T) *T { return &v }

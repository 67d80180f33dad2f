package domain

import "github.com/shopspring/decimal"

// RiskRecommendation is the action a risk evaluation suggests.
type RiskRecommendation string

const (
	RecommendAllow         RiskRecommendation = "ALLOW"
	RecommendWarn          RiskRecommendation = "WARN"
	RecommendBlock         RiskRecommendation = "BLOCK"
	RecommendEmergencyStop RiskRecommendation = "EMERGENCY_STOP"
)

// RiskScore is an ephemeral, on-demand risk evaluation for one trader.
// It is recomputed on every call and never persisted.
type RiskScore struct {
	TraderID       string
	Overall        decimal.Decimal // weighted combination of the sub-scores, 0.0-1.0
	BudgetScore    decimal.Decimal // budget utilization ratio, 0.0-1.0
	LeverageScore  decimal.Decimal // leverage utilization ratio, 0.0-1.0
	ExposureScore  decimal.Decimal // exposure utilization ratio, 0.0-1.0
	PnLScore       decimal.Decimal // recent-loss trend ratio, 0.0-1.0
	Recommendation RiskRecommendation
}

// RiskCheckResult is an aggregate read-only snapshot of a trader's risk status.
// Used by monitoring, not by the admission path.
type RiskCheckResult struct {
	TraderID          string
	TotalExposure     decimal.Decimal
	TraderExposure    decimal.Decimal
	AvailableBudget   decimal.Decimal
	MaxActiveLeverage int
	DailyPnL          decimal.Decimal
	DailyLossBreached bool
	EmergencyStopped  bool
	OpenPositions     int
}

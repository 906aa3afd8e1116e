package clarity

import (
	"math"
	"time"
)

// Trend directions
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// SimulationImpact carries the deltas a life-simulation run projected
type SimulationImpact struct {
	HealthDelta     float64 `json:"health_delta"`
	WealthDelta     float64 `json:"wealth_delta"`
	PsychologyDelta float64 `json:"psychology_delta"`
}

// Metrics is the heterogeneous input set the clarity score rolls up.
// EmotionalDrift is 0-100 with lower meaning a steadier signal.
type Metrics struct {
	HealthScore         float64          `json:"health_score"`
	WealthScore         float64          `json:"wealth_score"`
	SimulationImpact    SimulationImpact `json:"simulation_impact"`
	EmotionalDrift      float64          `json:"emotional_drift"`
	FlowIndex           float64          `json:"flow_index"`
	OverallClarityScore int              `json:"overall_clarity_score"`
	Timestamp           time.Time        `json:"timestamp"`
	Trend               string           `json:"trend"`
}

// Rollup weights. Emotional clarity is the inverse of drift.
const (
	weightHealth  = 0.30
	weightWealth  = 0.30
	weightEmotion = 0.20
	weightFlow    = 0.20
)

// Compute derives the overall clarity score from the raw metrics:
// 0.30*health + 0.30*wealth + 0.20*(100-min(drift,100)) + 0.20*flow,
// rounded to the nearest integer and clamped to [0, 100].
func Compute(m Metrics) int {
	drift := math.Min(m.EmotionalDrift, 100)
	emotionalClarity := 100 - drift

	raw := weightHealth*m.HealthScore +
		weightWealth*m.WealthScore +
		weightEmotion*emotionalClarity +
		weightFlow*m.FlowIndex

	score := int(math.Round(raw))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// TrendOf compares a newly computed score against the prior one
func TrendOf(score, prior int) string {
	switch {
	case score > prior:
		return TrendUp
	case score < prior:
		return TrendDown
	default:
		return TrendStable
	}
}

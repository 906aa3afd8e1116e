package flow

import "time"

// Factors breaks down what shaped a flow period
type Factors struct {
	FocusScore        int `json:"focus_score"`
	ProductivityScore int `json:"productivity_score"`
	InterruptionCount int `json:"interruption_count"`
}

// Period is a recorded interval of elevated focus/productivity
type Period struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Intensity int       `json:"intensity"` // 0-10
	Factors   Factors   `json:"factors"`
}

// Provider supplies recent flow periods for nudge context and charting.
// In a complete system these derive from session telemetry.
type Provider interface {
	RecentPeriods(limit int) []Period
}

// SampleProvider serves a fixed set of representative flow periods,
// anchored relative to its construction time.
type SampleProvider struct {
	periods []Period
}

// NewSampleProvider builds sample periods spanning the last two days
func NewSampleProvider() *SampleProvider {
	now := time.Now()
	day := 24 * time.Hour
	return &SampleProvider{
		periods: []Period{
			{
				StartTime: now.Add(-2*day - 3*time.Hour),
				EndTime:   now.Add(-2*day - 1*time.Hour),
				Intensity: 8,
				Factors:   Factors{FocusScore: 85, ProductivityScore: 90, InterruptionCount: 1},
			},
			{
				StartTime: now.Add(-day - 5*time.Hour),
				EndTime:   now.Add(-day - 4*time.Hour),
				Intensity: 6,
				Factors:   Factors{FocusScore: 70, ProductivityScore: 65, InterruptionCount: 4},
			},
			{
				StartTime: now.Add(-4 * time.Hour),
				EndTime:   now.Add(-2 * time.Hour),
				Intensity: 9,
				Factors:   Factors{FocusScore: 92, ProductivityScore: 88, InterruptionCount: 0},
			},
		},
	}
}

// RecentPeriods returns up to limit periods, most recent last
func (p *SampleProvider) RecentPeriods(limit int) []Period {
	if limit <= 0 || limit >= len(p.periods) {
		out := make([]Period, len(p.periods))
		copy(out, p.periods)
		return out
	}
	out := make([]Period, limit)
	copy(out, p.periods[len(p.periods)-limit:])
	return out
}

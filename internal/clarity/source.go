package clarity

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/momentum/internal/emotion"
	"github.com/jordanhubbard/momentum/internal/flow"
)

// SimulatedSource derives clarity metrics from the live emotional signal and
// flow history, with a random walk standing in for the health/wealth feeds a
// complete system would integrate. It is the default Source wiring; a remote
// metrics service substitutes behind the same interface.
type SimulatedSource struct {
	mu       sync.Mutex
	emotions *emotion.Simulator
	flows    flow.Provider
	rng      *rand.Rand

	health float64
	wealth float64
	impact SimulationImpact

	subscribers map[string]map[string]func() // userID -> subID -> callback
}

// NewSimulatedSource seeds the health/wealth walk at healthy mid-range values
func NewSimulatedSource(emotions *emotion.Simulator, flows flow.Provider, rng *rand.Rand) *SimulatedSource {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &SimulatedSource{
		emotions:    emotions,
		flows:       flows,
		rng:         rng,
		health:      72,
		wealth:      65,
		subscribers: make(map[string]map[string]func()),
	}
}

// Fetch returns the current metrics without advancing the walk
func (s *SimulatedSource) Fetch(ctx context.Context, userID string) (*Metrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// Refresh advances the health/wealth walk, rebuilds the simulation impact,
// and notifies the user's subscribers that something changed.
func (s *SimulatedSource) Refresh(ctx context.Context, userID string) (*Metrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.health = clampScore(s.health + s.rng.Float64()*10 - 5)
	s.wealth = clampScore(s.wealth + s.rng.Float64()*10 - 5)
	s.impact = SimulationImpact{
		HealthDelta:     s.rng.Float64()*8 - 4,
		WealthDelta:     s.rng.Float64()*8 - 4,
		PsychologyDelta: s.rng.Float64()*8 - 4,
	}
	m := s.snapshotLocked()
	callbacks := s.callbacksLocked(userID)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return m, nil
}

func (s *SimulatedSource) snapshotLocked() *Metrics {
	return &Metrics{
		HealthScore:      s.health,
		WealthScore:      s.wealth,
		SimulationImpact: s.impact,
		EmotionalDrift:   s.drift(),
		FlowIndex:        s.flowIndex(),
	}
}

// drift measures instability of the emotional signal over the retained
// window: the standard deviation of recent energy levels, scaled onto 0-100.
func (s *SimulatedSource) drift() float64 {
	if s.emotions == nil {
		return 0
	}
	history := s.emotions.History()
	if len(history) < 2 {
		return 0
	}

	var sum float64
	for _, snap := range history {
		sum += float64(snap.Level)
	}
	mean := sum / float64(len(history))

	var variance float64
	for _, snap := range history {
		d := float64(snap.Level) - mean
		variance += d * d
	}
	variance /= float64(len(history))

	return math.Min(100, math.Sqrt(variance)*4)
}

// flowIndex maps recent flow intensity (0-10) onto the 0-100 scale
func (s *SimulatedSource) flowIndex() float64 {
	if s.flows == nil {
		return 0
	}
	periods := s.flows.RecentPeriods(0)
	if len(periods) == 0 {
		return 0
	}
	var sum float64
	for _, p := range periods {
		sum += float64(p.Intensity)
	}
	return clampScore(sum / float64(len(periods)) * 10)
}

func (s *SimulatedSource) callbacksLocked(userID string) []func() {
	subs := s.subscribers[userID]
	out := make([]func(), 0, len(subs))
	for _, cb := range subs {
		out = append(out, cb)
	}
	return out
}

// Subscribe registers a change callback and returns its owned subscription
func (s *SimulatedSource) Subscribe(userID string, onChange func()) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribers[userID] == nil {
		s.subscribers[userID] = make(map[string]func())
	}
	subID := uuid.New().String()
	s.subscribers[userID][subID] = onChange

	return &simSubscription{source: s, userID: userID, subID: subID}, nil
}

type simSubscription struct {
	source *SimulatedSource
	userID string
	subID  string
}

func (s *simSubscription) Unsubscribe() {
	s.source.mu.Lock()
	defer s.source.mu.Unlock()

	if subs, exists := s.source.subscribers[s.userID]; exists {
		delete(subs, s.subID)
		if len(subs) == 0 {
			delete(s.source.subscribers, s.userID)
		}
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

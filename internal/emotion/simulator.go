package emotion

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Emotional states
const (
	StateEnergized  = "energized"
	StateFocused    = "focused"
	StateNeutral    = "neutral"
	StateDistracted = "distracted"
	StateTired      = "tired"
)

// States lists every emotional state the simulator can produce
var States = []string{
	StateEnergized,
	StateFocused,
	StateNeutral,
	StateDistracted,
	StateTired,
}

// Snapshot is a point-in-time reading of the emotional/energy signal
type Snapshot struct {
	State     string    `json:"state"`
	Level     int       `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Provider produces the latest emotional snapshot on demand. A real signal
// source can substitute for the simulator behind this interface.
type Provider interface {
	Current() Snapshot
}

const (
	// DefaultInterval is how often the simulator regenerates its state
	DefaultInterval = 30 * time.Second

	// Energy level bounds after clamping
	levelFloor   = 30
	levelCeiling = 100

	// maxStep bounds the per-tick energy delta to [-maxStep, +maxStep]
	maxStep = 10

	// defaultHistorySize bounds the retained snapshot history
	defaultHistorySize = 50
)

// Simulator periodically mutates an in-memory emotional state and energy
// level. Only the latest snapshot is authoritative for live decisions; a
// bounded history is retained for charting.
type Simulator struct {
	mu       sync.RWMutex
	latest   Snapshot
	history  []Snapshot
	maxHist  int
	interval time.Duration
	rng      *rand.Rand
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// SimulatorOption configures a Simulator
type SimulatorOption func(*Simulator)

// WithInterval overrides the regeneration interval
func WithInterval(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.interval = d }
}

// WithRand injects a seeded random source for deterministic tests
func WithRand(rng *rand.Rand) SimulatorOption {
	return func(s *Simulator) { s.rng = rng }
}

// WithClock injects a time source
func WithClock(now func() time.Time) SimulatorOption {
	return func(s *Simulator) { s.now = now }
}

// NewSimulator creates a simulator seeded with a neutral mid-energy snapshot
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		maxHist:  defaultHistorySize,
		interval: DefaultInterval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.latest = Snapshot{
		State:     StateNeutral,
		Level:     70,
		Timestamp: s.now(),
	}
	s.history = append(s.history, s.latest)
	return s
}

// Start begins the regeneration loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled.
func (s *Simulator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Step()
			}
		}
	}()
}

// Stop cancels the regeneration loop and waits for it to exit
func (s *Simulator) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

// Step performs one regeneration: a uniformly random state and a random
// energy delta in [-10, +10] clamped to [30, 100]. Exported so tests can
// drive the simulator without a ticker.
func (s *Simulator) Step() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	level := s.latest.Level + s.rng.Intn(2*maxStep+1) - maxStep
	if level < levelFloor {
		level = levelFloor
	}
	if level > levelCeiling {
		level = levelCeiling
	}

	s.latest = Snapshot{
		State:     States[s.rng.Intn(len(States))],
		Level:     level,
		Timestamp: s.now(),
	}

	s.history = append(s.history, s.latest)
	if len(s.history) > s.maxHist {
		s.history = s.history[len(s.history)-s.maxHist:]
	}
	return s.latest
}

// Current returns the latest snapshot
func (s *Simulator) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// History returns a copy of the retained snapshots, oldest first
func (s *Simulator) History() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, len(s.history))
	copy(out, s.history)
	return out
}

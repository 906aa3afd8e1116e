package nudge

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/momentum/internal/emotion"
)

// Generator produces a candidate nudge from the current context, or declines.
// A nil nudge with a nil error is a legitimate decline, not a failure;
// callers must handle it without treating it as an error.
type Generator interface {
	Generate(ctx context.Context, nc Context) (*Nudge, error)
}

// template is a candidate message with its nudge type
type template struct {
	message  string
	nudgeType string
}

// Message library keyed by emotional state. Each state maps to suggestions
// that make sense against that signal.
var templatesByState = map[string][]template{
	emotion.StateEnergized: {
		{"Your energy is high. This is a great window for your hardest task.", TypeInsight},
		{"Ride the wave: start the thing you've been putting off.", TypeChallenge},
		{"High energy detected. Consider batching your quick wins now.", TypeMotivation},
	},
	emotion.StateFocused: {
		{"You're in a focus groove. Protect the next hour from interruptions.", TypeInsight},
		{"Deep work pays compound interest. Keep going.", TypeMotivation},
		{"Silence notifications for 45 minutes and finish what's in front of you.", TypeChallenge},
	},
	emotion.StateNeutral: {
		{"A short walk now could set up your next focus block.", TypeReminder},
		{"Review your top three priorities for today.", TypeReminder},
		{"Neutral ground is a good place to plan. Sketch tomorrow's first task.", TypeInsight},
	},
	emotion.StateDistracted: {
		{"Feeling scattered? Pick one thread and pull it for 15 minutes.", TypeChallenge},
		{"Close the tabs you aren't using. Your attention will thank you.", TypeReminder},
		{"Distraction is a signal. Maybe a two-minute reset is due.", TypeInsight},
	},
	emotion.StateTired: {
		{"Energy is low. A real break beats pushing through.", TypeInsight},
		{"Hydrate and stretch: five minutes, then reassess.", TypeReminder},
		{"Low-energy windows are good for shallow tasks. Clear some small ones.", TypeMotivation},
	},
}

// TemplateGenerator is a local heuristic generator: it ranks the message
// library against the emotional/energy/flow context and occasionally
// declines to surface anything. A remote or rules-based generator can
// substitute behind the Generator interface.
type TemplateGenerator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	now         func() time.Time
	declineRate float64
}

// GeneratorOption configures a TemplateGenerator
type GeneratorOption func(*TemplateGenerator)

// WithGeneratorRand injects a seeded random source for deterministic tests
func WithGeneratorRand(rng *rand.Rand) GeneratorOption {
	return func(g *TemplateGenerator) { g.rng = rng }
}

// WithDeclineRate sets the probability in [0,1] that Generate declines
func WithDeclineRate(rate float64) GeneratorOption {
	return func(g *TemplateGenerator) { g.declineRate = rate }
}

// WithGeneratorClock injects a time source
func WithGeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *TemplateGenerator) { g.now = now }
}

// NewTemplateGenerator creates a generator with a 20% decline rate
func NewTemplateGenerator(opts ...GeneratorOption) *TemplateGenerator {
	g := &TemplateGenerator{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		declineRate: 0.2,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate picks a template for the current emotional state and derives a
// priority from the energy and flow signals. Returns (nil, nil) to decline.
func (g *TemplateGenerator) Generate(ctx context.Context, nc Context) (*Nudge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rng.Float64() < g.declineRate {
		return nil, nil
	}

	candidates, ok := templatesByState[nc.EmotionalState]
	if !ok {
		candidates = templatesByState[emotion.StateNeutral]
	}
	chosen := candidates[g.rng.Intn(len(candidates))]

	return &Nudge{
		ID:        uuid.New().String(),
		Message:   chosen.message,
		Type:      chosen.nudgeType,
		Priority:  g.derivePriority(nc),
		CreatedAt: g.now(),
	}, nil
}

// derivePriority maps the context onto the 1-5 priority scale. Low energy
// on a tired signal is the most urgent case: the user likely needs the
// suggestion most when the signal is worst.
func (g *TemplateGenerator) derivePriority(nc Context) int {
	priority := 3

	switch {
	case nc.EnergyLevel < 40:
		priority = 4
	case nc.EnergyLevel > 80:
		priority = 2
	}

	if nc.EmotionalState == emotion.StateTired && nc.EnergyLevel < 40 {
		priority = 5
	}

	// An interruption-heavy recent flow period bumps urgency by one.
	for _, p := range nc.FlowPeriods {
		if p.Factors.InterruptionCount >= 4 {
			priority++
			break
		}
	}

	if priority > PriorityMax {
		priority = PriorityMax
	}
	if priority < PriorityMin {
		priority = PriorityMin
	}
	return priority
}

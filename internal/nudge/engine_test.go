package nudge

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/momentum/internal/preferences"
)

// fakePrefs is a PreferenceSource tests can mutate directly
type fakePrefs struct {
	mu    sync.Mutex
	prefs preferences.Preferences
}

func newFakePrefs() *fakePrefs {
	p := preferences.Default()
	p.NudgeFrequency = 5
	p.QuietHours.Enabled = false
	return &fakePrefs{prefs: p}
}

func (f *fakePrefs) Current() preferences.Preferences {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs
}

func (f *fakePrefs) set(fn func(*preferences.Preferences)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.prefs)
}

// stubGenerator produces a fixed-priority nudge and counts invocations
type stubGenerator struct {
	mu       sync.Mutex
	calls    int
	decline  bool
	priority int
	clock    func() time.Time
}

func (g *stubGenerator) Generate(ctx context.Context, nc Context) (*Nudge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.decline {
		return nil, nil
	}
	now := time.Now()
	if g.clock != nil {
		now = g.clock()
	}
	priority := g.priority
	if priority == 0 {
		priority = 3
	}
	return &Nudge{
		ID:        uuid.New().String(),
		Message:   "test nudge",
		Type:      TypeReminder,
		Priority:  priority,
		CreatedAt: now,
	}, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// zeroSource forces rand.Float64 to 0 so every probability draw succeeds
type zeroSource struct{}

func (zeroSource) Int63() int64 { return 0 }
func (zeroSource) Seed(int64)   {}

// halfSource forces rand.Float64 to 0.5, above any frequency threshold, so
// every probability draw fails
type halfSource struct{}

func (halfSource) Int63() int64 { return 1 << 62 }
func (halfSource) Seed(int64)   {}

// fakeClock is a mutable time source
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(prefs *fakePrefs, gen Generator, opts ...EngineOption) *Engine {
	base := []EngineOption{WithEngineRand(rand.New(zeroSource{}))}
	return NewEngine("user-1", prefs, gen, nil, nil, append(base, opts...)...)
}

func TestEngine_TickGeneratesAndPromotes(t *testing.T) {
	gen := &stubGenerator{}
	e := newTestEngine(newFakePrefs(), gen)

	e.Tick(context.Background())

	if gen.callCount() != 1 {
		t.Fatalf("Expected 1 generator call, got %d", gen.callCount())
	}
	active := e.Active()
	if active == nil {
		t.Fatal("Expected the generated nudge to be promoted")
	}
	if active.UserID != "user-1" {
		t.Errorf("Expected user id stamped on the nudge, got %q", active.UserID)
	}
	if e.QueueLength() != 0 {
		t.Errorf("Expected promoted nudge removed from queue, got %d queued", e.QueueLength())
	}
}

func TestEngine_AtMostOneActive(t *testing.T) {
	gen := &stubGenerator{}
	e := newTestEngine(newFakePrefs(), gen)

	for i := 0; i < 20; i++ {
		e.Tick(context.Background())
		if _, err := e.TriggerNudge(context.Background()); err != nil {
			t.Fatalf("TriggerNudge failed: %v", err)
		}
	}

	if e.Active() == nil {
		t.Fatal("Expected one active nudge")
	}
	// Only the first tick may generate: every later attempt sees an active
	// nudge and must not surface a second one.
	if gen.callCount() != 1 {
		t.Errorf("Expected 1 generator call with a standing active nudge, got %d", gen.callCount())
	}
}

func TestEngine_TickSuppression(t *testing.T) {
	quietEvening := func(p *preferences.Preferences) {
		p.QuietHours = preferences.QuietHours{Start: "22:00", End: "07:00", Enabled: true}
	}

	testCases := []struct {
		name      string
		setup     func(e *Engine, p *fakePrefs)
		clock     time.Time
		generated bool
	}{
		{
			name:      "muted",
			setup:     func(e *Engine, p *fakePrefs) { e.SetMuted(true) },
			clock:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			generated: false,
		},
		{
			name: "quiet hours at 23:30",
			setup: func(e *Engine, p *fakePrefs) {
				p.set(quietEvening)
			},
			clock:     time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC),
			generated: false,
		},
		{
			name: "outside quiet hours at 12:00",
			setup: func(e *Engine, p *fakePrefs) {
				p.set(quietEvening)
			},
			clock:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			generated: true,
		},
		{
			name:      "probability draw fails",
			setup:     func(e *Engine, p *fakePrefs) { WithEngineRand(rand.New(halfSource{}))(e) },
			clock:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			generated: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &stubGenerator{}
			prefs := newFakePrefs()
			clock := newFakeClock(tc.clock)
			e := newTestEngine(prefs, gen, WithEngineClock(clock.now))
			tc.setup(e, prefs)

			e.Tick(context.Background())

			generated := gen.callCount() > 0
			if generated != tc.generated {
				t.Errorf("Expected generated=%v, got %v", tc.generated, generated)
			}
		})
	}
}

func TestEngine_TickSkipsWhenActive(t *testing.T) {
	gen := &stubGenerator{}
	e := newTestEngine(newFakePrefs(), gen)

	e.Tick(context.Background())
	e.Tick(context.Background())

	if gen.callCount() != 1 {
		t.Errorf("Expected second tick suppressed by active nudge, got %d calls", gen.callCount())
	}
}

func TestEngine_TickQueuesWithoutPromotionWhenInAppDisabled(t *testing.T) {
	gen := &stubGenerator{}
	prefs := newFakePrefs()
	prefs.set(func(p *preferences.Preferences) { p.NotificationChannels.InApp = false })
	e := newTestEngine(prefs, gen)

	e.Tick(context.Background())

	if e.Active() != nil {
		t.Error("Expected no promotion with in-app channel disabled")
	}
	if e.QueueLength() != 1 {
		t.Errorf("Expected nudge queued, got %d", e.QueueLength())
	}
}

func TestEngine_TriggerPicksHighestPriorityNewestFirst(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	e := newTestEngine(newFakePrefs(), &stubGenerator{decline: true}, WithEngineClock(clock.now))

	older := &Nudge{ID: "older", Priority: 4, CreatedAt: clock.now().Add(-10 * time.Minute)}
	newer := &Nudge{ID: "newer", Priority: 4, CreatedAt: clock.now().Add(-1 * time.Minute)}
	low := &Nudge{ID: "low", Priority: 2, CreatedAt: clock.now().Add(-1 * time.Second)}
	future := &Nudge{ID: "future", Priority: 5, CreatedAt: clock.now().Add(3 * time.Minute)}

	e.mu.Lock()
	e.queue = []*Nudge{low, older, future, newer}
	e.mu.Unlock()

	n, err := e.TriggerNudge(context.Background())
	if err != nil {
		t.Fatalf("TriggerNudge failed: %v", err)
	}
	if n.ID != "newer" {
		t.Errorf("Expected newest of the highest due priority, got %q", n.ID)
	}
	if e.QueueLength() != 3 {
		t.Errorf("Expected promoted nudge removed from queue, got %d", e.QueueLength())
	}
}

func TestEngine_TriggerEmptyQueueGeneratesDirectly(t *testing.T) {
	gen := &stubGenerator{}
	e := newTestEngine(newFakePrefs(), gen)

	n, err := e.TriggerNudge(context.Background())
	if err != nil {
		t.Fatalf("TriggerNudge failed: %v", err)
	}
	if n == nil {
		t.Fatal("Expected a nudge")
	}
	if e.Active() == nil || e.Active().ID != n.ID {
		t.Error("Expected generated nudge promoted directly")
	}
	if e.QueueLength() != 0 {
		t.Errorf("Expected direct promotion to bypass the queue, got %d queued", e.QueueLength())
	}
}

func TestEngine_TriggerDeclineIsSoft(t *testing.T) {
	e := newTestEngine(newFakePrefs(), &stubGenerator{decline: true})

	n, err := e.TriggerNudge(context.Background())
	if !errors.Is(err, ErrNoNudge) {
		t.Fatalf("Expected ErrNoNudge, got nudge=%v err=%v", n, err)
	}
	if e.Active() != nil {
		t.Error("Expected no active nudge after decline")
	}
}

func TestEngine_SnoozeSemantics(t *testing.T) {
	testCases := []struct {
		name             string
		priority         int
		expectedPriority int
	}{
		{"priority decays", 3, 2},
		{"floor holds", 1, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
			gen := &stubGenerator{priority: tc.priority, clock: clock.now}
			e := newTestEngine(newFakePrefs(), gen, WithEngineClock(clock.now))

			if _, err := e.TriggerNudge(context.Background()); err != nil {
				t.Fatalf("TriggerNudge failed: %v", err)
			}
			e.Snooze()

			if e.Active() != nil {
				t.Error("Expected active cleared after snooze")
			}
			if e.QueueLength() != 1 {
				t.Fatalf("Expected requeued nudge, got %d", e.QueueLength())
			}

			e.mu.Lock()
			requeued := e.queue[0]
			e.mu.Unlock()

			if requeued.Priority != tc.expectedPriority {
				t.Errorf("Expected requeued priority %d, got %d", tc.expectedPriority, requeued.Priority)
			}
			if wait := requeued.CreatedAt.Sub(clock.now()); wait < SnoozeDelay {
				t.Errorf("Expected eligibility at least %v out, got %v", SnoozeDelay, wait)
			}

			entries, err := e.History(HistoryFilter{Response: ResponseSnoozed})
			if err != nil {
				t.Fatalf("History failed: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("Expected 1 snoozed history entry, got %d", len(entries))
			}

			// The snoozed copy is not due yet: a trigger must regenerate
			// instead of promoting it, and must promote it once due.
			gen.decline = true
			if _, err := e.TriggerNudge(context.Background()); !errors.Is(err, ErrNoNudge) {
				t.Errorf("Expected ErrNoNudge while snoozed copy is not due, got %v", err)
			}
			clock.advance(SnoozeDelay + time.Second)
			n, err := e.TriggerNudge(context.Background())
			if err != nil {
				t.Fatalf("TriggerNudge after snooze delay failed: %v", err)
			}
			if n.ID != requeued.ID {
				t.Errorf("Expected snoozed copy promoted once due, got %q", n.ID)
			}
		})
	}
}

func TestEngine_MuteWhileVisibleForcesDismiss(t *testing.T) {
	e := newTestEngine(newFakePrefs(), &stubGenerator{})

	if _, err := e.TriggerNudge(context.Background()); err != nil {
		t.Fatalf("TriggerNudge failed: %v", err)
	}
	e.SetMuted(true)

	// The transition is synchronous: idle state and the history entry are
	// both visible before SetMuted returns.
	if e.Active() != nil {
		t.Error("Expected active cleared within the SetMuted call")
	}
	entries, err := e.History(HistoryFilter{Response: ResponseDismissed})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 dismissed entry, got %d", len(entries))
	}

	// Unmuting has no side effect
	e.SetMuted(false)
	if e.Active() != nil {
		t.Error("Expected no active nudge after unmute")
	}
}

func TestEngine_HistoryFilteredNewestFirst(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	gen := &stubGenerator{clock: clock.now}
	e := newTestEngine(newFakePrefs(), gen, WithEngineClock(clock.now))

	actions := []func(){e.Dismiss, e.Snooze, e.Accept, e.Dismiss, e.Dismiss}
	for _, act := range actions {
		if _, err := e.TriggerNudge(context.Background()); err != nil {
			t.Fatalf("TriggerNudge failed: %v", err)
		}
		act()
		clock.advance(time.Minute)
	}

	dismissed, err := e.History(HistoryFilter{Response: ResponseDismissed})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(dismissed) != 3 {
		t.Fatalf("Expected 3 dismissed entries, got %d", len(dismissed))
	}
	for _, entry := range dismissed {
		if entry.UserResponse != ResponseDismissed {
			t.Errorf("Filter leaked response %q", entry.UserResponse)
		}
	}
	for i := 1; i < len(dismissed); i++ {
		if dismissed[i].ResponseTime.After(dismissed[i-1].ResponseTime) {
			t.Error("Expected newest-first ordering")
		}
	}

	// Pagination respects the same ordering
	page, err := e.History(HistoryFilter{Response: ResponseDismissed, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(page) != 1 || !page[0].ResponseTime.Equal(dismissed[1].ResponseTime) {
		t.Error("Expected pagination to preserve newest-first ordering")
	}
}

// failingStore always errors, exercising the in-memory fallback
type failingStore struct{}

func (failingStore) AppendHistory(*HistoryEntry) error { return errors.New("store down") }
func (failingStore) ListHistory(HistoryFilter) ([]*HistoryEntry, error) {
	return nil, errors.New("store down")
}

func TestEngine_HistoryStoreFailureFallsBack(t *testing.T) {
	e := newTestEngine(newFakePrefs(), &stubGenerator{}, WithHistoryStore(failingStore{}))

	if _, err := e.TriggerNudge(context.Background()); err != nil {
		t.Fatalf("TriggerNudge failed: %v", err)
	}
	e.Dismiss()

	entries, err := e.History(HistoryFilter{})
	if err != nil {
		t.Fatalf("Expected fallback listing, got error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 entry from the session copy, got %d", len(entries))
	}
}

func TestEngine_StatisticalTickRate(t *testing.T) {
	gen := &stubGenerator{}
	e := NewEngine("user-1", newFakePrefs(), gen, nil, nil,
		WithEngineRand(rand.New(rand.NewSource(1234))))

	const ticks = 2000
	for i := 0; i < ticks; i++ {
		e.Tick(context.Background())
		if e.Active() != nil {
			e.Dismiss()
		}
	}

	// frequency 5 gives a 25% chance per tick; allow a generous band
	calls := gen.callCount()
	if calls < ticks/5 || calls > ticks*3/10 {
		t.Errorf("Expected roughly %d generator calls over %d ticks, got %d", ticks/4, ticks, calls)
	}
}

func TestEngine_Events(t *testing.T) {
	e := newTestEngine(newFakePrefs(), &stubGenerator{})

	events := e.Subscribe("test")
	defer e.Unsubscribe("test")

	if _, err := e.TriggerNudge(context.Background()); err != nil {
		t.Fatalf("TriggerNudge failed: %v", err)
	}
	e.Dismiss()

	triggered := <-events
	if triggered.Type != EventTriggered {
		t.Errorf("Expected %q event, got %q", EventTriggered, triggered.Type)
	}
	dismissed := <-events
	if dismissed.Type != EventDismissed {
		t.Errorf("Expected %q event, got %q", EventDismissed, dismissed.Type)
	}
	if dismissed.SettleMs != int(SettleDelay.Milliseconds()) {
		t.Errorf("Expected settle hint %d, got %d", SettleDelay.Milliseconds(), dismissed.SettleMs)
	}
}

func TestEngine_SchedulerLoopStartStop(t *testing.T) {
	gen := &stubGenerator{decline: true}
	e := newTestEngine(newFakePrefs(), gen, WithTickInterval(5*time.Millisecond))

	e.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	e.Stop()

	calls := gen.callCount()
	if calls == 0 {
		t.Fatal("Expected the scheduler loop to tick")
	}
	time.Sleep(20 * time.Millisecond)
	if gen.callCount() != calls {
		t.Error("Expected no ticks after Stop")
	}
}

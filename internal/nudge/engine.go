package nudge

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/momentum/internal/emotion"
	"github.com/jordanhubbard/momentum/internal/flow"
	"github.com/jordanhubbard/momentum/internal/preferences"
)

// ErrNoNudge is returned by TriggerNudge when the generator declines and the
// queue is empty. It is a soft condition surfaced as a user-visible notice,
// never a fatal error.
var ErrNoNudge = errors.New("nothing worth surfacing right now")

const (
	// DefaultTickInterval drives the scheduler loop
	DefaultTickInterval = 30 * time.Second

	// SnoozeDelay is how far into the future a snoozed nudge becomes
	// eligible again
	SnoozeDelay = 5 * time.Minute

	// SettleDelay is a presentation hint for exit animations. It has no
	// effect on state ordering, which reflects idle before any delay.
	SettleDelay = 300 * time.Millisecond

	// frequencyDivisor converts nudgeFrequency 1-5 into a per-tick
	// probability of 5%-25%
	frequencyDivisor = 20

	// generateTimeout bounds each generator call from the tick loop
	generateTimeout = 10 * time.Second

	// contextHistoryLimit caps how much history the generator sees
	contextHistoryLimit = 10
)

// Event types broadcast to subscribers
const (
	EventTriggered = "nudge.triggered"
	EventAccepted  = "nudge.accepted"
	EventDismissed = "nudge.dismissed"
	EventSnoozed   = "nudge.snoozed"
	EventMuted     = "nudge.muted"
	EventUnmuted   = "nudge.unmuted"
)

// Event is pushed to stream subscribers on every lifecycle transition
type Event struct {
	Type      string    `json:"type"`
	Nudge     *Nudge    `json:"nudge,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	SettleMs  int       `json:"settle_ms,omitempty"`
}

// PreferenceSource supplies the live preferences the scheduler gates on
type PreferenceSource interface {
	Current() preferences.Preferences
}

// Engine owns the nudge queue, the single active nudge, and the scheduler
// loop. Every mutation of queue or active state goes through the engine's
// mutex, which is the single promotion point that preserves the
// at-most-one-active invariant.
type Engine struct {
	mu     sync.Mutex
	userID string

	queue   []*Nudge
	active  *Nudge
	muted   bool
	history *MemoryHistory // session-authoritative copy
	store   HistoryStore   // durable store, optional

	prefs     PreferenceSource
	generator Generator
	emotions  emotion.Provider
	flows     flow.Provider

	subscribers   map[string]chan Event
	subscribersMu sync.RWMutex

	rng      *rand.Rand
	now      func() time.Time
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithTickInterval overrides the scheduler interval
func WithTickInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.interval = d }
}

// WithEngineRand injects a seeded random source for deterministic tests
func WithEngineRand(rng *rand.Rand) EngineOption {
	return func(e *Engine) { e.rng = rng }
}

// WithEngineClock injects a time source
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithHistoryStore attaches a durable history store. The engine always keeps
// an in-memory copy; the durable store is written through and preferred for
// reads when it works.
func WithHistoryStore(store HistoryStore) EngineOption {
	return func(e *Engine) { e.store = store }
}

// NewEngine creates an engine for one user's session
func NewEngine(userID string, prefs PreferenceSource, gen Generator, emotions emotion.Provider, flows flow.Provider, opts ...EngineOption) *Engine {
	e := &Engine{
		userID:      userID,
		history:     NewMemoryHistory(),
		prefs:       prefs,
		generator:   gen,
		emotions:    emotions,
		flows:       flows,
		subscribers: make(map[string]chan Event),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		interval:    DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins the scheduler loop
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the scheduler loop and waits for it to exit
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
}

// Tick runs one scheduler pass: suppression checks, a frequency-derived
// probability draw, then generation and promotion. Exported so tests can
// drive the scheduler without a ticker.
func (e *Engine) Tick(ctx context.Context) {
	prefs := e.prefs.Current()

	e.mu.Lock()
	if !e.eligibleLocked(prefs) {
		e.mu.Unlock()
		return
	}
	threshold := float64(prefs.NudgeFrequency) / frequencyDivisor
	if e.rng.Float64() >= threshold {
		e.mu.Unlock()
		return
	}
	nc := e.contextLocked()
	e.mu.Unlock()

	// Generation is a suspension point: ticks and user actions may
	// interleave before the result resolves.
	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	nudge, err := e.generator.Generate(genCtx, nc)
	cancel()
	if err != nil {
		log.Printf("[Engine] Generator failed for user %s: %v", e.userID, err)
		return
	}
	if nudge == nil {
		return
	}
	nudge.UserID = e.userID

	fresh := e.prefs.Current()
	e.mu.Lock()
	// Eligibility may have changed while generating. Re-check before
	// touching the queue or the active slot.
	if !e.eligibleLocked(fresh) {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, nudge)
	var promoted *Nudge
	if fresh.NotificationChannels.InApp {
		promoted = e.promoteLocked(nudge)
	}
	e.mu.Unlock()

	if promoted != nil {
		e.broadcast(Event{Type: EventTriggered, Nudge: promoted, Timestamp: e.now()})
	}
}

// eligibleLocked reports whether a new nudge may be surfaced right now
func (e *Engine) eligibleLocked(prefs preferences.Preferences) bool {
	if e.muted || e.active != nil {
		return false
	}
	return !prefs.QuietHours.InQuietHours(e.now())
}

// contextLocked assembles the generator context from current signals
func (e *Engine) contextLocked() Context {
	nc := Context{}
	if e.emotions != nil {
		snap := e.emotions.Current()
		nc.EmotionalState = snap.State
		nc.EnergyLevel = snap.Level
		nc.Snapshot = &snap
	}
	if e.flows != nil {
		nc.FlowPeriods = e.flows.RecentPeriods(0)
	}
	nc.History = e.history.Recent(contextHistoryLimit)
	return nc
}

// promoteLocked makes n the active nudge and removes it from the queue.
// The caller holds e.mu and has already verified eligibility.
func (e *Engine) promoteLocked(n *Nudge) *Nudge {
	e.active = n
	for i, queued := range e.queue {
		if queued.ID == n.ID {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	return n
}

// TriggerNudge surfaces a nudge on demand. A non-empty queue yields its
// highest-priority due entry (ties broken by newer CreatedAt); an empty
// queue falls through to a synchronous generator call whose result is
// promoted directly without queueing. Returns ErrNoNudge when the generator
// declines.
func (e *Engine) TriggerNudge(ctx context.Context) (*Nudge, error) {
	e.mu.Lock()
	if e.active != nil {
		active := e.active
		e.mu.Unlock()
		return active, nil
	}

	if next := e.popBestLocked(); next != nil {
		e.active = next
		e.mu.Unlock()
		e.broadcast(Event{Type: EventTriggered, Nudge: next, Timestamp: e.now()})
		return next, nil
	}
	nc := e.contextLocked()
	e.mu.Unlock()

	nudge, err := e.generator.Generate(ctx, nc)
	if err != nil {
		return nil, err
	}
	if nudge == nil {
		return nil, ErrNoNudge
	}
	nudge.UserID = e.userID

	e.mu.Lock()
	if e.active != nil {
		// Another promotion won the race while we were generating;
		// keep the queue free of the losing candidate entirely.
		active := e.active
		e.mu.Unlock()
		return active, nil
	}
	e.active = nudge
	e.mu.Unlock()

	e.broadcast(Event{Type: EventTriggered, Nudge: nudge, Timestamp: e.now()})
	return nudge, nil
}

// popBestLocked removes and returns the best due queue entry, or nil.
// Order: priority descending, then CreatedAt descending.
func (e *Engine) popBestLocked() *Nudge {
	now := e.now()
	best := -1
	for i, n := range e.queue {
		if n.CreatedAt.After(now) {
			continue // snoozed, not yet due
		}
		if best == -1 {
			best = i
			continue
		}
		b := e.queue[best]
		if n.Priority > b.Priority ||
			(n.Priority == b.Priority && n.CreatedAt.After(b.CreatedAt)) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	n := e.queue[best]
	e.queue = append(e.queue[:best], e.queue[best+1:]...)
	return n
}

// Active returns the currently visible nudge, or nil
func (e *Engine) Active() *Nudge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Muted reports the mute flag
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// QueueLength returns the number of queued nudges
func (e *Engine) QueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Dismiss terminates the active nudge with a "dismissed" history entry
func (e *Engine) Dismiss() {
	e.resolve(ResponseDismissed)
}

// Accept terminates the active nudge with an "accepted" history entry
func (e *Engine) Accept() {
	e.resolve(ResponseAccepted)
}

// resolve clears the active nudge and records the terminal response.
// State already reflects idle when the event (with its settle hint for exit
// animations) reaches subscribers.
func (e *Engine) resolve(response string) {
	e.mu.Lock()
	if e.active == nil {
		e.mu.Unlock()
		return
	}
	n := e.active
	e.active = nil
	now := e.now()
	e.recordLocked(n, response, now)
	e.mu.Unlock()

	eventType := EventDismissed
	if response == ResponseAccepted {
		eventType = EventAccepted
	}
	e.broadcast(Event{Type: eventType, Nudge: n, Timestamp: now, SettleMs: int(SettleDelay.Milliseconds())})
}

// Snooze records a "snoozed" entry, requeues a derived copy with decayed
// priority and a future-eligible timestamp, and clears the active nudge.
func (e *Engine) Snooze() {
	e.mu.Lock()
	if e.active == nil {
		e.mu.Unlock()
		return
	}
	n := e.active
	e.active = nil
	now := e.now()
	e.recordLocked(n, ResponseSnoozed, now)
	e.queue = append(e.queue, n.snoozed(now))
	e.mu.Unlock()

	e.broadcast(Event{Type: EventSnoozed, Nudge: n, Timestamp: now, SettleMs: int(SettleDelay.Milliseconds())})
}

// SetMuted toggles the mute flag. Muting while a nudge is visible forces an
// immediate dismiss in the same synchronous call; unmuting has no side
// effect on current state.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	var dismissed *Nudge
	var now time.Time
	if muted && e.active != nil {
		dismissed = e.active
		e.active = nil
		now = e.now()
		e.recordLocked(dismissed, ResponseDismissed, now)
	}
	e.mu.Unlock()

	if dismissed != nil {
		e.broadcast(Event{Type: EventDismissed, Nudge: dismissed, Timestamp: now, SettleMs: int(SettleDelay.Milliseconds())})
	}
	eventType := EventUnmuted
	if muted {
		eventType = EventMuted
	}
	e.broadcast(Event{Type: eventType, Timestamp: e.now()})
}

// recordLocked appends a history entry to the in-memory copy and writes it
// through to the durable store. Store failures degrade to log-and-continue.
func (e *Engine) recordLocked(n *Nudge, response string, at time.Time) {
	entry := &HistoryEntry{
		ID:           uuid.New().String(),
		Nudge:        *n,
		UserResponse: response,
		ResponseTime: at,
	}
	e.history.append(entry)
	if e.store != nil {
		if err := e.store.AppendHistory(entry); err != nil {
			log.Printf("[Engine] Failed to persist history entry for user %s: %v", e.userID, err)
		}
	}
}

// History lists recorded entries, newest-first, applying the filter. The
// durable store is preferred; on failure the session's in-memory copy
// answers instead.
func (e *Engine) History(filter HistoryFilter) ([]*HistoryEntry, error) {
	filter.UserID = e.userID
	if e.store != nil {
		entries, err := e.store.ListHistory(filter)
		if err == nil {
			return entries, nil
		}
		log.Printf("[Engine] History store read failed for user %s, using session copy: %v", e.userID, err)
	}
	return e.history.ListHistory(filter)
}

// Subscribe creates a new event stream subscriber
func (e *Engine) Subscribe(subscriberID string) chan Event {
	e.subscribersMu.Lock()
	defer e.subscribersMu.Unlock()

	ch := make(chan Event, 16)
	e.subscribers[subscriberID] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel
func (e *Engine) Unsubscribe(subscriberID string) {
	e.subscribersMu.Lock()
	defer e.subscribersMu.Unlock()

	if ch, exists := e.subscribers[subscriberID]; exists {
		close(ch)
		delete(e.subscribers, subscriberID)
	}
}

// broadcast sends an event to all subscribers without blocking
func (e *Engine) broadcast(event Event) {
	e.subscribersMu.RLock()
	defer e.subscribersMu.RUnlock()

	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}

// MemoryHistory is an in-memory HistoryStore. The engine keeps one as the
// session-authoritative copy; tests use it directly.
type MemoryHistory struct {
	mu      sync.RWMutex
	entries []*HistoryEntry
}

// NewMemoryHistory creates an empty in-memory history store
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// AppendHistory appends an entry
func (m *MemoryHistory) AppendHistory(entry *HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryHistory) append(entry *HistoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Recent returns up to limit entries, newest first
func (m *MemoryHistory) Recent(limit int) []*HistoryEntry {
	entries, _ := m.ListHistory(HistoryFilter{Limit: limit})
	return entries
}

// ListHistory returns entries newest-first by ResponseTime, filtered by
// response and paginated by limit/offset.
func (m *MemoryHistory) ListHistory(filter HistoryFilter) ([]*HistoryEntry, error) {
	m.mu.RLock()
	matched := make([]*HistoryEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		if filter.Response != "" && entry.UserResponse != filter.Response {
			continue
		}
		matched = append(matched, entry)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ResponseTime.After(matched[j].ResponseTime)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*HistoryEntry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

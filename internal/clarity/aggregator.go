package clarity

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Subscription is an explicit handle on a change-notification feed, owned by
// whichever component created it.
type Subscription interface {
	Unsubscribe()
}

// Source is the upstream metrics boundary. Fetch returns the current raw
// metrics, Refresh forces upstream recomputation, and Subscribe delivers
// "something changed" signals with no payload guarantees.
type Source interface {
	Fetch(ctx context.Context, userID string) (*Metrics, error)
	Refresh(ctx context.Context, userID string) (*Metrics, error)
	Subscribe(userID string, onChange func()) (Subscription, error)
}

// ScoreStore persists the last published score so trend derivation survives
// restarts. Optional.
type ScoreStore interface {
	LastClarityScore(userID string) (int, bool, error)
	SaveClarityScore(userID string, score int, at time.Time) error
}

const (
	// subscribeRetryDelay paces reconnect attempts after a failed or
	// dropped change subscription
	subscribeRetryDelay = 15 * time.Second
)

// Aggregator combines the upstream metrics into the single clarity score and
// its trend. A new score is computed fully before it is published, so
// readers never observe a partial update.
type Aggregator struct {
	mu      sync.RWMutex
	userID  string
	source  Source
	store   ScoreStore
	current *Metrics
	prior   int
	hasPrior bool

	sub    Subscription
	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithScoreStore attaches a durable score store for cross-restart trends
func WithScoreStore(store ScoreStore) AggregatorOption {
	return func(a *Aggregator) { a.store = store }
}

// WithAggregatorClock injects a time source
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator for one user, seeding the prior score
// from the store when one is available.
func NewAggregator(userID string, source Source, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		userID: userID,
		source: source,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.store != nil {
		if score, ok, err := a.store.LastClarityScore(userID); err != nil {
			log.Printf("[Clarity] Failed to load prior score for user %s: %v", userID, err)
		} else if ok {
			a.prior = score
			a.hasPrior = true
		}
	}
	return a
}

// Get returns the last published metrics, fetching when none are cached yet
func (a *Aggregator) Get(ctx context.Context) (*Metrics, error) {
	a.mu.RLock()
	if a.current != nil {
		current := *a.current
		a.mu.RUnlock()
		return &current, nil
	}
	a.mu.RUnlock()
	return a.pull(ctx, a.source.Fetch)
}

// Refresh forces recomputation from the freshest upstream inputs
func (a *Aggregator) Refresh(ctx context.Context) (*Metrics, error) {
	return a.pull(ctx, a.source.Refresh)
}

// pull fetches raw metrics, computes the score and trend fully, and only
// then swaps the published value under the lock.
func (a *Aggregator) pull(ctx context.Context, fetch func(context.Context, string) (*Metrics, error)) (*Metrics, error) {
	raw, err := fetch(ctx, a.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch clarity metrics: %w", err)
	}

	computed := *raw
	computed.OverallClarityScore = Compute(computed)
	computed.Timestamp = a.now()

	a.mu.Lock()
	if a.hasPrior {
		computed.Trend = TrendOf(computed.OverallClarityScore, a.prior)
	} else {
		computed.Trend = TrendStable
	}
	a.current = &computed
	a.prior = computed.OverallClarityScore
	a.hasPrior = true
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.SaveClarityScore(a.userID, computed.OverallClarityScore, computed.Timestamp); err != nil {
			log.Printf("[Clarity] Failed to persist score for user %s: %v", a.userID, err)
		}
	}

	result := computed
	return &result, nil
}

// Start subscribes to the upstream change feed and re-pulls on every
// notification. Subscription failures are isolated and retried; they never
// propagate to the caller or stop anything else.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		for {
			sub, err := a.source.Subscribe(a.userID, func() {
				pullCtx, pullCancel := context.WithTimeout(ctx, 10*time.Second)
				if _, err := a.pull(pullCtx, a.source.Fetch); err != nil {
					log.Printf("[Clarity] Re-pull after change notification failed for user %s: %v", a.userID, err)
				}
				pullCancel()
			})
			if err != nil {
				log.Printf("[Clarity] Subscribe failed for user %s, retrying: %v", a.userID, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(subscribeRetryDelay):
					continue
				}
			}

			a.mu.Lock()
			a.sub = sub
			a.mu.Unlock()

			<-ctx.Done()
			sub.Unsubscribe()
			return
		}
	}()
}

// Stop unsubscribes and halts the change-feed loop
func (a *Aggregator) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
	a.cancel = nil
}

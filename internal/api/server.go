package api

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/jordanhubbard/momentum/internal/cache"
	"github.com/jordanhubbard/momentum/internal/clarity"
	"github.com/jordanhubbard/momentum/internal/config"
	"github.com/jordanhubbard/momentum/internal/database"
	"github.com/jordanhubbard/momentum/internal/emotion"
	"github.com/jordanhubbard/momentum/internal/flow"
	"github.com/jordanhubbard/momentum/internal/nudge"
	"github.com/jordanhubbard/momentum/internal/preferences"
	"github.com/jordanhubbard/momentum/internal/session"
)

// Server exposes the nudge engine, preference store, and clarity dashboard
// over HTTP/JSON plus an SSE event stream.
type Server struct {
	cfg      *config.Config
	db       *database.Database
	sessions *session.Manager
	metrics  cache.Cache

	mu       sync.Mutex
	runtimes map[string]*runtime

	rootCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
}

// runtime is the per-user wiring: preference store, simulator, generator,
// engine, and clarity aggregator, owned and torn down as one unit.
type runtime struct {
	userID string
	prefs  *preferences.Store
	sim    *emotion.Simulator
	flows  flow.Provider
	engine *nudge.Engine
	source *clarity.SimulatedSource
	agg    *clarity.Aggregator
}

// NewServer wires a server from its dependencies
func NewServer(cfg *config.Config, db *database.Database, sessions *session.Manager, metrics cache.Cache) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		db:       db,
		sessions: sessions,
		metrics:  metrics,
		runtimes: make(map[string]*runtime),
		rootCtx:  ctx,
		cancel:   cancel,
	}
}

// routes builds the request mux
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.HandleFunc("GET /api/preferences", s.handleGetPreferences)
	mux.HandleFunc("POST /api/preferences/frequency", s.handleSetFrequency)
	mux.HandleFunc("POST /api/preferences/channels/toggle", s.handleToggleChannel)
	mux.HandleFunc("POST /api/preferences/quiet-hours", s.handleSetQuietHours)
	mux.HandleFunc("POST /api/preferences/integrations/toggle", s.handleToggleIntegration)

	mux.HandleFunc("GET /api/nudges/active", s.handleActiveNudge)
	mux.HandleFunc("POST /api/nudges/trigger", s.handleTriggerNudge)
	mux.HandleFunc("POST /api/nudges/accept", s.handleAcceptNudge)
	mux.HandleFunc("POST /api/nudges/dismiss", s.handleDismissNudge)
	mux.HandleFunc("POST /api/nudges/snooze", s.handleSnoozeNudge)
	mux.HandleFunc("POST /api/nudges/mute", s.handleMute)
	mux.HandleFunc("GET /api/nudges/history", s.handleHistory)

	mux.HandleFunc("GET /api/clarity", s.handleClarity)
	mux.HandleFunc("POST /api/clarity/refresh", s.handleClarityRefresh)

	mux.HandleFunc("GET /api/emotion", s.handleEmotion)

	mux.HandleFunc("GET /api/stream", s.handleStream)

	return mux
}

// Start begins serving and blocks until the listener fails or Shutdown runs
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.routes(),
	}
	log.Printf("[Server] Listening on %s", s.cfg.ListenAddr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP listener and tears down every user runtime. The
// scheduler and simulator of each runtime stop together so no orphaned timer
// keeps mutating state.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	runtimes := make([]*runtime, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		runtimes = append(runtimes, rt)
	}
	s.runtimes = make(map[string]*runtime)
	s.mu.Unlock()

	for _, rt := range runtimes {
		rt.stop()
	}

	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// runtimeFor returns the runtime for the session's user, creating and
// starting it on first use. Anonymous sessions get nil; callers respond
// with empty/default state.
func (s *Server) runtimeFor(sess *session.Session) *runtime {
	userID := sess.CurrentUserID()
	if userID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, exists := s.runtimes[userID]; exists {
		return rt
	}

	rt := s.buildRuntime(userID)
	rt.start(s.rootCtx)
	s.runtimes[userID] = rt
	return rt
}

func (s *Server) buildRuntime(userID string) *runtime {
	prefs := preferences.NewStore(userID, s.db)
	sim := emotion.NewSimulator(emotion.WithInterval(s.cfg.SimInterval()))
	flows := flow.NewSampleProvider()
	gen := nudge.NewTemplateGenerator()

	engine := nudge.NewEngine(userID, prefs, gen, sim, flows,
		nudge.WithTickInterval(s.cfg.TickInterval()),
		nudge.WithHistoryStore(s.db),
	)

	source := clarity.NewSimulatedSource(sim, flows, nil)
	agg := clarity.NewAggregator(userID, source, clarity.WithScoreStore(s.db))

	return &runtime{
		userID: userID,
		prefs:  prefs,
		sim:    sim,
		flows:  flows,
		engine: engine,
		source: source,
		agg:    agg,
	}
}

// start launches the timers as one scoped unit
func (rt *runtime) start(ctx context.Context) {
	rt.sim.Start(ctx)
	rt.engine.Start(ctx)
	rt.agg.Start(ctx)
	log.Printf("[Server] Started runtime for user %s", rt.userID)
}

// stop halts every timer the runtime owns
func (rt *runtime) stop() {
	rt.engine.Stop()
	rt.sim.Stop()
	rt.agg.Stop()
	log.Printf("[Server] Stopped runtime for user %s", rt.userID)
}

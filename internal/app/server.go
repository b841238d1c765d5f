// Package app wires every slimclaw package into one running process:
// config loading, the optimization pipeline, the sidecar HTTP listener,
// and the background loops (pricing refresh, log retention, tsdb
// maintenance, heartbeat).
//
// Grounded on the teacher's internal/app package (NewServer/Reload/Close
// lifecycle, background goroutines signaled by close(chan struct{}),
// auto-unlocking the vault from an environment password) but the
// dependency graph itself is new: the teacher's router.Engine/apikey/
// httpapi stack is replaced by orchestrator/sidecar/routing/budget/abtest.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/evansantos/slimclaw/internal/abtest"
	"github.com/evansantos/slimclaw/internal/async"
	"github.com/evansantos/slimclaw/internal/budget"
	"github.com/evansantos/slimclaw/internal/caching"
	"github.com/evansantos/slimclaw/internal/circuitbreaker"
	"github.com/evansantos/slimclaw/internal/events"
	"github.com/evansantos/slimclaw/internal/forwarder"
	"github.com/evansantos/slimclaw/internal/idempotency"
	"github.com/evansantos/slimclaw/internal/latency"
	"github.com/evansantos/slimclaw/internal/logging"
	"github.com/evansantos/slimclaw/internal/metrics"
	"github.com/evansantos/slimclaw/internal/orchestrator"
	"github.com/evansantos/slimclaw/internal/pricing"
	"github.com/evansantos/slimclaw/internal/ratelimit"
	"github.com/evansantos/slimclaw/internal/routing"
	"github.com/evansantos/slimclaw/internal/sidecar"
	"github.com/evansantos/slimclaw/internal/stats"
	"github.com/evansantos/slimclaw/internal/store"
	"github.com/evansantos/slimclaw/internal/tier"
	"github.com/evansantos/slimclaw/internal/tracing"
	"github.com/evansantos/slimclaw/internal/tsdb"
	"github.com/evansantos/slimclaw/internal/vault"
	"github.com/evansantos/slimclaw/internal/windowing"
)

// Server owns every long-lived dependency the sidecar handlers call into,
// plus the background loops that keep pricing and logs fresh.
type Server struct {
	cfg Config

	mu      sync.RWMutex
	orchCfg orchestrator.Config // swapped atomically by Reload (SIGHUP)

	logger *slog.Logger

	vault     *vault.Vault
	credStore *vault.CredentialStore
	store     store.Store

	metrics  *metrics.Registry
	eventBus *events.Bus
	stats    *stats.Collector
	latency  *latency.Tracker

	budget       *budget.Tracker
	abtestMgr    *abtest.Manager
	pricingTable *pricing.Table
	router       *routing.Router
	orchestrator *orchestrator.Orchestrator

	forwarder   *forwarder.Forwarder
	rateLimiter *ratelimit.Limiter

	breaker      *circuitbreaker.Breaker
	asyncManager *async.Manager // nil when Temporal disabled
	recorder     *async.Recorder

	tsdbStore   *tsdb.Store
	idempoCache *idempotency.Cache // nil when idempotency caching disabled

	sidecar *sidecar.Server

	otelShutdown  func(context.Context) error // nil when OTel disabled
	pricingCancel context.CancelFunc

	stopLogPrune  chan struct{}
	stopTSDB      chan struct{}
	stopHeartbeat chan struct{}
}

// NewServer builds the full dependency graph and starts every background
// loop, but does not bind the sidecar's listener — call Start for that.
func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	otelShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	if cfg.OTelEnabled {
		logger.Info("opentelemetry tracing enabled",
			slog.String("endpoint", cfg.OTelEndpoint),
			slog.String("service", cfg.OTelServiceName),
		)
	}

	m := metrics.New()

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	v, err := vault.New(cfg.VaultEnabled)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if salt, data, err := db.LoadVaultBlob(context.Background()); err == nil && salt != nil {
		v.SetSalt(salt)
		logger.Info("restored vault salt from database")
		if data != nil {
			_ = v.Import(data)
			logger.Info("restored vault credentials", slog.Int("keys", len(data)))
		}
	}
	if cfg.VaultPassword != "" && cfg.VaultEnabled {
		logger.Warn("SLIMCLAW_VAULT_PASSWORD is set: vault password is visible in the process environment — prefer a secrets manager in production")
		if err := v.Unlock([]byte(cfg.VaultPassword)); err != nil {
			logger.Error("failed to auto-unlock vault from SLIMCLAW_VAULT_PASSWORD", slog.String("error", err.Error()))
		} else {
			logger.Info("vault auto-unlocked from SLIMCLAW_VAULT_PASSWORD")
			if salt := v.Salt(); salt != nil {
				if err := db.SaveVaultBlob(context.Background(), salt, v.Export()); err != nil {
					logger.Warn("failed to persist vault blob after auto-unlock", slog.String("error", err.Error()))
				}
			}
		}
	}
	credStore := vault.NewCredentialStore(v)
	loadCredentialsFile(cfg.CredentialsFile, credStore, logger)

	bus := events.NewBus()
	sc := stats.NewCollector()
	seedStatsFromDB(sc, db, logger)
	lt := latency.New(latency.DefaultConfig())

	bt := budget.New()
	abMgr := abtest.New()
	pricingTable := pricing.NewTable(nil, pricing.DefaultTierRates())
	rt := routing.NewRouter(bt, abMgr, pricingTable, lt, logger)
	orch := orchestrator.New(rt, pricingTable, m, bus, logger)

	timeout := time.Duration(cfg.ProviderTimeoutSecs) * time.Second
	httpClient := &http.Client{Timeout: timeout}
	fwd := forwarder.New(httpClient, credStore, timeout)

	rl := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.RateLimitedTotal))

	breaker := circuitbreaker.New(
		circuitbreaker.WithThreshold(3),
		circuitbreaker.WithCooldown(30*time.Second),
		circuitbreaker.WithOnStateChange(func(from, to circuitbreaker.State) {
			logger.Warn("async recorder circuit breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}),
	)
	fallbackActs := &async.Activities{Budget: bt, AB: abMgr}

	tsdbStore, err := tsdb.New(db.DB())
	if err != nil {
		logger.Warn("failed to initialize tsdb store, trend queries disabled", slog.String("error", err.Error()))
	} else {
		tsdbStore.SetRetention(time.Duration(cfg.TSDBRetentionHours) * time.Hour)
	}

	var idempoCache *idempotency.Cache
	if cfg.IdempotencyEnabled {
		idempoCache = idempotency.New(time.Duration(cfg.IdempotencyTTLSecs)*time.Second, cfg.IdempotencyMaxEntries)
	}

	s := &Server{
		cfg:           cfg,
		orchCfg:       buildOrchestratorConfig(cfg),
		logger:        logger,
		vault:         v,
		credStore:     credStore,
		store:         db,
		metrics:       m,
		eventBus:      bus,
		stats:         sc,
		latency:       lt,
		budget:        bt,
		abtestMgr:     abMgr,
		pricingTable:  pricingTable,
		router:        rt,
		orchestrator:  orch,
		forwarder:     fwd,
		rateLimiter:   rl,
		breaker:       breaker,
		tsdbStore:     tsdbStore,
		idempoCache:   idempoCache,
		otelShutdown:  otelShutdown,
		stopLogPrune:  make(chan struct{}),
		stopTSDB:      make(chan struct{}),
		stopHeartbeat: make(chan struct{}),
	}

	var asyncManager *async.Manager
	if cfg.TemporalEnabled {
		mgr, err := async.New(async.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, fallbackActs)
		if err != nil {
			logger.Error("failed to initialize async workflow engine", slog.String("error", err.Error()))
		} else if err := mgr.Start(); err != nil {
			logger.Error("failed to start async worker", slog.String("error", err.Error()))
			mgr.Stop()
		} else {
			asyncManager = mgr
			m.TemporalUp.Set(1)
			logger.Info("async outcome-recording workflow engine started",
				slog.String("host", cfg.TemporalHostPort),
				slog.String("namespace", cfg.TemporalNamespace),
				slog.String("task_queue", cfg.TemporalTaskQueue),
			)
		}
	}
	s.asyncManager = asyncManager
	s.recorder = async.NewRecorder(asyncManager, breaker, fallbackActs, m)

	sideDeps := sidecar.Dependencies{
		Orchestrator: orch,
		Forwarder:    fwd,
		Config:       s.OrchestratorConfig,
		Pricing:      pricingTable,
		Metrics:      m,
		Store:        db,
		Stats:        sc,
		Latency:      lt,
		Recorder:     s.recorder,
		RateLimiter:  rl,
		CORSOrigins:  cfg.CORSOrigins,
		Logger:       logger,
		TSDB:         tsdbStore,
		Idempotency:  idempoCache,
	}
	s.sidecar = sidecar.New(sideDeps)

	if cfg.PricingRefreshEnabled {
		ctx, cancel := context.WithCancel(context.Background())
		s.pricingCancel = cancel
		go pricingTable.RefreshLoop(ctx, time.Duration(cfg.PricingRefreshIntervalSecs)*time.Second, logger)
	}
	go s.logPruneLoop()
	if s.tsdbStore != nil {
		go s.tsdbMaintenanceLoop()
	}
	go s.heartbeatLoop()

	return s, nil
}

// Start binds the sidecar's listener and begins serving chat-completion
// traffic. It returns the bound address (useful when ListenAddr is ":0").
func (s *Server) Start() (string, error) {
	return s.sidecar.Start(s.cfg.ListenAddr)
}

// OrchestratorConfig returns the live orchestrator config. It is the
// sidecar.Dependencies.Config getter, read fresh on every request so a
// Reload takes effect without restarting the listener.
func (s *Server) OrchestratorConfig() orchestrator.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orchCfg
}

// Reload swaps the hot-reloadable fields of Config in place (§4.16 SIGHUP
// handling): windowing, routing, and caching behavior, plus rate limits
// and log level. The listen address is fixed for the process lifetime —
// changing it requires a restart.
func (s *Server) Reload(cfg Config) {
	s.mu.Lock()
	s.orchCfg = buildOrchestratorConfig(cfg)
	s.mu.Unlock()

	s.rateLimiter.UpdateLimits(cfg.RateLimitRPS, cfg.RateLimitBurst)
	logging.SetLevel(cfg.LogLevel)
	s.cfg = cfg

	s.logger.Info("configuration reloaded",
		slog.String("mode", cfg.Mode),
		slog.Bool("windowing_enabled", cfg.Windowing.Enabled),
		slog.Bool("routing_enabled", cfg.Routing.Enabled),
		slog.Bool("caching_enabled", cfg.Caching.Enabled),
		slog.Int("rate_limit_rps", cfg.RateLimitRPS),
		slog.String("log_level", cfg.LogLevel),
	)
}

// Close drains in-flight requests, stops every background loop, and
// releases the store. Order matters: the sidecar listener is drained
// first so no new work is enqueued into the loops and queues stopped
// after it.
func (s *Server) Close() error {
	drainSecs := s.cfg.ShutdownDrainSecs
	if drainSecs <= 0 {
		drainSecs = 30
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), time.Duration(drainSecs)*time.Second)
	defer cancel()
	if err := s.sidecar.Stop(drainCtx); err != nil {
		s.logger.Warn("sidecar drain error", slog.String("error", err.Error()))
	}

	if s.pricingCancel != nil {
		s.pricingCancel()
	}
	close(s.stopLogPrune)
	close(s.stopHeartbeat)
	if s.tsdbStore != nil {
		close(s.stopTSDB)
		s.tsdbStore.Flush()
	}
	if s.idempoCache != nil {
		s.idempoCache.Stop()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.asyncManager != nil {
		s.asyncManager.Stop()
	}
	if s.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.otelShutdown(ctx); err != nil {
			s.logger.Warn("otel shutdown error", slog.String("error", err.Error()))
		}
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Server) logPruneLoop() {
	const retention = 90 * 24 * time.Hour
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			deleted, err := s.store.PruneOldLogs(ctx, retention)
			cancel()
			if err != nil {
				s.logger.Warn("log prune failed", slog.String("error", err.Error()))
			} else if deleted > 0 {
				s.logger.Info("old logs pruned", slog.Int64("deleted", deleted))
			}
		case <-s.stopLogPrune:
			return
		}
	}
}

// tsdbMaintenanceLoop periodically flushes buffered points to disk and
// prunes data past the configured retention window.
func (s *Server) tsdbMaintenanceLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tsdbStore.Flush()
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			deleted, err := s.tsdbStore.Prune(ctx)
			cancel()
			if err != nil {
				s.logger.Warn("tsdb prune failed", slog.String("error", err.Error()))
			} else if deleted > 0 {
				s.logger.Info("tsdb points pruned", slog.Int64("deleted", deleted))
			}
		case <-s.stopTSDB:
			return
		}
	}
}

// heartbeatLoop publishes a periodic event so external monitors can alert
// if the stream stops, which would indicate a hung process.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.eventBus.Publish(events.Event{Type: events.EventActivityCompleted, Activity: "heartbeat"})
		case <-s.stopHeartbeat:
			return
		}
	}
}

// seedStatsFromDB loads recent request logs so the stats collector isn't
// empty after a restart.
func seedStatsFromDB(sc *stats.Collector, db store.Store, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logs, err := db.ListRequestLogs(ctx, 5000, 0)
	if err != nil {
		logger.Warn("failed to seed stats from DB", slog.String("error", err.Error()))
		return
	}
	if len(logs) == 0 {
		return
	}
	snapshots := make([]stats.Snapshot, 0, len(logs))
	for _, l := range logs {
		snapshots = append(snapshots, stats.Snapshot{
			Timestamp:  l.Timestamp,
			ModelID:    l.TargetModel,
			ProviderID: l.ProviderID,
			LatencyMs:  float64(l.LatencyMs),
			CostUSD:    l.CostUSD,
			Success:    l.StatusCode < 500,
		})
	}
	sc.Seed(snapshots)
	logger.Info("seeded stats from DB", slog.Int("snapshots", len(snapshots)))
}

// buildOrchestratorConfig converts the env-facing Config into the
// immutable record the orchestrator consults on every request.
func buildOrchestratorConfig(cfg Config) orchestrator.Config {
	return orchestrator.Config{
		Enabled: cfg.Mode != "disabled",
		Mode:    orchestrator.Mode(cfg.Mode),
		Windowing: windowing.Config{
			Enabled:            cfg.Windowing.Enabled,
			MaxMessages:        cfg.Windowing.MaxMessages,
			MaxTokens:          cfg.Windowing.MaxTokens,
			SummarizeThreshold: cfg.Windowing.SummarizeThreshold,
		},
		Routing: buildRoutingConfig(cfg.Routing),
		Caching: caching.Config{
			Enabled:           cfg.Caching.Enabled,
			InjectBreakpoints: cfg.Caching.InjectBreakpoints,
			MinContentLength:  cfg.Caching.MinContentLength,
		},
	}
}

func buildRoutingConfig(rc RoutingConfig) routing.Config {
	tiers := make(map[tier.Tier]string, len(rc.Tiers))
	for name, model := range rc.Tiers {
		if t, ok := tier.Parse(name); ok {
			tiers[t] = model
		}
	}
	pinned := make(map[string]struct{}, len(rc.PinnedModels))
	for _, model := range rc.PinnedModels {
		pinned[model] = struct{}{}
	}
	fastCandidates := make(map[tier.Tier][]string, len(rc.FastCandidates))
	for name, candidates := range rc.FastCandidates {
		if t, ok := tier.Parse(name); ok {
			fastCandidates[t] = candidates
		}
	}
	return routing.Config{
		Enabled:           rc.Enabled,
		AllowDowngrade:    rc.AllowDowngrade,
		PinnedModels:      pinned,
		MinConfidence:     rc.MinConfidence,
		Tiers:             tiers,
		TierProviders:     rc.TierProviders,
		ReasoningBudget:   rc.ReasoningBudget,
		OpenRouterHeaders: rc.OpenRouterHeaders,
		BudgetWindowMs:    rc.BudgetWindowMs,
		BudgetCeiling:     rc.BudgetCeiling,
		FastCandidates:    fastCandidates,
	}
}

// loadCredentialsFile reads an operator-supplied JSON file of provider
// base URLs and API keys into the vault, the same owner-only-permissions
// discipline the teacher enforces before trusting a credentials file on
// disk (§6 "Credentials file").
func loadCredentialsFile(path string, credStore *vault.CredentialStore, logger *slog.Logger) {
	if path == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		logger.Warn("credentials file stat error", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		logger.Warn("credentials file has insecure permissions, skipping",
			slog.String("path", path),
			slog.String("mode", fmt.Sprintf("%04o", mode)),
			slog.String("required", "0600 or stricter"),
		)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read credentials file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	type credEntry struct {
		Provider string `json:"provider"`
		BaseURL  string `json:"base_url"`
		APIKey   string `json:"api_key"`
	}
	type credFile struct {
		Providers []credEntry `json:"providers"`
	}
	var creds credFile
	if err := json.Unmarshal(data, &creds); err != nil {
		logger.Warn("failed to parse credentials file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	loaded := 0
	for _, p := range creds.Providers {
		if p.Provider == "" || p.BaseURL == "" || p.APIKey == "" {
			continue
		}
		if err := credStore.SetCredentials(p.Provider, forwarder.Credentials{BaseURL: p.BaseURL, APIKey: p.APIKey}); err != nil {
			logger.Warn("failed to store credentials", slog.String("provider", p.Provider), slog.String("error", err.Error()))
			continue
		}
		loaded++
	}
	if loaded > 0 {
		logger.Info("loaded provider credentials from file", slog.String("path", path), slog.Int("providers", loaded))
	}
}

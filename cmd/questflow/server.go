package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/questflow/api"
	"github.com/BaSui01/questflow/config"
	"github.com/BaSui01/questflow/engine"
	"github.com/BaSui01/questflow/internal/metrics"
	"github.com/BaSui01/questflow/internal/server"
	"github.com/BaSui01/questflow/llm"
	"github.com/BaSui01/questflow/llm/providers/openaicompat"
	"github.com/BaSui01/questflow/llm/tokenizer"
	"github.com/BaSui01/questflow/memory"
	"github.com/BaSui01/questflow/persistence"
	"github.com/BaSui01/questflow/types"
)

// ====== engine stack ======

// engineStack bundles everything a session needs: the provider, the
// event bus, metrics, and the persistence backends.
type engineStack struct {
	cfg       *config.Config
	logger    *zap.Logger
	provider  llm.Provider
	counter   types.Tokenizer
	bus       engine.EventBus
	registry  *prometheus.Registry
	collector *metrics.Collector

	store      persistence.Store
	fileStore  *persistence.FileStore
	ckpts      *persistence.Manager
	transcript *persistence.TranscriptWriter
	forks      *persistence.ForkManager

	redisClient *redis.Client
}

func buildEngineStack(cfg *config.Config, logger *zap.Logger) (*engineStack, error) {
	provider, err := buildProvider(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	s := &engineStack{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		counter:   tokenizer.NewCounter(cfg.LLM.DMModel, logger),
		bus:       engine.NewEventBus(logger),
		registry:  registry,
		collector: metrics.NewCollector("questflow", registry, logger),
	}

	switch cfg.Persistence.Backend {
	case "redis":
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Persistence.Redis.Addr,
			Password:     cfg.Persistence.Redis.Password,
			DB:           cfg.Persistence.Redis.DB,
			PoolSize:     cfg.Persistence.Redis.PoolSize,
			MinIdleConns: cfg.Persistence.Redis.MinIdleConns,
		})
		s.store = persistence.NewRedisStore(s.redisClient,
			cfg.Persistence.Redis.KeyPrefix, cfg.Persistence.Redis.TTL, logger)
	default:
		s.fileStore = persistence.NewFileStore(cfg.Persistence.Root, logger)
		s.store = s.fileStore
		s.transcript = persistence.NewTranscriptWriter(s.fileStore, logger)
		s.forks = persistence.NewForkManager(s.fileStore, logger)
	}
	s.ckpts = persistence.NewManager(s.store, logger)

	return s, nil
}

// NewOrchestrator assembles a per-session orchestrator with DM and PC
// handlers for the given party.
func (s *engineStack) NewOrchestrator(pcs []string) *engine.Orchestrator {
	comp := memory.NewCompressor(s.provider, s.cfg.LLM.PCModel, s.logger)
	ctxMgr := memory.NewContextManager(comp, s.counter, s.logger)

	o := engine.NewOrchestrator(ctxMgr, s.logger).
		WithCombat(engine.NewCombatController(s.cfg.Game.InitiativeSeed, s.bus, s.logger)).
		WithCheckpoints(s.ckpts).
		WithEventBus(s.bus).
		WithMetrics(s.collector)
	if s.transcript != nil {
		o.WithTranscript(s.transcript)
	}

	o.RegisterHandler(engine.NewDMHandler(s.provider, s.cfg.LLM.DMModel, s.logger))
	for _, pc := range pcs {
		o.RegisterHandler(engine.NewPCHandler(pc, s.provider, s.cfg.LLM.PCModel, s.logger))
	}
	return o
}

func (s *engineStack) autopilotConfig(maxRounds int) engine.AutopilotConfig {
	if maxRounds <= 0 {
		maxRounds = s.cfg.Autopilot.MaxRounds
	}
	return engine.AutopilotConfig{
		MaxRounds:       maxRounds,
		MaxRetries:      s.cfg.Autopilot.MaxRetries,
		InitialBackoff:  s.cfg.Autopilot.InitialBackoff,
		RoundsPerSecond: s.cfg.Autopilot.RoundsPerSecond,
	}
}

func (s *engineStack) Close() {
	s.bus.Stop()
	if s.redisClient != nil {
		s.redisClient.Close()
	}
}

// buildProvider maps the configured provider onto a chat backend.
// Anthropic is reached through its OpenAI-compatible endpoint.
func buildProvider(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaicompat.New(openaicompat.Config{
			Name:    "openai",
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.DMModel,
			Timeout: cfg.Timeout,
		}, logger)
	case "anthropic":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.anthropic.com/v1"
		}
		return openaicompat.New(openaicompat.Config{
			Name:    "anthropic",
			BaseURL: baseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.DMModel,
			Timeout: cfg.Timeout,
		}, logger)
	case "scripted":
		// Offline demo mode: a canned campaign loop, no API key needed.
		p := llm.NewScriptedProvider("scripted",
			llm.Reply("The road bends into mist; something moves ahead."),
			llm.Reply("I draw my blade and step forward."),
			llm.Reply("A lone traveler emerges, hands raised in peace."),
			llm.Reply("I lower my weapon and ask their name."),
		)
		p.LoopReplies = true
		return p, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// ====== API server ======

// Server hosts the REST API, the websocket stream, and the Prometheus
// endpoint.
type Server struct {
	cfg         *config.Config
	logger      *zap.Logger
	stack       *engineStack
	sessions    *engine.SessionManager
	broadcaster *server.Broadcaster
	apiSrv      *server.Manager
	metricsSrv  *server.Manager
	cancel      context.CancelFunc
}

// NewServer wires the full serving stack from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	stack, err := buildEngineStack(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sessions := engine.NewSessionManager(ctx, logger)
	broadcaster := server.NewBroadcaster(stack.bus, logger)

	launcher := func(req *api.SessionRequest) error {
		state, serr := types.NewGameState(req.SessionID, req.PlayerCharacters, types.GameConfig{
			TokenLimit:      cfg.Game.TokenLimit,
			CombatEnabled:   cfg.Game.CombatEnabled,
			MaxCombatRounds: cfg.Game.MaxCombatRounds,
		})
		if serr != nil {
			return serr
		}
		ap := engine.NewAutopilot(stack.NewOrchestrator(req.PlayerCharacters),
			stack.autopilotConfig(req.MaxRounds), logger)
		return sessions.Start(state, ap)
	}
	resumer := func(sessionID, action string) error {
		state, ok := sessions.State(sessionID)
		if !ok {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("session %q is not managed", sessionID))
		}
		ap := engine.NewAutopilot(stack.NewOrchestrator(state.PlayerCharacters()),
			stack.autopilotConfig(0), logger)
		return sessions.Resume(sessionID, action, ap)
	}

	handlers := server.NewHandlers(sessions, stack.forks, broadcaster, logger).
		WithLauncher(launcher).
		WithResumer(resumer)

	apiHandler := Chain(handlers.Router(),
		Recovery(logger),
		RequestLogger(logger),
		RateLimiter(ctx, 100, 200, logger),
	)

	apiCfg := server.DefaultConfig()
	apiCfg.Addr = fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	apiCfg.ReadTimeout = cfg.Server.ReadTimeout
	apiCfg.WriteTimeout = cfg.Server.WriteTimeout
	apiCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(stack.registry, promhttp.HandlerOpts{}))
	metricsCfg := server.DefaultConfig()
	metricsCfg.Addr = fmt.Sprintf(":%d", cfg.Server.MetricsPort)

	return &Server{
		cfg:         cfg,
		logger:      logger,
		stack:       stack,
		sessions:    sessions,
		broadcaster: broadcaster,
		apiSrv:      server.NewManager(apiHandler, apiCfg, logger),
		metricsSrv:  server.NewManager(metricsMux, metricsCfg, logger),
		cancel:      cancel,
	}, nil
}

// Start brings up both listeners.
func (s *Server) Start() error {
	if err := s.apiSrv.Start(); err != nil {
		return err
	}
	if err := s.metricsSrv.Start(); err != nil {
		s.apiSrv.Shutdown(context.Background())
		return err
	}
	s.logger.Info("questflow serving",
		zap.String("api_addr", s.apiSrv.Addr()),
		zap.String("metrics_addr", s.metricsSrv.Addr()),
		zap.String("persistence", s.cfg.Persistence.Backend),
	)
	return nil
}

// WaitForShutdown blocks until a signal, then drains everything.
func (s *Server) WaitForShutdown() {
	s.apiSrv.WaitForShutdown()
	s.Shutdown(context.Background())
}

// Shutdown stops sessions at their round boundaries and closes both
// listeners.
func (s *Server) Shutdown(ctx context.Context) {
	s.sessions.StopAll()
	if err := s.sessions.Wait(); err != nil {
		s.logger.Warn("session drain failed", zap.Error(err))
	}
	s.cancel()
	s.broadcaster.Close()
	s.metricsSrv.Shutdown(ctx)
	s.apiSrv.Shutdown(ctx)
	s.stack.Close()

	// Give in-flight event goroutines a moment to finish logging.
	time.Sleep(50 * time.Millisecond)
}

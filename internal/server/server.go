package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"batchgate/internal/cache"
	"batchgate/internal/config"
	"batchgate/internal/model"
	"batchgate/internal/plugin"
	"batchgate/internal/service"
	"batchgate/internal/ws"
)

// Server represents the main server
type Server struct {
	cfg           *config.Config
	cache         cache.Cache
	predictor     *model.Predictor
	pluginManager *plugin.PluginManager
	registry      *service.Registry
	executor      *service.Executor
	wsHandler     *ws.Handler
	rpcServer     *http.Server
	wsServer      *http.Server
	rpcListener   net.Listener
	wsListener    net.Listener
	group         *errgroup.Group
	stopStats     chan struct{}
	stopOnce      sync.Once
	logger        zerolog.Logger
}

// New creates a new Server
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	// Create cache based on config
	var rpcCache cache.Cache
	var policy *cache.Policy
	if cfg.IsCacheEnabled() {
		var err error
		rpcCache, err = cache.NewMemoryCache(cfg.Cache.Size, cfg.Cache.GetTTLDuration())
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		policy = cache.NewPolicy(cfg.Cache.DisabledMethods)

		if len(cfg.Cache.DisabledMethods) > 0 {
			logger.Info().
				Strs("disabledMethods", cfg.Cache.DisabledMethods).
				Msg("cache disabled for specific methods")
		}
		logger.Info().
			Int("size", cfg.Cache.Size).
			Int("ttl", cfg.Cache.TTL).
			Msg("cache enabled")
	} else {
		rpcCache = cache.NewNoopCache()
		logger.Info().Msg("cache disabled")
	}

	predictor, err := model.New(model.Config{
		Workers:    cfg.Model.Workers,
		Iterations: cfg.Model.Iterations,
	}, logger)
	if err != nil {
		rpcCache.Close()
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	// Create plugin manager based on config
	var pluginMgr *plugin.PluginManager
	var plugins plugin.Manager
	if cfg.IsPluginsEnabled() {
		pluginMgr = plugin.NewPluginManager(logger)
		pluginMgr.SetTimeout(cfg.GetPluginTimeoutDuration())

		if err := pluginMgr.LoadFromDirectory(cfg.GetPluginDirectory()); err != nil {
			rpcCache.Close()
			return nil, fmt.Errorf("failed to load plugins: %w", err)
		}
		plugins = pluginMgr

		methods := pluginMgr.GetMethods()
		if len(methods) > 0 {
			logger.Info().
				Strs("methods", methods).
				Str("directory", cfg.GetPluginDirectory()).
				Msg("plugins enabled")
		} else {
			logger.Info().
				Str("directory", cfg.GetPluginDirectory()).
				Msg("plugins enabled but no plugins loaded")
		}
	} else {
		logger.Info().Msg("plugins disabled")
	}

	registry, err := service.Build(cfg, predictor, plugins, logger)
	if err != nil {
		if pluginMgr != nil {
			pluginMgr.Close()
		}
		rpcCache.Close()
		return nil, fmt.Errorf("failed to build methods: %w", err)
	}

	executor := service.NewExecutor(registry, rpcCache, policy, cfg.GetRequestTimeoutDuration(), logger)

	return &Server{
		cfg:           cfg,
		cache:         rpcCache,
		predictor:     predictor,
		pluginManager: pluginMgr,
		registry:      registry,
		executor:      executor,
		wsHandler:     ws.NewHandler(executor, cfg.MaxBodySize, logger),
		stopStats:     make(chan struct{}),
		logger:        logger,
	}, nil
}

// Start binds both listeners and serves them in the background.
// Wait returns once both servers have stopped.
func (s *Server) Start() error {
	rpcAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.RPCPort)
	wsAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.WSPort)

	rpcListener, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", rpcAddr, err)
	}
	wsListener, err := net.Listen("tcp", wsAddr)
	if err != nil {
		rpcListener.Close()
		return fmt.Errorf("failed to listen on %s: %w", wsAddr, err)
	}
	s.rpcListener = rpcListener
	s.wsListener = wsListener

	s.rpcServer = &http.Server{
		Handler:      service.NewHandler(s.executor, s.cfg.MaxBodySize, s.logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.wsServer = &http.Server{
		Handler:     s.wsHandler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.group = &errgroup.Group{}
	s.group.Go(func() error {
		s.logger.Info().
			Str("addr", rpcListener.Addr().String()).
			Msg("starting RPC server")
		return serve(s.rpcServer, rpcListener)
	})
	s.group.Go(func() error {
		s.logger.Info().
			Str("addr", wsListener.Addr().String()).
			Msg("starting WebSocket server")
		return serve(s.wsServer, wsListener)
	})
	if interval := s.cfg.GetStatsLogIntervalDuration(); interval > 0 {
		s.group.Go(func() error {
			s.statsLoop(interval)
			return nil
		})
	}

	for _, name := range s.registry.Names() {
		s.logger.Info().
			Str("method", name).
			Str("rpc", fmt.Sprintf("http://%s/", rpcListener.Addr())).
			Str("ws", fmt.Sprintf("ws://%s/", wsListener.Addr())).
			Msg("endpoint available")
	}

	return nil
}

// serve runs srv on l until it is shut down
func serve(srv *http.Server, l net.Listener) error {
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Wait blocks until both servers have stopped and returns the first
// serve error
func (s *Server) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// statsLoop logs a stats snapshot every interval until Stop
func (s *Server) statsLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopStats:
			return
		case <-ticker.C:
			s.logStats()
		}
	}
}

// logStats logs the current counters
func (s *Server) logStats() {
	requests := s.executor.Stats()
	conns := s.wsHandler.Stats()
	s.logger.Info().
		Uint64("requests", requests.Requests).
		Uint64("failures", requests.Failures).
		Uint64("cacheHits", requests.CacheHits).
		Int64("wsConnections", conns.Connections).
		Uint64("modelBatches", s.predictor.Batches()).
		Uint64("modelRows", s.predictor.Evaluated()).
		Msg("stats")

	for name, stats := range s.registry.Stats() {
		s.logger.Info().
			Str("method", name).
			Int("queuedCalls", stats.Batcher.QueuedCalls).
			Int("queuedRows", stats.Batcher.QueuedRows).
			Int("liveBatches", stats.Batcher.LiveBatches).
			Uint64("dispatched", stats.Batcher.Dispatched).
			Int("inFlight", stats.InFlight).
			Uint64("rejected", stats.Rejected).
			Msg("method stats")
	}
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	s.stopOnce.Do(func() { close(s.stopStats) })

	// Dispatch open batches so that waiting callers are answered before
	// the listeners go away
	if s.cfg.FlushOnShutdown {
		s.registry.Flush(ctx)
	}

	var rpcErr, wsErr error
	if s.rpcServer != nil {
		rpcErr = s.rpcServer.Shutdown(ctx)
	}
	if s.wsServer != nil {
		wsErr = s.wsServer.Shutdown(ctx)
		s.wsHandler.CloseAll()
	}
	waitErr := s.Wait()

	if s.pluginManager != nil {
		s.pluginManager.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}

	if rpcErr != nil {
		return fmt.Errorf("RPC server shutdown error: %w", rpcErr)
	}
	if wsErr != nil {
		return fmt.Errorf("WebSocket server shutdown error: %w", wsErr)
	}
	if waitErr != nil {
		return fmt.Errorf("server error: %w", waitErr)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}

// RPCAddr returns the address the HTTP listener is bound to
func (s *Server) RPCAddr() string {
	if s.rpcListener == nil {
		return ""
	}
	return s.rpcListener.Addr().String()
}

// WSAddr returns the address the WebSocket listener is bound to
func (s *Server) WSAddr() string {
	if s.wsListener == nil {
		return ""
	}
	return s.wsListener.Addr().String()
}

// Registry returns the method registry
func (s *Server) Registry() *service.Registry {
	return s.registry
}

package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Bldg-7/clawdash/internal/config"
	"github.com/Bldg-7/clawdash/internal/remote"
	"go.uber.org/zap"
)

// Server wires the cache, syncer, event hub and HTTP API together and owns
// their lifecycle.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	registry  *GatewayRegistry
	syncer    *Syncer
	hub       *EventHub
	scheduler *AutoSyncScheduler
	httpAPI   *HTTPAPI

	httpShutdown func(ctx context.Context) error
	addr         net.Addr
}

// NewServer builds every component from cfg on top of an already migrated db.
func NewServer(cfg *config.Config, db *sql.DB, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	metrics := InitMetrics()

	registry, err := NewGatewayRegistry(db, cfg.Registry.CacheSize, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	hub := NewEventHub(ctx, cfg.Server.AuthToken, cfg.Server.AllowedOrigins, logger)
	hub.SetMetrics(metrics)

	healthOpts := []HealthOption{
		WithEventPublisher(hub),
		WithHealthMetrics(metrics),
		WithMinVersion(cfg.Remote.MinVersion),
	}
	if cfg.Notify.Discord.BotToken != "" {
		notifier, err := NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("configure discord notifier: %w", err)
		}
		healthOpts = append(healthOpts, WithStatusNotifier(notifier))
	}
	health := NewHealthTracker(registry, logger, healthOpts...)

	client := remote.NewClient(
		time.Duration(cfg.Remote.RequestTimeoutSec)*time.Second,
		logger,
		remote.WithMaxBodyBytes(cfg.Remote.MaxBodyBytes),
	)
	syncer := NewSyncer(registry, client, NewReconciler(db, logger), health, logger,
		WithSyncEvents(hub),
		WithSyncMetrics(metrics),
		WithHistoryLimit(cfg.Sync.HistoryLimit),
	)

	api := NewHTTPAPI(registry, NewCache(db), syncer, health, db, cfg.Server.AuthToken, logger)
	api.SetProxyClient(client)
	api.SetHub(hub)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		registry: registry,
		syncer:   syncer,
		hub:      hub,
		httpAPI:  api,
	}

	if cfg.Sync.AutoSyncCron != "" {
		scheduler, err := NewAutoSyncScheduler(syncer, cfg.Sync.AutoSyncCron, logger)
		if err != nil {
			cancel()
			return nil, err
		}
		s.scheduler = scheduler
	}

	return s, nil
}

// Start binds the HTTP port and starts background goroutines.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	addr := fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Server.HTTPPort, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	httpSrv := &http.Server{
		Handler:      s.httpAPI.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http api server starting", zap.String("addr", listener.Addr().String()))
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http api server error", zap.Error(err))
		}
	}()
	s.httpShutdown = httpSrv.Shutdown
	s.addr = listener.Addr()

	if s.scheduler != nil {
		s.scheduler.Start()
	}

	s.running = true
	s.logger.Info("clawdash started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// Stop shuts down HTTP, waits for a running auto sync, then stops the hub.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("server is not running")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if s.httpShutdown != nil {
		if err := s.httpShutdown(shutdownCtx); err != nil {
			s.logger.Error("http api shutdown error", zap.Error(err))
		}
	}
	if s.scheduler != nil {
		s.scheduler.Stop(shutdownCtx)
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("clawdash shutdown complete")
	case <-shutdownCtx.Done():
		s.logger.Warn("clawdash shutdown timeout exceeded")
	}

	s.running = false
	return nil
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr is the bound listen address, useful when the configured port is 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

func (s *Server) EventClients() int {
	return s.hub.ClientCount()
}

func (s *Server) Syncer() *Syncer {
	return s.syncer
}

func (s *Server) Registry() *GatewayRegistry {
	return s.registry
}

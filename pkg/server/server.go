// Package server exposes the orchestrator over HTTP: planning and recovery
// endpoints for the notebook extension, chat with SSE streaming, Gemini key
// management, session lifecycle, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lks21c/hdsp-agent/pkg/config"
	"github.com/lks21c/hdsp-agent/pkg/knowledge"
	"github.com/lks21c/hdsp-agent/pkg/llms"
	"github.com/lks21c/hdsp-agent/pkg/memory"
	"github.com/lks21c/hdsp-agent/pkg/orchestrator"
	"github.com/lks21c/hdsp-agent/pkg/session"
)

// packageCacheTTL bounds how often "pip list" is shelled out.
const packageCacheTTL = 60 * time.Second

// Server is the HDSP agent HTTP server.
type Server struct {
	mu         sync.RWMutex
	cfg        *config.Config
	provider   llms.Provider
	orch       *orchestrator.Orchestrator
	sessions   *session.Store
	kb         *knowledge.Base
	configPath string
	version    string

	metrics *Metrics
	server  *http.Server

	// Installed-package discovery is expensive; concurrent callers share one
	// invocation and the result is cached for a short window.
	pkgGroup  singleflight.Group
	pkgMu     sync.Mutex
	pkgCache  []string
	pkgExpiry time.Time
	listPkgs  func(ctx context.Context) []string
}

// Option configures the server.
type Option func(*Server)

// WithConfigPath enables config persistence for the /config and /keys
// endpoints. Without it, changes apply in memory only.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// withPackageLister overrides installed-package discovery in tests.
func withPackageLister(fn func(ctx context.Context) []string) Option {
	return func(s *Server) { s.listPkgs = fn }
}

// New creates a server from configuration. The LLM provider and orchestrator
// are built from cfg; both are rebuilt on config changes.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		sessions: session.NewStore(cfg.Session.StoragePath),
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}

	if err := s.rebuild(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuild constructs the provider and orchestrator for a configuration.
// Callers must hold s.mu or be inside New.
func (s *Server) rebuild(cfg *config.Config) error {
	provider, err := llms.New(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}

	if s.provider != nil {
		_ = s.provider.Close()
	}
	s.provider = provider
	s.cfg = cfg

	s.kb = nil
	if cfg.Knowledge.GuidesDir != "" {
		s.kb = knowledge.NewBase(cfg.Knowledge.GuidesDir)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithSessionStore(s.sessions),
		orchestrator.WithCondenser(newCondenser(cfg)),
		orchestrator.WithInstalledPackages(s.installedPackages),
	}
	if s.kb != nil {
		orchOpts = append(orchOpts, orchestrator.WithKnowledgeBase(s.kb))
	}
	s.orch = orchestrator.New(cfg, provider, orchOpts...)
	return nil
}

// newCondenser builds the context condenser for a configuration, with exact
// token counting when the model's tokenizer is available and the word
// heuristic otherwise.
func newCondenser(cfg *config.Config) *memory.Condenser {
	var opts []memory.Option
	if tc, err := memory.NewTokenCounter(cfg.LLM.Model); err == nil {
		opts = append(opts, memory.WithTokenCounter(tc))
	} else {
		slog.Debug("Token counter unavailable, using word heuristic",
			"model", cfg.LLM.Model, "error", err)
	}
	return memory.NewCondenser(string(cfg.LLM.Provider), opts...)
}

// ApplyConfig swaps in a new configuration, rebuilding the provider and
// orchestrator. Used by the config endpoint and the file watcher.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rebuild(cfg); err != nil {
		return err
	}
	slog.Info("Configuration applied", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	return nil
}

// Config returns the current configuration.
func (s *Server) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Start runs the HTTP server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.RLock()
	addr := s.cfg.Server.Address()
	s.mu.RUnlock()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

// installedPackages returns the cached pip package list, refreshing it at most
// once per TTL regardless of concurrent callers.
func (s *Server) installedPackages(ctx context.Context) []string {
	s.pkgMu.Lock()
	if time.Now().Before(s.pkgExpiry) {
		cached := s.pkgCache
		s.pkgMu.Unlock()
		return cached
	}
	s.pkgMu.Unlock()

	result, _, _ := s.pkgGroup.Do("pip-list", func() (any, error) {
		var packages []string
		if s.listPkgs != nil {
			packages = s.listPkgs(ctx)
		} else {
			packages = orchestrator.InstalledPackages(ctx)
		}

		s.pkgMu.Lock()
		s.pkgCache = packages
		s.pkgExpiry = time.Now().Add(packageCacheTTL)
		s.pkgMu.Unlock()
		return packages, nil
	})

	packages, _ := result.([]string)
	return packages
}

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"gitgate/gateway/internal/audit"
	"gitgate/gateway/internal/auth/memstore"
	"gitgate/gateway/internal/config"
	"gitgate/gateway/internal/engine"
	"gitgate/gateway/internal/gitexec"
	handler "gitgate/gateway/internal/handlers"
	"gitgate/gateway/internal/middleware"
	"gitgate/gateway/internal/policy"
	"gitgate/gateway/internal/ratelimit"
	"gitgate/gateway/internal/service"
	"gitgate/gateway/internal/visibility"
	"gitgate/gateway/internal/worktree"
)

// Run assembles the gateway from the explicit config and serves until
// the context is cancelled or a termination signal arrives.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditStore, err := audit.NewSQLiteStore(filepath.Join(cfg.DataDir, "audit.db"))
	if err != nil {
		return err
	}
	defer auditStore.Close()

	oracle := newOracle(cfg, logger)
	prov := worktree.NewProvisioner(
		worktree.NewBuilder(cfg.DataDir), gitexec.NewRunner(), oracle, logger)

	store, err := memstore.Open(
		filepath.Join(cfg.DataDir, "sessions.json"),
		func(ctx context.Context, sessionID string) {
			if err := prov.Reclaim(ctx, sessionID); err != nil {
				logger.Error("worktree reclaim failed", "session", sessionID, "error", err)
			}
		},
		logger,
	)
	if err != nil {
		return err
	}
	defer store.Close()

	// Crash recovery: drop any worktrees whose session no longer exists.
	live := make(map[string]bool)
	for _, sess := range store.Snapshot() {
		live[sess.ID] = true
	}
	if err := prov.CleanupOrphans(ctx, live); err != nil {
		return err
	}

	store.StartSweep(cfg.SweepInterval)

	pol := &policy.Engine{DefaultMode: policy.Mode(cfg.DefaultMode), Strict: cfg.Strict}
	eng := engine.New(gitexec.NewRunner(), cfg.GitTimeout, logger)
	srvc := service.NewService(cfg, store, prov, oracle, eng, pol, auditStore, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	initRoutes(router, cfg, store, auditStore, srvc, logger)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr, "strict", cfg.Strict)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func initRoutes(router *gin.Engine, cfg *config.Config, store *memstore.MemStore,
	auditStore audit.Store, srvc *service.Service, logger *slog.Logger) {
	routerGrp := router.Group("")

	adminGrp := routerGrp.Group("/api/v1/admin")
	sessionGrp := routerGrp.Group("/api/v1/session")

	admin := middleware.NewAdmin(cfg.AdminToken, auditStore, logger)
	adminGrp.Use(admin.Authenticator())

	failLimiter := ratelimit.New(cfg.RateLimits.LookupFail.Max, cfg.RateLimits.LookupFail.Window)
	heartbeatLimiter := ratelimit.New(cfg.RateLimits.Heartbeat.Max, cfg.RateLimits.Heartbeat.Window)
	authenticator := middleware.NewAuthenticator(store, failLimiter, heartbeatLimiter, auditStore, logger)

	hndlr := handler.NewHandler(srvc, logger)
	hndlr.RegisterRoutes(adminGrp, sessionGrp, authenticator)
}

func newOracle(cfg *config.Config, logger *slog.Logger) visibility.Oracle {
	if cfg.Provider.BaseURL != "" {
		return visibility.NewProviderOracle(cfg.Provider.BaseURL, cfg.Provider.Token, cfg.Provider.Timeout)
	}
	// No provider configured: every lookup fails, which fails closed.
	logger.Warn("no visibility provider configured; all lookups will fail closed")
	return &visibility.StaticOracle{}
}

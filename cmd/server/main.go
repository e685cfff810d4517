package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pharmacy-favorites-sync/internal/api"
	"pharmacy-favorites-sync/internal/config"
	"pharmacy-favorites-sync/internal/database"
	"pharmacy-favorites-sync/internal/logger"
	"pharmacy-favorites-sync/internal/remote"
	"pharmacy-favorites-sync/internal/store"
	"pharmacy-favorites-sync/internal/sync"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "favorites-sync",
		Short:         "Favorites sync service for the pharmacy marketplace",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	return cmd
}

func run(configPath string) error {
	// Load Config
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	logger.Log.Info("Starting favorites sync service")

	service := remote.NewHTTPService(cfg.Remote.BaseURL, remote.StaticToken(cfg.Remote.Token), cfg.Remote.GetTimeout())

	var (
		opts       []sync.Option
		stateStore store.Store
	)
	if cfg.StateStorage.Type != "none" {
		db, err := database.Open(cfg.StateStorage)
		if err != nil {
			return fmt.Errorf("failed to init state store: %w", err)
		}
		stateStore = store.NewSQLStore(db)
		defer stateStore.Close()
		opts = append(opts, sync.WithHistory(sync.NewHistory(stateStore)))
	}

	engine := sync.NewEngine(service, opts...)

	reconciler := sync.NewReconciler(engine, cfg.Sync.ReconcileQueue)
	reconciler.Start()
	defer reconciler.Stop()

	ctx := context.Background()
	var persister *sync.Persister
	if stateStore != nil && cfg.Sync.PersistSnapshots {
		persister = sync.NewPersister(engine, stateStore, cfg.Remote.UserID)
		if cfg.Sync.WarmStart {
			if _, err := persister.Restore(ctx); err != nil {
				logger.Log.Warn("Warm start failed", zap.Error(err))
			}
		}
		persister.Start()
		defer persister.Stop()
	}

	// Authenticated start: load once, authoritative over any warm-start snapshot.
	if cfg.Remote.Token != "" {
		if _, err := engine.FetchAll(ctx, true); err != nil {
			logger.Log.Warn("Initial fetch interrupted", zap.Error(err))
		}
		if st := engine.Status(); st.Error != "" {
			logger.Log.Warn("Initial fetch failed", zap.String("error", st.Error))
		}
	}

	scheduler := sync.NewScheduler(cfg.Scheduler, engine, cfg.Remote.GetTimeout())
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer scheduler.Stop()

	// Init API
	handler := api.NewHandler(engine, persister, cfg.Server)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

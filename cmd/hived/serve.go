package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/hived/internal/board"
	"github.com/fyrsmithlabs/hived/internal/config"
	"github.com/fyrsmithlabs/hived/internal/http"
	"github.com/fyrsmithlabs/hived/internal/logging"
	"github.com/fyrsmithlabs/hived/internal/retriever"
	"github.com/fyrsmithlabs/hived/internal/store"
	"github.com/fyrsmithlabs/hived/internal/weights"
)

const sweepInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the aggregation daemon",
	Long: `Start the signal board, memory store, retriever and weight manager,
and serve the HTTP API until interrupted.

A store failure at startup is not fatal: hived degrades to an in-memory
board with neutral weights and no history.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// Durable store, tolerated failure: everything downstream accepts a
	// nil store and runs in-memory.
	var st *store.Store
	if !cfg.Persistence.StoreEnabled() {
		logger.Info("persistence disabled by configuration, running in-memory only")
	} else {
		st, err = store.Open(cfg.Persistence.Path, cfg.Persistence.BusyTimeout, logger)
		if err == nil {
			err = st.Migrate(ctx, cfg.AgentIDs())
		}
		if err != nil {
			logger.Warn("store unavailable, running without persistence", zap.Error(err))
			st = nil
		}
	}

	sessionID := store.NewSessionID("serve", time.Now())
	logger.Info("starting hived",
		zap.String("session_id", sessionID),
		zap.Bool("persistence", st != nil),
		zap.Strings("agents", cfg.AgentIDs()))

	opts := []board.Option{board.WithDimensions(cfg.Dimensions())}
	if st != nil {
		opts = append(opts, board.WithPersistence(st, sessionID, cfg.Persistence.QueryTimeout))
	}
	b := board.New(cfg.Board, logger, opts...)
	defer b.Close() //nolint:errcheck

	var (
		ret *retriever.Retriever
		wm  *weights.Manager
	)
	if st != nil {
		ret = retriever.New(st, cfg.Memory, cfg.Retriever, cfg.Persistence.QueryTimeout, logger)
		wm = weights.New(st, cfg.Weights, cfg.AgentIDs(), cfg.Persistence.QueryTimeout, logger)
	}

	srv, err := newServer(b, ret, wm, st, cfg, logger)
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Sweep()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	if st != nil {
		if err := st.Close(); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}
	logger.Info("hived stopped")
	return nil
}

// newServer wires the nilable components into the HTTP server without
// handing it typed-nil interfaces.
func newServer(b *board.Board, ret *retriever.Retriever, wm *weights.Manager, st *store.Store, cfg *config.Config, logger *zap.Logger) (*http.Server, error) {
	var (
		sim http.Similarity
		ws  http.WeightSource
		mem http.MemoryReader
	)
	if ret != nil {
		sim = ret
	}
	if wm != nil {
		ws = wm
	}
	if st != nil {
		mem = st
	}
	return http.NewServer(b, sim, ws, mem, cfg.Server, logger)
}

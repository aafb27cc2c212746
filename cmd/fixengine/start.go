package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/fixline/engine/internal/fixconfig"
	"github.com/fixline/engine/internal/logger"
	"github.com/fixline/engine/internal/logstore"
	"github.com/fixline/engine/internal/registry"
)

// openStore picks one persistence target for the whole engine: the first
// session's configured persistence-path, since the fix_log table is
// already keyed by session-id and a single file serves every session's
// replay needs. A run with no persistence-path configured anywhere
// disables the log entirely.
func openStore(cfg *fixconfig.EngineConfig) (logstore.LogStore, error) {
	for _, s := range cfg.Sessions {
		if s.PersistencePath != "" {
			store, err := logstore.Open(s.PersistencePath)
			if err != nil {
				return nil, fmt.Errorf("open log store %s: %w", s.PersistencePath, err)
			}
			return store, nil
		}
	}
	return logstore.NullStore{}, nil
}

// startCmd runs the engine until interrupted: signal.NotifyContext for
// Ctrl-C, an error channel raced against ctx.Done for the serve loop, and
// a graceful shutdown path.
func startCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Load the configured sessions and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := fixconfig.NewManager(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer mgr.Close()

			engineCfg := mgr.Current()
			if err := logger.Init(engineCfg.LogLevel, engineCfg.LogFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := openStore(engineCfg)
			if err != nil {
				return err
			}
			if closer, ok := store.(interface{ Close() error }); ok {
				defer closer.Close()
			}

			eng, err := registry.NewEngine([]fixconfig.SessionConfig(engineCfg.Sessions), store)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if err := eng.Start(ctx); err != nil {
				return fmt.Errorf("start engine: %w", err)
			}
			logger.Info("fixengine: started", "sessions", len(engineCfg.Sessions))

			errCh := make(chan error, 1)
			go func() { errCh <- eng.Wait() }()

			select {
			case <-ctx.Done():
				logger.Info("fixengine: shutting down")
				return eng.Stop(context.Background())
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "fixengine.yaml", "path to the engine YAML configuration")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/linedrive-go/internal/config"
)

var flagPIDFile string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long: `Run the HTTP server that receives LINE webhooks and OAuth consent callbacks.

The first SIGINT or SIGTERM stops accepting requests and waits up to
server.shutdown_timeout for in-flight uploads; a second one exits at once.
Fanout settings are reloaded when the config file changes or on SIGHUP
(see "linedrive reload").`,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "listen address, overrides server.listen")
	cmd.Flags().StringVar(&flagPIDFile, "pid-file", "", "PID file path (default: in the data directory)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	if err := config.ValidateServe(cfg); err != nil {
		return err
	}

	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	if pidPath := pidFilePath(); pidPath != "" {
		cleanup, err := writePIDFile(pidPath)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	a, err := newApp(ctx, cfg, defaultHTTPClient(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	startReload(ctx, a, cliOverrides(cmd), logger)

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- a.server.ListenAndServe(ctx)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeoutDuration())
	defer cancel()

	shutdownErr := a.server.Shutdown(shutdownCtx)

	if err := <-serveErr; err != nil {
		return err
	}

	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}

	logger.Info("server stopped")

	return nil
}

// startReload keeps the fanout settings in step with the config file, both
// on file change and on SIGHUP. Invalid edits leave the running settings
// alone.
func startReload(ctx context.Context, a *app, cli config.CLIOverrides, logger *slog.Logger) {
	env := config.ReadEnvOverrides()
	holder := config.NewHolder(resolvedCfg, resolvedPath)

	onSIGHUP(ctx, logger, func() {
		cfg, err := config.Reload(holder.Path(), env, cli)
		if err != nil {
			logger.Warn("config reload failed, keeping current settings",
				slog.String("error", err.Error()),
			)

			return
		}

		holder.Update(cfg)
		a.applyConfig(cfg)
	})

	if resolvedPath == "" {
		return
	}

	if _, err := os.Stat(resolvedPath); errors.Is(err, os.ErrNotExist) {
		logger.Debug("no config file, not watching", slog.String("path", resolvedPath))
		return
	}

	go func() {
		if err := config.Watch(ctx, holder, env, cli, a.applyConfig, logger); err != nil {
			logger.Warn("config watcher stopped", slog.String("error", err.Error()))
		}
	}()
}

func pidFilePath() string {
	if flagPIDFile != "" {
		return flagPIDFile
	}

	return config.DefaultPIDPath()
}

func newReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask a running server to reload its config",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := sendSIGHUP(pidFilePath()); err != nil {
				return err
			}

			statusf(flagQuiet, "Reload signal sent.\n")

			return nil
		},
	}

	cmd.Flags().StringVar(&flagPIDFile, "pid-file", "", "PID file of the running server")

	return cmd
}

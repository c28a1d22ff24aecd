package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"repairbot/internal/config"
	"repairbot/internal/logging"
	"repairbot/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves the chat, streaming, history and usage endpoints.

The config file is watched while serving; a changed logging.level takes
effect without a restart. Other settings need a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := serverOptions(cfg)
	if serveAddr != "" {
		opts.Addr = serveAddr
	}
	srv := server.NewServer(opts, a.chat)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	watcher, err := config.NewWatcher(configPath, applyReload)
	if err != nil {
		logging.Get(logging.CategoryBoot).Warnw("config hot reload disabled", "error", err)
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	return g.Wait()
}

func serverOptions(c *config.Config) server.Options {
	return server.Options{
		Addr:           c.Server.Addr,
		BypassAuth:     c.Server.BypassAuth,
		DefaultOwner:   c.Server.DefaultOwner,
		AllowedOrigins: c.Server.AllowedOrigins,
		ReadTimeout:    c.GetReadTimeout(),
	}
}

// applyReload takes the parts of a reloaded config that are safe to change
// while serving.
func applyReload(next *config.Config) {
	log := logging.Get(logging.CategoryBoot)
	if verbose {
		log.Debugw("config reloaded; --verbose keeps debug level")
		return
	}
	if err := logging.SetLevel(next.Logging.Level); err != nil {
		log.Warnw("ignoring reloaded log level", "error", err)
		return
	}
	log.Infow("log level updated", "level", logging.Level())
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vibestyler/internal/agent"
	"vibestyler/internal/config"
	"vibestyler/internal/logging"
)

const shutdownTimeout = 30 * time.Second

var serveOpen []string

// serveCmd drives a browser over the NDJSON message protocol on stdio.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the message protocol on stdin/stdout",
	Long: `Connects to (or launches) Chrome, then reads one JSON message per line
from stdin and writes replies and FINAL_STATUS broadcasts to stdout.

Active styles are re-applied whenever a tracked tab finishes loading.

Example:
  vibestyler serve --open https://example.com
  {"type":"APPLY_STYLES","prompt":"dark mode","tabId":"<id>"}`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveOpen, "open", nil, "Open a tab at this URL (repeatable)")
}

type tabOpened struct {
	Type  string      `json:"type"`
	TabID agent.TabID `json:"tabId"`
	URL   string      `json:"url"`
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if err := a.host.Start(ctx); err != nil {
		_ = a.Close(ctx)
		return err
	}

	session := newStdioSession(a.coord, cmd.OutOrStdout(), logger)
	for _, u := range serveOpen {
		tab, err := a.host.Open(ctx, u)
		if err != nil {
			logger.Warn("open tab failed", zap.String("url", u), zap.Error(err))
			continue
		}
		session.write(tabOpened{Type: "TAB_OPENED", TabID: tab, URL: u})
	}

	outcomes, unsubscribe := a.coord.Broadcaster().Subscribe()
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		session.Forward(outcomes)
	}()

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	g, gctx := errgroup.WithContext(serveCtx)

	g.Go(func() error {
		defer stopServing()
		return session.Serve(gctx, cmd.InOrStdin())
	})
	g.Go(func() error {
		return a.reconciler.Run(gctx, a.host.Navigations())
	})
	if _, err := os.Stat(configPath); err == nil {
		w, err := config.NewWatcher(configPath, logger)
		if err != nil {
			logger.Warn("config watch unavailable", zap.Error(err))
		} else {
			g.Go(func() error { return w.Run(gctx, reloadLogging) })
		}
	}
	if addr := cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutCtx)
		})
	}

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	closeCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	closeErr := a.Close(closeCtx)
	unsubscribe()
	<-forwarded

	return errors.Join(runErr, closeErr)
}

// reloadLogging applies a reloaded log level. --verbose keeps debug.
func reloadLogging(c *config.Config) {
	level := c.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := logging.SetLevel(level); err != nil {
		logger.Warn("log level not changed", zap.Error(err))
		return
	}
	logger.Info("log level applied", zap.String("level", level))
}

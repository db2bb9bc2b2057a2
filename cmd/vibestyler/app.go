package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"vibestyler/internal/browser"
	"vibestyler/internal/config"
	"vibestyler/internal/credential"
	"vibestyler/internal/generator"
	"vibestyler/internal/kv"
	"vibestyler/internal/logging"
	"vibestyler/internal/metrics"
	"vibestyler/internal/pipeline"
	"vibestyler/internal/reconciler"
	"vibestyler/internal/styles"
)

// app holds the wired components for one command invocation. The browser
// host is created but not started; commands that need a page call Start.
type app struct {
	kv         kv.Store
	styles     *styles.Store
	creds      *credential.Store
	host       *browser.Host
	metrics    *metrics.Metrics
	coord      *pipeline.Coordinator
	reconciler *reconciler.Reconciler
}

func newApp(c *config.Config) (*app, error) {
	if c.Storage.Driver == config.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(c.Storage.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	backend, err := kv.Open(kv.Options{
		Driver:     c.Storage.Driver,
		SQLitePath: c.Storage.SQLitePath,
		Redis: kv.RedisConfig{
			Addr:     c.Storage.RedisAddr,
			Password: c.Storage.RedisPassword,
			DB:       c.Storage.RedisDB,
			Prefix:   c.Storage.RedisPrefix,
		},
		Logger: logging.Get(logging.CategoryStore),
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{
		kv:      backend,
		styles:  styles.New(backend),
		creds:   credential.New(backend, c.Generator.APIKey),
		metrics: metrics.New(),
	}
	a.host = browser.NewHost(browser.Config{
		DebuggerURL:         c.Browser.DebuggerURL,
		Launch:              c.Browser.Launch,
		Headless:            c.Browser.Headless,
		NavigationTimeoutMs: int(c.GetNavigationTimeout().Milliseconds()),
	}, nil)
	gen := generator.NewGemini(generator.Config{
		Model:       c.Generator.Model,
		BaseURL:     c.Generator.BaseURL,
		APIVersion:  c.Generator.APIVersion,
		Timeout:     c.GetGeneratorTimeout(),
		MinInterval: c.GetGeneratorMinInterval(),
	}, a.creds, nil)
	a.coord = pipeline.NewCoordinator(a.styles, a.host, gen, pipeline.WithMetrics(a.metrics))
	a.reconciler = reconciler.New(a.styles, a.host,
		reconciler.WithSettleDelay(c.GetSettleDelay()),
		reconciler.WithMetrics(a.metrics),
	)
	return a, nil
}

// Close waits for running applies, then releases the browser and storage.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.coord.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for running applies: %w", err))
	}
	if err := a.host.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := a.kv.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		logging.Get(logging.CategoryBoot).Warn("shutdown incomplete", zap.Errors("errors", errs))
	}
	return errors.Join(errs...)
}

// Package reconciler reapplies a site's active style when one of its pages
// finishes loading. Failures are logged and never reported to a front end.
package reconciler

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"vibestyler/internal/agent"
	"vibestyler/internal/logging"
	"vibestyler/internal/metrics"
	"vibestyler/internal/styles"
)

// DefaultSettleDelay is the pause between agent install and injection.
const DefaultSettleDelay = 100 * time.Millisecond

// Result values recorded per navigation.
const (
	ResultApplied = "applied"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// Reconciler watches navigations and reinjects active styles.
type Reconciler struct {
	store   *styles.Store
	host    agent.Host
	settle  time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSettleDelay sets the pause after install. Zero disables it; the
// host's ready acknowledgment is what correctness relies on.
func WithSettleDelay(d time.Duration) Option {
	return func(r *Reconciler) { r.settle = d }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithLogger sets the reconciler logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New creates a Reconciler.
func New(store *styles.Store, host agent.Host, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, host: host, settle: DefaultSettleDelay}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Or(r.logger, logging.CategoryReconciler)
	return r
}

// Eligible reports whether nav is a top-level load of an http or https
// document.
func Eligible(nav agent.Navigation) bool {
	if !nav.TopLevel {
		return false
	}
	u, err := url.Parse(nav.URL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Run handles navigations until navs is closed or ctx is done. Each
// navigation is handled in its own goroutine; Run returns after they finish.
func (r *Reconciler) Run(ctx context.Context, navs <-chan agent.Navigation) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case nav, ok := <-navs:
			if !ok {
				return nil
			}
			if !Eligible(nav) {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Handle(ctx, nav)
			}()
		}
	}
}

// Handle reapplies the active style for nav and returns the result.
func (r *Reconciler) Handle(ctx context.Context, nav agent.Navigation) string {
	result := r.handle(ctx, nav)
	r.metrics.Reapply(result)
	return result
}

func (r *Reconciler) handle(ctx context.Context, nav agent.Navigation) string {
	if !Eligible(nav) {
		return ResultSkipped
	}
	logger := r.logger.With(zap.String("tab", string(nav.Tab)), zap.String("origin", nav.URL))

	entry, err := r.store.GetSite(ctx, nav.URL)
	if err != nil {
		logger.Warn("read saved styles failed", zap.Error(err))
		return ResultFailed
	}
	rec, ok := entry.Active()
	if !ok {
		logger.Debug("no active style")
		return ResultSkipped
	}

	agent.EnsurePresent(ctx, r.host, nav.Tab, logger)
	if r.settle > 0 {
		t := time.NewTimer(r.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return ResultFailed
		case <-t.C:
		}
	}
	if err := agent.RequestInject(ctx, r.host, nav.Tab, rec.CSS); err != nil {
		logger.Warn("reapply failed", zap.Int64("style_id", rec.ID), zap.Error(err))
		return ResultFailed
	}
	logger.Info("style reapplied", zap.Int64("style_id", rec.ID))
	return ResultApplied
}

// Package pipeline is the request coordinator: it turns front-end intents
// into store mutations and page updates and reports one Outcome per intent.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vibestyler/internal/agent"
	"vibestyler/internal/generator"
	"vibestyler/internal/logging"
	"vibestyler/internal/metrics"
	"vibestyler/internal/styles"
)

// AckReceived is the immediate reply to a dispatched Apply.
const AckReceived = "Received prompt. Processing..."

// Coordinator runs intents against a style store, a page host and a
// generator. It is safe for concurrent use. Runs for the same origin are
// linearized by the store; runs for different origins proceed in parallel.
type Coordinator struct {
	store   *styles.Store
	host    agent.Host
	gen     generator.Generator
	bus     *Broadcaster
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBroadcaster sets where Apply outcomes are published.
func WithBroadcaster(b *Broadcaster) Option {
	return func(c *Coordinator) { c.bus = b }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator.
func NewCoordinator(store *styles.Store, host agent.Host, gen generator.Generator, opts ...Option) *Coordinator {
	c := &Coordinator{store: store, host: host, gen: gen}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = NewBroadcaster(16)
	}
	c.logger = logging.Or(c.logger, logging.CategoryPipeline)
	return c
}

// Broadcaster returns the outcome broadcaster.
func (c *Coordinator) Broadcaster() *Broadcaster { return c.bus }

// Dispatch routes in to its handler. Apply runs in the background and is
// acknowledged at once; its Outcome is published on the broadcaster. Every
// other intent runs to completion and its Outcome is returned.
func (c *Coordinator) Dispatch(ctx context.Context, in Intent) Reply {
	switch v := in.(type) {
	case Apply:
		return c.dispatchApply(ctx, v)
	case SetActive:
		o := c.SetActive(ctx, v)
		return Reply{Outcome: &o}
	case ClearActive:
		o := c.ClearActive(ctx, v)
		return Reply{Outcome: &o}
	case DeleteSite:
		o := c.DeleteSite(ctx, v)
		return Reply{Outcome: &o}
	case DeleteAll:
		o := c.DeleteAll(ctx)
		return Reply{Outcome: &o}
	case Revert:
		o := c.Revert(ctx, v)
		return Reply{Outcome: &o}
	default:
		o := c.reject(newIntentID(), "", fmt.Errorf("unsupported intent %T", in))
		return Reply{Outcome: &o}
	}
}

func (c *Coordinator) dispatchApply(ctx context.Context, a Apply) Reply {
	id := newIntentID()
	if a.Tab == "" {
		o := c.reject(id, IntentApply, ErrMissingTab)
		c.bus.Publish(o)
		return Reply{Status: "Error: Missing Tab ID", Outcome: &o}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		o := c.reject(id, IntentApply, ErrClosed)
		c.bus.Publish(o)
		return Reply{Outcome: &o}
	}
	c.wg.Add(1)
	c.mu.Unlock()

	// An accepted Apply is never cancelled by its caller.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer c.wg.Done()
		c.bus.Publish(c.apply(runCtx, id, a))
	}()
	return Reply{Status: AckReceived}
}

// Close stops accepting Apply intents and waits for running ones until ctx
// is done.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply runs the generation state machine for a and returns its Outcome.
// It does not publish.
func (c *Coordinator) Apply(ctx context.Context, a Apply) Outcome {
	if a.Tab == "" {
		return c.reject(newIntentID(), IntentApply, ErrMissingTab)
	}
	return c.apply(ctx, newIntentID(), a)
}

// pendingGeneration is the in-flight state of one Apply.
type pendingGeneration struct {
	id     string
	intent Apply
	stage  Stage
	logger *zap.Logger

	origin    string
	html      string
	css       string
	prompt    string
	generated string
	style     string
	record    styles.StyleRecord
	injectErr error
}

type step struct {
	stage Stage
	run   func(context.Context, *pendingGeneration) error
}

// steps is the linear apply sequence. The first failing step ends the run.
func (c *Coordinator) steps() []step {
	return []step{
		{StageExtracting, c.extract},
		{StagePrompting, c.buildPrompt},
		{StageGenerating, c.generate},
		{StageParsing, c.parse},
		{StagePersisting, c.persist},
		{StageInjecting, c.inject},
	}
}

func (c *Coordinator) apply(ctx context.Context, id string, a Apply) Outcome {
	c.metrics.ApplyStarted()
	defer c.metrics.ApplyFinished()

	p := &pendingGeneration{
		id:     id,
		intent: a,
		stage:  StageIdle,
		origin: a.Origin,
		logger: c.logger.With(zap.String("intent_id", id), zap.String("tab", string(a.Tab))),
	}
	timer := logging.StartTimer(logging.CategoryPipeline, "apply")
	defer timer.Stop()

	for _, s := range c.steps() {
		p.stage = s.stage
		p.logger.Debug("stage", zap.String("stage", string(s.stage)), zap.String("origin", p.origin))
		if err := s.run(ctx, p); err != nil {
			se := stageErr(s.stage, err)
			c.metrics.StageFailure(string(se.Stage), string(se.Kind))
			p.logger.Warn("apply failed",
				zap.String("stage", string(se.Stage)),
				zap.String("kind", string(se.Kind)),
				zap.String("origin", p.origin),
				zap.Error(se.Err))
			p.stage = StageDone
			return c.failure(id, IntentApply, se)
		}
	}
	p.stage = StageDone

	o := Outcome{
		IntentID: id,
		Intent:   IntentApply,
		Success:  true,
		Applied:  &AppliedStyle{ID: p.record.ID, Prompt: p.record.Prompt},
		Injected: p.injectErr == nil,
	}
	if o.Injected {
		o.Message = "Styles applied and saved successfully!"
	} else {
		o.Message = "Styles saved, but could not be applied to the page: " + p.injectErr.Error()
	}
	c.metrics.Intent(string(IntentApply), true)
	p.logger.Info("apply complete",
		zap.String("origin", p.origin),
		zap.Int64("style_id", p.record.ID),
		zap.Bool("injected", o.Injected))
	return o
}

func (c *Coordinator) extract(ctx context.Context, p *pendingGeneration) error {
	agent.EnsurePresent(ctx, c.host, p.intent.Tab, p.logger)
	content, err := agent.RequestExtract(ctx, c.host, p.intent.Tab)
	if err != nil {
		return err
	}
	p.html = content.HTML
	p.css = content.CSS
	if p.origin == "" {
		p.origin = content.URL
	}
	if p.origin == "" {
		return &StageError{Stage: StageExtracting, Kind: KindInvalidIntent, Err: ErrMissingOrigin}
	}
	return nil
}

func (c *Coordinator) buildPrompt(_ context.Context, p *pendingGeneration) error {
	p.prompt = generator.BuildPrompt(p.intent.Prompt, p.html, p.css)
	return nil
}

func (c *Coordinator) generate(ctx context.Context, p *pendingGeneration) error {
	start := time.Now()
	text, err := c.gen.Generate(ctx, p.prompt)
	c.metrics.Generation(time.Since(start))
	if err != nil {
		return err
	}
	p.generated = text
	return nil
}

func (c *Coordinator) parse(_ context.Context, p *pendingGeneration) error {
	css, err := generator.Parse(p.generated)
	if err != nil {
		return err
	}
	p.style = css
	return nil
}

func (c *Coordinator) persist(ctx context.Context, p *pendingGeneration) error {
	rec, err := c.store.AppendStyle(ctx, p.origin, p.intent.Prompt, p.style)
	if err != nil {
		return err
	}
	p.record = rec
	return nil
}

// inject never fails the run: the style is already saved and active.
func (c *Coordinator) inject(ctx context.Context, p *pendingGeneration) error {
	agent.EnsurePresent(ctx, c.host, p.intent.Tab, p.logger)
	if err := agent.RequestInject(ctx, c.host, p.intent.Tab, p.style); err != nil {
		p.injectErr = err
		c.metrics.StageFailure(string(StageInjecting), string(Classify(err)))
		p.logger.Warn("inject after persist failed", zap.Error(err))
	}
	return nil
}

// SetActive selects a saved style (or none) and reflects it in the page.
func (c *Coordinator) SetActive(ctx context.Context, s SetActive) Outcome {
	id := newIntentID()
	if s.Origin == "" {
		return c.reject(id, IntentSetActive, ErrMissingOrigin)
	}
	rec, err := c.store.SetActive(ctx, s.Origin, s.StyleID)
	if err != nil {
		return c.failure(id, IntentSetActive, stageErr(StagePersisting, err))
	}
	if s.StyleID == nil {
		return c.reflectRemoval(ctx, id, IntentSetActive, s.Tab, "Active style cleared.")
	}

	o := c.success(id, IntentSetActive, "Active style set.")
	o.Applied = &AppliedStyle{ID: rec.ID, Prompt: rec.Prompt}
	if s.Tab == "" {
		return o
	}
	logger := c.logger.With(zap.String("intent_id", id), zap.String("tab", string(s.Tab)))
	agent.EnsurePresent(ctx, c.host, s.Tab, logger)
	if err := agent.RequestInject(ctx, c.host, s.Tab, rec.CSS); err != nil {
		logger.Warn("inject selected style failed", zap.Error(err))
		o.Message = "Active style set, but the page was not updated."
		return o
	}
	o.Injected = true
	return o
}

// ClearActive deselects the active style and removes it from the page.
func (c *Coordinator) ClearActive(ctx context.Context, s ClearActive) Outcome {
	id := newIntentID()
	if s.Origin == "" {
		return c.reject(id, IntentClearActive, ErrMissingOrigin)
	}
	if err := c.store.ClearActive(ctx, s.Origin); err != nil {
		return c.failure(id, IntentClearActive, stageErr(StagePersisting, err))
	}
	return c.reflectRemoval(ctx, id, IntentClearActive, s.Tab, "Active style cleared.")
}

// DeleteSite removes an origin's styles and, given a tab, the page style.
func (c *Coordinator) DeleteSite(ctx context.Context, s DeleteSite) Outcome {
	id := newIntentID()
	if s.Origin == "" {
		return c.reject(id, IntentDeleteSite, ErrMissingOrigin)
	}
	deleted, err := c.store.DeleteSite(ctx, s.Origin)
	if err != nil {
		return c.failure(id, IntentDeleteSite, stageErr(StagePersisting, err))
	}
	msg := "Styles deleted for " + s.Origin + "."
	if !deleted {
		msg = "Nothing to delete for " + s.Origin + "."
	}
	return c.reflectRemoval(ctx, id, IntentDeleteSite, s.Tab, msg)
}

// DeleteAll removes every saved style.
func (c *Coordinator) DeleteAll(ctx context.Context) Outcome {
	id := newIntentID()
	if err := c.store.DeleteAll(ctx); err != nil {
		return c.failure(id, IntentDeleteAll, stageErr(StagePersisting, err))
	}
	return c.success(id, IntentDeleteAll, "All saved styles deleted.")
}

// Revert removes the managed style from the page only.
func (c *Coordinator) Revert(ctx context.Context, r Revert) Outcome {
	id := newIntentID()
	if r.Tab == "" {
		return c.reject(id, IntentRevert, ErrMissingTab)
	}
	logger := c.logger.With(zap.String("intent_id", id), zap.String("tab", string(r.Tab)))
	agent.EnsurePresent(ctx, c.host, r.Tab, logger)
	removed, err := agent.RequestRemove(ctx, c.host, r.Tab)
	if err != nil {
		return c.failure(id, IntentRevert, stageErr(StageInjecting, err))
	}
	o := c.success(id, IntentRevert, "Styles removed.")
	o.Injected = true
	if !removed {
		o.Message = agent.StatusNotRemoved
	}
	return o
}

// reflectRemoval removes the page style after a successful store change.
// Failing to reach the page leaves the Outcome successful.
func (c *Coordinator) reflectRemoval(ctx context.Context, id string, kind IntentKind, tab agent.TabID, msg string) Outcome {
	o := c.success(id, kind, msg)
	if tab == "" {
		return o
	}
	logger := c.logger.With(zap.String("intent_id", id), zap.String("tab", string(tab)))
	agent.EnsurePresent(ctx, c.host, tab, logger)
	if _, err := agent.RequestRemove(ctx, c.host, tab); err != nil {
		logger.Warn("remove page style failed", zap.Error(err))
		return o
	}
	o.Injected = true
	return o
}

func (c *Coordinator) success(id string, kind IntentKind, msg string) Outcome {
	c.metrics.Intent(string(kind), true)
	c.logger.Info("intent complete", zap.String("intent_id", id), zap.String("intent", string(kind)))
	return Outcome{IntentID: id, Intent: kind, Success: true, Message: msg}
}

func (c *Coordinator) failure(id string, kind IntentKind, se *StageError) Outcome {
	c.metrics.Intent(string(kind), false)
	if kind != IntentApply {
		c.logger.Warn("intent failed",
			zap.String("intent_id", id),
			zap.String("intent", string(kind)),
			zap.String("kind", string(se.Kind)),
			zap.Error(se.Err))
	}
	return Outcome{
		IntentID: id,
		Intent:   kind,
		Success:  false,
		Message:  userMessage(se),
		Failure:  se.Kind,
	}
}

func (c *Coordinator) reject(id string, kind IntentKind, err error) Outcome {
	return c.failure(id, kind, &StageError{Stage: StageIdle, Kind: KindInvalidIntent, Err: err})
}

func newIntentID() string { return uuid.NewString() }

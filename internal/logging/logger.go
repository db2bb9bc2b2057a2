// Package logging provides config-driven categorized loggers for vibestyler.
// Each category is a named zap logger; categories disabled in config get a
// no-op logger so call sites never branch on whether logging is on.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config, wiring
	CategoryPipeline   Category = "pipeline"   // Request pipeline state machine
	CategoryStore      Category = "store"      // Style store and kv backends
	CategoryAgent      Category = "agent"      // Page agent install/dispatch
	CategoryBrowser    Category = "browser"    // CDP browser host
	CategoryGenerator  Category = "generator"  // Prompting and the remote generator
	CategoryReconciler Category = "reconciler" // Navigation reapply
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level       string          // debug, info, warn, error
	Format      string          // json, console
	OutputPaths []string        // defaults to stderr
	Categories  map[string]bool // nil enables everything
}

var (
	mu         sync.RWMutex
	level      = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	root       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*zap.Logger)
)

// Initialize builds the root logger. Safe to call again; cached category
// loggers are dropped. The level stays adjustable through SetLevel.
func Initialize(opts Options) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	logger, err := build(opts, level)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	mu.Lock()
	defer mu.Unlock()
	root = logger
	categories = opts.Categories
	loggers = make(map[Category]*zap.Logger)
	return nil
}

// Build constructs a zap logger from opts without installing it.
func Build(opts Options) (*zap.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	return build(opts, zap.NewAtomicLevelAt(lvl))
}

func build(opts Options, atom zap.AtomicLevel) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(opts.Format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = atom
	cfg.OutputPaths = []string{"stderr"}
	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// ParseLevel maps a config level string to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// SetLevel changes the level of every logger derived from Initialize,
// including ones already handed out.
func SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// Level reports the level set by Initialize or SetLevel.
func Level() zapcore.Level { return level.Level() }

// SetRoot installs an already-built logger, e.g. a zaptest observer.
func SetRoot(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.Logger)
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabledLocked(category)
}

func categoryEnabledLocked(category Category) bool {
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	var l *zap.Logger
	if categoryEnabledLocked(category) {
		l = root.Named(string(category)).With(zap.String("category", string(category)))
	} else {
		l = zap.NewNop()
	}
	loggers[category] = l
	return l
}

// Or returns l when non-nil and the category logger otherwise.
func Or(l *zap.Logger, category Category) *zap.Logger {
	if l != nil {
		return l
	}
	return Get(category)
}

// Sync flushes the root logger.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return root.Sync()
}

// Timer measures an operation and logs its duration at debug level on Stop.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer starts a Timer for op in category.
func StartTimer(category Category, op string) *Timer {
	return &Timer{logger: Get(category), op: op, start: time.Now()}
}

// Stop logs and returns the elapsed time.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug("timing", zap.String("op", t.op), zap.Duration("elapsed", elapsed))
	return elapsed
}

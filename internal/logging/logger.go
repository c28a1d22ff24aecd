// Package logging provides config-driven categorized logging for repairbot.
// Every category is a named child of one zap logger; categories can be
// switched off individually, in which case callers get a no-op logger.
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
	CategoryBoot      Category = "boot"      // Startup, config loading
	CategoryPipeline  Category = "pipeline"  // Stage engine and stage execution
	CategoryDirectory Category = "directory" // iFixit directory client
	CategoryResearch  Category = "research"  // Web search fallback
	CategoryLLM       Category = "llm"       // Model calls, streaming, retries
	CategoryStore     Category = "store"     // SQLite persistence
	CategoryUsage     Category = "usage"     // Token accounting
	CategoryChat      Category = "chat"      // Turn boundary service
	CategoryServer    Category = "server"    // HTTP front door
	CategoryTools     Category = "tools"     // Tool registry (tool-calling variant)
	CategoryCache     Category = "cache"     // Result cache
)

// Options mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // optional extra output path
	Categories map[string]bool // per-category toggles; missing = enabled
	// Quiet drops the stderr sink so full-screen commands keep the terminal.
	Quiet bool
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	level      = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	categories map[string]bool
	loggers    = make(map[Category]*zap.SugaredLogger)
)

// Initialize builds the process logger. Safe to call more than once; the
// last call wins.
func Initialize(opts Options) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	var cfg zap.Config
	if strings.EqualFold(opts.Format, "console") || strings.EqualFold(opts.Format, "text") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if opts.Quiet {
		cfg.OutputPaths = nil
		cfg.ErrorOutputPaths = nil
	}
	if opts.File != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, opts.File)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, opts.File)
	}

	logger := zap.NewNop()
	if len(cfg.OutputPaths) > 0 {
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
	}
	level.SetLevel(lvl)

	mu.Lock()
	base = logger
	categories = opts.Categories
	loggers = make(map[Category]*zap.SugaredLogger)
	mu.Unlock()

	Get(CategoryBoot).Debugw("logging initialized", "level", lvl.String(), "format", opts.Format)
	return nil
}

// UseLogger installs an already-built zap logger (tests, embedding).
func UseLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	categories = nil
	loggers = make(map[Category]*zap.SugaredLogger)
}

// ParseLevel maps a config level string onto a zap level. Empty means info.
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

// SetLevel changes the level of every category logger at runtime.
func SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// Level returns the current level name.
func Level() string {
	return level.Level().String()
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for the given category.
func Get(category Category) *zap.SugaredLogger {
	if !IsCategoryEnabled(category) {
		return zap.NewNop().Sugar()
	}

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
	l := base.Named(string(category)).Sugar()
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	_ = l.Sync()
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Infof(format, args...)
}

func Pipeline(format string, args ...interface{}) {
	Get(CategoryPipeline).Infof(format, args...)
}

func PipelineDebug(format string, args ...interface{}) {
	Get(CategoryPipeline).Debugf(format, args...)
}

func Directory(format string, args ...interface{}) {
	Get(CategoryDirectory).Infof(format, args...)
}

func DirectoryDebug(format string, args ...interface{}) {
	Get(CategoryDirectory).Debugf(format, args...)
}

func Research(format string, args ...interface{}) {
	Get(CategoryResearch).Infof(format, args...)
}

func ResearchDebug(format string, args ...interface{}) {
	Get(CategoryResearch).Debugf(format, args...)
}

func LLM(format string, args ...interface{}) {
	Get(CategoryLLM).Infof(format, args...)
}

func LLMDebug(format string, args ...interface{}) {
	Get(CategoryLLM).Debugf(format, args...)
}

func LLMWarn(format string, args ...interface{}) {
	Get(CategoryLLM).Warnf(format, args...)
}

func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debugf(format, args...)
}

func ToolsDebug(format string, args ...interface{}) {
	Get(CategoryTools).Debugf(format, args...)
}

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debugw(t.op+" completed", "elapsed", elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warnw(t.op+" slow", "elapsed", elapsed, "threshold", threshold)
	} else {
		Get(t.category).Debugw(t.op+" completed", "elapsed", elapsed)
	}
	return elapsed
}

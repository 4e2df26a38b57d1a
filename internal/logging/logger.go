// Package logging provides config-driven categorized logging for chemlab.
// Every subsystem asks for a logger by category; disabled categories get a
// no-op logger so call sites never branch on configuration.
package logging

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // CLI startup, config loading
	CategoryEngine   Category = "engine"   // Event handling, notices
	CategoryGate     Category = "gate"     // Step progression
	CategoryPhase    Category = "phase"    // Threshold detection
	CategoryAnimator Category = "animator" // Transition jobs
	CategoryProgress Category = "progress" // Progress derivation and delivery
	CategoryStore    Category = "store"    // SQLite progress store
	CategoryCatalog  Category = "catalog"  // Definition loading and hot reload
	CategoryAPI      Category = "api"      // HTTP persistence endpoint
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryBoot,
		CategoryEngine,
		CategoryGate,
		CategoryPhase,
		CategoryAnimator,
		CategoryProgress,
		CategoryStore,
		CategoryCatalog,
		CategoryAPI,
	}
}

// Options mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // empty means stderr
	Categories map[string]bool // per-category toggles, unspecified = enabled
}

// New builds the root logger from opts.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	switch opts.Format {
	case "", "json":
	case "console", "text":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if opts.File != "" {
		cfg.OutputPaths = []string{opts.File}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// Registry hands out named child loggers per category.
type Registry struct {
	root       *zap.Logger
	categories map[string]bool

	mu      sync.RWMutex
	loggers map[Category]*zap.Logger
}

// NewRegistry wraps root. A nil root yields no-op loggers everywhere.
func NewRegistry(root *zap.Logger, categories map[string]bool) *Registry {
	if root == nil {
		root = zap.NewNop()
	}
	toggles := make(map[string]bool, len(categories))
	for k, v := range categories {
		toggles[k] = v
	}
	return &Registry{
		root:       root,
		categories: toggles,
		loggers:    make(map[Category]*zap.Logger),
	}
}

// IsCategoryEnabled returns whether a specific category is enabled
func (r *Registry) IsCategoryEnabled(category Category) bool {
	enabled, exists := r.categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
func (r *Registry) Get(category Category) *zap.Logger {
	r.mu.RLock()
	if l, ok := r.loggers[category]; ok {
		r.mu.RUnlock()
		return l
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := r.loggers[category]; ok {
		return l
	}

	l := zap.NewNop()
	if r.IsCategoryEnabled(category) {
		l = r.root.Named(string(category))
	}
	r.loggers[category] = l
	return l
}

// Root returns the underlying logger.
func (r *Registry) Root() *zap.Logger {
	return r.root
}

// Enabled lists enabled category names, sorted.
func (r *Registry) Enabled() []string {
	var out []string
	for _, c := range Categories() {
		if r.IsCategoryEnabled(c) {
			out = append(out, string(c))
		}
	}
	sort.Strings(out)
	return out
}

// Sync flushes the root logger. Errors from syncing stderr are ignored.
func (r *Registry) Sync() {
	_ = r.root.Sync()
}

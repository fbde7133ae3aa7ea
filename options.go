package sheetbatch

import (
	"time"
)

// IsolationLevel describes the isolation a transaction requests.
// It is stored and reported but not enforced; commits always go out as
// one physical call regardless of level.
type IsolationLevel string

const (
	IsolationReadCommitted IsolationLevel = "READ_COMMITTED"
	IsolationSerializable  IsolationLevel = "SERIALIZABLE"
)

// Config holds the configuration for the batching and transaction engines.
type Config struct {
	// Collection window configuration
	WindowMin           time.Duration // Lower clamp for the adaptive window, default 50ms
	WindowMax           time.Duration // Upper clamp for the adaptive window, default 2s
	WindowLowThreshold  int           // Grow the window when a drain sees fewer ops, default 3
	WindowHighThreshold int           // Shrink the window when a drain sees more ops, default 20
	WindowGrowthFactor  float64       // Multiplier applied when growing, default 1.5
	WindowShrinkFactor  float64       // Multiplier applied when shrinking, default 0.6

	// Batching configuration
	BatchingEnabled bool          // Coalesce submissions into batches, default true
	AdaptiveWindow  bool          // Use the window controller for timer durations, default true
	FixedWindow     time.Duration // Timer duration when AdaptiveWindow is off, default 100ms
	MaxBatchSize    int           // Size-triggered flush threshold, default 25

	// Transaction configuration
	TransactionsEnabled       bool           // Allow Begin, default true
	MaxConcurrentTransactions int            // Active transaction cap, default 16
	MaxOpsPerTransaction      int            // Queued operation cap per transaction, default 100
	AutoSnapshot              bool           // Capture a snapshot during Begin, default true
	AutoRollback              bool           // Attempt rollback on commit failure, default false
	DefaultIsolation          IsolationLevel // Advisory only, default READ_COMMITTED
	TxIdleTimeout             time.Duration  // Idle transactions are cancelled by the sweeper, default 10min
	CommitTimeout             time.Duration  // Deadline applied to the commit physical call, default 30s

	// Snapshot configuration
	SnapshotTTL     time.Duration // Retention before the sweeper reaps a snapshot, default 1h
	MaxSnapshotSize int64         // Hard cap on serialized snapshot bytes, default 50MiB

	// Background sweep configuration
	SweepInterval time.Duration // Interval between sweep scans, default 1min

	// Lock configuration
	LockTTL time.Duration // TTL for per-target commit locks, default 30s
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		WindowMin:           50 * time.Millisecond,
		WindowMax:           2 * time.Second,
		WindowLowThreshold:  3,
		WindowHighThreshold: 20,
		WindowGrowthFactor:  1.5,
		WindowShrinkFactor:  0.6,

		BatchingEnabled: true,
		AdaptiveWindow:  true,
		FixedWindow:     100 * time.Millisecond,
		MaxBatchSize:    25,

		TransactionsEnabled:       true,
		MaxConcurrentTransactions: 16,
		MaxOpsPerTransaction:      100,
		AutoSnapshot:              true,
		AutoRollback:              false,
		DefaultIsolation:          IsolationReadCommitted,
		TxIdleTimeout:             10 * time.Minute,
		CommitTimeout:             30 * time.Second,

		SnapshotTTL:     time.Hour,
		MaxSnapshotSize: 50 << 20,

		SweepInterval: time.Minute,

		LockTTL: 30 * time.Second,
	}
}

// Option is a function that modifies the Config.
type Option func(*Config)

// WithWindowBounds sets the clamp range for the adaptive window.
func WithWindowBounds(min, max time.Duration) Option {
	return func(c *Config) {
		c.WindowMin = min
		c.WindowMax = max
	}
}

// WithWindowThresholds sets the dead-band thresholds for window adjustment.
func WithWindowThresholds(low, high int) Option {
	return func(c *Config) {
		c.WindowLowThreshold = low
		c.WindowHighThreshold = high
	}
}

// WithWindowFactors sets the growth and shrink multipliers.
func WithWindowFactors(growth, shrink float64) Option {
	return func(c *Config) {
		c.WindowGrowthFactor = growth
		c.WindowShrinkFactor = shrink
	}
}

// WithBatchingEnabled toggles request coalescing.
func WithBatchingEnabled(enabled bool) Option {
	return func(c *Config) {
		c.BatchingEnabled = enabled
	}
}

// WithAdaptiveWindow toggles the adaptive window controller. When off,
// queue timers use the fixed window duration.
func WithAdaptiveWindow(enabled bool) Option {
	return func(c *Config) {
		c.AdaptiveWindow = enabled
	}
}

// WithFixedWindow sets the timer duration used when the adaptive window is off.
func WithFixedWindow(d time.Duration) Option {
	return func(c *Config) {
		c.FixedWindow = d
	}
}

// WithMaxBatchSize sets the size-triggered flush threshold.
func WithMaxBatchSize(n int) Option {
	return func(c *Config) {
		c.MaxBatchSize = n
	}
}

// WithTransactionsEnabled toggles the transaction manager.
func WithTransactionsEnabled(enabled bool) Option {
	return func(c *Config) {
		c.TransactionsEnabled = enabled
	}
}

// WithMaxConcurrentTransactions sets the active transaction cap.
func WithMaxConcurrentTransactions(n int) Option {
	return func(c *Config) {
		c.MaxConcurrentTransactions = n
	}
}

// WithMaxOpsPerTransaction sets the per-transaction operation cap.
func WithMaxOpsPerTransaction(n int) Option {
	return func(c *Config) {
		c.MaxOpsPerTransaction = n
	}
}

// WithAutoSnapshot toggles snapshot capture during Begin.
func WithAutoSnapshot(enabled bool) Option {
	return func(c *Config) {
		c.AutoSnapshot = enabled
	}
}

// WithAutoRollback toggles the rollback attempt on commit failure.
func WithAutoRollback(enabled bool) Option {
	return func(c *Config) {
		c.AutoRollback = enabled
	}
}

// WithDefaultIsolation sets the advisory isolation level recorded on
// new transactions.
func WithDefaultIsolation(level IsolationLevel) Option {
	return func(c *Config) {
		c.DefaultIsolation = level
	}
}

// WithTxIdleTimeout sets the idle timeout after which the sweeper
// cancels a transaction.
func WithTxIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.TxIdleTimeout = d
	}
}

// WithCommitTimeout sets the deadline applied to the commit physical call.
func WithCommitTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.CommitTimeout = d
	}
}

// WithSnapshotTTL sets the snapshot retention period.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.SnapshotTTL = ttl
	}
}

// WithMaxSnapshotSize sets the hard cap on serialized snapshot bytes.
func WithMaxSnapshotSize(n int64) Option {
	return func(c *Config) {
		c.MaxSnapshotSize = n
	}
}

// WithSweepInterval sets the interval between background sweep scans.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Config) {
		c.SweepInterval = d
	}
}

// WithLockTTL sets the TTL for per-target commit locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.LockTTL = ttl
	}
}

// WithConfig applies a complete Config, overriding all values.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// ApplyOptions applies the given options to a default config and returns the result.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate validates the configuration and returns an error if invalid.
// The window thresholds are deliberately not cross-checked: the
// controller tolerates low >= high by always clamping.
func (c *Config) Validate() error {
	if c.WindowMin <= 0 {
		return ErrInvalidConfig
	}
	if c.WindowMax < c.WindowMin {
		return ErrInvalidConfig
	}
	if c.WindowGrowthFactor < 1.0 {
		return ErrInvalidConfig
	}
	if c.WindowShrinkFactor <= 0 || c.WindowShrinkFactor > 1.0 {
		return ErrInvalidConfig
	}
	if c.FixedWindow <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxBatchSize <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxConcurrentTransactions <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxOpsPerTransaction <= 0 {
		return ErrInvalidConfig
	}
	if c.TxIdleTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.CommitTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.SnapshotTTL <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxSnapshotSize <= 0 {
		return ErrInvalidConfig
	}
	if c.SweepInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.LockTTL <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

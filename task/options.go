package task

import "time"

// Options configures Engine execution behavior.
//
// Zero values are valid; the Engine applies sensible defaults.
type Options struct {
	// CheckpointInterval is the step cadence K: a checkpoint is persisted
	// every K completed steps. Default 5. Checkpointing every step trades
	// I/O for recovery granularity; after a crash at most K-1 steps are
	// re-executed.
	CheckpointInterval int

	// MaxRetries is the default retry bound applied to new tasks: a
	// failing step is re-attempted this many times before the task fails.
	// Default 3.
	MaxRetries int

	// StepTimeout bounds an individual step's execution. Zero means no
	// timeout. A timeout is treated as a step failure under the normal
	// retry policy.
	StepTimeout time.Duration

	// Backoff configures the delay between retry attempts. Nil retries
	// immediately.
	Backoff *RetryBackoff
}

const (
	defaultCheckpointInterval = 5
	defaultMaxRetries         = 3
)

// withDefaults fills zero-valued fields with defaults. An explicit retry
// bound of zero is expressed through WithMaxRetries(0), which is applied
// after this.
func (o Options) withDefaults() Options {
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = defaultCheckpointInterval
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	return o
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := task.New(manager, emitter,
//	    task.WithCheckpointInterval(2),
//	    task.WithMaxRetries(5),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	opts    Options
	metrics *Metrics
}

// WithCheckpointInterval sets the checkpoint cadence K.
func WithCheckpointInterval(k int) Option {
	return func(cfg *engineConfig) error {
		if k <= 0 {
			return &EngineError{Message: "checkpoint interval must be positive", Code: "INVALID_OPTION"}
		}
		cfg.opts.CheckpointInterval = k
		return nil
	}
}

// WithMaxRetries sets the default per-step retry bound for new tasks.
// Zero disables retries entirely.
func WithMaxRetries(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max retries cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxRetries = n
		return nil
	}
}

// WithStepTimeout sets the per-step execution timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "step timeout cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.StepTimeout = d
		return nil
	}
}

// WithBackoff sets the retry backoff policy.
func WithBackoff(b RetryBackoff) Option {
	return func(cfg *engineConfig) error {
		if err := b.Validate(); err != nil {
			return err
		}
		cfg.opts.Backoff = &b
		return nil
	}
}

// WithMetrics attaches a Prometheus metrics collector to the engine.
func WithMetrics(m *Metrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithOptions replaces the whole Options struct at once, filling zero
// fields with defaults. Later options still override individual fields.
func WithOptions(opts Options) Option {
	return func(cfg *engineConfig) error {
		if opts.Backoff != nil {
			if err := opts.Backoff.Validate(); err != nil {
				return err
			}
		}
		cfg.opts = opts.withDefaults()
		return nil
	}
}

package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/logrelay/pkg/log"
)

// Default configuration values.
const (
	DefaultMaxBatchSize = 100
	DefaultPeriod       = 5 * time.Second
	DefaultNamespace    = "logrelay"
)

// PeriodDisabled turns off the recurring cycle timer. Draining then only
// happens through explicit Flush calls or Emit overflow.
const PeriodDisabled = time.Duration(-1)

// Config holds the relay's tunable parameters.
type Config struct {
	// MaxBatchSize is the maximum number of events held in one dispatched
	// batch. Bursts beyond it degrade to multiple forced cycles, never to
	// an error.
	MaxBatchSize int

	// Period is the interval between cycle checks. Zero means
	// DefaultPeriod; a negative value (use PeriodDisabled) disables the
	// timer entirely.
	Period time.Duration

	// Namespace is the fixed prefix used to recognize this relay's own
	// durable entries among others the store may hold.
	Namespace string
}

// SetDefaults fills in default values for unset fields.
func (c *Config) SetDefaults() {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.Period == 0 {
		c.Period = DefaultPeriod
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max batch size must be positive, got %d", ErrInvalidConfig, c.MaxBatchSize)
	}
	if c.Namespace == "" {
		return fmt.Errorf("%w: namespace must not be empty", ErrInvalidConfig)
	}
	// Namespaces become store keys and, for directory-backed stores,
	// file names.
	if strings.ContainsAny(c.Namespace, `/\`) {
		return fmt.Errorf("%w: namespace %q must not contain path separators", ErrInvalidConfig, c.Namespace)
	}
	return nil
}

// Hooks receives notifications about dispatch outcomes. Hooks are called
// synchronously from the dispatch path and should return quickly.
type Hooks struct {
	// OnDispatch is called after a batch is accepted downstream.
	OnDispatch func(count int)

	// OnDispatchError is called when a dispatch fails; the batch has
	// already been requeued for retry.
	OnDispatchError func(err error, count int)
}

// Option configures optional behavior of a Relay.
type Option func(*options)

type options struct {
	sink   Sink
	store  Store
	logger log.Logger
	clock  Clock
	hooks  Hooks
}

func defaultOptions() options {
	return options{
		logger: log.NewNoop(),
		clock:  systemClock{},
	}
}

// WithSink sets the downstream sink that receives dispatched batches.
// Without a sink, cycled batches are discarded.
func WithSink(sink Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithStore sets the durable store used to stage unsent events across
// process restarts. Without a store, buffering is purely in-memory.
func WithStore(store Store) Option {
	return func(o *options) { o.store = store }
}

// WithLogger sets a custom logger. If not provided, a no-op logger is used.
func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock injects a time source. Intended for tests that drive the cycle
// timer with a virtual clock.
func WithClock(clock Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithHooks registers dispatch outcome callbacks.
func WithHooks(hooks Hooks) Option {
	return func(o *options) { o.hooks = hooks }
}

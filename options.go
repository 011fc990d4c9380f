package rntbd

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultPendingLimit bounds how many requests may be outstanding on one
	// connection at once (§4.4 admission control).
	DefaultPendingLimit = 500
	// DefaultRequestTimeout is the deadline armed for a RequestRecord when
	// the caller does not override it (§4.6).
	DefaultRequestTimeout = 60 * time.Second
	// DefaultIdleTimeout is how long a connection may go without inbound
	// traffic before on_idle_timeout probes it with HealthCheck (§4.4).
	DefaultIdleTimeout = 30 * time.Second
	// DefaultConnectTimeout bounds how long Dial waits for the transport to
	// come up before giving up.
	DefaultConnectTimeout = 10 * time.Second
)

// HealthCheck is the caller-supplied liveness probe invoked by
// on_idle_timeout (§4.4, §6 "Consumed-from-external interfaces").
type HealthCheck func(ctx context.Context) (bool, error)

// Option is a functional option for NewConnection/Dial.
type Option func(*Config)

// Config holds the runtime knobs for a connection. Zero value is never
// used directly; defaultConfig() supplies sane defaults, which Option
// values then adjust.
type Config struct {
	ctx    context.Context
	cancel context.CancelFunc

	pendingLimit   int
	requestTimeout time.Duration
	idleTimeout    time.Duration
	connectTimeout time.Duration

	healthCheck HealthCheck
	metrics     Metrics
	clock       clockwork.Clock

	clientVersion string
	userAgent     string
	protocolVer   uint32
}

// Validate aggregates every configuration defect into one error via
// hashicorp/go-multierror, rather than failing on the first one found.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.pendingLimit <= 0 {
		result = multierror.Append(result, ErrInvalidPendingLimit)
	}
	if c.requestTimeout <= 0 {
		result = multierror.Append(result, ErrInvalidRequestTimeout)
	}
	if c.idleTimeout < 0 {
		result = multierror.Append(result, ErrInvalidIdleTimeout)
	}
	if c.clientVersion == "" {
		result = multierror.Append(result, ErrInvalidClientVersion)
	}
	return result.ErrorOrNil()
}

// defaultConfig returns a Config with library defaults, a no-op
// HealthCheck, a DefaultMetrics, and the real wall clock.
func defaultConfig() *Config {
	ctx, cancel := context.WithCancel(context.Background())
	return &Config{
		ctx:            ctx,
		cancel:         cancel,
		pendingLimit:   DefaultPendingLimit,
		requestTimeout: DefaultRequestTimeout,
		idleTimeout:    DefaultIdleTimeout,
		connectTimeout: DefaultConnectTimeout,
		healthCheck:    func(context.Context) (bool, error) { return true, nil },
		metrics:        NewDefaultMetrics(),
		clock:          clockwork.NewRealClock(),
		clientVersion:  "1.0",
		userAgent:      "rntbd-go",
		protocolVer:    1,
	}
}

// applyConfig builds a runtime config by applying opts on top of defaults.
func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithPendingLimit caps how many requests may be outstanding at once on a
// connection (§4.4 serviceable).
func WithPendingLimit(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.pendingLimit = n
		}
	}
}

// WithRequestTimeout sets the deadline duration armed for every request
// submitted on the connection (§4.6); RequestArgs carries no per-request
// override.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithIdleTimeout sets how long a connection may go without inbound bytes
// before a health check is invoked (§4.4). Zero disables idle checking.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.idleTimeout = d
		}
	}
}

// WithConnectTimeout bounds how long Dial waits for the transport to come
// up.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithHealthCheck installs the liveness probe invoked by on_idle_timeout.
func WithHealthCheck(hc HealthCheck) Option {
	return func(c *Config) {
		if hc != nil {
			c.healthCheck = hc
		}
	}
}

// WithMetrics sets a custom Metrics implementation. If not provided, a
// DefaultMetrics with atomic counters is used.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock injects a clockwork.Clock, letting tests substitute a
// clockwork.NewFakeClock() for deterministic timeout/expiry behavior.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithContext sets the base context for Dial's connect timeout and for the
// connection's idle ticker and HealthCheck calls. Cancelling it does not
// stop the read loop. Useful for cancellation or tracing.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.ctx, c.cancel = context.WithCancel(ctx)
		}
	}
}

// WithClientIdentity sets the client identity for the ContextRequest frame
// sent as the first frame of every new connection (§4.3). The client
// version and user agent are carried on that frame; protocolVer is stored
// on the Config but not sent.
func WithClientIdentity(clientVersion, userAgent string, protocolVer uint32) Option {
	return func(c *Config) {
		if clientVersion != "" {
			c.clientVersion = clientVersion
		}
		if userAgent != "" {
			c.userAgent = userAgent
		}
		if protocolVer != 0 {
			c.protocolVer = protocolVer
		}
	}
}

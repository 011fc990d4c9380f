package rntbd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"sync"
)

// Transport is the duplex byte stream a Connection drives. Any net.Conn
// already satisfies it. Unlike the teacher's Transport, this interface
// drops MaxRawSize: RNTBD frames self-describe their length in the first
// four bytes, so no MTU-shaped chunking hint is needed.
type Transport interface {
	net.Conn
}

// Factory dials a Transport for one physical-endpoint URI scheme.
//
// Grounded on the teacher's Factory/RegisterFactory/init() registration
// pattern (aznet.go), carried over verbatim in shape and re-targeted from
// Noise-handshake rendezvous transports onto plain TCP and TLS dialers.
type Factory interface {
	NewTransport(ctx context.Context, ep *Endpoint) (Transport, error)
}

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes factory available for scheme. It panics if scheme
// is already registered, mirroring the teacher's refusal to silently
// shadow one transport with another. Dial only accepts rntbd:// and
// rntbds:// addresses (see ParseEndpoint), so a factory registered under
// any other scheme is never dialed.
func RegisterFactory(scheme string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[scheme]; dup {
		panic(fmt.Sprintf("rntbd: factory already registered for scheme %q", scheme))
	}
	factories[scheme] = factory
}

// UnregisterFactory removes the factory registered for scheme, if any.
func UnregisterFactory(scheme string) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	delete(factories, scheme)
}

// GetFactories returns the currently registered schemes, sorted.
func GetFactories() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for scheme := range factories {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

func lookupFactory(scheme string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[scheme]
	return f, ok
}

// tcpFactory dials plain TCP, used for the "rntbd" scheme.
type tcpFactory struct{}

func (tcpFactory) NewTransport(ctx context.Context, ep *Endpoint) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", ep.HostPort())
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// tlsFactory dials TLS-over-TCP, used for the "rntbds" scheme.
type tlsFactory struct {
	Config *tls.Config
}

func (f tlsFactory) NewTransport(ctx context.Context, ep *Endpoint) (Transport, error) {
	cfg := f.Config
	if cfg == nil {
		cfg = &tls.Config{ServerName: ep.Host}
	}
	d := tls.Dialer{Config: cfg}
	conn, err := d.DialContext(ctx, "tcp", ep.HostPort())
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func init() {
	RegisterFactory("rntbd", tcpFactory{})
	RegisterFactory("rntbds", tlsFactory{})
}

// Dial parses address, looks up the Factory registered for its scheme,
// dials within cfg.connectTimeout, and returns a live Connection in the
// Registered state; context negotiation starts with its first Submit
// (§4.3).
func Dial(address string, opts ...Option) (*Connection, error) {
	cfg := applyConfig(opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ep, err := ParseEndpoint(address)
	if err != nil {
		return nil, err
	}

	factory, ok := lookupFactory(ep.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ep.Scheme)
	}

	dialCtx, cancel := context.WithTimeout(cfg.ctx, cfg.connectTimeout)
	defer cancel()
	transport, err := factory.NewTransport(dialCtx, ep)
	if err != nil {
		return nil, fmt.Errorf("rntbd: dial %s: %w", ep, err)
	}

	wrapped := &metricsTransport{Transport: transport, m: cfg.metrics}
	return newConnection(cfg, wrapped, ep), nil
}

// DialWithRetry calls Dial repeatedly, backing off between attempts with
// an AdaptivePoll, until it succeeds or maxAttempts is exhausted.
func DialWithRetry(address string, maxAttempts int, opts ...Option) (*Connection, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := NewAdaptivePoll(DefaultRetryFast, DefaultRetrySteady)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err := Dial(address, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logf(EventConnection, "dial attempt %d/%d failed: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			backoff.Sleep()
		}
	}
	return nil, fmt.Errorf("rntbd: dial %s: %d attempts exhausted: %w", address, maxAttempts, lastErr)
}

// NewPipeTransportPair returns two Transports connected by an in-memory
// net.Pipe, for tests that need a duplex stream without a real socket.
func NewPipeTransportPair() (Transport, Transport) {
	a, b := net.Pipe()
	return a, b
}

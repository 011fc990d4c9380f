package rntbd

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// contextTransportRequestID is the reserved transport_request_id for
// ContextRequest/ContextResponse/ContextException frames. Real requests
// are assigned starting at 1 (§3 Frame), which leaves 0 free to mark the
// context exchange without needing a distinct frame type on the wire.
const contextTransportRequestID uint64 = 0

// resourceTypeConnection and operationTypeContext tag the ContextRequest
// frame sent as the first frame on every new connection (§4.3).
const (
	resourceTypeConnection uint16 = 0
	operationTypeContext   uint16 = 0
)

// buildContextRequest synthesizes the ContextRequest frame, carrying the
// client version and user agent as request headers (§4.3). The configured
// protocol version (cfg.protocolVer) is not written to the frame.
func buildContextRequest(cfg *Config) ([]byte, error) {
	f := NewFrame(uuid.New(), resourceTypeConnection, operationTypeContext, contextTransportRequestID)
	if err := f.Headers.Set(RequestHeaderClientVersion, cfg.clientVersion); err != nil {
		return nil, err
	}
	if err := f.Headers.Set(RequestHeaderUserAgent, cfg.userAgent); err != nil {
		return nil, err
	}
	return f.Encode()
}

// isContextFrame reports whether resp is a ContextResponse/
// ContextException rather than an ordinary request response.
func isContextFrame(resp *Response) bool {
	return resp.TransportRequestID == contextTransportRequestID
}

// contextFuture is a one-shot, single-assignment latch for the outcome of
// context negotiation (§9 "Single-assignment context future"). complete
// and fail are mutually exclusive; whichever runs first wins and the
// other is a no-op, since re-completion is a programming error per §4.3.
type contextFuture struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newContextFuture() *contextFuture {
	return &contextFuture{done: make(chan struct{})}
}

func (f *contextFuture) complete() {
	f.once.Do(func() { close(f.done) })
}

func (f *contextFuture) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// wait blocks until the outcome is latched or ctx is done first.
func (f *contextFuture) wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *contextFuture) isDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

package rntbd

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionState is the lifecycle of one RNTBD connection (§3
// ConnectionState, §4.4). It is linear except for ClosingExceptionally,
// which may be entered from Registered through ContextEstablished.
type ConnectionState int32

const (
	StateFresh ConnectionState = iota
	StateRegistered
	StateContextRequested
	StateContextEstablished
	StateClosingExceptionally
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateFresh:
		return "Fresh"
	case StateRegistered:
		return "Registered"
	case StateContextRequested:
		return "ContextRequested"
	case StateContextEstablished:
		return "ContextEstablished"
	case StateClosingExceptionally:
		return "ClosingExceptionally"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// SubmitResult is the eventual outcome of one Submit call, delivered over
// the channel Submit returns (§4.4 submit: "future<StoreResponse, Error>").
type SubmitResult struct {
	Response *StoreResponse
	Err      error
}

// Connection is the per-connection RequestManager (§4.4): it owns the
// pending-request table, negotiates context on first use, coalesces
// pre-context writes, and fails every pending request the moment the
// connection exits for any reason.
//
// Grounded on the teacher's Conn (aznet.go): a single serialized mutation
// path guarded by named mutexes, a sync.Once-gated fatal close, and a
// background idle ticker, re-targeted from a Noise-encrypted
// storage-rendezvous stream onto a duplex RNTBD byte stream. Where the
// spec describes a single-threaded cooperative execution context (§5),
// this implementation follows the teacher's own choice of mutex-guarded
// shared state across goroutines instead of a hand-rolled task queue —
// idiomatic Go, and the same tradeoff the teacher already made.
type Connection struct {
	transport Transport
	cfg       *Config
	endpoint  *Endpoint

	state atomic.Int32

	// wmu guards writeBuf, the coalescing buffer staged before context is
	// established. Mirrors the teacher's wmu/bufs.Write discipline.
	wmu      sync.Mutex
	writeBuf bytes.Buffer

	pendingMu sync.Mutex
	pending   *PendingTable
	nextID    atomic.Uint64

	neg *contextFuture

	reader FrameReader

	lastActive atomic.Int64 // clock-nanos of the most recent inbound read

	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnection wraps an already-established Transport in a Connection,
// registering it the same way Dial does; context negotiation starts with
// the first Submit. Useful when the transport was constructed directly — e.g. one
// half of NewPipeTransportPair in a test — rather than dialed by scheme.
func NewConnection(transport Transport, endpoint *Endpoint, opts ...Option) (*Connection, error) {
	cfg := applyConfig(opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newConnection(cfg, &metricsTransport{Transport: transport, m: cfg.metrics}, endpoint), nil
}

func newConnection(cfg *Config, transport Transport, ep *Endpoint) *Connection {
	ctx, cancel := context.WithCancel(cfg.ctx)
	c := &Connection{
		transport: transport,
		cfg:       cfg,
		endpoint:  ep,
		pending:   newPendingTable(),
		neg:       newContextFuture(),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.lastActive.Store(cfg.clock.Now().UnixNano())
	c.register()

	go c.readLoop()
	if cfg.idleTimeout > 0 {
		go c.idleLoop()
	}
	return c
}

// register transitions Fresh -> Registered (§4.3: "On connection
// registration, the RequestManager creates an empty coalescing write
// buffer and puts the connection in Registered").
func (c *Connection) register() {
	c.state.Store(int32(StateRegistered))
	logf(EventConnection, "connection registered endpoint=%s", c.endpoint)
}

// State reports the connection's current ConnectionState.
func (c *Connection) State() ConnectionState { return ConnectionState(c.state.Load()) }

// PendingCount reports how many requests are currently outstanding.
func (c *Connection) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.pending.len()
}

// ContextEstablished reports whether context negotiation has completed
// successfully.
func (c *Connection) ContextEstablished() bool {
	return c.State() == StateContextEstablished
}

// Serviceable implements §4.4 admission control as an external capacity
// query: before context is established the cap is min(pendingLimit,
// demand), so a caller can ask whether a whole batch of size demand would
// currently fit; afterward the cap is simply pendingLimit.
func (c *Connection) Serviceable(demand int) bool {
	switch c.State() {
	case StateClosingExceptionally, StateClosed:
		return false
	}
	limit := c.cfg.pendingLimit
	if !c.ContextEstablished() {
		limit = min(limit, demand)
	}
	return c.PendingCount() < limit
}

// serviceableForSubmit is Submit's own admission check. A single request
// is always measured against the full pendingLimit, context-established
// or not: Serviceable's demand-scaled cap exists for the external
// capacity query, and clamping every individual Submit call to demand=1
// would reject every pre-context submission after the first.
func (c *Connection) serviceableForSubmit() bool {
	switch c.State() {
	case StateClosingExceptionally, StateClosed:
		return false
	}
	return c.PendingCount() < c.cfg.pendingLimit
}

// Submit is non-blocking (§4.4 submit): it performs admission control,
// assigns a transport_request_id, inserts a RequestRecord, arms its
// deadline, and writes (or stages behind context) the framed request.
// The returned channel receives exactly one SubmitResult once the record
// reaches a terminal state.
func (c *Connection) Submit(args RequestArgs) (<-chan SubmitResult, error) {
	if !c.serviceableForSubmit() {
		switch c.State() {
		case StateClosingExceptionally, StateClosed:
			return nil, ErrConnectionClosing
		default:
			return nil, ErrPendingLimitReached
		}
	}

	id := c.nextID.Add(1)
	deadline := c.cfg.clock.Now().Add(c.cfg.requestTimeout)

	frame := NewFrame(args.ActivityID, args.ResourceType, args.OperationType, id)
	if err := frame.Headers.Set(RequestHeaderReplicaPath, args.ReplicaPath); err != nil {
		return nil, err
	}
	wire, err := frame.Encode()
	if err != nil {
		return nil, err
	}

	resultCh := make(chan SubmitResult, 1)
	rec := newRequestRecord(args, id, deadline, c.cfg.clock, func() { c.onTimerFired(id) })
	rec.whenComplete(func() {
		resp, recErr := rec.Result()
		resultCh <- SubmitResult{Response: resp, Err: recErr}
	})

	c.pendingMu.Lock()
	c.pending.insert(rec)
	c.pendingMu.Unlock()

	if err := c.writeOrStage(wire); err != nil {
		c.pendingMu.Lock()
		c.pending.remove(id)
		c.pendingMu.Unlock()
		return nil, err
	}

	return resultCh, nil
}

// writeOrStage writes wire directly if context is established; otherwise
// it appends to the coalescing buffer, triggering the context negotiator
// on the very first such write (§4.3).
func (c *Connection) writeOrStage(wire []byte) error {
	switch c.State() {
	case StateContextEstablished:
		return c.writeDirect(wire)
	case StateClosingExceptionally, StateClosed:
		return ErrConnectionClosing
	default:
		c.wmu.Lock()
		first := c.State() == StateRegistered
		if first {
			c.state.Store(int32(StateContextRequested))
		}
		c.writeBuf.Write(wire)
		c.wmu.Unlock()

		if first {
			ctxFrame, err := buildContextRequest(c.cfg)
			if err != nil {
				return err
			}
			if err := c.writeDirect(ctxFrame); err != nil {
				return err
			}
			logf(EventConnection, "context request sent endpoint=%s", c.endpoint)
		}
		return nil
	}
}

func (c *Connection) writeDirect(wire []byte) error {
	if _, err := c.transport.Write(wire); err != nil {
		c.fail(err)
		return err
	}
	c.cfg.metrics.IncrementFramesSent()
	logf(EventFrame, "frame written bytes=%d", len(wire))
	return nil
}

// readLoop pumps bytes off the transport into the frame reader and
// dispatches every complete frame, until the transport errs (§4.2, §4.4
// on_bytes).
func (c *Connection) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			c.lastActive.Store(c.cfg.clock.Now().UnixNano())
			c.reader.Feed(buf[:n])
			c.drainFrames()
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Connection) drainFrames() {
	for {
		resp, ok, err := c.reader.Next()
		if err != nil {
			c.fail(err)
			return
		}
		if !ok {
			return
		}
		c.cfg.metrics.IncrementFramesReceived()
		logf(EventFrame, "frame received transport_request_id=%d status=%d", resp.TransportRequestID, resp.Status)
		c.dispatch(resp)
	}
}

func (c *Connection) dispatch(resp *Response) {
	if isContextFrame(resp) {
		c.onContextFrame(resp)
		return
	}

	if c.State() != StateContextEstablished && c.State() != StateClosingExceptionally {
		c.fail(fmt.Errorf("%w: response for id=%d before context established", ErrProtocolUnexpectedFrame, resp.TransportRequestID))
		return
	}

	c.pendingMu.Lock()
	rec, ok := c.pending.get(resp.TransportRequestID)
	if ok {
		c.pending.remove(resp.TransportRequestID)
	}
	c.pendingMu.Unlock()

	if !ok {
		// A late or duplicate response for an id no longer pending is
		// discarded with a warning (§8 scenario 5). A second response for
		// an id that an earlier response already resolved takes this same
		// path: it is discarded and raises no protocol error.
		logf(EventRequest, "discarded response for unknown or already-resolved transport_request_id=%d", resp.TransportRequestID)
		return
	}

	storeResp, mapErr := mapResponse(resp)
	if mapErr != nil {
		rec.completeExceptionally(mapErr)
		c.cfg.metrics.IncrementRequestsFailed()
		return
	}
	rec.complete(storeResp)
	c.cfg.metrics.IncrementRequestsCompleted()
}

func (c *Connection) onContextFrame(resp *Response) {
	if resp.Status >= 200 && resp.Status < 300 {
		c.neg.complete()
		c.state.Store(int32(StateContextEstablished))
		logf(EventConnection, "context established endpoint=%s", c.endpoint)
		if err := c.flushCoalesced(); err != nil {
			c.fail(err)
		}
		return
	}

	_, mapErr := mapResponse(resp)
	c.neg.fail(mapErr)
	c.fail(mapErr)
}

// flushCoalesced writes every buffered pre-context frame atomically, in
// the order they were staged (§4.3).
func (c *Connection) flushCoalesced() error {
	c.wmu.Lock()
	pending := append([]byte(nil), c.writeBuf.Bytes()...)
	c.writeBuf.Reset()
	c.wmu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	return c.writeDirect(pending)
}

func (c *Connection) onTimerFired(id uint64) {
	c.pendingMu.Lock()
	rec, ok := c.pending.get(id)
	if ok {
		c.pending.remove(id)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	if rec.expire() {
		c.cfg.metrics.IncrementRequestsTimedOut()
		logf(EventTimeout, "request timed out transport_request_id=%d", id)
	}
}

// idleLoop invokes HealthCheck when no inbound bytes have arrived for
// cfg.idleTimeout (§4.4 on_idle_timeout).
func (c *Connection) idleLoop() {
	ticker := c.cfg.clock.NewTicker(c.cfg.idleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.Chan():
			switch c.State() {
			case StateClosingExceptionally, StateClosed:
				return
			}
			idleSince := time.Unix(0, c.lastActive.Load())
			if c.cfg.clock.Now().Sub(idleSince) < c.cfg.idleTimeout {
				continue
			}
			c.onIdleTimeout()
		}
	}
}

func (c *Connection) onIdleTimeout() {
	ok, err := c.cfg.healthCheck(c.ctx)
	if err == nil && ok {
		return
	}
	if err == nil {
		err = ErrUnhealthyChannel
	}
	c.fail(err)
}

// fail performs the fatal transition into ClosingExceptionally and then
// Closed (§4.4 "Fatal transition"). It is idempotent: only the first
// caller runs the four numbered steps; every later caller is a no-op.
func (c *Connection) fail(cause error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosingExceptionally))

		// Step 1: release and fail all coalesced pending writes.
		c.wmu.Lock()
		c.writeBuf.Reset()
		c.wmu.Unlock()

		// Step 2: complete the context future exceptionally, if it has
		// not already latched a result.
		c.neg.fail(cause)

		// Step 3: fail every still-pending record with a synthetic Gone
		// error naming the exit path, the cause, this endpoint, and the
		// request's activity id; the request's headers are not attached.
		c.pendingMu.Lock()
		records := c.pending.drain()
		c.pendingMu.Unlock()
		for _, rec := range records {
			goneErr := newGoneError(cause, c.endpoint.String(), rec.Args)
			if rec.completeExceptionally(goneErr) {
				c.cfg.metrics.IncrementRequestsFailed()
			}
		}

		// Step 4: close the transport; cancel background work.
		_ = c.transport.Close()
		c.cancel()

		c.state.Store(int32(StateClosed))
		logf(EventClose, "connection closed exceptionally endpoint=%s cause=%v", c.endpoint, cause)
	})
}

// Close initiates the fatal transition with ErrOnClose as the cause
// (§7's distinct close sentinels).
func (c *Connection) Close() error {
	c.fail(ErrOnClose)
	return nil
}

package rntbd

import "sync/atomic"

// Metrics tracks per-connection traffic and outcome counters. Drivers and
// the RequestManager call Increment*; collectors read via Get*.
type Metrics interface {
	IncrementFramesSent()
	IncrementFramesReceived()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)
	IncrementRequestsCompleted()
	IncrementRequestsTimedOut()
	IncrementRequestsFailed()

	GetFramesSent() int64
	GetFramesReceived() int64
	GetBytesSent() int64
	GetBytesReceived() int64
	GetRequestsCompleted() int64
	GetRequestsTimedOut() int64
	GetRequestsFailed() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	framesSent        int64
	framesReceived    int64
	bytesSent         int64
	bytesReceived     int64
	requestsCompleted int64
	requestsTimedOut  int64
	requestsFailed    int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementFramesSent()          { atomic.AddInt64(&m.framesSent, 1) }
func (m *DefaultMetrics) IncrementFramesReceived()      { atomic.AddInt64(&m.framesReceived, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64)    { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) { atomic.AddInt64(&m.bytesReceived, n) }
func (m *DefaultMetrics) IncrementRequestsCompleted()   { atomic.AddInt64(&m.requestsCompleted, 1) }
func (m *DefaultMetrics) IncrementRequestsTimedOut()     { atomic.AddInt64(&m.requestsTimedOut, 1) }
func (m *DefaultMetrics) IncrementRequestsFailed()       { atomic.AddInt64(&m.requestsFailed, 1) }

func (m *DefaultMetrics) GetFramesSent() int64          { return atomic.LoadInt64(&m.framesSent) }
func (m *DefaultMetrics) GetFramesReceived() int64      { return atomic.LoadInt64(&m.framesReceived) }
func (m *DefaultMetrics) GetBytesSent() int64           { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64       { return atomic.LoadInt64(&m.bytesReceived) }
func (m *DefaultMetrics) GetRequestsCompleted() int64   { return atomic.LoadInt64(&m.requestsCompleted) }
func (m *DefaultMetrics) GetRequestsTimedOut() int64    { return atomic.LoadInt64(&m.requestsTimedOut) }
func (m *DefaultMetrics) GetRequestsFailed() int64      { return atomic.LoadInt64(&m.requestsFailed) }

// metricsTransport decorates a Transport with traffic counters, the same
// decorator shape the teacher used for its storage-backed transports.
type metricsTransport struct {
	Transport
	m Metrics
}

func newMetricsTransport(t Transport, m Metrics) *metricsTransport {
	return &metricsTransport{Transport: t, m: m}
}

// Write counts bytes only; Connection.writeDirect counts frames, since it
// alone knows where one frame's Write call ends and the next begins.
func (t *metricsTransport) Write(p []byte) (int, error) {
	n, err := t.Transport.Write(p)
	if n > 0 {
		t.m.IncrementBytesSent(int64(n))
	}
	return n, err
}

func (t *metricsTransport) Read(p []byte) (int, error) {
	n, err := t.Transport.Read(p)
	if n > 0 {
		t.m.IncrementBytesReceived(int64(n))
	}
	return n, err
}

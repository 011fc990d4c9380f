package rntbd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readRawFrame reads one complete RNTBD frame body (everything after the
// 4-byte length prefix) off r, blocking until it has arrived in full.
func readRawFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	total := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// transportRequestIDOf reads the transport_request_id out of a request
// frame body: guid(0:16) + resource_type(16:18) + operation_type(18:20) +
// transport_request_id(20:28).
func transportRequestIDOf(body []byte) uint64 {
	return binary.LittleEndian.Uint64(body[20:28])
}

// buildResponseFrame assembles a minimal response frame with no headers
// and no payload: status(4) + activity_id(16) + transport_request_id(8).
func buildResponseFrame(status int, activityID uuid.UUID, transportRequestID uint64) []byte {
	var body bytes.Buffer
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(status))
	body.Write(u32[:])

	guid := encodeGuidMixedEndian(activityID)
	body.Write(guid[:])

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], transportRequestID)
	body.Write(u64[:])

	out := make([]byte, 4+body.Len())
	binary.LittleEndian.PutUint32(out[:4], uint32(body.Len()))
	copy(out[4:], body.Bytes())
	return out
}

func testEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	ep, err := ParseEndpoint("rntbd://localhost:19080/")
	require.NoError(t, err)
	return ep
}

// serveFrames spawns a goroutine reading one raw frame at a time off conn
// into the returned channel, until conn errs or is closed.
func serveFrames(conn Transport) <-chan []byte {
	out := make(chan []byte, 16)
	go func() {
		for {
			body, err := readRawFrame(conn)
			if err != nil {
				return
			}
			out <- body
		}
	}()
	return out
}

// newEstablishedConnection dials a Connection over one half of a pipe
// pair, submits and answers one warm-up request (the first write is what
// sends the ContextRequest), drives the ContextRequest/ContextResponse
// exchange to completion, and returns the connection plus the server-side
// pipe half and its inbound frame channel, with nothing left pending.
func newEstablishedConnection(t *testing.T, clock clockwork.Clock, opts ...Option) (*Connection, Transport, <-chan []byte) {
	t.Helper()
	serverSide, clientSide := NewPipeTransportPair()

	allOpts := append([]Option{WithClock(clock), WithIdleTimeout(0)}, opts...)
	conn, err := NewConnection(clientSide, testEndpoint(t), allOpts...)
	require.NoError(t, err)

	frames := serveFrames(serverSide)

	warmup, err := conn.Submit(RequestArgs{ActivityID: uuid.New(), ResourceType: 1, OperationType: 1, ReplicaPath: "/p/"})
	require.NoError(t, err)

	ctxReq := <-frames
	require.Equal(t, uint64(0), transportRequestIDOf(ctxReq))

	_, err = serverSide.Write(buildResponseFrame(200, uuid.New(), 0))
	require.NoError(t, err)

	require.Eventually(t, conn.ContextEstablished, time.Second, time.Millisecond)

	warmupReq := <-frames
	_, err = serverSide.Write(buildResponseFrame(200, uuid.New(), transportRequestIDOf(warmupReq)))
	require.NoError(t, err)
	require.NoError(t, (<-warmup).Err)

	return conn, serverSide, frames
}

// TestServiceablePreAndPostContext pins Serviceable(demand) as the
// external §4.4 capacity query, distinct from Submit's own admission
// gate: pre-context its cap is min(pendingLimit, demand), so a caller
// asking about a large batch gets a tighter answer than pendingLimit
// alone would give, while Submit itself (serviceableForSubmit) is never
// clamped by a single call's demand=1.
func TestServiceablePreAndPostContext(t *testing.T) {
	clock := clockwork.NewFakeClock()
	serverSide, clientSide := NewPipeTransportPair()
	defer serverSide.Close()

	conn, err := NewConnection(clientSide, testEndpoint(t), WithClock(clock), WithIdleTimeout(0), WithPendingLimit(2))
	require.NoError(t, err)
	defer conn.Close()

	frames := serveFrames(serverSide)

	assert.True(t, conn.Serviceable(1))
	assert.True(t, conn.Serviceable(5))

	_, err = conn.Submit(RequestArgs{ActivityID: uuid.New(), ResourceType: 1, OperationType: 1, ReplicaPath: "/p/1"})
	require.NoError(t, err)
	_, err = conn.Submit(RequestArgs{ActivityID: uuid.New(), ResourceType: 1, OperationType: 1, ReplicaPath: "/p/2"})
	require.NoError(t, err)
	<-frames // ContextRequest, sent by the first Submit

	// Two requests admitted pre-context at pendingLimit=2 fills the
	// demand-scaled cap: a caller asking for any batch now sees no room.
	assert.False(t, conn.Serviceable(1))
	assert.False(t, conn.Serviceable(5))

	_, err = serverSide.Write(buildResponseFrame(200, uuid.New(), 0))
	require.NoError(t, err)
	require.Eventually(t, conn.ContextEstablished, time.Second, time.Millisecond)

	// Post-context the cap is simply pendingLimit, with no demand clamp.
	assert.False(t, conn.Serviceable(1))
	assert.False(t, conn.Serviceable(100))
}

// TestConnectionContextGatingFlushesInOrder submits two requests before
// context is established and asserts: the ContextRequest frame is sent
// first; neither request frame reaches the wire until the ContextResponse
// arrives; both are then flushed in submission order (§8 scenario 4).
func TestConnectionContextGatingFlushesInOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	serverSide, clientSide := NewPipeTransportPair()
	defer serverSide.Close()

	conn, err := NewConnection(clientSide, testEndpoint(t), WithClock(clock), WithIdleTimeout(0))
	require.NoError(t, err)
	defer conn.Close()

	frames := serveFrames(serverSide)

	result1, err := conn.Submit(RequestArgs{ActivityID: uuid.New(), ResourceType: 1, OperationType: 1, ReplicaPath: "/p/1"})
	require.NoError(t, err)
	result2, err := conn.Submit(RequestArgs{ActivityID: uuid.New(), ResourceType: 1, OperationType: 1, ReplicaPath: "/p/2"})
	require.NoError(t, err)

	ctxReq := <-frames
	assert.Equal(t, uint64(0), transportRequestIDOf(ctxReq))

	select {
	case body := <-frames:
		t.Fatalf("request frame reached the wire before context was established: %x", body)
	case <-time.After(20 * time.Millisecond):
	}

	_, err = serverSide.Write(buildResponseFrame(200, uuid.New(), 0))
	require.NoError(t, err)

	req1 := <-frames
	req2 := <-frames
	assert.Equal(t, uint64(1), transportRequestIDOf(req1))
	assert.Equal(t, uint64(2), transportRequestIDOf(req2))

	_, err = serverSide.Write(buildResponseFrame(200, uuid.New(), 1))
	require.NoError(t, err)
	_, err = serverSide.Write(buildResponseFrame(200, uuid.New(), 2))
	require.NoError(t, err)

	res1 := <-result1
	res2 := <-result2
	require.NoError(t, res1.Err)
	require.NoError(t, res2.Err)
	assert.Equal(t, 200, res1.Response.Status)
	assert.Equal(t, 200, res2.Response.Status)
}

// TestConnectionTimeoutWinsRace fires a request's timeout via a fake clock
// advance, then delivers a response for the same now-expired id, and
// asserts the late response is discarded rather than redelivered (§8
// scenario 5).
func TestConnectionTimeoutWinsRace(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn, serverSide, frames := newEstablishedConnection(t, clock, WithRequestTimeout(10*time.Millisecond))
	defer serverSide.Close()
	defer conn.Close()

	resultCh, err := conn.Submit(RequestArgs{ActivityID: uuid.New(), ResourceType: 1, OperationType: 1, ReplicaPath: "/p/"})
	require.NoError(t, err)

	reqBody := <-frames
	id := transportRequestIDOf(reqBody)

	clock.BlockUntil(1)
	clock.Advance(20 * time.Millisecond)

	result := <-resultCh
	require.Error(t, result.Err)
	assert.True(t, errors.Is(result.Err, ErrRequestTimeout))

	require.Eventually(t, func() bool { return conn.PendingCount() == 0 }, time.Second, time.Millisecond)

	_, err = serverSide.Write(buildResponseFrame(200, uuid.New(), id))
	require.NoError(t, err)

	// The late response must not resurrect a second delivery; PendingCount
	// stays at zero and no further write to resultCh is possible (it is
	// already closed-over and drained above).
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, conn.PendingCount())
}

// TestConnectionFatalCloseFailsAllPending closes a connection with several
// requests outstanding and asserts every one resolves with a synthetic
// Gone error naming ErrOnClose as its cause (§8 scenario 6).
func TestConnectionFatalCloseFailsAllPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn, serverSide, frames := newEstablishedConnection(t, clock)
	defer serverSide.Close()

	const n = 5
	resultChs := make([]<-chan SubmitResult, n)
	for i := 0; i < n; i++ {
		ch, err := conn.Submit(RequestArgs{ActivityID: uuid.New(), ResourceType: 1, OperationType: 1, ReplicaPath: "/p/"})
		require.NoError(t, err)
		resultChs[i] = ch
		<-frames
	}

	require.NoError(t, conn.Close())

	for i := 0; i < n; i++ {
		result := <-resultChs[i]
		require.Error(t, result.Err)

		var storeErr *StoreError
		require.ErrorAs(t, result.Err, &storeErr)
		assert.Equal(t, KindGone, storeErr.Kind)
		assert.True(t, errors.Is(storeErr, ErrOnClose))
		assert.Contains(t, storeErr.Error(), "closed exceptionally")
	}

	assert.Equal(t, StateClosed, conn.State())
}

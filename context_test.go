package rntbd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildContextRequestCarriesClientIdentity(t *testing.T) {
	cfg := defaultConfig()
	cfg.clientVersion = "9.9"
	cfg.userAgent = "test-agent"

	wire, err := buildContextRequest(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), transportRequestIDOf(wire[4:]))

	body := wire[4:]
	arena := newFrameArena(len(body))
	copy(arena.buf, body)
	defer arena.release()

	c := newWireCursor(arena.buf)
	_, err = c.readN(requestPrologSize)
	require.NoError(t, err)

	// The ContextRequest carries no ReplicaPath, so the records are decoded
	// without the required-header check.
	headers := NewTokenStream(requestCatalog())
	require.NoError(t, decodeTokenRecords(c, requestCatalog(), arena, headers, nil))

	tok, ok := headers.Get(RequestHeaderClientVersion)
	require.True(t, ok)
	v, err := tok.Value()
	require.NoError(t, err)
	assert.Equal(t, "9.9", v)

	tok, ok = headers.Get(RequestHeaderUserAgent)
	require.True(t, ok)
	v, err = tok.Value()
	require.NoError(t, err)
	assert.Equal(t, "test-agent", v)
}

func TestIsContextFrameMatchesReservedID(t *testing.T) {
	assert.True(t, isContextFrame(&Response{TransportRequestID: 0}))
	assert.False(t, isContextFrame(&Response{TransportRequestID: 1}))
}

func TestContextFutureCompleteThenFailIsNoOp(t *testing.T) {
	f := newContextFuture()
	f.complete()
	f.fail(errors.New("too late"))

	assert.True(t, f.isDone())
	err := f.wait(context.Background())
	assert.NoError(t, err)
}

func TestContextFutureFailLatchesError(t *testing.T) {
	f := newContextFuture()
	cause := errors.New("negotiation failed")
	f.fail(cause)
	f.complete() // no-op, already terminal

	err := f.wait(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestContextFutureWaitUnblocksOnCallerContext(t *testing.T) {
	f := newContextFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := f.wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestContextFutureWaitReturnsOnceComplete(t *testing.T) {
	f := newContextFuture()
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.complete()
	}()

	err := f.wait(context.Background())
	assert.NoError(t, err)
}

package rntbd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeMissingRequiredHeaderIsFatal decodes a request stream that
// never sets ReplicaPath (required) and expects a fatal decode error
// (§8 scenario 2).
func TestDecodeMissingRequiredHeaderIsFatal(t *testing.T) {
	ts := NewTokenStream(requestCatalog())
	require.NoError(t, ts.Set(RequestHeaderClientVersion, "1.0"))

	var encoded bytes.Buffer
	require.NoError(t, ts.Encode(&encoded))

	arena := newFrameArena(encoded.Len())
	copy(arena.buf, encoded.Bytes())
	defer arena.release()

	_, err := DecodeTokenStream(newWireCursor(arena.buf), requestCatalog(), arena)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCodecMissingRequired))
}

// TestDecodeUnknownHeaderPreserved decodes a record whose id has no
// catalog entry and expects it to survive as an Undefined token while the
// required-header check still passes (§8 scenario 3).
func TestDecodeUnknownHeaderPreserved(t *testing.T) {
	var raw []byte
	raw = binary.LittleEndian.AppendUint16(raw, 0xFFFE)
	raw = append(raw, byte(TokenTypeLong32))
	raw = binary.LittleEndian.AppendUint32(raw, 0x12345678)

	arena := newFrameArena(len(raw))
	copy(arena.buf, raw)
	defer arena.release()

	ts, err := DecodeTokenStream(newWireCursor(arena.buf), responseCatalog(), arena)
	require.NoError(t, err)

	undefined := ts.Undefined()
	tok, ok := undefined[0xFFFE]
	require.True(t, ok)
	assert.True(t, tok.IsPresent())

	v, err := tok.Value()
	require.NoError(t, err)
	assert.Equal(t, int32(0x12345678), v)
}

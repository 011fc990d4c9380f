package rntbd

import (
	"bytes"
	"encoding/binary"
	"testing"

	azlog "github.com/Azure/azure-sdk-for-go/sdk/azcore/log"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requestProlog is a plain, comparable projection of a Frame's prolog
// fields, used so cmp.Diff has no unexported fields to trip over.
type requestProlog struct {
	ActivityID         uuid.UUID
	ResourceType       uint16
	OperationType      uint16
	TransportRequestID uint64
}

func decodeRequestProlog(t *testing.T, body []byte) requestProlog {
	t.Helper()
	c := newWireCursor(body)

	guidBytes, err := c.readN(16)
	require.NoError(t, err)
	var guid [16]byte
	copy(guid[:], guidBytes)

	resourceType, err := c.readUint16LE()
	require.NoError(t, err)
	operationType, err := c.readUint16LE()
	require.NoError(t, err)
	transportRequestID, err := c.readUint64LE()
	require.NoError(t, err)

	return requestProlog{
		ActivityID:         decodeGuidMixedEndian(guid),
		ResourceType:       resourceType,
		OperationType:      operationType,
		TransportRequestID: transportRequestID,
	}
}

// TestFrameEncodeProlog pins the request prolog's on-wire field order and
// values by decoding it back into a plain struct and diffing against what
// was encoded; on mismatch the full decoded value is dumped via spew for
// a readable failure message.
func TestFrameEncodeProlog(t *testing.T) {
	f := NewFrame(uuid.New(), 3, 9, 42)
	wire, err := f.Encode()
	require.NoError(t, err)

	got := decodeRequestProlog(t, wire[4:])
	want := requestProlog{
		ActivityID:         f.ActivityID,
		ResourceType:       f.ResourceType,
		OperationType:      f.OperationType,
		TransportRequestID: f.TransportRequestID,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("request prolog mismatch (-want +got):\n%s\ndecoded value:\n%s", diff, spew.Sdump(got))
	}
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := NewFrame(uuid.New(), 1, 2, 7)
	require.NoError(t, f.Headers.Set(RequestHeaderReplicaPath, "/partitions/a/replicas/1p/"))

	wire, err := f.Encode()
	require.NoError(t, err)

	body := wire[4:]
	arena := newFrameArena(len(body))
	copy(arena.buf, body)
	defer arena.release()

	c := newWireCursor(arena.buf)
	_, err = c.readN(requestPrologSize)
	require.NoError(t, err)

	headers, err := DecodeTokenStream(c, requestCatalog(), arena)
	require.NoError(t, err)

	tok, ok := headers.Get(RequestHeaderReplicaPath)
	require.True(t, ok)
	v, err := tok.Value()
	require.NoError(t, err)
	assert.Equal(t, "/partitions/a/replicas/1p/", v)
}

// TestFrameReaderAssemblesAcrossPartialFeeds feeds a complete response
// frame's bytes in several small chunks and asserts Next reports no frame
// ready until every byte has arrived (§4.2 decode loop).
func TestFrameReaderAssemblesAcrossPartialFeeds(t *testing.T) {
	activityID := uuid.New()
	wire := buildResponseFrame(200, activityID, 5)

	var fr FrameReader
	for i := 0; i < len(wire); i++ {
		fr.Feed(wire[i : i+1])
		resp, ok, err := fr.Next()
		require.NoError(t, err)
		if i < len(wire)-1 {
			assert.False(t, ok)
			assert.Nil(t, resp)
		} else {
			require.True(t, ok)
			require.NotNil(t, resp)
			assert.Equal(t, 200, resp.Status)
			assert.Equal(t, activityID, resp.ActivityID)
			assert.Equal(t, uint64(5), resp.TransportRequestID)
		}
	}
}

// TestFrameGoStringDumpsHeaderValues asserts GoString renders a human-
// readable dump (via spew) rather than the default opaque struct syntax,
// so the ActivityID field and a set header's value are visible in the
// output.
func TestFrameGoStringDumpsHeaderValues(t *testing.T) {
	f := NewFrame(uuid.New(), 1, 2, 7)
	require.NoError(t, f.Headers.Set(RequestHeaderReplicaPath, "/partitions/a/replicas/1p/"))
	out := f.GoString()
	assert.Contains(t, out, "ActivityID")
	assert.Contains(t, out, "/partitions/a/replicas/1p/")
}

// TestFrameReaderLogsMalformedFrameDump asserts that a complete-but-
// undecodable frame is reported through EventFrame with a spew dump of
// the raw frame bytes, not just silently surfaced as an error.
func TestFrameReaderLogsMalformedFrameDump(t *testing.T) {
	defer SetListener(nil)
	defer SetEvents()

	var got []string
	SetListener(func(cls azlog.Event, msg string) {
		got = append(got, msg)
	})
	SetEvents(EventFrame)

	// A frame body shorter than the response prolog is complete (the
	// length prefix matches what's buffered) but fails to decode.
	short := make([]byte, 4)
	binary.LittleEndian.PutUint32(short, 2)
	short = append(short, 0x00, 0x00)

	var fr FrameReader
	fr.Feed(short)
	resp, ok, err := fr.Next()
	assert.Nil(t, resp)
	require.True(t, ok)
	require.Error(t, err)

	require.Len(t, got, 1)
	assert.Contains(t, got[0], "malformed frame rejected")
}

// TestDecodeResponseFrameWithPayloadAndHeaders is the §8 scenario-7
// 410/1007 case extended with an error-body payload: it pins that
// PayloadPresent is encoded (and decoded) last among the response's
// headers even though other headers carry lower numeric ids, so a
// response with both a payload and non-PayloadPresent headers decodes
// the payload as payload, not as trailing header records.
func TestDecodeResponseFrameWithPayloadAndHeaders(t *testing.T) {
	activityID := uuid.New()

	ts := NewTokenStream(responseCatalog())
	require.NoError(t, ts.Set(ResponseHeaderSubStatus, uint32(1007)))
	require.NoError(t, ts.Set(ResponseHeaderLSN, uint64(42)))
	require.NoError(t, ts.Set(ResponseHeaderPartitionKeyRangeID, "5"))
	require.NoError(t, ts.Set(ResponseHeaderPayloadPresent, payloadPresentValue))

	var headerBuf bytes.Buffer
	require.NoError(t, ts.Encode(&headerBuf))

	payload := []byte(`{"code":"Gone","message":"partition key range is splitting"}`)

	var body bytes.Buffer
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], 410)
	body.Write(u32[:])
	guid := encodeGuidMixedEndian(activityID)
	body.Write(guid[:])
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], 7)
	body.Write(u64[:])
	body.Write(headerBuf.Bytes())
	body.Write(payload)

	arena := newFrameArena(body.Len())
	copy(arena.buf, body.Bytes())
	defer arena.release()

	resp, err := decodeResponseFrame(arena.buf, arena)
	require.NoError(t, err)
	assert.Equal(t, 410, resp.Status)
	assert.Equal(t, activityID, resp.ActivityID)
	assert.Equal(t, payload, resp.Payload)

	subStatusTok, ok := resp.Headers.Get(ResponseHeaderSubStatus)
	require.True(t, ok)
	subStatus, err := subStatusTok.Value()
	require.NoError(t, err)
	assert.Equal(t, uint32(1007), subStatus)

	lsnTok, ok := resp.Headers.Get(ResponseHeaderLSN)
	require.True(t, ok)
	lsn, err := lsnTok.Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), lsn)

	pkRangeTok, ok := resp.Headers.Get(ResponseHeaderPartitionKeyRangeID)
	require.True(t, ok)
	pkRange, err := pkRangeTok.Value()
	require.NoError(t, err)
	assert.Equal(t, "5", pkRange)
}

func TestFrameReaderHandlesMultipleFramesInOneFeed(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	wire := append(buildResponseFrame(200, id1, 1), buildResponseFrame(404, id2, 2)...)

	var fr FrameReader
	fr.Feed(wire)

	resp1, ok, err := fr.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), resp1.TransportRequestID)

	resp2, ok, err := fr.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), resp2.TransportRequestID)

	_, ok, err = fr.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

package rntbd

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
)

// Frame is one outbound request: the RNTBD request prolog, its request
// headers, and an optional payload (§3, §4.2).
type Frame struct {
	ActivityID         uuid.UUID
	ResourceType       uint16
	OperationType      uint16
	TransportRequestID uint64
	Headers            *TokenStream[RequestHeader]
	Payload            []byte
}

// NewFrame returns a Frame whose request headers are all Absent, ready
// for the caller to populate via Headers.Set before Encode.
func NewFrame(activityID uuid.UUID, resourceType, operationType uint16, transportRequestID uint64) *Frame {
	return &Frame{
		ActivityID:         activityID,
		ResourceType:       resourceType,
		OperationType:      operationType,
		TransportRequestID: transportRequestID,
		Headers:            NewTokenStream(requestCatalog()),
	}
}

// GoString renders f via spew instead of the default Go-syntax dump, so a
// logged or test-failed Frame shows every header token's decoded value
// rather than the TokenStream's internal pointers.
func (f *Frame) GoString() string {
	return spew.Sdump(f)
}

// requestPrologSize is activity_id(16) + resource_type(2) + operation_type(2)
// + transport_request_id(8), not counting the outer 4-byte length.
const requestPrologSize = 16 + 2 + 2 + 8

// Encode serializes f into a complete wire frame: a 4-byte little-endian
// total length covering everything after itself, the request prolog, the
// request headers, and the payload if present (§3, §4.2).
//
// If f.Payload is non-empty and the caller has not already set
// PayloadPresent, Encode sets it: the header must agree with the frame it
// is attached to, and forgetting it is not a choice a caller should have
// to make correctly by hand.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > 0 {
		if tok, ok := f.Headers.Get(RequestHeaderPayloadPresent); ok && !tok.IsPresent() {
			if err := f.Headers.Set(RequestHeaderPayloadPresent, byte(payloadPresentValue)); err != nil {
				return nil, err
			}
		}
	}

	var body bytes.Buffer
	body.Grow(requestPrologSize + len(f.Payload))

	guid := encodeGuidMixedEndian(f.ActivityID)
	body.Write(guid[:])

	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], f.ResourceType)
	body.Write(u16[:])
	binary.LittleEndian.PutUint16(u16[:], f.OperationType)
	body.Write(u16[:])

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], f.TransportRequestID)
	body.Write(u64[:])

	if err := f.Headers.Encode(&body); err != nil {
		return nil, fmt.Errorf("rntbd: encode request headers: %w", err)
	}
	body.Write(f.Payload)

	out := make([]byte, 4+body.Len())
	binary.LittleEndian.PutUint32(out[:4], uint32(body.Len()))
	copy(out[4:], body.Bytes())
	return out, nil
}

// Response is one inbound RNTBD response: prolog, response headers, and
// optional payload (§3, §4.2, §6).
type Response struct {
	Status             int
	ActivityID         uuid.UUID
	TransportRequestID uint64
	Headers            *TokenStream[ResponseHeader]
	Payload            []byte
}

// responsePrologSize is status(4) + activity_id(16) + transport_request_id(8).
const responsePrologSize = 4 + 16 + 8

// decodeResponseFrame decodes one complete response frame body — the
// bytes that follow the outer 4-byte length, exactly length bytes long —
// into a Response. arena backs every Raw token borrowed out of body; the
// caller owns arena's initial reference and must release it once decoding
// returns (§5, §9 "Reference-counted ByteBufs").
func decodeResponseFrame(body []byte, arena *frameArena) (*Response, error) {
	if len(body) < responsePrologSize {
		return nil, fmt.Errorf("%w: response prolog needs %d bytes, frame has %d", ErrCodecShortBuffer, responsePrologSize, len(body))
	}
	c := newWireCursor(body)

	status, err := c.readUint32LE()
	if err != nil {
		return nil, fmt.Errorf("%w: status: %v", ErrCodecShortBuffer, err)
	}

	guidBytes, err := c.readN(16)
	if err != nil {
		return nil, fmt.Errorf("%w: activity id: %v", ErrCodecShortBuffer, err)
	}
	var guid [16]byte
	copy(guid[:], guidBytes)

	transportRequestID, err := c.readUint64LE()
	if err != nil {
		return nil, fmt.Errorf("%w: transport request id: %v", ErrCodecShortBuffer, err)
	}

	headers, payloadPresent, err := decodeHeadersBounded(c, responseCatalog(), arena, ResponseHeaderPayloadPresent)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if payloadPresent {
		rest, err := c.readN(c.remaining())
		if err != nil {
			return nil, err
		}
		payload = append([]byte(nil), rest...)
	}

	return &Response{
		Status:             int(status),
		ActivityID:         decodeGuidMixedEndian(guid),
		TransportRequestID: transportRequestID,
		Headers:            headers,
		Payload:            payload,
	}, nil
}

// StoreResponse is the caller-facing result of a request whose status
// landed in [200, 300) (§4.5). It carries the same diagnostic surface as
// StoreError so callers can read session tokens, request charge, and
// other response headers uniformly regardless of outcome.
type StoreResponse struct {
	Status     int
	ActivityID uuid.UUID
	Headers    *TokenStream[ResponseHeader]
	Payload    []byte
}

// FrameReader assembles complete Responses out of a byte stream that may
// arrive in arbitrarily sized chunks (§4.2 decode loop). No Response is
// allocated until a complete frame has arrived, so a slow or stalled peer
// never forces speculative allocation ahead of the data it actually sent.
type FrameReader struct {
	buf bytes.Buffer
}

// Feed appends newly received bytes to the reader's internal buffer.
func (fr *FrameReader) Feed(p []byte) {
	fr.buf.Write(p)
}

// Next attempts to decode one complete frame out of the buffered bytes.
// It reports (nil, false, nil) when fewer bytes than a full frame have
// arrived so far: await >= 4 bytes, peek the length, and wait for the
// rest (§4.2 step 1). A non-nil error is always paired with ok == true:
// a complete frame arrived but failed to decode, which is fatal to the
// connection (§4.4).
func (fr *FrameReader) Next() (*Response, bool, error) {
	buffered := fr.buf.Bytes()
	if len(buffered) < 4 {
		return nil, false, nil
	}
	total := binary.LittleEndian.Uint32(buffered[:4])
	frameLen := 4 + int(total)
	if len(buffered) < frameLen {
		return nil, false, nil
	}

	arena := newFrameArena(int(total))
	copy(arena.buf, buffered[4:frameLen])
	fr.buf.Next(frameLen)

	resp, err := decodeResponseFrame(arena.buf, arena)
	if err != nil {
		logf(EventFrame, "malformed frame rejected: %v\n%s", err, spew.Sdump(arena.buf))
		arena.release()
		return nil, true, err
	}
	arena.release()
	return resp, true, nil
}

// RequestArgs is the identity of one outbound request, kept around long
// enough to build a synthetic Gone error if the connection exits before a
// response arrives for it (§4.4 step 3).
type RequestArgs struct {
	ActivityID    uuid.UUID
	ResourceType  uint16
	OperationType uint16
	ReplicaPath   string
}

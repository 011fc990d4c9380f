package rntbd

import (
	"sync"
	"sync/atomic"
)

// valueSlotState is the discriminant for ValueSlot (§3): Absent, Raw (an
// unparsed byte slice borrowed from the owning frame's arena), or Parsed
// (a decoded TypedValue, cached after the first Value() call).
type valueSlotState uint8

const (
	slotAbsent valueSlotState = iota
	slotRaw
	slotParsed
)

// frameArena is the reference-counted backing buffer for the Raw tokens
// decoded out of one frame (§5, §9 "Reference-counted ByteBufs"). Multiple
// Raw tokens may share a frame; the frame's pooled buffer is returned only
// once every token referencing it has released it.
//
// Grounded on the teacher's buffersPool sync.Pool (aznet.go): one pooled
// backing array per decode, returned to the pool once nothing still
// points into it.
type frameArena struct {
	buf  []byte
	refs atomic.Int32
}

var arenaPool = sync.Pool{
	New: func() any { return &frameArena{buf: make([]byte, 0, 4096)} },
}

func newFrameArena(size int) *frameArena {
	a := arenaPool.Get().(*frameArena)
	if cap(a.buf) < size {
		a.buf = make([]byte, size)
	} else {
		a.buf = a.buf[:size]
	}
	a.refs.Store(1)
	return a
}

// retain increments the arena's reference count. Called once per Raw
// token decoded against this arena; the creator's initial reference from
// newFrameArena is separate.
func (a *frameArena) retain() { a.refs.Add(1) }

// release decrements the arena's reference count; at zero the backing
// buffer is returned to the pool. Calling release more times than the
// arena was retained is a programming error and is not guarded against,
// matching the teacher's own unchecked buffersPool.Put discipline.
func (a *frameArena) release() {
	if a.refs.Add(-1) == 0 {
		arenaPool.Put(a)
	}
}

// Token is a mutable slot bound to one header (§3). It holds either an
// unparsed byte slice (lazy) or a decoded value, and computes its own
// on-wire length.
type Token struct {
	header HeaderDef

	state  valueSlotState
	raw    []byte // valid when state == slotRaw; borrowed from arena
	arena  *frameArena
	parsed any // valid when state == slotParsed

	cachedLength    uint32
	cachedLengthSet bool
}

// newAbsentToken returns a Token bound to header with no value, used to
// pre-populate a TokenStream for every known header (§3).
func newAbsentToken(header HeaderDef) *Token {
	return &Token{header: header, state: slotAbsent}
}

// Header returns the HeaderDef this token is bound to.
func (t *Token) Header() HeaderDef { return t.header }

// IsPresent reports whether the token carries a value (§3 invariant).
func (t *Token) IsPresent() bool { return t.state != slotAbsent }

// setRaw binds the token to an unparsed byte slice owned by arena. Any
// previously cached length is invalidated (§3 invariant).
func (t *Token) setRaw(raw []byte, arena *frameArena) {
	t.state = slotRaw
	t.raw = raw
	t.arena = arena
	t.parsed = nil
	t.cachedLengthSet = false
}

// Set binds the token to an already-decoded value, invalidating any
// cached length. This is how a caller assembles an outbound request.
func (t *Token) Set(v any) error {
	c, err := lookupCodec(t.header.Type)
	if err != nil {
		return err
	}
	if !c.isValid(v) {
		return typeMismatch(c.Name, v)
	}
	t.state = slotParsed
	t.parsed = v
	t.raw = nil
	if t.arena != nil {
		t.arena.release()
		t.arena = nil
	}
	t.cachedLengthSet = false
	return nil
}

// Clear resets the token to Absent, releasing any arena reference.
func (t *Token) Clear() {
	if t.arena != nil {
		t.arena.release()
		t.arena = nil
	}
	t.state = slotAbsent
	t.raw = nil
	t.parsed = nil
	t.cachedLengthSet = false
}

// Value decodes and returns the token's value. Decoding is idempotent:
// the first call on a Raw token decodes once and caches the Parsed
// result; subsequent calls return the cached value (§3, §4.1 "lazy token
// decoding").
func (t *Token) Value() (any, error) {
	switch t.state {
	case slotParsed:
		return t.parsed, nil
	case slotRaw:
		c, err := lookupCodec(t.header.Type)
		if err != nil {
			return nil, err
		}
		v, err := c.decode(t.raw)
		if err != nil {
			return nil, err
		}
		t.parsed = v
		t.state = slotParsed
		if t.arena != nil {
			t.arena.release()
			t.arena = nil
		}
		t.raw = nil
		return v, nil
	default:
		c, err := lookupCodec(t.header.Type)
		if err != nil {
			return nil, err
		}
		return c.defaultValue(), nil
	}
}

// Length returns the exact on-wire byte count of this token's body (not
// including the 3-byte id+type record prefix), computing and caching it
// on first call.
func (t *Token) Length() (uint32, error) {
	if t.cachedLengthSet {
		return t.cachedLength, nil
	}
	c, err := lookupCodec(t.header.Type)
	if err != nil {
		return 0, err
	}

	var n uint32
	switch t.state {
	case slotRaw:
		n = uint32(len(t.raw))
	case slotParsed:
		n, err = c.computeLength(t.parsed)
		if err != nil {
			return 0, err
		}
	default:
		n, err = c.computeLength(c.defaultValue())
		if err != nil {
			return 0, err
		}
	}
	t.cachedLength = n
	t.cachedLengthSet = true
	return n, nil
}

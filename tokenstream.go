package rntbd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// HeaderCatalog is the closed enumeration of named headers for one message
// part (request or response), each carrying a stable numeric id, a
// TokenType, and a required flag (§3).
type HeaderCatalog[H comparable] struct {
	defs map[H]HeaderDef
	byID map[uint16]H
}

func newHeaderCatalog[H comparable](defs map[H]HeaderDef) *HeaderCatalog[H] {
	byID := make(map[uint16]H, len(defs))
	for h, def := range defs {
		byID[def.ID] = h
	}
	return &HeaderCatalog[H]{defs: defs, byID: byID}
}

func (c *HeaderCatalog[H]) lookupByName(h H) (HeaderDef, bool) {
	def, ok := c.defs[h]
	return def, ok
}

func (c *HeaderCatalog[H]) lookupByID(id uint16) (H, HeaderDef, bool) {
	h, ok := c.byID[id]
	if !ok {
		var zero H
		return zero, HeaderDef{}, false
	}
	return h, c.defs[h], true
}

// TokenStream is an ordered collection of Tokens for one message part
// (§3). It is pre-populated with Absent tokens for every known header;
// unknown wire ids decode into synthetic UndefinedHeader tokens rather
// than failing the stream (§3, §4.1).
type TokenStream[H comparable] struct {
	catalog *HeaderCatalog[H]
	known   map[H]*Token

	// undefined holds tokens for wire ids with no catalog entry, keyed by
	// wire id so duplicates overwrite rather than accumulate.
	undefined map[uint16]*Token
}

// NewTokenStream creates an empty stream over catalog, with every known
// header pre-populated as Absent (§3).
func NewTokenStream[H comparable](catalog *HeaderCatalog[H]) *TokenStream[H] {
	ts := &TokenStream[H]{
		catalog:   catalog,
		known:     make(map[H]*Token, len(catalog.defs)),
		undefined: make(map[uint16]*Token),
	}
	for h, def := range catalog.defs {
		ts.known[h] = newAbsentToken(def)
	}
	return ts
}

// Get returns the token bound to header h. The second return value is
// false only if h is not in the catalog at all (a programming error, not
// a wire condition).
func (ts *TokenStream[H]) Get(h H) (*Token, bool) {
	t, ok := ts.known[h]
	return t, ok
}

// Set assigns a value to the token bound to header h, creating no new
// token (every known header is pre-populated).
func (ts *TokenStream[H]) Set(h H, v any) error {
	t, ok := ts.known[h]
	if !ok {
		return fmt.Errorf("%w: header not in catalog", ErrCodecMalformed)
	}
	return t.Set(v)
}

// Undefined returns the tokens decoded for wire ids with no catalog
// entry, keyed by wire id (§3 UndefinedHeader).
func (ts *TokenStream[H]) Undefined() map[uint16]*Token {
	return ts.undefined
}

// checkRequired implements the required-token check (§4.1): after a full
// stream decode, any header declared required that is still Absent is a
// fatal decode error for that frame.
func (ts *TokenStream[H]) checkRequired() error {
	for h, t := range ts.known {
		def, _ := ts.catalog.lookupByName(h)
		if def.Required && !t.IsPresent() {
			return fmt.Errorf("%w: %s (id=%d)", ErrCodecMissingRequired, def.Name, def.ID)
		}
	}
	return nil
}

// decodeTokenRecords reads {id:u16 LE, type:u8, body} records from c into
// ts until c is exhausted or stop returns true after a known header is
// decoded. Unknown ids are retained as Undefined tokens rather than
// discarded, so their bytes are always accounted for (§3, §4.1).
func decodeTokenRecords[H comparable](c *wireCursor, catalog *HeaderCatalog[H], arena *frameArena, ts *TokenStream[H], stop func(h H, def HeaderDef) bool) error {
	for c.remaining() > 0 {
		if c.remaining() < 3 {
			return fmt.Errorf("%w: trailing %d byte(s) too short for a token record header", ErrCodecShortBuffer, c.remaining())
		}
		id, err := c.readUint16LE()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCodecShortBuffer, err)
		}

		typeByte, err := c.readByte()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCodecShortBuffer, err)
		}
		tt := TokenType(typeByte)

		codec, err := lookupCodec(tt)
		if err != nil {
			return err
		}
		body, err := codec.readSlice(c)
		if err != nil {
			return fmt.Errorf("%w: header id=%d: %v", ErrCodecShortBuffer, id, err)
		}

		arena.retain()

		if h, def, ok := catalog.lookupByID(id); ok {
			if def.Type != tt {
				return fmt.Errorf("%w: header %s declared type %s, wire tag was %s", ErrCodecTypeMismatch, def.Name, def.Type, tt)
			}
			ts.known[h].setRaw(body, arena)
			if stop != nil && stop(h, def) {
				return nil
			}
		} else {
			def := HeaderDef{ID: id, Name: "Undefined", Type: tt, Required: false}
			tok := newAbsentToken(def)
			tok.setRaw(body, arena)
			ts.undefined[id] = tok
		}
	}
	return nil
}

// DecodeTokenStream consumes token records from c until it is exhausted
// (§4.1: "no count prefix; the stream consumes bytes until the containing
// frame's remaining length is exhausted").
func DecodeTokenStream[H comparable](c *wireCursor, catalog *HeaderCatalog[H], arena *frameArena) (*TokenStream[H], error) {
	ts := NewTokenStream(catalog)
	if err := decodeTokenRecords(c, catalog, arena, ts, nil); err != nil {
		return nil, err
	}
	if err := ts.checkRequired(); err != nil {
		return nil, err
	}
	return ts, nil
}

// decodeHeadersBounded decodes a headers region that may be followed by a
// raw payload (§4.2, §6). It stops consuming token records as soon as the
// PayloadPresent header is decoded with value 1. Encode guarantees
// PayloadPresent is always the last header record written whenever it is
// Present (see HeaderDef.PayloadBoundary), so every other header has
// already been decoded into ts by the time that happens; everything c has
// left after that point belongs to the payload, not to another header
// record.
func decodeHeadersBounded[H comparable](c *wireCursor, catalog *HeaderCatalog[H], arena *frameArena, payloadHeader H) (*TokenStream[H], bool, error) {
	ts := NewTokenStream(catalog)
	payloadPresent := false

	err := decodeTokenRecords(c, catalog, arena, ts, func(h H, def HeaderDef) bool {
		if h != payloadHeader {
			return false
		}
		v, err := ts.known[h].Value()
		if err != nil {
			return false
		}
		b, ok := v.(byte)
		if ok && b == payloadPresentValue {
			payloadPresent = true
			return true
		}
		return false
	})
	if err != nil {
		return nil, false, err
	}
	if err := ts.checkRequired(); err != nil {
		return nil, false, err
	}
	return ts, payloadPresent, nil
}

// Release drops every token's reference to its backing arena, allowing a
// fully-pooled decode buffer to be returned once the caller is done
// reading this stream's values (§5, §9 "Reference-counted ByteBufs").
func (ts *TokenStream[H]) Release() {
	for _, t := range ts.known {
		t.Clear()
	}
	for _, t := range ts.undefined {
		t.Clear()
	}
}

// Encode writes every Present token (known and Undefined) to buf as
// {id:u16 LE, type:u8, body} records, in ascending numeric header-id
// order (§3, §9 open question: the reference iterates an enum-keyed map
// in an unspecified order; ascending id is the stable, self-describing
// choice this implementation commits to) — except PayloadBoundary, which
// always sorts last regardless of its numeric id, since decodeHeadersBounded
// relies on it being the final header before any payload (§4.2, §6).
func (ts *TokenStream[H]) Encode(buf *bytes.Buffer) error {
	type entry struct {
		id       uint16
		boundary bool
		tok      *Token
	}
	var entries []entry
	for h, tok := range ts.known {
		if !tok.IsPresent() {
			continue
		}
		def, _ := ts.catalog.lookupByName(h)
		entries = append(entries, entry{id: def.ID, boundary: def.PayloadBoundary, tok: tok})
	}
	for id, tok := range ts.undefined {
		if !tok.IsPresent() {
			continue
		}
		entries = append(entries, entry{id: id, tok: tok})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].boundary != entries[j].boundary {
			return !entries[i].boundary
		}
		return entries[i].id < entries[j].id
	})

	for _, e := range entries {
		var idBuf [2]byte
		binary.LittleEndian.PutUint16(idBuf[:], e.id)
		buf.Write(idBuf[:])
		buf.WriteByte(byte(e.tok.header.Type))

		c, err := lookupCodec(e.tok.header.Type)
		if err != nil {
			return err
		}
		v, err := e.tok.Value()
		if err != nil {
			return err
		}
		// c.encode writes both the length prefix (for variable-length
		// types) and the body; scalar codecs have no prefix at all.
		if err := c.encode(v, buf); err != nil {
			return err
		}
	}
	return nil
}

package rntbd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// TokenType is the wire tag for a token's value. The numeric assignment is
// a wire contract: every implementation talking to the same server must
// agree on it. The mapping below has not been confirmed against a live
// capture.
type TokenType uint8

const (
	TokenTypeByte         TokenType = 0x00
	TokenTypeULong32      TokenType = 0x02
	TokenTypeULong64      TokenType = 0x03
	TokenTypeFloat        TokenType = 0x04
	TokenTypeDouble       TokenType = 0x05
	TokenTypeSmallString  TokenType = 0x06
	TokenTypeString       TokenType = 0x07
	TokenTypeUShort       TokenType = 0x08
	TokenTypeULongString  TokenType = 0x09
	TokenTypeSmallBytes   TokenType = 0x0A
	TokenTypeBytes        TokenType = 0x0B
	TokenTypeULongBytes   TokenType = 0x0C
	TokenTypeGuid         TokenType = 0x0D
	TokenTypeLong32       TokenType = 0x12
	TokenTypeLong64       TokenType = 0x13
	TokenTypeInvalid      TokenType = 0xFF
)

func (t TokenType) String() string {
	if c, ok := tokenCodecs[t]; ok {
		return c.Name
	}
	return fmt.Sprintf("TokenType(0x%02X)", uint8(t))
}

// codec bundles the encode/decode/length/validate operations for one
// TokenType, mirroring the per-tag dispatch table in mssqldb's token
// stream reader.
type codec struct {
	Name string

	// lenPrefixSize is the number of bytes used to encode the body's
	// length: 0 for fixed-size scalars, 1/2/4 for length-prefixed string
	// and byte-string types.
	lenPrefixSize int

	// readSlice consumes the length prefix (if any) plus the body from c
	// and returns the body as a sub-slice of c's backing arena, without
	// decoding or copying it (§4.1: "No allocation beyond the slice
	// handle").
	readSlice func(c *wireCursor) ([]byte, error)

	// decode turns a raw body slice into a TypedValue (any of: byte,
	// uint16, uint32, uint64, int32, int64, float32, float64, [16]byte,
	// string, []byte).
	decode func(raw []byte) (any, error)

	// encode writes the length prefix (if any) and body for v into buf.
	encode func(v any, buf *bytes.Buffer) error

	// computeLength returns the exact on-wire byte count of the body,
	// excluding the 3-byte id+type record prefix.
	computeLength func(v any) (uint32, error)

	// isValid reports whether v is an acceptable TypedValue for this type.
	isValid func(v any) bool

	// defaultValue is handed back to callers asking a non-present token
	// for its value.
	defaultValue func() any
}

func readFixed(n int) func(c *wireCursor) ([]byte, error) {
	return func(c *wireCursor) ([]byte, error) {
		return c.readN(n)
	}
}

func readLenPrefixed(prefixBytes int) func(c *wireCursor) ([]byte, error) {
	return func(c *wireCursor) ([]byte, error) {
		length, err := c.readUintPrefix(prefixBytes)
		if err != nil {
			return nil, err
		}
		return c.readN(int(length))
	}
}

func writeUintPrefix(buf *bytes.Buffer, n int, v uint32) {
	switch n {
	case 1:
		buf.WriteByte(byte(v))
	case 2:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	case 4:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
}

var tokenCodecs = map[TokenType]*codec{
	TokenTypeByte: {
		Name:          "Byte",
		lenPrefixSize: 0,
		readSlice:     readFixed(1),
		decode:        func(raw []byte) (any, error) { return raw[0], nil },
		encode: func(v any, buf *bytes.Buffer) error {
			b, ok := v.(byte)
			if !ok {
				return typeMismatch("Byte", v)
			}
			buf.WriteByte(b)
			return nil
		},
		computeLength: func(v any) (uint32, error) { return 1, nil },
		isValid:       func(v any) bool { _, ok := v.(byte); return ok },
		defaultValue:  func() any { return byte(0) },
	},
	TokenTypeUShort: {
		Name:          "UShort",
		lenPrefixSize: 0,
		readSlice:     readFixed(2),
		decode:        func(raw []byte) (any, error) { return binary.LittleEndian.Uint16(raw), nil },
		encode: func(v any, buf *bytes.Buffer) error {
			u, ok := v.(uint16)
			if !ok {
				return typeMismatch("UShort", v)
			}
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], u)
			buf.Write(b[:])
			return nil
		},
		computeLength: func(v any) (uint32, error) { return 2, nil },
		isValid:       func(v any) bool { _, ok := v.(uint16); return ok },
		defaultValue:  func() any { return uint16(0) },
	},
	TokenTypeULong32: {
		Name:          "ULong32",
		lenPrefixSize: 0,
		readSlice:     readFixed(4),
		decode:        func(raw []byte) (any, error) { return binary.LittleEndian.Uint32(raw), nil },
		encode: func(v any, buf *bytes.Buffer) error {
			u, ok := v.(uint32)
			if !ok {
				return typeMismatch("ULong32", v)
			}
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], u)
			buf.Write(b[:])
			return nil
		},
		computeLength: func(v any) (uint32, error) { return 4, nil },
		isValid:       func(v any) bool { _, ok := v.(uint32); return ok },
		defaultValue:  func() any { return uint32(0) },
	},
	TokenTypeULong64: {
		Name:          "ULong64",
		lenPrefixSize: 0,
		readSlice:     readFixed(8),
		decode:        func(raw []byte) (any, error) { return binary.LittleEndian.Uint64(raw), nil },
		encode: func(v any, buf *bytes.Buffer) error {
			u, ok := v.(uint64)
			if !ok {
				return typeMismatch("ULong64", v)
			}
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], u)
			buf.Write(b[:])
			return nil
		},
		computeLength: func(v any) (uint32, error) { return 8, nil },
		isValid:       func(v any) bool { _, ok := v.(uint64); return ok },
		defaultValue:  func() any { return uint64(0) },
	},
	TokenTypeLong32: {
		Name:          "Long32",
		lenPrefixSize: 0,
		readSlice:     readFixed(4),
		decode:        func(raw []byte) (any, error) { return int32(binary.LittleEndian.Uint32(raw)), nil },
		encode: func(v any, buf *bytes.Buffer) error {
			i, ok := v.(int32)
			if !ok {
				return typeMismatch("Long32", v)
			}
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(i))
			buf.Write(b[:])
			return nil
		},
		computeLength: func(v any) (uint32, error) { return 4, nil },
		isValid:       func(v any) bool { _, ok := v.(int32); return ok },
		defaultValue:  func() any { return int32(0) },
	},
	TokenTypeLong64: {
		Name:          "Long64",
		lenPrefixSize: 0,
		readSlice:     readFixed(8),
		decode:        func(raw []byte) (any, error) { return int64(binary.LittleEndian.Uint64(raw)), nil },
		encode: func(v any, buf *bytes.Buffer) error {
			i, ok := v.(int64)
			if !ok {
				return typeMismatch("Long64", v)
			}
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(i))
			buf.Write(b[:])
			return nil
		},
		computeLength: func(v any) (uint32, error) { return 8, nil },
		isValid:       func(v any) bool { _, ok := v.(int64); return ok },
		defaultValue:  func() any { return int64(0) },
	},
	TokenTypeFloat: {
		Name:          "Float",
		lenPrefixSize: 0,
		readSlice:     readFixed(4),
		decode: func(raw []byte) (any, error) {
			return math.Float32frombits(binary.LittleEndian.Uint32(raw)), nil
		},
		encode: func(v any, buf *bytes.Buffer) error {
			f, ok := v.(float32)
			if !ok {
				return typeMismatch("Float", v)
			}
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
			buf.Write(b[:])
			return nil
		},
		computeLength: func(v any) (uint32, error) { return 4, nil },
		isValid:       func(v any) bool { _, ok := v.(float32); return ok },
		defaultValue:  func() any { return float32(0) },
	},
	TokenTypeDouble: {
		Name:          "Double",
		lenPrefixSize: 0,
		readSlice:     readFixed(8),
		decode: func(raw []byte) (any, error) {
			return math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil
		},
		encode: func(v any, buf *bytes.Buffer) error {
			f, ok := v.(float64)
			if !ok {
				return typeMismatch("Double", v)
			}
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
			buf.Write(b[:])
			return nil
		},
		computeLength: func(v any) (uint32, error) { return 8, nil },
		isValid:       func(v any) bool { _, ok := v.(float64); return ok },
		defaultValue:  func() any { return float64(0) },
	},
	TokenTypeGuid: {
		Name:          "Guid",
		lenPrefixSize: 0,
		readSlice:     readFixed(16),
		decode: func(raw []byte) (any, error) {
			var g [16]byte
			copy(g[:], raw)
			return g, nil
		},
		encode: func(v any, buf *bytes.Buffer) error {
			g, ok := v.([16]byte)
			if !ok {
				return typeMismatch("Guid", v)
			}
			buf.Write(g[:])
			return nil
		},
		computeLength: func(v any) (uint32, error) { return 16, nil },
		isValid:       func(v any) bool { _, ok := v.([16]byte); return ok },
		defaultValue:  func() any { return [16]byte{} },
	},
	TokenTypeSmallString: {
		Name:          "SmallString",
		lenPrefixSize: 1,
		readSlice:     readLenPrefixed(1),
		decode:        func(raw []byte) (any, error) { return string(raw), nil },
		encode:        stringEncoder(1),
		computeLength: stringLength,
		isValid:       func(v any) bool { _, ok := v.(string); return ok },
		defaultValue:  func() any { return "" },
	},
	TokenTypeString: {
		Name:          "String",
		lenPrefixSize: 2,
		readSlice:     readLenPrefixed(2),
		decode:        func(raw []byte) (any, error) { return string(raw), nil },
		encode:        stringEncoder(2),
		computeLength: stringLength,
		isValid:       func(v any) bool { _, ok := v.(string); return ok },
		defaultValue:  func() any { return "" },
	},
	TokenTypeULongString: {
		Name:          "ULongString",
		lenPrefixSize: 4,
		readSlice:     readLenPrefixed(4),
		decode:        func(raw []byte) (any, error) { return string(raw), nil },
		encode:        stringEncoder(4),
		computeLength: stringLength,
		isValid:       func(v any) bool { _, ok := v.(string); return ok },
		defaultValue:  func() any { return "" },
	},
	TokenTypeSmallBytes: {
		Name:          "SmallBytes",
		lenPrefixSize: 1,
		readSlice:     readLenPrefixed(1),
		decode:        func(raw []byte) (any, error) { return append([]byte(nil), raw...), nil },
		encode:        bytesEncoder(1),
		computeLength: bytesLength,
		isValid:       func(v any) bool { _, ok := v.([]byte); return ok },
		defaultValue:  func() any { return []byte(nil) },
	},
	TokenTypeBytes: {
		Name:          "Bytes",
		lenPrefixSize: 2,
		readSlice:     readLenPrefixed(2),
		decode:        func(raw []byte) (any, error) { return append([]byte(nil), raw...), nil },
		encode:        bytesEncoder(2),
		computeLength: bytesLength,
		isValid:       func(v any) bool { _, ok := v.([]byte); return ok },
		defaultValue:  func() any { return []byte(nil) },
	},
	TokenTypeULongBytes: {
		Name:          "ULongBytes",
		lenPrefixSize: 4,
		readSlice:     readLenPrefixed(4),
		decode:        func(raw []byte) (any, error) { return append([]byte(nil), raw...), nil },
		encode:        bytesEncoder(4),
		computeLength: bytesLength,
		isValid:       func(v any) bool { _, ok := v.([]byte); return ok },
		defaultValue:  func() any { return []byte(nil) },
	},
}

func stringEncoder(prefixBytes int) func(v any, buf *bytes.Buffer) error {
	return func(v any, buf *bytes.Buffer) error {
		s, ok := v.(string)
		if !ok {
			return typeMismatch("String", v)
		}
		writeUintPrefix(buf, prefixBytes, uint32(len(s)))
		buf.WriteString(s)
		return nil
	}
}

func bytesEncoder(prefixBytes int) func(v any, buf *bytes.Buffer) error {
	return func(v any, buf *bytes.Buffer) error {
		b, ok := v.([]byte)
		if !ok {
			return typeMismatch("Bytes", v)
		}
		writeUintPrefix(buf, prefixBytes, uint32(len(b)))
		buf.Write(b)
		return nil
	}
}

func stringLength(v any) (uint32, error) {
	s, ok := v.(string)
	if !ok {
		return 0, typeMismatch("String", v)
	}
	return uint32(len(s)), nil
}

func bytesLength(v any) (uint32, error) {
	b, ok := v.([]byte)
	if !ok {
		return 0, typeMismatch("Bytes", v)
	}
	return uint32(len(b)), nil
}

func typeMismatch(want string, got any) error {
	return fmt.Errorf("%w: expected %s-compatible value, got %T", ErrCodecTypeMismatch, want, got)
}

// lookupCodec returns the codec for t, or an error if t is not a known
// TokenType. Unlike header lookups, unknown *types* are always fatal: the
// stream cannot skip a record without knowing how many bytes it occupies.
func lookupCodec(t TokenType) (*codec, error) {
	c, ok := tokenCodecs[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token type 0x%02X", ErrCodecTypeTagOutOfRange, uint8(t))
	}
	return c, nil
}

package rntbd

import "github.com/google/uuid"

// encodeGuidMixedEndian writes id onto the wire using the Microsoft
// mixed-endian GUID layout: the first three fields (a 4-byte, a 2-byte,
// and a 2-byte group) are byte-swapped to little-endian, the remaining
// 8 bytes are written verbatim. This resolves the open question in
// spec.md §9 ("Exact little-endian layout of the GUID activity id") in
// favor of the convention the spec notes as what the reference actually
// uses.
//
// google/uuid only exposes the RFC 4122 big-endian wire form
// (uuid.UUID's byte array), so the swap is hand-written here.
func encodeGuidMixedEndian(id uuid.UUID) [16]byte {
	var out [16]byte
	// time_low: 4 bytes, swapped
	out[0], out[1], out[2], out[3] = id[3], id[2], id[1], id[0]
	// time_mid: 2 bytes, swapped
	out[4], out[5] = id[5], id[4]
	// time_hi_and_version: 2 bytes, swapped
	out[6], out[7] = id[7], id[6]
	// clock_seq and node: 8 bytes, verbatim
	copy(out[8:], id[8:])
	return out
}

// decodeGuidMixedEndian is the inverse of encodeGuidMixedEndian.
func decodeGuidMixedEndian(wire [16]byte) uuid.UUID {
	var id uuid.UUID
	id[0], id[1], id[2], id[3] = wire[3], wire[2], wire[1], wire[0]
	id[4], id[5] = wire[5], wire[4]
	id[6], id[7] = wire[7], wire[6]
	copy(id[8:], wire[8:])
	return id
}

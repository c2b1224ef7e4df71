package tds

import "github.com/google/uuid"

// ReadGUID reads a 16-byte GUID in TDS's mixed-endian layout and
// returns it as a github.com/google/uuid.UUID, the domain dependency
// this driver family actually uses for GUID values downstream instead
// of a hand-rolled byte-array type.
func (b *Buffer) ReadGUID() uuid.UUID {
	raw := b.Bytes(16)
	return guidFromTDSBytes(raw)
}

// WriteGUID writes u in TDS's mixed-endian GUID layout.
func (b *Buffer) WriteGUID(u uuid.UUID) {
	b.WriteBytes(guidToTDSBytes(u))
}

// guidFromTDSBytes converts TDS wire order (little-endian first three
// groups, big-endian last two) to github.com/google/uuid's big-endian
// byte order.
func guidFromTDSBytes(raw []byte) uuid.UUID {
	var out [16]byte
	out[0], out[1], out[2], out[3] = raw[3], raw[2], raw[1], raw[0]
	out[4], out[5] = raw[5], raw[4]
	out[6], out[7] = raw[7], raw[6]
	copy(out[8:], raw[8:16])
	u, _ := uuid.FromBytes(out[:])
	return u
}

func guidToTDSBytes(u uuid.UUID) []byte {
	raw := [16]byte(u)
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = raw[3], raw[2], raw[1], raw[0]
	out[4], out[5] = raw[5], raw[4]
	out[6], out[7] = raw[7], raw[6]
	copy(out[8:], raw[8:16])
	return out
}

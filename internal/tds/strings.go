package tds

import "golang.org/x/text/encoding/unicode"

// utf16Decoder mirrors the teacher's package-level utf16Decoder: a
// single shared UTF-16LE decoder instance reused across reads.
var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

func ucs2ToString(b []byte) (string, error) {
	out, err := utf16Decoder.Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// BVarChar reads a byte-length-prefixed (count of UTF-16 code units)
// unicode string, the B_VARCHAR wire type.
func (b *Buffer) BVarChar() string {
	n := int(b.Byte())
	raw := b.Bytes(n * 2)
	s, err := ucs2ToString(raw)
	if err != nil {
		s = string(raw)
	}
	return s
}

// UsVarChar reads a u16-length-prefixed unicode string, the
// US_VARCHAR wire type.
func (b *Buffer) UsVarChar() string {
	n := int(b.Uint16())
	raw := b.Bytes(n * 2)
	s, err := ucs2ToString(raw)
	if err != nil {
		s = string(raw)
	}
	return s
}

// UnicodeString reads an explicit length (in UTF-16 code units)
// unicode string, used where the length was already read as part of a
// larger fixed structure.
func (b *Buffer) UnicodeString(lenChars int) string {
	raw := b.Bytes(lenChars * 2)
	s, err := ucs2ToString(raw)
	if err != nil {
		s = string(raw)
	}
	return s
}

// BVarByte reads a byte-length-prefixed raw byte string, the
// B_VARBYTE wire type used by transaction identifiers and DTC tokens.
func (b *Buffer) BVarByte() []byte {
	n := int(b.Byte())
	return b.Bytes(n)
}

// BVarByteUint64 reads a B_VARBYTE expected to hold an 8-byte
// little-endian transaction identifier.
func (b *Buffer) BVarByteUint64() uint64 {
	raw := b.BVarByte()
	if len(raw) != 8 {
		return 0
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	return v
}

// WriteUsVarChar writes s as a u16-length-prefixed UTF-16LE string.
func (b *Buffer) WriteUsVarChar(s string) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	raw, _ := enc.Bytes([]byte(s))
	b.WriteUint16(uint16(len(raw) / 2))
	b.WriteBytes(raw)
}

// WriteBVarChar writes s as a byte-length-prefixed UTF-16LE string.
func (b *Buffer) WriteBVarChar(s string) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	raw, _ := enc.Bytes([]byte(s))
	b.WriteByte(byte(len(raw) / 2))
	b.WriteBytes(raw)
}

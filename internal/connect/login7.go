package connect

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/ulvii/go-tds/internal/tds"
)

// featureExt is one {feature_id, data} block of the LOGIN7 feature
// extension chain, per spec.md §4.4.
type featureExt struct {
	id   byte
	data []byte
}

func marshalFeatureExt(features []featureExt) []byte {
	var buf []byte
	for _, f := range features {
		buf = append(buf, f.id)
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(f.data)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, f.data...)
	}
	buf = append(buf, tds.FeatureExtTerminator)
	return buf
}

func sessionRecoveryFeature() featureExt {
	return featureExt{id: tds.FeatureExtSessionRecovery, data: nil}
}

func fedAuthFeature(workflow byte, fedAuthEcho bool) featureExt {
	flags := byte(0x01) // fFedAuthLibrary = SecurityToken
	if fedAuthEcho {
		flags |= 0x02
	}
	return featureExt{id: tds.FeatureExtFedAuth, data: []byte{workflow, flags}}
}

func columnEncryptionFeature() featureExt {
	return featureExt{id: tds.FeatureExtColumnEncrypt, data: []byte{0x03}} // AE version 3: enclave-capable
}

// login7Fields is the set of variable-length strings a LOGIN7 packet
// carries, in the fixed offset order spec.md §4.4 names.
type login7Fields struct {
	hostname   string
	username   string
	password   string
	appname    string
	servername string
	cltIntName string
	language   string
	database   string
}

const login7FixedHeaderSize = 36
const login7OffsetTableFields = 9 // hostname..database, matching the pooling proxy's table
const login7OffsetTableSize = login7OffsetTableFields * 4
const login7VariableStart = login7FixedHeaderSize + login7OffsetTableSize

// buildLogin7 assembles a full LOGIN7 packet body (spec.md §4.4),
// generalizing the connection-pooling proxy's read-only offset table
// (internal/tds/login7.go) into a writer: the fixed 36-byte header,
// the nine (offset, length) descriptors starting at byte 36, the
// UTF-16LE variable data, and a feature-extension blob referenced by
// the "unused" offset slot (ibExtension) the proxy never populates.
func buildLogin7(f login7Fields, packetSize int, clientPID uint32, features []featureExt) []byte {
	hostU16 := utf16Encode(f.hostname)
	userU16 := utf16Encode(f.username)
	passU16 := obfuscatePassword(utf16Encode(f.password))
	appU16 := utf16Encode(f.appname)
	serverU16 := utf16Encode(f.servername)
	cltIntU16 := utf16Encode(f.cltIntName)
	langU16 := utf16Encode(f.language)
	dbU16 := utf16Encode(f.database)

	varFields := [][]byte{hostU16, userU16, passU16, appU16, serverU16, nil, cltIntU16, langU16, dbU16}

	varDataLen := 0
	for _, v := range varFields {
		varDataLen += len(v)
	}

	featureBlob := marshalFeatureExt(features)
	extensionOffset := login7VariableStart + varDataLen

	total := login7VariableStart + varDataLen + 4 /*extension absolute offset*/ + len(featureBlob)
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:8], tds.VerYukon)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(packetSize))
	binary.LittleEndian.PutUint32(buf[12:16], 0) // ClientProgVer
	binary.LittleEndian.PutUint32(buf[16:20], clientPID)
	binary.LittleEndian.PutUint32(buf[20:24], 0) // ConnectionID

	const (
		optionFlags1 = 0x00
		optionFlags2 = 0x03 // fUserType=SQL, fIntSecurity off (plain SQL auth unless overridden by caller)
		typeFlags    = 0x00
		optionFlags3 = 0x10 // fExtension = 1: ibExtension carries an absolute offset, not unused
	)
	buf[24] = optionFlags1
	buf[25] = optionFlags2
	buf[26] = typeFlags
	buf[27] = optionFlags3
	binary.LittleEndian.PutUint32(buf[28:32], 0) // ClientTimeZone
	binary.LittleEndian.PutUint32(buf[32:36], 0) // ClientLCID

	cursor := login7VariableStart
	for i, v := range varFields {
		if i == 5 {
			// ibExtension/cbExtension: points at the 4-byte absolute
			// offset of the feature extension blob (itself stored after
			// all variable data), length fixed at 4 per MS-TDS; it has no
			// variable-data bytes of its own, so cursor doesn't advance.
			writeOffsetLen(buf, login7FixedHeaderSize+i*4, extensionOffset, 4)
			continue
		}
		writeOffsetLen(buf, login7FixedHeaderSize+i*4, cursor, len(v)/2)
		copy(buf[cursor:], v)
		cursor += len(v)
	}

	binary.LittleEndian.PutUint32(buf[extensionOffset:extensionOffset+4], uint32(extensionOffset+4))
	copy(buf[extensionOffset+4:], featureBlob)

	return buf
}

func writeOffsetLen(buf []byte, pos int, offset int, lengthChars int) {
	binary.LittleEndian.PutUint16(buf[pos:pos+2], uint16(offset))
	binary.LittleEndian.PutUint16(buf[pos+2:pos+4], uint16(lengthChars))
}

func utf16Encode(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], v)
	}
	return b
}

// obfuscatePassword applies the LOGIN7 password obfuscation: every
// byte has its nibbles swapped, then the result is XORed with 0xA5.
func obfuscatePassword(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		swapped := (c << 4) | (c >> 4)
		out[i] = swapped ^ 0xA5
	}
	return out
}

package connect

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulvii/go-tds/internal/tds"
)

func TestObfuscatePasswordSwapsNibblesThenXors(t *testing.T) {
	// MS-TDS 2.2.6.4: c = swap_nibbles(b); out = c ^ 0xA5.
	in := []byte{0x00, 0xFF, 0x68}
	out := obfuscatePassword(in)
	assert.Equal(t, []byte{0xA5, 0x5A, 0x23}, out)
}

func TestBuildLogin7FixedHeaderFields(t *testing.T) {
	fields := login7Fields{
		hostname:   "client",
		username:   "sa",
		password:   "pw",
		appname:    "go-tds",
		servername: "server",
		cltIntName: "go-tds",
		language:   "us_english",
		database:   "master",
	}
	body := buildLogin7(fields, tds.PacketSizeInitial, 4242, nil)

	require.True(t, len(body) > login7VariableStart)
	totalLen := binary.LittleEndian.Uint32(body[0:4])
	assert.Equal(t, uint32(len(body)), totalLen)
	assert.Equal(t, tds.VerYukon, binary.LittleEndian.Uint32(body[4:8]))
	assert.Equal(t, uint32(tds.PacketSizeInitial), binary.LittleEndian.Uint32(body[8:12]))
	assert.Equal(t, uint32(4242), binary.LittleEndian.Uint32(body[16:20]))
}

func TestBuildLogin7WithFeatures(t *testing.T) {
	// cltIntName/language are non-empty here: an earlier bug wrote
	// ibExtension as the write cursor captured before these fields were
	// serialized instead of the feature blob's real offset, and a test
	// that left them empty couldn't tell the two apart.
	fields := login7Fields{username: "sa", password: "pw", cltIntName: "go-tds", language: "us_english", database: "master"}
	features := []featureExt{sessionRecoveryFeature(), columnEncryptionFeature()}
	body := buildLogin7(fields, tds.PacketSizeInitial, 1, features)

	extensionOffsetPos := login7FixedHeaderSize + 5*4
	extOffset := binary.LittleEndian.Uint16(body[extensionOffsetPos : extensionOffsetPos+2])
	extLen := binary.LittleEndian.Uint16(body[extensionOffsetPos+2 : extensionOffsetPos+4])
	require.True(t, int(extOffset) < len(body))
	assert.Equal(t, uint16(4), extLen)

	absOffset := binary.LittleEndian.Uint32(body[extOffset : extOffset+4])
	require.True(t, int(absOffset) < len(body))
	assert.Equal(t, tds.FeatureExtSessionRecovery, body[absOffset])
}

func TestMarshalFeatureExtTerminates(t *testing.T) {
	blob := marshalFeatureExt([]featureExt{sessionRecoveryFeature()})
	assert.Equal(t, tds.FeatureExtTerminator, blob[len(blob)-1])
}

func TestFedAuthFeatureEncodesWorkflowAndFlags(t *testing.T) {
	f := fedAuthFeature(fedAuthLibrarySecurityToken, true)
	require.Len(t, f.data, 2)
	assert.Equal(t, byte(fedAuthLibrarySecurityToken), f.data[0])
	assert.Equal(t, byte(0x03), f.data[1])
}

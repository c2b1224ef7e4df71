package tds

import "github.com/ulvii/go-tds/internal/tdserr"

// EnvChangeType identifies the kind of environment-change sub-message
// carried by an ENVCHANGE token (spec.md §4.3 "ENVCHANGE"); the
// concrete sub-type ids (EnvDatabase, EnvRouting, ...) live in
// const.go alongside the rest of the wire constants.
type EnvChangeType = byte

// EnvChange is one decoded ENVCHANGE sub-message. Only the fields
// relevant to Type are populated; the rest are zero.
type EnvChange struct {
	Type EnvChangeType

	// EnvDatabase / EnvDatabaseMirror / EnvLanguage
	NewValue string

	// EnvPacketSize, carried as the new negotiated packet size in bytes.
	PacketSize int

	// EnvBeginTran/EnvCommitTran/EnvRollbackTran
	TranID uint64

	// EnvRouting
	RoutingServer string
	RoutingPort   uint16

	// EnvSQLCollation, the raw 5-byte SQL collation.
	Collation [5]byte
}

// ReadEnvChanges reads the whole ENVCHANGE token body (the caller has
// already consumed the token byte) and returns every sub-message it
// contains. Unknown sub-message types terminate the scan, since there
// is no general way to skip an envchange record whose shape isn't
// known (mirrors the teacher's behavior of logging and returning).
func ReadEnvChanges(b *Buffer) ([]EnvChange, error) {
	size := b.Uint16()
	limit := b.consumed() + int(size)

	var out []EnvChange
	for b.consumed() < limit {
		envType := EnvChangeType(b.Byte())
		switch envType {
		case EnvDatabase, EnvDatabaseMirror:
			newVal := b.BVarChar()
			b.BVarChar() // old value, unused
			out = append(out, EnvChange{Type: envType, NewValue: newVal})
		case EnvLanguage:
			newVal := b.BVarChar()
			b.BVarChar() // old value, unused
			out = append(out, EnvChange{Type: envType, NewValue: newVal})
		case EnvCharset, EnvSortID, EnvSortFlags, EnvEnlistDTC, EnvDefectTran,
			EnvPromoteTran, EnvTranMgrAddr, EnvTranEnded, EnvResetConnAck, EnvStartedInstanceNm:
			b.BVarChar()
			b.BVarChar()
		case EnvPacketSize:
			newVal := b.BVarChar()
			b.BVarChar()
			n, err := parsePacketSize(newVal)
			if err != nil {
				return out, err
			}
			out = append(out, EnvChange{Type: envType, PacketSize: n})
		case EnvSQLCollation:
			collationSize := int(b.Byte())
			if collationSize != 5 {
				return out, tdserr.Newf(tdserr.KindInvalidTokenContent, "invalid SQL collation size in ENVCHANGE: %d", collationSize)
			}
			var collation [5]byte
			copy(collation[:], b.Bytes(5))
			b.BVarChar()
			out = append(out, EnvChange{Type: envType, Collation: collation})
		case EnvBeginTran:
			tranID := b.BVarByteUint64()
			b.BVarByte()
			out = append(out, EnvChange{Type: envType, TranID: tranID})
		case EnvCommitTran, EnvRollbackTran:
			b.BVarByte()
			b.BVarByte()
			out = append(out, EnvChange{Type: envType})
		case EnvRouting:
			b.Uint16() // value length
			protocol := b.Byte()
			if protocol != 0 {
				return out, tdserr.Newf(tdserr.KindInvalidTokenContent, "unsupported ENVCHANGE routing protocol: %d", protocol)
			}
			newPort := b.Uint16()
			newServer := b.UsVarChar()
			b.Uint16() // old value, always empty
			out = append(out, EnvChange{Type: envType, RoutingServer: newServer, RoutingPort: newPort})
		default:
			return out, nil
		}
	}
	return out, nil
}

func parsePacketSize(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, tdserr.Newf(tdserr.KindInvalidTokenContent, "invalid packet size in ENVCHANGE: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, tdserr.Newf(tdserr.KindInvalidTokenContent, "invalid packet size in ENVCHANGE: %q", s)
	}
	return n, nil
}

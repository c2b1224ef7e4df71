package ae

import (
	"sort"

	"github.com/ulvii/go-tds/internal/tdserr"
	"github.com/ulvii/go-tds/internal/tds"
)

// CekMetadataRow is one row of the describe-parameter-encryption RPC's
// first result set: KeyOrdinal, DbId, KeyId, KeyVersion, KeyMdVersion,
// EncryptedKey, ProviderName, KeyPath, KeyEncryptionAlgorithm — a fixed,
// position-sensitive column order (spec.md §4.5 "Describe-parameter-
// encryption RPC"). Any reshaping by the server is unrecoverable.
type CekMetadataRow struct {
	KeyOrdinal            int
	DatabaseID            int
	KeyID                 int
	KeyVersion            int
	KeyMdVersion          []byte
	EncryptedKey          []byte
	ProviderName          string
	KeyPath               string
	KeyEncryptionAlgorithm string
}

// ParseCekMetadata turns the first describe-parameter-encryption
// result set's rows into a CekTable ordered by KeyOrdinal, position-
// sensitive exactly as the column order above.
func ParseCekMetadata(rows [][]interface{}) (*tds.CekTable, error) {
	table := &tds.CekTable{}
	byOrdinal := make(map[int]int) // KeyOrdinal -> index in table.Entries
	var ordinals []int             // KeyOrdinal of each entry, in append order

	for _, row := range rows {
		parsed, err := parseCekMetadataRow(row)
		if err != nil {
			return nil, err
		}
		idx, ok := byOrdinal[parsed.KeyOrdinal]
		if !ok {
			idx = len(table.Entries)
			table.Entries = append(table.Entries, tds.CekTableEntry{
				DatabaseID: parsed.DatabaseID,
				KeyID:      parsed.KeyID,
				KeyVersion: parsed.KeyVersion,
				MdVersion:  parsed.KeyMdVersion,
			})
			byOrdinal[parsed.KeyOrdinal] = idx
			ordinals = append(ordinals, parsed.KeyOrdinal)
		}
		table.Entries[idx].Blobs = append(table.Entries[idx].Blobs, tds.EncryptionKeyInfo{
			EncryptedKey:  parsed.EncryptedKey,
			DatabaseID:    parsed.DatabaseID,
			CekID:         parsed.KeyID,
			CekVersion:    parsed.KeyVersion,
			CekMdVersion:  parsed.KeyMdVersion,
			KeyPath:       parsed.KeyPath,
			KeyStoreName:  parsed.ProviderName,
			AlgorithmName: parsed.KeyEncryptionAlgorithm,
		})
	}
	order := make([]int, len(ordinals))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return ordinals[order[a]] < ordinals[order[b]] })
	sorted := make([]tds.CekTableEntry, len(order))
	for i, j := range order {
		sorted[i] = table.Entries[j]
	}
	table.Entries = sorted
	return table, nil
}

func parseCekMetadataRow(row []interface{}) (CekMetadataRow, error) {
	const wantCols = 9
	if len(row) != wantCols {
		return CekMetadataRow{}, tdserr.Newf(tdserr.KindUnexpectedServerSchema, "describe-parameter-encryption CEK result set has %d columns, want %d", len(row), wantCols)
	}
	keyOrdinal, ok0 := asInt(row[0])
	dbID, ok1 := asInt(row[1])
	keyID, ok2 := asInt(row[2])
	keyVersion, ok3 := asInt(row[3])
	mdVersion, ok4 := row[4].([]byte)
	encKey, ok5 := row[5].([]byte)
	provider, ok6 := row[6].(string)
	keyPath, ok7 := row[7].(string)
	alg, ok8 := row[8].(string)
	if !(ok0 && ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8) {
		return CekMetadataRow{}, tdserr.New(tdserr.KindUnexpectedServerSchema, "describe-parameter-encryption CEK result set column type mismatch")
	}
	return CekMetadataRow{
		KeyOrdinal:             keyOrdinal,
		DatabaseID:             dbID,
		KeyID:                  keyID,
		KeyVersion:             keyVersion,
		KeyMdVersion:           mdVersion,
		EncryptedKey:           encKey,
		ProviderName:           provider,
		KeyPath:                keyPath,
		KeyEncryptionAlgorithm: alg,
	}, nil
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// ParamCryptoMetadataRow is one row of the describe-parameter-encryption
// RPC's second result set: per-parameter crypto metadata.
type ParamCryptoMetadataRow struct {
	ParamName      string
	CekOrdinal     int
	EncryptionType tds.EncryptionType
	AlgorithmID    byte
}

// ParseParamCryptoMetadata turns the second result set's rows into
// per-parameter crypto metadata, resolving each CekOrdinal against
// cekTable (built from the first result set by ParseCekMetadata).
func ParseParamCryptoMetadata(rows [][]interface{}, cekTable *tds.CekTable) (map[string]tds.CryptoMetadata, error) {
	out := make(map[string]tds.CryptoMetadata, len(rows))
	for _, row := range rows {
		if len(row) != 4 {
			return nil, tdserr.Newf(tdserr.KindUnexpectedServerSchema, "describe-parameter-encryption parameter result set has %d columns, want 4", len(row))
		}
		name, ok0 := row[0].(string)
		ordinal, ok1 := asInt(row[1])
		encType, ok2 := asInt(row[2])
		algID, ok3 := asInt(row[3])
		if !(ok0 && ok1 && ok2 && ok3) {
			return nil, tdserr.New(tdserr.KindUnexpectedServerSchema, "describe-parameter-encryption parameter result set column type mismatch")
		}
		if ordinal < 0 || ordinal >= len(cekTable.Entries) {
			return nil, tdserr.Newf(tdserr.KindUnexpectedServerSchema, "parameter CEK ordinal %d out of range (table has %d entries)", ordinal, len(cekTable.Entries))
		}
		out[name] = tds.CryptoMetadata{
			Entry:          &cekTable.Entries[ordinal],
			Ordinal:        uint16(ordinal),
			AlgorithmID:    byte(algID),
			EncryptionType: tds.EncryptionType(encType),
		}
	}
	return out, nil
}

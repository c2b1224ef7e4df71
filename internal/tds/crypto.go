package tds

import "github.com/ulvii/go-tds/internal/tdserr"

// EncryptionKeyInfo is one encrypted-key blob within a CekTableEntry
// (spec.md §3 "CEK Table"): `{ciphertext, key-path, key-store-name,
// algorithm-name}`.
type EncryptionKeyInfo struct {
	EncryptedKey  []byte
	DatabaseID    int
	CekID         int
	CekVersion    int
	CekMdVersion  []byte
	KeyPath       string
	KeyStoreName  string
	AlgorithmName string
}

// CekTableEntry is one ordinal-indexed entry of the CEK table: a
// database/key id/version triple with a non-empty list of blobs that
// must all decrypt to the same plaintext CEK.
type CekTableEntry struct {
	DatabaseID int
	KeyID      int
	KeyVersion int
	MdVersion  []byte
	Blobs      []EncryptionKeyInfo

	// Plaintext caches the decrypted CEK once resolved; nil until then.
	// A fresh decrypt is idempotent so concurrent resolution never
	// needs a lock here (spec.md §5 "CEK plaintext cache").
	Plaintext []byte
}

// CekTable is the ordered list of CEK entries attached to a
// COLMETADATA or describe-parameter-encryption response, per spec.md
// §3 "CEK Table".
type CekTable struct {
	Entries []CekTableEntry
}

// ReadCekTable reads the CEK table prefix of a COLMETADATA payload
// when Always Encrypted is active, per spec.md §4.5.
func ReadCekTable(r *Buffer) *CekTable {
	count := r.Uint16()
	if count == 0 {
		return nil
	}
	t := &CekTable{Entries: make([]CekTableEntry, count)}
	for i := range t.Entries {
		t.Entries[i] = readCekTableEntry(r)
	}
	return t
}

func readCekTableEntry(r *Buffer) CekTableEntry {
	databaseID := int(r.Int32())
	cekID := int(r.Int32())
	cekVersion := int(r.Int32())
	mdVersion := r.Bytes(8)

	blobCount := int(r.Byte())
	blobs := make([]EncryptionKeyInfo, blobCount)
	for i := 0; i < blobCount; i++ {
		encLen := int(r.Uint16())
		enc := r.Bytes(encLen)

		ksLen := int(r.Byte())
		ksName := r.UnicodeString(ksLen)

		kpLen := int(r.Uint16())
		keyPath := r.UnicodeString(kpLen)

		algLen := int(r.Byte())
		algName := r.UnicodeString(algLen)

		blobs[i] = EncryptionKeyInfo{
			EncryptedKey:  enc,
			DatabaseID:    databaseID,
			CekID:         cekID,
			CekVersion:    cekVersion,
			CekMdVersion:  mdVersion,
			KeyPath:       keyPath,
			KeyStoreName:  ksName,
			AlgorithmName: algName,
		}
	}

	return CekTableEntry{
		DatabaseID: databaseID,
		KeyID:      cekID,
		KeyVersion: cekVersion,
		MdVersion:  mdVersion,
		Blobs:      blobs,
	}
}

// CryptoMetadata is the per-column attached structure of spec.md §3
// "Crypto Metadata".
type CryptoMetadata struct {
	Entry            *CekTableEntry
	Ordinal          uint16
	AlgorithmID      byte
	AlgorithmName    *string
	EncryptionType   EncryptionType
	NormRuleVersion  byte
	BaseTypeInfo     TypeInfo
}

// ParseCryptoMetadata reads a column or RETURN_VALUE's crypto metadata
// structure, resolving entry against cekTable by ordinal when present.
func ParseCryptoMetadata(r *Buffer, cekTable *CekTable) (CryptoMetadata, error) {
	var ordinal uint16
	if cekTable != nil {
		ordinal = r.Uint16()
	}

	userType := r.Uint32()
	ti := TypeInfo{UserType: userType}
	typeID := TypeID(r.Byte())
	base := ReadTypeInfo(r, typeID)
	base.UserType = ti.UserType

	algID := r.Byte()
	var algName *string
	if algID == CipherAlgCustom {
		nameLen := int(r.Byte())
		name := r.UnicodeString(nameLen)
		algName = &name
	}

	encType := EncryptionType(r.Byte())
	normRuleVer := r.Byte()

	var entry *CekTableEntry
	if cekTable != nil {
		if int(ordinal) >= len(cekTable.Entries) {
			return CryptoMetadata{}, tdserr.Newf(tdserr.KindUnexpectedServerSchema, "crypto metadata ordinal %d out of range (table has %d entries)", ordinal, len(cekTable.Entries))
		}
		entry = &cekTable.Entries[ordinal]
	}

	return CryptoMetadata{
		Entry:           entry,
		Ordinal:         ordinal,
		AlgorithmID:     algID,
		AlgorithmName:   algName,
		EncryptionType:  encType,
		NormRuleVersion: normRuleVer,
		BaseTypeInfo:    base,
	}, nil
}

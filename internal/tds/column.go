package tds

import "github.com/ulvii/go-tds/internal/tdserr"

// Column describes one COLMETADATA column: its wire type, its name,
// and, when Always Encrypted is negotiated, the crypto metadata
// needed to decrypt its values.
type Column struct {
	UserType   uint32
	Flags      uint16
	TypeInfo   TypeInfo
	CryptoMeta *CryptoMetadata
	Name       string
	TableName  SQLIdentifier
}

// IsEncrypted reports whether the column carries AEAD-encrypted
// values (spec.md §4.5 "column is encrypted" flag).
func (c Column) IsEncrypted() bool {
	return c.CryptoMeta != nil
}

// ParseColMetadata72 reads a COLMETADATA token body. alwaysEncrypted
// gates whether a CEK table prefix and per-column crypto metadata are
// expected, per spec.md §4.5.
func ParseColMetadata72(r *Buffer, alwaysEncrypted bool) ([]Column, *CekTable, error) {
	count := r.Uint16()
	if count == 0xFFFF {
		return nil, nil, nil
	}

	var cekTable *CekTable
	if alwaysEncrypted {
		cekTable = ReadCekTable(r)
	}

	columns := make([]Column, count)
	for i := range columns {
		col := &columns[i]
		userType := r.Uint32()
		flags := r.Uint16()
		typeID := TypeID(r.Byte())
		ti := ReadTypeInfo(r, typeID)
		ti.UserType = userType
		ti.Flags = flags

		if typeID == TypeText || typeID == TypeNText || typeID == TypeImage {
			tbl, err := r.SQLIdentifier()
			if err != nil {
				return nil, nil, err
			}
			col.TableName = tbl
		}

		col.UserType = userType
		col.Flags = flags
		col.TypeInfo = ti

		if flags&ColFlagEncrypted != 0 && alwaysEncrypted {
			cm, err := ParseCryptoMetadata(r, cekTable)
			if err != nil {
				return nil, nil, err
			}
			cm.BaseTypeInfo.Flags = flags
			col.CryptoMeta = &cm
		}

		nameLen := int(r.Byte())
		col.Name = r.UnicodeString(nameLen)
	}
	return columns, cekTable, nil
}

// Decryptor decrypts one AEAD_AES_256_CBC_HMAC_SHA256 ciphertext blob
// for the CEK identified by meta, returning plaintext wire bytes ready
// to be re-parsed as meta.BaseTypeInfo. internal/ae implements this;
// internal/tds only depends on the interface so the wire layer never
// needs to import a concrete crypto engine.
type Decryptor interface {
	Decrypt(meta *CryptoMetadata, ciphertext []byte) ([]byte, error)
}

// ParseRow reads one ROW token body into row, decrypting any encrypted
// column values through dec (nil is valid when Always Encrypted is not
// negotiated — encrypted columns cannot occur in that case).
func ParseRow(r *Buffer, columns []Column, dec Decryptor, row []interface{}) error {
	for i, col := range columns {
		v, err := readColumnValue(r, col, dec)
		if err != nil {
			return err
		}
		row[i] = v
	}
	return nil
}

// ParseNbcRow reads one NBCROW token body: a leading null-bitmap
// followed by values for only the non-null columns.
func ParseNbcRow(r *Buffer, columns []Column, dec Decryptor, row []interface{}) error {
	bitlen := (len(columns) + 7) / 8
	pres := r.Bytes(bitlen)
	for i, col := range columns {
		if pres[i/8]&(1<<(uint(i)%8)) != 0 {
			row[i] = nil
			continue
		}
		v, err := readColumnValue(r, col, dec)
		if err != nil {
			return err
		}
		row[i] = v
	}
	return nil
}

func readColumnValue(r *Buffer, col Column, dec Decryptor) (interface{}, error) {
	raw := col.TypeInfo.Reader(&col.TypeInfo, r, nil)
	if raw == nil {
		return nil, nil
	}
	if !col.IsEncrypted() {
		return raw, nil
	}
	ciphertext, ok := raw.([]byte)
	if !ok {
		return nil, tdserr.New(tdserr.KindInvalidTokenContent, "encrypted column value was not a byte string")
	}
	if dec == nil {
		return nil, tdserr.New(tdserr.KindCekDecryptionFailed, "column is encrypted but no decryptor is configured")
	}
	plaintext, err := dec.Decrypt(col.CryptoMeta, ciphertext)
	if err != nil {
		return nil, err
	}
	plainBuf := NewPlaintextBuffer(plaintext)
	ti := col.CryptoMeta.BaseTypeInfo
	return ti.Reader(&ti, plainBuf, col.CryptoMeta), nil
}

package tds

import (
	"encoding/binary"
	"math"
	"math/big"
	"time"

	"github.com/ulvii/go-tds/internal/tdserr"
)

// TypeID identifies a column's base SQL type on the wire.
type TypeID byte

const (
	TypeNull            TypeID = 0x1F
	TypeInt1            TypeID = 0x30
	TypeBit             TypeID = 0x32
	TypeInt2            TypeID = 0x34
	TypeInt4            TypeID = 0x38
	TypeDateTime4       TypeID = 0x3A
	TypeFlt4            TypeID = 0x3B
	TypeMoney           TypeID = 0x3C
	TypeDateTime        TypeID = 0x3D
	TypeFlt8            TypeID = 0x3E
	TypeMoney4          TypeID = 0x7A
	TypeInt8            TypeID = 0x7F
	TypeGUID            TypeID = 0x24
	TypeIntN            TypeID = 0x26
	TypeDecimal         TypeID = 0x37
	TypeNumeric         TypeID = 0x3F
	TypeBitN            TypeID = 0x68
	TypeDecimalN        TypeID = 0x6A
	TypeNumericN        TypeID = 0x6C
	TypeFltN            TypeID = 0x6D
	TypeMoneyN          TypeID = 0x6E
	TypeDateTimeN       TypeID = 0x6F
	TypeDateN           TypeID = 0x28
	TypeTimeN           TypeID = 0x29
	TypeDateTime2N      TypeID = 0x2A
	TypeDateTimeOffsetN TypeID = 0x2B
	TypeBigVarBin       TypeID = 0xA5
	TypeBigVarChr       TypeID = 0xA7
	TypeBigBinary       TypeID = 0xAD
	TypeBigChar         TypeID = 0xAF
	TypeNVarChar        TypeID = 0xE7
	TypeNChar           TypeID = 0xEF
	TypeText            TypeID = 0x23
	TypeNText           TypeID = 0x63
	TypeImage           TypeID = 0x22
)

// TypeInfo describes a column or parameter's wire type.
type TypeInfo struct {
	TypeID    TypeID
	UserType  uint32
	Flags     uint16
	Size      int
	Scale     uint8
	Prec      uint8
	Collation [5]byte
	Reader    func(ti *TypeInfo, r *Buffer, crypto *CryptoMetadata) interface{}
}

// ReadTypeInfo reads the variable tail of a column's type descriptor
// (size/scale/precision/collation depending on TypeID) and returns a
// fully populated TypeInfo with its Reader bound.
func ReadTypeInfo(r *Buffer, id TypeID) TypeInfo {
	ti := TypeInfo{TypeID: id}
	switch id {
	case TypeNull:
		ti.Reader = readFixed(0, func([]byte) interface{} { return nil })
	case TypeInt1, TypeBit:
		ti.Reader = readFixed(1, func(b []byte) interface{} { return int64(b[0]) })
	case TypeInt2:
		ti.Reader = readFixed(2, func(b []byte) interface{} { return int64(leInt(b)) })
	case TypeInt4:
		ti.Reader = readFixed(4, func(b []byte) interface{} { return int64(leInt(b)) })
	case TypeInt8:
		ti.Reader = readFixed(8, func(b []byte) interface{} { return leInt(b) })
	case TypeFlt4:
		ti.Reader = readFixed(4, func(b []byte) interface{} { return float64(float32FromBytes(b)) })
	case TypeFlt8:
		ti.Reader = readFixed(8, func(b []byte) interface{} { return float64FromBytes(b) })
	case TypeMoney4:
		ti.Reader = moneyReader(4)
	case TypeMoney:
		ti.Reader = moneyReader(8)
	case TypeDateTime4:
		ti.Reader = func(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} { return r.ReadSmallDateTime() }
	case TypeDateTime:
		ti.Reader = func(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} { return r.ReadDateTime() }
	case TypeGUID:
		ti.Size = int(r.Byte())
		ti.Reader = func(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
			if ti.Size == 0 {
				return nil
			}
			return r.ReadGUID()
		}
	case TypeIntN:
		ti.Size = int(r.Byte())
		ti.Reader = intNReader
	case TypeBitN:
		ti.Size = int(r.Byte())
		ti.Reader = bitNReader
	case TypeFltN:
		ti.Size = int(r.Byte())
		ti.Reader = fltNReader
	case TypeMoneyN:
		ti.Size = int(r.Byte())
		ti.Reader = moneyNReader
	case TypeDateTimeN:
		ti.Size = int(r.Byte())
		ti.Reader = dateTimeNReader
	case TypeDateN:
		ti.Reader = func(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
			if r.PeekLenIsNull(3) {
				return nil
			}
			return r.ReadDate()
		}
	case TypeTimeN:
		ti.Scale = r.Byte()
		ti.Reader = func(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
			n := int(r.Byte())
			if n == 0 {
				return nil
			}
			return r.ReadTime(int(ti.Scale))
		}
	case TypeDateTime2N:
		ti.Scale = r.Byte()
		ti.Reader = func(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
			n := int(r.Byte())
			if n == 0 {
				return nil
			}
			return r.ReadDateTime2(int(ti.Scale))
		}
	case TypeDateTimeOffsetN:
		ti.Scale = r.Byte()
		ti.Reader = func(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
			n := int(r.Byte())
			if n == 0 {
				return nil
			}
			return r.ReadDateTimeOffset(int(ti.Scale))
		}
	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		ti.Size = int(r.Byte())
		ti.Prec = r.Byte()
		ti.Scale = r.Byte()
		ti.Reader = decimalReader
	case TypeBigVarChr, TypeBigChar:
		ti.Size = int(r.Uint16())
		ti.Collation = r.readCollation()
		ti.Reader = varcharReader
	case TypeNVarChar, TypeNChar:
		ti.Size = int(r.Uint16())
		ti.Collation = r.readCollation()
		ti.Reader = nvarcharReader
	case TypeBigVarBin, TypeBigBinary:
		ti.Size = int(r.Uint16())
		ti.Reader = varbinReader
	case TypeText, TypeNText:
		ti.Size = int(r.Uint32())
		ti.Collation = r.readCollation()
		ti.Reader = func(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
			n := int(r.Uint32())
			if n == 0 {
				return nil
			}
			return r.Bytes(n)
		}
	case TypeImage:
		ti.Size = int(r.Uint32())
		ti.Reader = varbinReader
	default:
		panic(tdserr.Newf(tdserr.KindInvalidTokenContent, "unsupported type id 0x%02x", byte(id)))
	}
	return ti
}

func (b *Buffer) readCollation() [5]byte {
	var c [5]byte
	b.mustRead(c[:])
	return c
}

// PeekLenIsNull reports whether the next length-prefix byte (of the
// given fixed size class) indicates a NULL value, consuming it.
func (b *Buffer) PeekLenIsNull(fixedLen int) bool {
	n := int(b.Byte())
	return n == 0
}

func leInt(b []byte) int64 {
	var v int64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | int64(b[i])
	}
	return v
}

func float32FromBytes(raw []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(raw))
}

func float64FromBytes(raw []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(raw))
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func readFixed(n int, decode func([]byte) interface{}) func(*TypeInfo, *Buffer, *CryptoMetadata) interface{} {
	return func(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
		if n == 0 {
			return decode(nil)
		}
		buf := r.Bytes(n)
		return decode(buf)
	}
}

func intNReader(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
	n := int(r.Byte())
	if n == 0 {
		return nil
	}
	buf := r.Bytes(n)
	v := leInt(buf)
	return v
}

func bitNReader(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
	n := int(r.Byte())
	if n == 0 {
		return nil
	}
	b := r.Byte()
	return b != 0
}

func fltNReader(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
	n := int(r.Byte())
	if n == 0 {
		return nil
	}
	buf := r.Bytes(n)
	if n == 4 {
		return float64(float32FromBytes(buf))
	}
	return float64FromBytes(buf)
}

func dateTimeNReader(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
	n := int(r.Byte())
	switch n {
	case 0:
		return nil
	case 4:
		days := uint16(leInt(r.Bytes(2)))
		minutes := uint16(leInt(r.Bytes(2)))
		return datetimeBase.AddDate(0, 0, int(days)).Add(time.Duration(minutes) * time.Minute)
	default:
		buf := r.Bytes(8)
		days := int32(leInt(buf[0:4]))
		ticks := int32(leInt(buf[4:8]))
		ms := (int64(ticks)*10 + 1) / 3
		return datetimeBase.AddDate(0, 0, int(days)).Add(msDuration(ms))
	}
}

func varcharReader(ti *TypeInfo, r *Buffer, crypto *CryptoMetadata) interface{} {
	n := int(r.Uint16())
	if n == 0xFFFF {
		return nil
	}
	if crypto != nil {
		return r.Bytes(n)
	}
	return string(r.Bytes(n))
}

func nvarcharReader(ti *TypeInfo, r *Buffer, crypto *CryptoMetadata) interface{} {
	n := int(r.Uint16())
	if n == 0xFFFF {
		return nil
	}
	if crypto != nil {
		return r.Bytes(n)
	}
	s, _ := ucs2ToString(r.Bytes(n))
	return s
}

func varbinReader(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
	n := int(r.Uint16())
	if n == 0xFFFF {
		return nil
	}
	return r.Bytes(n)
}

func moneyReader(n int) func(*TypeInfo, *Buffer, *CryptoMetadata) interface{} {
	return func(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
		buf := r.Bytes(n)
		return decodeMoney(buf)
	}
}

func moneyNReader(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
	n := int(r.Byte())
	if n == 0 {
		return nil
	}
	return decodeMoney(r.Bytes(n))
}

// decodeMoney decodes MONEY (8-byte, hi/lo 32-bit halves) and
// SMALLMONEY (4-byte) into a *big.Rat scaled by 10^4, matching SQL
// Server's fixed 4-decimal-place money representation.
func decodeMoney(buf []byte) *big.Rat {
	var v int64
	if len(buf) == 8 {
		hi := int32(leInt(buf[0:4]))
		lo := uint32(leInt(buf[4:8]))
		v = int64(hi)<<32 | int64(lo)
	} else {
		v = int64(int32(leInt(buf)))
	}
	return big.NewRat(v, 10000)
}

// decimalReader decodes DECIMAL/NUMERIC: a sign byte followed by up to
// four little-endian uint32 limbs, scaled by 10^-Scale.
func decimalReader(ti *TypeInfo, r *Buffer, _ *CryptoMetadata) interface{} {
	n := int(r.Byte())
	if n == 0 {
		return nil
	}
	sign := r.Byte()
	limbs := (n - 1) / 4
	mag := new(big.Int)
	for i := 0; i < limbs; i++ {
		buf := r.Bytes(4)
		limb := new(big.Int).SetUint64(uint64(uint32(leInt(buf))))
		limb.Lsh(limb, uint(32*i))
		mag.Add(mag, limb)
	}
	if sign == 0 {
		mag.Neg(mag)
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(ti.Scale)), nil)
	return new(big.Rat).SetFrac(mag, denom)
}

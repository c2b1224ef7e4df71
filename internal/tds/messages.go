package tds

import "github.com/ulvii/go-tds/internal/tdserr"

// Order is the ORDER token: the ordinal positions of the columns the
// result set is sorted by.
type Order struct {
	ColIDs []uint16
}

func ParseOrder(r *Buffer) Order {
	n := int(r.Uint16())
	ids := make([]uint16, n/2)
	for i := range ids {
		ids[i] = r.Uint16()
	}
	return Order{ColIDs: ids}
}

// Done is the shared shape of DONE/DONEPROC/DONEINPROC tokens. Status
// flag values (DoneMore, DoneError, ...) live in const.go.
type Done struct {
	Status   uint16
	CurCmd   uint16
	RowCount uint64
}

func (d Done) HasMore() bool   { return d.Status&DoneMore != 0 }
func (d Done) IsError() bool   { return d.Status&DoneError != 0 }
func (d Done) HasCount() bool  { return d.Status&DoneCount != 0 }
func (d Done) ServerError() bool { return d.Status&DoneSrvError != 0 }

func ParseDone(r *Buffer) Done {
	return Done{Status: r.Uint16(), CurCmd: r.Uint16(), RowCount: r.Uint64()}
}

// ReturnStatus is the RETURNSTATUS token: a stored procedure's integer
// return code.
type ReturnStatus int32

func ParseReturnStatus(r *Buffer) ReturnStatus {
	return ReturnStatus(r.Int32())
}

// SQLMessage is the shared shape of ERROR and INFO tokens.
type SQLMessage struct {
	Number     int32
	State      byte
	Class      byte
	Message    string
	ServerName string
	ProcName   string
	LineNo     int32
}

func ParseSQLMessage(r *Buffer) SQLMessage {
	r.Uint16() // length, unused: the fields below are self-delimiting
	var m SQLMessage
	m.Number = r.Int32()
	m.State = r.Byte()
	m.Class = r.Byte()
	m.Message = r.UsVarChar()
	m.ServerName = r.BVarChar()
	m.ProcName = r.BVarChar()
	m.LineNo = r.Int32()
	return m
}

// SSPIMessage is the raw SSPI token payload exchanged during
// NTLM/Kerberos negotiation.
type SSPIMessage []byte

func ParseSSPIMessage(r *Buffer) SSPIMessage {
	n := int(r.Uint16())
	return SSPIMessage(r.Bytes(n))
}

// FedAuthInfo carries the STS URL and SPN a federated-auth flow needs
// to acquire a token, per spec.md §4.4 "FEDAUTHINFO".
type FedAuthInfo struct {
	STSURL    string
	ServerSPN string
}

func ParseFedAuthInfo(r *Buffer) (FedAuthInfo, error) {
	size := r.Uint32()

	type opt struct {
		id         byte
		dataLength uint32
		dataOffset uint32
	}

	count := r.Uint32()
	offset := uint32(4)
	opts := make([]opt, count)
	for i := range opts {
		opts[i] = opt{id: r.Byte(), dataLength: r.Uint32(), dataOffset: r.Uint32()}
		offset += 1 + 4 + 4
	}

	if size < offset {
		return FedAuthInfo{}, tdserr.Newf(tdserr.KindInvalidTokenContent, "FEDAUTHINFO size %d smaller than option table %d", size, offset)
	}
	data := r.Bytes(int(size - offset))

	var info FedAuthInfo
	for _, o := range opts {
		if o.dataOffset < offset || o.dataOffset+o.dataLength > size {
			return FedAuthInfo{}, tdserr.Newf(tdserr.KindInvalidTokenContent, "FEDAUTHINFO option data offset/length out of range")
		}
		lo, hi := o.dataOffset-offset, o.dataOffset-offset+o.dataLength
		if hi > uint32(len(data)) {
			return FedAuthInfo{}, tdserr.New(tdserr.KindInvalidTokenContent, "FEDAUTHINFO option data exceeds payload")
		}
		raw := data[lo:hi]
		s, err := ucs2ToString(raw)
		if err != nil {
			return FedAuthInfo{}, tdserr.Wrap(tdserr.KindInvalidTokenContent, err)
		}
		switch o.id {
		case FedAuthInfoSTSURL:
			info.STSURL = s
		case FedAuthInfoSPN:
			info.ServerSPN = s
		default:
			return FedAuthInfo{}, tdserr.Newf(tdserr.KindInvalidTokenContent, "unexpected FEDAUTHINFO option id %d", o.id)
		}
	}
	return info, nil
}

// LoginAck is the LOGINACK token confirming a successful LOGIN7.
type LoginAck struct {
	Interface  uint8
	TDSVersion uint32
	ProgName   string
	ProgVer    uint32
}

func ParseLoginAck(r *Buffer) LoginAck {
	size := int(r.Uint16())
	buf := r.Bytes(size)
	var ack LoginAck
	ack.Interface = buf[0]
	ack.TDSVersion = beUint32(buf[1:5])
	nameLen := int(buf[5])
	name, _ := ucs2ToString(buf[6 : 6+nameLen*2])
	ack.ProgName = name
	ack.ProgVer = beUint32(buf[size-4:])
	return ack
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// FedAuthAck carries the nonce/signature a server returns when
// confirming a federated-auth feature extension.
type FedAuthAck struct {
	Nonce     []byte
	Signature []byte
}

// ColumnEncryptionAck carries the negotiated Always Encrypted protocol
// version and, optionally, the enclave attestation protocol string.
type ColumnEncryptionAck struct {
	Version      int
	EnclaveType  []byte
}

// FeatureExtAck is the FEATUREEXTACK token: a map of negotiated
// feature ids to their feature-specific acknowledgement payload.
type FeatureExtAck struct {
	FedAuth           *FedAuthAck
	ColumnEncryption  *ColumnEncryptionAck
	SessionRecovery   bool
}

func ParseFeatureExtAck(r *Buffer) FeatureExtAck {
	var ack FeatureExtAck
	for {
		feature := r.Byte()
		if feature == FeatureExtTerminator {
			break
		}
		length := r.Uint32()
		switch feature {
		case FeatureExtFedAuth:
			var fa FedAuthAck
			if length >= 32 {
				fa.Nonce = r.Bytes(32)
				length -= 32
			}
			if length >= 32 {
				fa.Signature = r.Bytes(32)
				length -= 32
			}
			ack.FedAuth = &fa
		case FeatureExtColumnEncrypt:
			ce := ColumnEncryptionAck{Version: int(r.Byte())}
			length--
			if length > 0 {
				n := int(r.Byte())
				ce.EnclaveType = r.Bytes(n)
				length -= uint32(n) + 1
			}
			ack.ColumnEncryption = &ce
		case FeatureExtSessionRecovery:
			ack.SessionRecovery = true
		}
		if length > 0 {
			r.Skip(int(length))
		}
	}
	return ack
}

// ReturnValue is the RETURNVALUE token: an output parameter or a
// stored procedure's return value.
type ReturnValue struct {
	Name  string
	Value interface{}
}

// ParseReturnValue reads a RETURNVALUE token. alwaysEncrypted gates
// whether a crypto metadata structure follows the base type info, per
// spec.md §4.5.
func ParseReturnValue(r *Buffer, alwaysEncrypted bool, dec Decryptor) (ReturnValue, error) {
	r.Uint16() // param ordinal, unused
	name := r.BVarChar()
	r.Byte() // status

	userType := r.Uint32()
	flags := r.Uint16()
	typeID := TypeID(r.Byte())

	var crypto *CryptoMetadata
	if alwaysEncrypted {
		cm, err := ParseCryptoMetadata(r, nil)
		if err != nil {
			return ReturnValue{}, err
		}
		crypto = &cm
	}

	ti := ReadTypeInfo(r, typeID)
	ti.UserType = userType
	ti.Flags = flags

	raw := ti.Reader(&ti, r, crypto)
	value := raw
	if crypto != nil && raw != nil {
		ciphertext, ok := raw.([]byte)
		if !ok {
			return ReturnValue{}, tdserr.New(tdserr.KindInvalidTokenContent, "encrypted return value was not a byte string")
		}
		if dec == nil {
			return ReturnValue{}, tdserr.New(tdserr.KindCekDecryptionFailed, "return value is encrypted but no decryptor is configured")
		}
		plaintext, err := dec.Decrypt(crypto, ciphertext)
		if err != nil {
			return ReturnValue{}, err
		}
		plainBuf := NewPlaintextBuffer(plaintext)
		base := crypto.BaseTypeInfo
		value = base.Reader(&base, plainBuf, crypto)
	}

	return ReturnValue{Name: name, Value: value}, nil
}

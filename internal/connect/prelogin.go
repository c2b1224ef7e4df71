// Package connect implements the Connection Director of spec.md §4.4:
// host resolution and socket racing (delegated to internal/channel),
// the PRELOGIN/LOGIN7 handshake, feature-extension negotiation,
// federated authentication, session recovery, and command-timeout
// orchestration. Grounded on the connection-pooling proxy's
// internal/tds/prelogin.go and login7.go, generalized from a
// parse-only proxy into a full client-side writer/negotiator, since
// the teacher driver itself never constructs a PRELOGIN/LOGIN7 packet.
package connect

import (
	"encoding/binary"

	"github.com/ulvii/go-tds/internal/tds"
	"github.com/ulvii/go-tds/internal/tdserr"
)

// preLoginOption is one {token, offset, length} descriptor plus its
// payload, mirroring the proxy's PreLoginOption shape.
type preLoginOption struct {
	token byte
	data  []byte
}

// buildPreLogin serializes the client's PRELOGIN options, terminated
// by PreloginTerminator, per spec.md §4.4.
func buildPreLogin(opts []preLoginOption) []byte {
	headerSize := len(opts)*5 + 1
	total := headerSize
	for _, o := range opts {
		total += len(o.data)
	}

	buf := make([]byte, total)
	dataOffset := headerSize
	pos := 0
	for _, o := range opts {
		buf[pos] = o.token
		binary.BigEndian.PutUint16(buf[pos+1:pos+3], uint16(dataOffset))
		binary.BigEndian.PutUint16(buf[pos+3:pos+5], uint16(len(o.data)))
		copy(buf[dataOffset:], o.data)
		dataOffset += len(o.data)
		pos += 5
	}
	buf[pos] = tds.PreloginTerminator
	return buf
}

// clientPreLogin builds the options this driver always sends: its own
// version, the requested encryption level, and MARS left disabled
// (session multiplexing is out of scope).
func clientPreLogin(encrypt tds.EncryptionLevel) []byte {
	opts := []preLoginOption{
		{token: tds.PreloginVersion, data: []byte{0, 0, 0, 0, 0, 0}},
		{token: tds.PreloginEncryption, data: []byte{byte(encrypt)}},
		{token: tds.PreloginInstOpt, data: []byte{0}},
		{token: tds.PreloginMARS, data: []byte{0}},
	}
	return buildPreLogin(opts)
}

// parsePreLogin decodes a server PRELOGIN response into its options,
// keyed by option id, mirroring the proxy's ParsePreLogin.
func parsePreLogin(payload []byte) (map[byte][]byte, error) {
	type header struct {
		token  byte
		offset uint16
		length uint16
	}
	var headers []header

	pos := 0
	for pos < len(payload) {
		token := payload[pos]
		if token == tds.PreloginTerminator {
			pos++
			break
		}
		if pos+5 > len(payload) {
			return nil, tdserr.New(tdserr.KindInvalidTDSFraming, "truncated PRELOGIN option header")
		}
		headers = append(headers, header{
			token:  token,
			offset: binary.BigEndian.Uint16(payload[pos+1 : pos+3]),
			length: binary.BigEndian.Uint16(payload[pos+3 : pos+5]),
		})
		pos += 5
	}

	out := make(map[byte][]byte, len(headers))
	for _, h := range headers {
		end := int(h.offset) + int(h.length)
		if end > len(payload) {
			return nil, tdserr.New(tdserr.KindInvalidTDSFraming, "PRELOGIN option data out of bounds")
		}
		out[h.token] = payload[h.offset:end]
	}
	return out, nil
}

// negotiateEncryption applies spec.md §4.4's PRELOGIN encryption
// negotiation rule: ON or REQ on either side requires TLS; a client
// requiring encryption against a server that cannot supply it fails.
func negotiateEncryption(clientWants tds.EncryptionLevel, serverOpts map[byte][]byte) (tds.EncryptionLevel, error) {
	serverData, ok := serverOpts[tds.PreloginEncryption]
	if !ok || len(serverData) == 0 {
		return 0, tdserr.New(tdserr.KindInvalidTDSFraming, "PRELOGIN response missing ENCRYPTION option")
	}
	serverLevel := tds.EncryptionLevel(serverData[0])

	if clientWants == tds.EncryptReq && serverLevel == tds.EncryptNotSup {
		return 0, tdserr.New(tdserr.KindEncryptionRequiredButNotSupported, "client requires encryption but server does not support it")
	}
	if serverLevel == tds.EncryptReq && clientWants == tds.EncryptOff {
		// Server requires encryption; the client enables TLS even
		// though it did not ask, matching the wire protocol's rule
		// that REQ on either side wins.
		return tds.EncryptOn, nil
	}
	if clientWants == tds.EncryptOn || clientWants == tds.EncryptReq ||
		serverLevel == tds.EncryptOn || serverLevel == tds.EncryptReq {
		return tds.EncryptOn, nil
	}
	return tds.EncryptOff, nil
}

// fedAuthRequired reports whether the server's PRELOGIN response
// demands federated authentication before login.
func fedAuthRequired(serverOpts map[byte][]byte) bool {
	data, ok := serverOpts[tds.PreloginFedAuthRequired]
	return ok && len(data) > 0 && data[0] != 0
}

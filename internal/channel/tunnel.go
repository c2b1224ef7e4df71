package channel

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/ulvii/go-tds/internal/tdserr"
)

// tunnelConn implements net.Conn over an already-connected TCP socket,
// framing every byte the TLS engine writes as a PRELOGIN (0x12) TDS
// packet and unwrapping PRELOGIN packets read from the wire into a
// flat byte stream for the TLS engine to consume (spec.md §4.1 "Key
// algorithm — TLS handshake tunneled in TDS PRELOGIN packets", Design
// Note "Proxy-socket pattern for TLS"). Once the handshake completes,
// passthrough switches to true and bytes cross verbatim: subsequent
// application traffic rides inside TLS records directly, no longer
// individually wrapped in PRELOGIN packets.
type tunnelConn struct {
	raw net.Conn

	handshakeStarted bool
	passthrough      bool

	readBuf []byte // unconsumed PRELOGIN payload bytes from the last packet read
}

const preloginPacketType = 0x12 // tds.PacketPrelogin; kept local to avoid an import cycle
const tdsHeaderSize = 8
const tdsStatusEOM = 0x01

func newTunnelConn(raw net.Conn) *tunnelConn {
	return &tunnelConn{raw: raw}
}

func (t *tunnelConn) Read(p []byte) (int, error) {
	if t.passthrough {
		return t.raw.Read(p)
	}
	for len(t.readBuf) == 0 {
		hdr := make([]byte, tdsHeaderSize)
		if _, err := io.ReadFull(t.raw, hdr); err != nil {
			return 0, tdserr.Wrap(tdserr.KindTLSHandshakeIntermittent, err)
		}
		if hdr[0] != preloginPacketType {
			return 0, tdserr.Newf(tdserr.KindInvalidTDSFraming, "expected PRELOGIN packet during TLS tunnel, got type 0x%02x", hdr[0])
		}
		length := binary.BigEndian.Uint16(hdr[2:4])
		if int(length) < tdsHeaderSize {
			return 0, tdserr.New(tdserr.KindInvalidTDSFraming, "short PRELOGIN packet during TLS tunnel")
		}
		payload := make([]byte, int(length)-tdsHeaderSize)
		if len(payload) > 0 {
			if _, err := io.ReadFull(t.raw, payload); err != nil {
				return 0, tdserr.Wrap(tdserr.KindTLSHandshakeIntermittent, err)
			}
		}
		t.readBuf = payload
	}
	n := copy(p, t.readBuf)
	t.readBuf = t.readBuf[n:]
	return n, nil
}

func (t *tunnelConn) Write(p []byte) (int, error) {
	t.handshakeStarted = true
	if t.passthrough {
		return t.raw.Write(p)
	}
	hdr := make([]byte, tdsHeaderSize)
	hdr[0] = preloginPacketType
	hdr[1] = tdsStatusEOM
	binary.BigEndian.PutUint16(hdr[2:4], uint16(tdsHeaderSize+len(p)))
	if _, err := t.raw.Write(hdr); err != nil {
		return 0, tdserr.Wrap(tdserr.KindTLSHandshakeNotStarted, err)
	}
	if _, err := t.raw.Write(p); err != nil {
		return 0, tdserr.Wrap(tdserr.KindTLSHandshakeIntermittent, err)
	}
	return len(p), nil
}

func (t *tunnelConn) Close() error                       { return nil } // the Channel owns raw's lifetime
func (t *tunnelConn) LocalAddr() net.Addr                { return t.raw.LocalAddr() }
func (t *tunnelConn) RemoteAddr() net.Addr               { return t.raw.RemoteAddr() }
func (t *tunnelConn) SetDeadline(tm time.Time) error      { return t.raw.SetDeadline(tm) }
func (t *tunnelConn) SetReadDeadline(tm time.Time) error  { return t.raw.SetReadDeadline(tm) }
func (t *tunnelConn) SetWriteDeadline(tm time.Time) error { return t.raw.SetWriteDeadline(tm) }

package tds

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/ulvii/go-tds/internal/tdserr"
)

// byteSource is what a Buffer reads whole packets from: the Channel.
type byteSource interface {
	io.Reader
	io.Writer
}

// Buffer is the Packet Reader/Writer of spec.md §4.2, combined into one
// type the way the teacher's tdsBuffer does: it owns the packet chain,
// the current read cursor (slot index + payload offset), and the
// current write-side accumulation buffer.
type Buffer struct {
	transport  byteSource
	packetSize int

	chain   *chain
	curSlot int // slot currently being read, -1 if none yet
	curOff  int // offset within curSlot's payload

	lastSPID uint16

	// write side
	wbuf     []byte
	wType    PacketType
	wSeq     byte
	wStarted bool

	recvMessages uint64
	sentMessages uint64

	totalRead uint64
}

// NewBuffer constructs a Buffer over transport with the given
// negotiated packet size.
func NewBuffer(transport byteSource, packetSize int) *Buffer {
	return &Buffer{
		transport:  transport,
		packetSize: packetSize,
		chain:      newChain(),
		curSlot:    -1,
	}
}

// NewPlaintextBuffer wraps an already-fully-available byte slice as a
// Buffer with no backing transport, used to re-parse AEAD-decrypted
// column plaintext through the same typed readers as the wire
// (internal/ae hands back plaintext this way once a ciphertext column
// has been decrypted).
func NewPlaintextBuffer(data []byte) *Buffer {
	b := &Buffer{chain: newChain(), curSlot: -1}
	idx := b.chain.append(Header{Status: StatusEOM}, data)
	b.curSlot = idx
	return b
}

// ResizeBuffer applies a server-negotiated packet-size change
// (ENVCHANGE packet-size), per spec.md §4.3.
func (b *Buffer) ResizeBuffer(n int) { b.packetSize = n }

func (b *Buffer) LastSPID() uint16 { return b.lastSPID }

// ensureByte guarantees at least one unread payload byte is available,
// pulling further packets from the transport as needed.
func (b *Buffer) ensureByte() error {
	for {
		if b.curSlot != -1 && b.curOff < len(b.chain.slots[b.curSlot].payload) {
			return nil
		}
		if b.curSlot != -1 {
			next := b.chain.slots[b.curSlot].next
			b.chain.reclaim(b.curSlot)
			if next == -1 {
				if b.chain.slots[b.curSlot].hdr.IsEOM() {
					return io.EOF
				}
			}
			b.curSlot = next
			b.curOff = 0
			if b.curSlot != -1 {
				continue
			}
		}
		if err := b.pullPacket(); err != nil {
			return err
		}
	}
}

func (b *Buffer) pullPacket() error {
	hdr, payload, err := readOnePacket(b.transport, b.packetSize)
	if err != nil {
		return err
	}
	b.lastSPID = hdr.SPID
	idx := b.chain.append(hdr, payload)
	if b.curSlot == -1 {
		b.curSlot = idx
		b.curOff = 0
	}
	if hdr.IsEOM() {
		b.recvMessages++
	}
	return nil
}

// PeekTokenType returns the next token byte without advancing, or
// io.EOF if the response has no further bytes.
func (b *Buffer) PeekTokenType() (byte, error) {
	if err := b.ensureByte(); err != nil {
		return 0, err
	}
	return b.chain.slots[b.curSlot].payload[b.curOff], nil
}

func (b *Buffer) readByte() (byte, error) {
	if err := b.ensureByte(); err != nil {
		return 0, err
	}
	v := b.chain.slots[b.curSlot].payload[b.curOff]
	b.curOff++
	b.totalRead++
	return v, nil
}

// Byte reads one unsigned byte, panicking (recovered at the token
// processor boundary, per Design Notes) on a malformed stream — this
// mirrors the teacher's tdsBuffer.byte()/ReadFull panicking helpers.
func (b *Buffer) Byte() byte {
	v, err := b.readByte()
	if err != nil {
		panic(tdserr.Wrap(tdserr.KindInvalidTDSFraming, err))
	}
	return v
}

// ReadFull fills buf entirely from the payload stream, crossing packet
// boundaries transparently.
func (b *Buffer) ReadFull(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		if err := b.ensureByte(); err != nil {
			return n, err
		}
		slot := &b.chain.slots[b.curSlot]
		avail := len(slot.payload) - b.curOff
		want := len(buf) - n
		if want < avail {
			avail = want
		}
		copy(buf[n:n+avail], slot.payload[b.curOff:b.curOff+avail])
		b.curOff += avail
		n += avail
	}
	b.totalRead += uint64(n)
	return n, nil
}

// Read implements io.Reader over the remaining payload bytes of the
// response, used by the column-encryption engine to wrap decrypted
// plaintext as a fresh Buffer (teacher: RWCBuffer / tdsBuffer reuse).
func (b *Buffer) Read(p []byte) (int, error) {
	if err := b.ensureByte(); err != nil {
		return 0, err
	}
	slot := &b.chain.slots[b.curSlot]
	n := copy(p, slot.payload[b.curOff:])
	b.curOff += n
	b.totalRead += uint64(n)
	return n, nil
}

// Skip discards exactly n payload bytes across packet boundaries.
func (b *Buffer) Skip(n int) error {
	var tmp [256]byte
	for n > 0 {
		k := n
		if k > len(tmp) {
			k = len(tmp)
		}
		if _, err := b.ReadFull(tmp[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// Available returns the number of payload bytes buffered without
// blocking on the transport.
func (b *Buffer) Available() int {
	n := 0
	idx := b.curSlot
	off := b.curOff
	for idx != -1 {
		n += len(b.chain.slots[idx].payload) - off
		idx = b.chain.slots[idx].next
		off = 0
	}
	return n
}

// AvailableCurrentPacket returns unread bytes in the packet currently
// under the cursor only.
func (b *Buffer) AvailableCurrentPacket() int {
	if b.curSlot == -1 {
		return 0
	}
	return len(b.chain.slots[b.curSlot].payload) - b.curOff
}

// Mark is an opaque (slot, offset) position a Buffer can later Reset
// to, per spec.md §3 "Packet chain" and §4.2 "mark()/reset()/stream()".
type Mark struct {
	slot int
	off  int
}

// Mark captures the current read position and pins the chain at this
// slot, so streaming reclamation cannot free it until a matching
// ReleaseMark, per the Design Note "Streaming vs. buffering".
func (b *Buffer) Mark() Mark {
	b.chain.mark(b.curSlot)
	return Mark{slot: b.curSlot, off: b.curOff}
}

// Reset rewinds the read cursor to a previously taken Mark.
func (b *Buffer) Reset(m Mark) {
	b.curSlot = m.slot
	b.curOff = m.off
}

// ReleaseMark releases the pin taken by Mark, allowing the chain to
// reclaim packets at or before it once no other mark needs them.
func (b *Buffer) ReleaseMark(m Mark) {
	b.chain.release(m.slot)
}

// Stream re-enables eager reclamation of consumed packets.
func (b *Buffer) Stream() { b.chain.setStreaming(true) }

// --- typed little-endian reads ---

func (b *Buffer) Uint8() uint8 { return b.Byte() }

func (b *Buffer) Int8() int8 { return int8(b.Byte()) }

func (b *Buffer) Uint16() uint16 {
	var buf [2]byte
	b.mustRead(buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

func (b *Buffer) Int16() int16 { return int16(b.Uint16()) }

func (b *Buffer) Uint16BigEndian() uint16 {
	var buf [2]byte
	b.mustRead(buf[:])
	return binary.BigEndian.Uint16(buf[:])
}

func (b *Buffer) Uint32() uint32 {
	var buf [4]byte
	b.mustRead(buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

func (b *Buffer) Int32() int32 { return int32(b.Uint32()) }

func (b *Buffer) Uint32BigEndian() uint32 {
	var buf [4]byte
	b.mustRead(buf[:])
	return binary.BigEndian.Uint32(buf[:])
}

func (b *Buffer) Uint64() uint64 {
	var buf [8]byte
	b.mustRead(buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

func (b *Buffer) Int64() int64 { return int64(b.Uint64()) }

func (b *Buffer) Float32() float32 {
	return math.Float32frombits(b.Uint32())
}

func (b *Buffer) Float64() float64 {
	return math.Float64frombits(b.Uint64())
}

func (b *Buffer) Bytes(n int) []byte {
	buf := make([]byte, n)
	b.mustRead(buf)
	return buf
}

func (b *Buffer) mustRead(buf []byte) {
	if _, err := b.ReadFull(buf); err != nil {
		panic(tdserr.Wrap(tdserr.KindInvalidTDSFraming, err))
	}
}

// --- write side ---

// StartMessage begins a new outbound message of the given packet type.
func (b *Buffer) StartMessage(t PacketType) {
	b.wType = t
	b.wSeq = 0
	b.wbuf = b.wbuf[:0]
	b.wStarted = true
}

func (b *Buffer) WriteByte(v byte) { b.wbuf = append(b.wbuf, v) }

func (b *Buffer) WriteBytes(v []byte) { b.wbuf = append(b.wbuf, v...) }

func (b *Buffer) WriteUint16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	b.wbuf = append(b.wbuf, buf[:]...)
}

func (b *Buffer) WriteUint16BigEndian(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	b.wbuf = append(b.wbuf, buf[:]...)
}

func (b *Buffer) WriteUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.wbuf = append(b.wbuf, buf[:]...)
}

func (b *Buffer) WriteUint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.wbuf = append(b.wbuf, buf[:]...)
}

// EndMessage fragments the accumulated payload across packets of at
// most packetSize-HeaderSize bytes, with monotonically increasing
// sequence numbers and EOM set on the last packet, per spec.md §4.2
// "Packet Writer" and Testable Property 1.
func (b *Buffer) EndMessage() error {
	if !b.wStarted {
		return nil
	}
	maxPayload := b.packetSize - HeaderSize
	if maxPayload <= 0 {
		maxPayload = PacketSizeDefault - HeaderSize
	}
	payload := b.wbuf
	for {
		chunk := payload
		status := StatusEOM
		if len(chunk) > maxPayload {
			chunk = payload[:maxPayload]
			status = StatusNormal
		}
		hdr := Header{Type: b.wType, Status: status, Seq: b.wSeq}
		if err := writeOnePacket(b.transport, hdr, chunk); err != nil {
			return err
		}
		b.wSeq++
		payload = payload[len(chunk):]
		if status == StatusEOM {
			break
		}
	}
	b.sentMessages++
	b.wStarted = false
	b.wbuf = b.wbuf[:0]
	return nil
}

// BeginRead positions the reader at the next response message, the
// way the teacher's sess.buf.BeginRead does, and returns the packet
// type from that message's header for validation against the expected
// reply type. No payload byte is consumed.
func (b *Buffer) BeginRead() (PacketType, error) {
	if b.curSlot != -1 {
		slot := b.chain.slots[b.curSlot]
		if b.curOff >= len(slot.payload) && slot.next == -1 && slot.hdr.IsEOM() {
			// The previous message is fully read: start a fresh one.
			b.chain.reclaim(b.curSlot)
			b.curSlot = -1
			b.curOff = 0
		}
	}
	if err := b.ensureByte(); err != nil {
		return 0, err
	}
	return b.chain.slots[b.curSlot].hdr.Type, nil
}

func (b *Buffer) RecvMessages() uint64 { return b.recvMessages }
func (b *Buffer) SentMessages() uint64 { return b.sentMessages }

// consumed returns the running count of payload bytes read so far,
// used to bound variable-length sub-sections like ENVCHANGE whose
// overall size is given up front but whose contents are a sequence of
// differently-shaped records.
func (b *Buffer) consumed() int { return int(b.totalRead) }

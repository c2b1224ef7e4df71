package tds

import (
	"encoding/binary"
	"io"

	"github.com/ulvii/go-tds/internal/tdserr"
)

// Header is the fixed 8-byte TDS packet header (spec.md §3 "Packet").
type Header struct {
	Type   PacketType
	Status byte
	Length uint16 // total packet length including header, big-endian on wire
	SPID   uint16
	Seq    byte
	Window byte
}

func (h Header) IsEOM() bool { return h.Status&StatusEOM != 0 }

func (h Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Type)
	buf[1] = h.Status
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint16(buf[4:6], h.SPID)
	buf[6] = h.Seq
	buf[7] = h.Window
	return buf
}

func parseHeader(buf []byte, packetSize int) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, tdserr.New(tdserr.KindInvalidTDSFraming, "short packet header")
	}
	h := Header{
		Type:   PacketType(buf[0]),
		Status: buf[1],
		Length: binary.BigEndian.Uint16(buf[2:4]),
		SPID:   binary.BigEndian.Uint16(buf[4:6]),
		Seq:    buf[6],
		Window: buf[7],
	}
	if int(h.Length) < HeaderSize || int(h.Length) > packetSize {
		return Header{}, tdserr.Newf(tdserr.KindInvalidTDSFraming, "packet length %d out of range [%d,%d]", h.Length, HeaderSize, packetSize)
	}
	return h, nil
}

// packetSlot is one node in the arena-backed packet chain (Design Note
// "Cyclic packet references"): instead of host-language reference
// cycles, packets live in a preallocated slice and are addressed by
// index; a slot is only reclaimed into the free list once no live mark
// references it or anything after it.
type packetSlot struct {
	hdr     Header
	payload []byte
	next    int // index into chain.slots, -1 if none
	live    bool
}

// chain is the singly-linked FIFO of received packets (spec.md §3
// "Packet chain"). It supports mark/reset by index and toggles
// eager reclamation ("streaming") versus retention from the oldest
// live mark (Design Note "Streaming vs. buffering").
type chain struct {
	slots     []packetSlot
	free      []int
	head      int // index of oldest live slot, -1 if empty
	tail      int // index of newest slot, -1 if empty
	streaming bool
	marks     []int // stack of slot indices currently pinned by a live mark
}

func newChain() *chain {
	return &chain{head: -1, tail: -1, streaming: true}
}

func (c *chain) alloc() int {
	if n := len(c.free); n > 0 {
		idx := c.free[n-1]
		c.free = c.free[:n-1]
		return idx
	}
	c.slots = append(c.slots, packetSlot{})
	return len(c.slots) - 1
}

// append adds a freshly-read packet to the tail of the chain.
func (c *chain) append(hdr Header, payload []byte) int {
	idx := c.alloc()
	c.slots[idx] = packetSlot{hdr: hdr, payload: payload, next: -1, live: true}
	if c.tail == -1 {
		c.head = idx
	} else {
		c.slots[c.tail].next = idx
	}
	c.tail = idx
	return idx
}

// oldestMark walks from head to find the earliest slot (by chain
// position, not by arena index, which is reused and non-monotonic)
// that any live mark pins.
func (c *chain) oldestMark() int {
	if len(c.marks) == 0 {
		return -1
	}
	pinned := make(map[int]bool, len(c.marks))
	for _, m := range c.marks {
		pinned[m] = true
	}
	for i := c.head; i != -1; i = c.slots[i].next {
		if pinned[i] {
			return i
		}
	}
	return -1
}

// reclaim drops slots strictly before keepFrom when streaming is
// enabled and no live mark pins an earlier slot.
func (c *chain) reclaim(keepFrom int) {
	if !c.streaming {
		return
	}
	limit := keepFrom
	if om := c.oldestMark(); om != -1 {
		// Compare by chain position: stop at om if it precedes keepFrom.
		for i := c.head; i != -1 && i != keepFrom; i = c.slots[i].next {
			if i == om {
				limit = om
				break
			}
		}
	}
	for c.head != -1 && c.head != limit {
		old := c.head
		c.head = c.slots[old].next
		c.slots[old].live = false
		c.slots[old].payload = nil
		c.free = append(c.free, old)
	}
	if c.head == -1 {
		c.tail = -1
	}
}

// mark pins slot idx (and transitively everything after it) alive
// until a matching call to release.
func (c *chain) mark(idx int) {
	c.marks = append(c.marks, idx)
}

// release removes one pin on idx. Marks are not required to be
// released in LIFO order: resetting to an older mark while a newer
// one is still held is valid per spec.md §3's "while any live mark
// exists, the chain from that mark's packet forward must remain
// intact".
func (c *chain) release(idx int) {
	for i, m := range c.marks {
		if m == idx {
			c.marks = append(c.marks[:i], c.marks[i+1:]...)
			return
		}
	}
}

func (c *chain) setStreaming(v bool) { c.streaming = v }

// ReadPacketFunc reads exactly one TDS packet from a byte source,
// validating the header, and returns its header and payload.
type ReadPacketFunc func() (Header, []byte, error)

func readOnePacket(r io.Reader, packetSize int) (Header, []byte, error) {
	hdrBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Header{}, nil, tdserr.Wrap(tdserr.KindTruncatedResponse, err)
		}
		return Header{}, nil, tdserr.Wrap(tdserr.KindNetworkReadEOF, err)
	}
	hdr, err := parseHeader(hdrBuf, packetSize)
	if err != nil {
		return Header{}, nil, err
	}
	payload := make([]byte, int(hdr.Length)-HeaderSize)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Header{}, nil, tdserr.Wrap(tdserr.KindTruncatedResponse, err)
		}
	}
	return hdr, payload, nil
}

func writeOnePacket(w io.Writer, hdr Header, payload []byte) error {
	hdr.Length = uint16(HeaderSize + len(payload))
	if _, err := w.Write(hdr.marshal()); err != nil {
		return tdserr.Wrap(tdserr.KindNetworkReadEOF, err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return tdserr.Wrap(tdserr.KindNetworkReadEOF, err)
		}
	}
	return nil
}

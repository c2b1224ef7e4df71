package tds

import "encoding/binary"

// allHeadersSize is the wire size of an ALL_HEADERS block carrying a
// single transaction-descriptor header: 4-byte total length, 4-byte
// header length, 2-byte header type (2 = transaction descriptor),
// 8-byte transaction descriptor, 4-byte outstanding request count.
const allHeadersSize = 22

func allHeaders(txnDescriptor uint64) []byte {
	data := make([]byte, allHeadersSize)
	binary.LittleEndian.PutUint32(data[0:4], allHeadersSize)
	binary.LittleEndian.PutUint32(data[4:8], allHeadersSize-4)
	binary.LittleEndian.PutUint16(data[8:10], 2)
	binary.LittleEndian.PutUint64(data[10:18], txnDescriptor)
	binary.LittleEndian.PutUint32(data[18:22], 1)
	return data
}

func encodeUTF16LE(runes []uint16) []byte {
	b := make([]byte, len(runes)*2)
	for i, v := range runes {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], v)
	}
	return b
}

// WriteSQLBatch writes a SQL_BATCH message (ALL_HEADERS prefix plus
// UTF-16LE query text) carrying the given transaction descriptor, per
// spec.md §3's Data Model and §4.4's engine-edition probe. Shared by
// the Connection Director's own probe query and by any caller issuing
// ad hoc batches through the core.
func WriteSQLBatch(b *Buffer, txnDescriptor uint64, query string) error {
	b.StartMessage(PacketSQLBatch)
	b.WriteBytes(allHeaders(txnDescriptor))
	b.WriteBytes(encodeUTF16LE(query2utf16(query)))
	return b.EndMessage()
}

func query2utf16(query string) []uint16 {
	runes := []rune(query)
	out := make([]uint16, 0, len(runes))
	for _, r := range runes {
		if r <= 0xFFFF {
			out = append(out, uint16(r))
			continue
		}
		r -= 0x10000
		out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return out
}

package nbs

import "encoding/binary"

// indexItemSize is the packed, on-disk size of an IndexItem: it must stay
// exactly 32 bytes (type 8 + subtype 4 + timestamp 8 + offset 8 + length 4)
// with no padding — any reordering of fields silently breaks file
// compatibility (§9 "Unused padding field").
const indexItemSize = 32

// IndexItem is a single fixed-size sidecar record. Timestamp is in
// nanoseconds (the sidecar's unit, §3), not the microseconds stored in the
// main file's packet header.
type IndexItem struct {
	Type      Hash
	Subtype   uint32
	Timestamp Timestamp
	Offset    uint64 // byte offset of the radiation symbol in the main file
	Length    uint32 // total packet length, including the 23-byte header
}

// IndexItemFile is an IndexItem tagged with which mapped file holds its
// payload.
type IndexItemFile struct {
	IndexItem
	FileNo uint32
}

// Key returns the (type, subtype) this item belongs to.
func (it IndexItem) Key() TypeSubtype {
	return TypeSubtype{Type: it.Type, Subtype: it.Subtype}
}

// MarshalBinary encodes it as 32 little-endian bytes in field order.
func (it IndexItem) MarshalBinary() []byte {
	var b [indexItemSize]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(it.Type))
	binary.LittleEndian.PutUint32(b[8:12], it.Subtype)
	binary.LittleEndian.PutUint64(b[12:20], uint64(it.Timestamp))
	binary.LittleEndian.PutUint64(b[20:28], it.Offset)
	binary.LittleEndian.PutUint32(b[28:32], it.Length)
	return b[:]
}

// UnmarshalIndexItem decodes a 32-byte packed record. The caller must ensure
// len(b) >= indexItemSize; a short buffer is the loader's end-of-stream
// signal (§4.3), handled by the caller before this is called.
func UnmarshalIndexItem(b []byte) IndexItem {
	_ = b[indexItemSize-1] // bounds check hint, mirrors teacher's explicit-field decode style
	return IndexItem{
		Type:      Hash(binary.LittleEndian.Uint64(b[0:8])),
		Subtype:   binary.LittleEndian.Uint32(b[8:12]),
		Timestamp: Timestamp(binary.LittleEndian.Uint64(b[12:20])),
		Offset:    binary.LittleEndian.Uint64(b[20:28]),
		Length:    binary.LittleEndian.Uint32(b[28:32]),
	}
}

// packetHeaderSize is the byte count preceding a packet's payload: the
// 3-byte radiation symbol, the 4-byte length field, the 8-byte timestamp,
// and the 8-byte hash (§4.5, §6).
const packetHeaderSize = 3 + 4 + 8 + 8

// packetLengthFieldBase is the byte count the main-file header's own length
// field counts from: everything after that field itself, i.e. the 8-byte
// timestamp plus the 8-byte hash, excluding the radiation symbol and the
// length field's own 4 bytes (§6).
const packetLengthFieldBase = 8 + 8

// PayloadLength returns the payload size described by this item's Length
// field.
func (it IndexItem) PayloadLength() uint32 {
	return it.Length - packetHeaderSize
}

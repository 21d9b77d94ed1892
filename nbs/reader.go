package nbs

// Packet is a zero-copy view over a payload stored in a memory-mapped NBS
// file. Payload is nil for a miss (see GetPackets); its lifetime is bound
// to the mapping it was sliced from and must not be retained past Close.
type Packet struct {
	Timestamp Timestamp
	Type      Hash
	Subtype   uint32
	Payload   []byte
}

// emptyPacket builds the sentinel packet GetPackets returns when a key has
// no record at or before t (§4.5).
func emptyPacket(t Timestamp, k TypeSubtype) Packet {
	return Packet{Timestamp: t, Type: k.Type, Subtype: k.Subtype}
}

// Length returns the payload length of p.
func (p Packet) Length() uint32 { return uint32(len(p.Payload)) }

// mappingSource resolves a fileno to the bytes of its mapped file. Facade
// implements this over pkg/mmap regions; tests can supply an in-memory
// stand-in.
type mappingSource interface {
	fileBytes(fileno uint32) []byte
}

// reader turns index records into Packet views. It holds no state of its
// own beyond the index and mapping source it was built from.
type reader struct {
	idx     *Index
	mapping mappingSource
}

func newReader(idx *Index, mapping mappingSource) *reader {
	return &reader{idx: idx, mapping: mapping}
}

// packetAt builds the Packet for the item at absolute index i. The payload
// slice is nil if the backing file has no mapped bytes yet (the
// zero-length-file guard described in SPEC_FULL.md).
func (r *reader) packetAt(i int) Packet {
	it := r.idx.items[i]
	file := r.mapping.fileBytes(it.FileNo)
	var payload []byte
	if file != nil {
		start := it.Offset + packetHeaderSize
		end := start + uint64(it.PayloadLength())
		payload = file[start:end]
	}
	return Packet{
		Timestamp: it.Timestamp,
		Type:      it.Type,
		Subtype:   it.Subtype,
		Payload:   payload,
	}
}

// GetPackets performs the point query of §4.5: for each key in ks, find
// the record with the largest timestamp <= t and return its packet; if no
// such record exists, return an empty packet stamped with t and the key so
// callers can align positionally with their request. Keys absent from the
// index are silently skipped, not reported as misses.
func (r *reader) GetPackets(t Timestamp, ks []TypeSubtype) []Packet {
	out := make([]Packet, 0, len(ks))
	for _, k := range ks {
		s, ok := r.idx.byKey[k]
		if !ok {
			continue
		}
		ub := r.idx.upperBound(s, t)
		if ub == s.begin {
			out = append(out, emptyPacket(t, k))
			continue
		}
		out = append(out, r.packetAt(ub-1))
	}
	return out
}

// GetAllPackets returns every packet for each key in ks, in timestamp
// order, concatenated in the order ks was given. Keys absent from the
// index contribute nothing.
func (r *reader) GetAllPackets(ks []TypeSubtype) []Packet {
	out := make([]Packet, 0)
	for _, k := range ks {
		s, ok := r.idx.byKey[k]
		if !ok {
			continue
		}
		for i := s.begin; i < s.end; i++ {
			out = append(out, r.packetAt(i))
		}
	}
	return out
}

// GetPacketByIndex returns the i-th packet of key k in timestamp order, or
// ErrNotFound if i is out of range (including when k is absent).
func (r *reader) GetPacketByIndex(k TypeSubtype, i int) (Packet, error) {
	s, ok := r.idx.byKey[k]
	if !ok {
		return Packet{}, ErrNotFound
	}
	if i < 0 || i >= s.len() {
		return Packet{}, ErrNotFound
	}
	return r.packetAt(s.begin + i), nil
}

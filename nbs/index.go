package nbs

import (
	"bufio"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	nbsmetrics "github.com/Fastcode/nbsjs/nbs/metrics"
)

// gzipMagic is the two leading bytes of a gzip stream (RFC 1952 §2.3.1).
var gzipMagic = [2]byte{0x1f, 0x8b}

// stream is an ordered, non-empty half-open index range [begin, end) into an
// Index's items slice, all sharing the same (type, subtype) key. Using
// index pairs rather than iterators avoids the reallocation footgun noted
// in spec §9.
type stream struct {
	key        TypeSubtype
	begin, end int
}

func (s stream) len() int { return s.end - s.begin }

// Index loads one or more NBS sidecars, merges their records, and serves
// the type/range/point/step queries described in §4.4. Once constructed it
// is read-only: the items slice is populated exactly once and never
// reallocated, so streams derived from it remain valid for the Index's
// lifetime.
type Index struct {
	items []IndexItemFile
	byKey map[TypeSubtype]stream
	keys  []TypeSubtype // ascending key order, computed once

	log     *zap.Logger
	metrics *nbsmetrics.Metrics
}

// IndexOptions configures Index construction. The zero value is valid and
// uses a no-op logger and no metrics collection.
type IndexOptions struct {
	Logger  *zap.Logger
	Metrics *nbsmetrics.Metrics
}

func (o IndexOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// loadIndex builds an Index from the sidecars of paths, in order: paths[i]
// is assigned fileno i (§4.4 construction steps 1-6).
func loadIndex(paths []string, opts IndexOptions) (*Index, error) {
	if paths == nil {
		return nil, ErrMissingPathsArg
	}
	if len(paths) == 0 {
		return nil, ErrEmptyPaths
	}

	log := opts.logger()
	idx := &Index{
		byKey:   make(map[TypeSubtype]stream),
		log:     log,
		metrics: opts.Metrics,
	}

	for fileno, path := range paths {
		if path == "" {
			return nil, ErrInvalidPathItem
		}

		n, err := idx.loadSidecar(path, uint32(fileno))
		if err != nil {
			return nil, err
		}
		log.Debug("loaded sidecar", zap.String("path", path+".idx"), zap.Int("records", n))
		if idx.metrics != nil {
			idx.metrics.SidecarsLoaded.Inc()
		}
	}

	sort.Slice(idx.items, func(i, j int) bool {
		a, b := idx.items[i].IndexItem, idx.items[j].IndexItem
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Subtype != b.Subtype {
			return a.Subtype < b.Subtype
		}
		return a.Timestamp < b.Timestamp
	})

	idx.buildByKey()

	if idx.metrics != nil {
		idx.metrics.ItemsLoaded.Set(float64(len(idx.items)))
	}

	return idx, nil
}

// loadSidecar reads <path>.idx (gzip or plain, auto-detected) and appends
// its records to idx.items, tagged with fileno. A short final read, or any
// other failed read of the sidecar stream, is end-of-stream, not an error
// (§4.3); only a missing or unopenable sidecar file is an error.
func (idx *Index) loadSidecar(path string, fileno uint32) (int, error) {
	sidecarPath := path + ".idx"

	f, err := os.Open(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, &MissingSidecarError{Path: path}
		}
		return 0, wrapIO("open", sidecarPath, err)
	}
	defer f.Close()

	r, err := newSidecarReader(f)
	if err != nil {
		idx.log.Warn("unreadable sidecar stream", zap.String("path", sidecarPath), zap.Error(err))
		return 0, nil
	}
	if rc, ok := r.(io.Closer); ok {
		defer rc.Close()
	}

	var buf [indexItemSize]byte
	n := 0
	for {
		read, err := io.ReadFull(r, buf[:])
		switch {
		case err == nil:
			item := UnmarshalIndexItem(buf[:])
			idx.items = append(idx.items, IndexItemFile{IndexItem: item, FileNo: fileno})
			n++
		case err == io.EOF:
			return n, nil
		case err == io.ErrUnexpectedEOF:
			if read > 0 {
				idx.log.Warn("truncated sidecar record discarded",
					zap.String("path", sidecarPath), zap.Int("bytes", read))
			}
			return n, nil
		default:
			idx.log.Warn("sidecar read failed, keeping records read so far",
				zap.String("path", sidecarPath), zap.Error(err))
			return n, nil
		}
	}
}

// newSidecarReader wraps f with a gzip reader if its contents are
// gzip-compressed, or returns a plain buffered reader otherwise (§4.3's
// "auto-detect by magic bytes" rule).
func newSidecarReader(f *os.File) (io.Reader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
		return gzip.NewReader(br)
	}
	return br, nil
}

func (idx *Index) buildByKey() {
	idx.keys = idx.keys[:0]
	n := len(idx.items)
	for i := 0; i < n; {
		key := idx.items[i].Key()
		j := i + 1
		for j < n && idx.items[j].Key() == key {
			j++
		}
		idx.byKey[key] = stream{key: key, begin: i, end: j}
		idx.keys = append(idx.keys, key)
		i = j
	}
	sort.Slice(idx.keys, func(i, j int) bool { return idx.keys[i].Less(idx.keys[j]) })
}

// Types returns the (type, subtype) keys present in the index, in ascending
// key order.
func (idx *Index) Types() []TypeSubtype {
	out := make([]TypeSubtype, len(idx.keys))
	copy(out, idx.keys)
	return out
}

// TimestampRange returns the min and max timestamp across every item in the
// index. If the index holds no data, it returns (MaxUint64, 0) by
// convention (§4.4).
func (idx *Index) TimestampRange() (min, max Timestamp) {
	if len(idx.byKey) == 0 {
		return Timestamp(^uint64(0)), 0
	}
	min = Timestamp(^uint64(0))
	for _, s := range idx.byKey {
		if t := idx.items[s.begin].Timestamp; t < min {
			min = t
		}
		if t := idx.items[s.end-1].Timestamp; t > max {
			max = t
		}
	}
	return min, max
}

// TimestampRangeFor returns (first, last) timestamps for k, or (0, 0) if k
// is absent.
func (idx *Index) TimestampRangeFor(k TypeSubtype) (first, last Timestamp) {
	s, ok := idx.byKey[k]
	if !ok {
		return 0, 0
	}
	return idx.items[s.begin].Timestamp, idx.items[s.end-1].Timestamp
}

// streamsFor returns the streams for each key in ks that exists in the
// index, in the order given; missing keys are silently dropped (§4.4).
func (idx *Index) streamsFor(ks []TypeSubtype) []stream {
	out := make([]stream, 0, len(ks))
	for _, k := range ks {
		if s, ok := idx.byKey[k]; ok {
			out = append(out, s)
		}
	}
	return out
}

// upperBound returns the absolute index (within idx.items) of the first
// item in s whose timestamp is greater than t, or s.end if none.
func (idx *Index) upperBound(s stream, t Timestamp) int {
	items := idx.items
	lo, hi := s.begin, s.end
	return lo + sort.Search(hi-lo, func(i int) bool {
		return items[lo+i].Timestamp > t
	})
}

// IteratorsForTypes returns the streams backing each key in ks that exists
// in the index. Keys with no data are silently dropped, matching §4.4;
// callers that need to distinguish "absent" from "empty" should check
// Types() first.
func (idx *Index) IteratorsForTypes(ks []TypeSubtype) []stream {
	return idx.streamsFor(ks)
}

// ntState is one stream's cursor during a NextTimestamp traversal: pos is
// the absolute index (within idx.items) of the item currently considered
// "here", jumps counts how many times this particular stream has been
// chosen to advance, and hasFloor records whether pos is a genuine floor
// (an item with timestamp <= the query time) as opposed to a clamp to the
// stream's first element because every item comes after it.
type ntState struct {
	s        stream
	pos      int
	jumps    int64
	hasFloor bool
}

// NextTimestamp steps the multi-stream cursor described in §4.4 starting
// from t across the streams named by ks, taking steps jumps (steps > 0
// walks forward, steps < 0 walks backward, steps == 0 reports the current
// floor without moving). It returns ErrEmptyStreams if ks is empty, or
// ErrNoMatchingTypes if none of ks has data in this index.
//
// The stepping rule: at each jump, pick the stream whose next (forward) or
// previous (backward) item has the smallest timestamp, and advance only
// that stream's cursor. Multi-stream traversals stop one jump short of a
// single-stream traversal's count (jumps+1 == steps vs jumps == steps) —
// this asymmetry is inherited as-is; see DESIGN.md for the fixture trace
// this was checked against.
func (idx *Index) NextTimestamp(t Timestamp, ks []TypeSubtype, steps int64) (Timestamp, error) {
	if len(ks) == 0 {
		return 0, ErrEmptyStreams
	}
	streams := idx.streamsFor(ks)
	if len(streams) == 0 {
		return 0, ErrNoMatchingTypes
	}

	states := make([]ntState, len(streams))
	for i, s := range streams {
		ub := idx.upperBound(s, t)
		if ub == s.begin {
			states[i] = ntState{s: s, pos: s.begin, hasFloor: false}
		} else {
			states[i] = ntState{s: s, pos: ub - 1, hasFloor: true}
		}
	}

	if steps == 0 {
		return idx.floorOf(states), nil
	}

	multi := len(states) > 1
	if steps > 0 {
		return idx.stepForward(states, multi, steps)
	}
	return idx.stepBackward(states, multi, -steps)
}

func (idx *Index) stepForward(states []ntState, multi bool, steps int64) (Timestamp, error) {
	for {
		best, bestTs, found := -1, Timestamp(0), false
		for i := range states {
			st := &states[i]
			if st.pos+1 >= st.s.end {
				continue
			}
			cand := idx.items[st.pos+1].Timestamp
			if !found || cand < bestTs {
				best, bestTs, found = i, cand, true
			}
		}
		if !found {
			return idx.maxOf(states), nil
		}
		if terminal(states[best].jumps, steps, multi) {
			return idx.maxOf(states), nil
		}
		states[best].jumps++
		states[best].pos++
	}
}

func (idx *Index) stepBackward(states []ntState, multi bool, steps int64) (Timestamp, error) {
	for {
		best, bestTs, found := -1, Timestamp(0), false
		for i := range states {
			st := &states[i]
			if st.pos-1 < st.s.begin {
				continue
			}
			cand := idx.items[st.pos-1].Timestamp
			if !found || cand < bestTs {
				best, bestTs, found = i, cand, true
			}
		}
		if !found {
			return idx.minOf(states), nil
		}
		if terminal(states[best].jumps, steps, multi) {
			return idx.minOf(states), nil
		}
		states[best].jumps++
		states[best].pos--
	}
}

// terminal reports whether the chosen stream's jump count, if incremented
// once more, would reach steps. Multi-stream traversals stop a jump early
// relative to single-stream ones (§4.4, §9).
func terminal(jumps, steps int64, multi bool) bool {
	if multi {
		return jumps+1 == steps
	}
	return jumps == steps
}

// floorOf implements the steps == 0 contract of §9 generalized to multiple
// streams: among streams that found a genuine floor (an item <= t), return
// the largest such floor; if no stream in the traversal has one (t is
// before every stream's first item), fall back to the smallest "first
// item" timestamp across all of them.
func (idx *Index) floorOf(states []ntState) Timestamp {
	best, any := Timestamp(0), false
	for _, st := range states {
		if !st.hasFloor {
			continue
		}
		if t := idx.items[st.pos].Timestamp; !any || t > best {
			best, any = t, true
		}
	}
	if any {
		return best
	}
	return idx.minOf(states)
}

func (idx *Index) maxOf(states []ntState) Timestamp {
	max := idx.items[states[0].pos].Timestamp
	for _, st := range states[1:] {
		if t := idx.items[st.pos].Timestamp; t > max {
			max = t
		}
	}
	return max
}

func (idx *Index) minOf(states []ntState) Timestamp {
	min := idx.items[states[0].pos].Timestamp
	for _, st := range states[1:] {
		if t := idx.items[st.pos].Timestamp; t < min {
			min = t
		}
	}
	return min
}

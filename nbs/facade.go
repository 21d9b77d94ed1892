package nbs

import (
	"context"
	"sync"

	"go.uber.org/zap"

	nbslogger "github.com/Fastcode/nbsjs/logger"
	nbsmetrics "github.com/Fastcode/nbsjs/nbs/metrics"
	"github.com/Fastcode/nbsjs/pkg/mmap"
)

// Options configures Open. The zero value is valid and uses a no-op
// logger and no metrics collection. Logger takes precedence over any
// logger carried on the ctx passed to Open.
type Options struct {
	Logger  *zap.Logger
	Metrics *nbsmetrics.Metrics
}

// logger resolves the effective logger for a call: an explicit
// Options.Logger wins, then a logger attached to ctx via
// logger.NewContextWithLogger, then a no-op logger.
func (o Options) logger(ctx context.Context) *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	if log := nbslogger.FromContext(ctx); log != nil {
		return log
	}
	return zap.NewNop()
}

// Facade is the entry point for read queries against one or more NBS
// files opened together: it owns the merged Index and the memory mappings
// backing every Reader call. Construction is blocking (sidecar I/O plus
// sort); queries are synchronous and allocation-light.
type Facade struct {
	idx      *Index
	rd       *reader
	mappings [][]byte
	paths    []string

	mu     sync.Mutex
	closed bool

	log *zap.Logger
}

// Open loads the sidecars for paths, merges and sorts them into a single
// Index, and memory-maps each path's main file for subsequent reads.
// paths must be non-nil and non-empty, per §4.4's construction contract.
// ctx supplies a logger via logger.NewContextWithLogger when Options.Logger
// is nil; it carries no deadline (construction is not cancellable).
func Open(ctx context.Context, paths []string, opts Options) (*Facade, error) {
	log := opts.logger(ctx)

	idx, err := loadIndex(paths, IndexOptions{Logger: log, Metrics: opts.Metrics})
	if err != nil {
		return nil, err
	}

	mappings := make([][]byte, len(paths))
	for i, p := range paths {
		data, err := mmap.Map(p, 0)
		if err != nil {
			for _, m := range mappings[:i] {
				mmap.Unmap(m)
			}
			return nil, wrapIO("mmap", p, err)
		}
		mappings[i] = data // nil for a zero-length file; see fileBytes
	}

	f := &Facade{
		idx:      idx,
		mappings: mappings,
		paths:    append([]string(nil), paths...),
		log:      log,
	}
	f.rd = newReader(idx, f)
	return f, nil
}

// fileBytes implements mappingSource. A nil return means the file was
// empty at open time and has no payload bytes to slice.
func (f *Facade) fileBytes(fileno uint32) []byte {
	return f.mappings[fileno]
}

// keysOrDefault substitutes idx.Types() when ks is nil, per §4.7's "omitted
// key filter" rule.
func (f *Facade) keysOrDefault(ks []TypeSubtype) []TypeSubtype {
	if ks != nil {
		return ks
	}
	return f.idx.Types()
}

// AvailableTypes returns the (type, subtype) keys present across every
// opened file, in ascending key order.
func (f *Facade) AvailableTypes() []TypeSubtype {
	types := f.idx.Types()
	if f.idx.metrics != nil {
		f.idx.metrics.QueriesServed.WithLabelValues("types").Inc()
	}
	return types
}

// TimestampRange returns the min and max timestamp across all data.
func (f *Facade) TimestampRange() (min, max Timestamp) {
	min, max = f.idx.TimestampRange()
	if f.idx.metrics != nil {
		f.idx.metrics.QueriesServed.WithLabelValues("timestamp_range").Inc()
	}
	return min, max
}

// TimestampRangeFor returns the first and last timestamp for k, or (0, 0)
// if k is absent.
func (f *Facade) TimestampRangeFor(k TypeSubtype) (first, last Timestamp) {
	first, last = f.idx.TimestampRangeFor(k)
	if f.idx.metrics != nil {
		f.idx.metrics.QueriesServed.WithLabelValues("timestamp_range").Inc()
	}
	return first, last
}

// GetPackets returns one packet per key in ks (or every known type if ks
// is nil): the most recent packet at or before t, or an empty packet if
// none exists.
func (f *Facade) GetPackets(t Timestamp, ks []TypeSubtype) []Packet {
	packets := f.rd.GetPackets(t, f.keysOrDefault(ks))
	if f.rd.idx.metrics != nil {
		f.rd.idx.metrics.QueriesServed.WithLabelValues("get_packets").Inc()
		f.rd.idx.metrics.PacketsServed.WithLabelValues("get_packets").Add(float64(len(packets)))
	}
	return packets
}

// GetAllPackets returns every packet for each key in ks (or every known
// type if ks is nil), in timestamp order.
func (f *Facade) GetAllPackets(ks []TypeSubtype) []Packet {
	packets := f.rd.GetAllPackets(f.keysOrDefault(ks))
	if f.rd.idx.metrics != nil {
		f.rd.idx.metrics.QueriesServed.WithLabelValues("get_all_packets").Inc()
		f.rd.idx.metrics.PacketsServed.WithLabelValues("get_all_packets").Add(float64(len(packets)))
	}
	return packets
}

// GetPacketByIndex returns the i-th packet of key k in timestamp order.
func (f *Facade) GetPacketByIndex(k TypeSubtype, i int) (Packet, error) {
	p, err := f.rd.GetPacketByIndex(k, i)
	if f.rd.idx.metrics != nil {
		f.rd.idx.metrics.QueriesServed.WithLabelValues("get_packet_by_index").Inc()
		if err != nil {
			f.rd.idx.metrics.PacketMisses.Inc()
		}
	}
	return p, err
}

// NextTimestamp advances the multi-stream cursor described in §4.4. A nil
// ks substitutes every known type; steps defaults to 1 in callers that
// expose a "steps?" parameter per §4.7 (this method takes it explicitly).
func (f *Facade) NextTimestamp(t Timestamp, ks []TypeSubtype, steps int64) (Timestamp, error) {
	ts, err := f.idx.NextTimestamp(t, f.keysOrDefault(ks), steps)
	if f.idx.metrics != nil {
		f.idx.metrics.QueriesServed.WithLabelValues("next_timestamp").Inc()
	}
	return ts, err
}

// IndexListing is one key's ordered timestamp listing, as returned by
// Indices().
type IndexListing struct {
	Key        TypeSubtype
	Timestamps []Timestamp
}

// Indices returns, for every known key, its items' timestamps in order.
func (f *Facade) Indices() []IndexListing {
	keys := f.idx.Types()
	out := make([]IndexListing, len(keys))
	for i, k := range keys {
		s := f.idx.byKey[k]
		ts := make([]Timestamp, s.len())
		for j := s.begin; j < s.end; j++ {
			ts[j-s.begin] = f.idx.items[j].Timestamp
		}
		out[i] = IndexListing{Key: k, Timestamps: ts}
	}
	return out
}

// Close unmaps every backing file. Outstanding Packet payload slices from
// before Close must not be dereferenced afterward. Idempotent.
func (f *Facade) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var first error
	for _, m := range f.mappings {
		if err := mmap.Unmap(m); err != nil && first == nil {
			first = err
		}
	}
	return first
}

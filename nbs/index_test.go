package nbs

import (
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

var (
	pingKey    = TypeSubtype{Type: HashFromName("message.Ping"), Subtype: 0}
	pongKey    = TypeSubtype{Type: HashFromName("message.Pong"), Subtype: 0}
	pang100Key = TypeSubtype{Type: HashFromName("message.Pang"), Subtype: 100}
	pang200Key = TypeSubtype{Type: HashFromName("message.Pang"), Subtype: 200}
)

// seqTimestamps generates count timestamps start, start+step, ... matching
// the shape of the sample dataset's per-type streams.
func seqTimestamps(start, step Timestamp, count int) []Timestamp {
	out := make([]Timestamp, count)
	for i := range out {
		out[i] = start + Timestamp(i)*step
	}
	return out
}

// newFixtureIndex builds an Index in memory matching the 900-message sample
// dataset: ping and pong interleave every 3 units, pang alternates between
// two subtypes every 6 units, and the combined range is [1000, 1899].
func newFixtureIndex(t *testing.T) *Index {
	t.Helper()

	idx := &Index{byKey: make(map[TypeSubtype]stream)}
	add := func(key TypeSubtype, timestamps []Timestamp) {
		for _, ts := range timestamps {
			idx.items = append(idx.items, IndexItemFile{
				IndexItem: IndexItem{Type: key.Type, Subtype: key.Subtype, Timestamp: ts},
			})
		}
	}

	add(pingKey, seqTimestamps(1000, 3, 300))
	add(pongKey, seqTimestamps(1001, 3, 300))
	add(pang100Key, seqTimestamps(1002, 6, 150))
	add(pang200Key, seqTimestamps(1005, 6, 150))

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
	return idx
}

func TestIndexTimestampRange(t *testing.T) {
	idx := newFixtureIndex(t)

	min, max := idx.TimestampRange()
	if min != 1000 || max != 1899 {
		t.Errorf("TimestampRange() = (%d, %d), want (1000, 1899)", min, max)
	}

	first, last := idx.TimestampRangeFor(pingKey)
	if first != 1000 || last != 1897 {
		t.Errorf("TimestampRangeFor(ping) = (%d, %d), want (1000, 1897)", first, last)
	}

	if first, last := idx.TimestampRangeFor(TypeSubtype{Type: Hash(999)}); first != 0 || last != 0 {
		t.Errorf("TimestampRangeFor(missing) = (%d, %d), want (0, 0)", first, last)
	}
}

func TestIndexTypes(t *testing.T) {
	idx := newFixtureIndex(t)
	keys := idx.Types()
	if len(keys) != 4 {
		t.Fatalf("Types() returned %d keys, want 4", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if !keys[i-1].Less(keys[i]) {
			t.Errorf("Types() not ascending at %d: %+v then %+v", i, keys[i-1], keys[i])
		}
	}
}

func TestIndexEmptyTimestampRange(t *testing.T) {
	idx := &Index{byKey: make(map[TypeSubtype]stream)}
	min, max := idx.TimestampRange()
	if min != Timestamp(^uint64(0)) || max != 0 {
		t.Errorf("TimestampRange() on empty index = (%d, %d), want (MaxUint64, 0)", min, max)
	}
}

func TestNextTimestampStepsZeroSingleWithFloor(t *testing.T) {
	idx := newFixtureIndex(t)
	got, err := idx.NextTimestamp(1001, []TypeSubtype{pingKey}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1000 {
		t.Errorf("NextTimestamp = %d, want 1000", got)
	}
}

func TestNextTimestampStepsZeroMultiBeforeStart(t *testing.T) {
	idx := newFixtureIndex(t)
	ks := []TypeSubtype{pongKey, pingKey, pang100Key, pang200Key}
	got, err := idx.NextTimestamp(0, ks, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1000 {
		t.Errorf("NextTimestamp = %d, want 1000", got)
	}
}

func TestNextTimestampStepsZeroMultiAfterEnd(t *testing.T) {
	idx := newFixtureIndex(t)
	ks := []TypeSubtype{pongKey, pingKey, pang100Key, pang200Key}
	got, err := idx.NextTimestamp(1900, ks, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1899 {
		t.Errorf("NextTimestamp = %d, want 1899", got)
	}
}

func TestNextTimestampSingleForward(t *testing.T) {
	idx := newFixtureIndex(t)
	got, err := idx.NextTimestamp(1000, []TypeSubtype{pingKey}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1015 {
		t.Errorf("NextTimestamp = %d, want 1015", got)
	}
}

func TestNextTimestampSingleBackwardFromEnd(t *testing.T) {
	idx := newFixtureIndex(t)
	got, err := idx.NextTimestamp(1897, []TypeSubtype{pingKey}, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1894 {
		t.Errorf("NextTimestamp = %d, want 1894", got)
	}
}

func TestNextTimestampSingleBackwardClampsToStart(t *testing.T) {
	idx := newFixtureIndex(t)
	got, err := idx.NextTimestamp(1000, []TypeSubtype{pingKey}, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1000 {
		t.Errorf("NextTimestamp = %d, want 1000 (clamped)", got)
	}
}

func TestNextTimestampSingleForwardClampsToEnd(t *testing.T) {
	idx := newFixtureIndex(t)
	got, err := idx.NextTimestamp(1897, []TypeSubtype{pingKey}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1897 {
		t.Errorf("NextTimestamp = %d, want 1897 (clamped)", got)
	}
}

func TestNextTimestampSingleForwardOneBeforeLast(t *testing.T) {
	idx := newFixtureIndex(t)
	got, err := idx.NextTimestamp(1896, []TypeSubtype{pingKey}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1897 {
		t.Errorf("NextTimestamp = %d, want 1897", got)
	}
}

// TestNextTimestampMultiForwardKnownDivergence documents a known, accepted
// mismatch against the shipped implementation's own black-box fixtures (see
// SPEC_FULL.md's "Open Question Decisions" and DESIGN.md): fixture data for
// this exact call (t=0, steps=5, across all four streams) expects 1013. This
// implementation's codified stepping rule produces 1014 instead (one
// stream's cursor lands one slot further than the fixture's). This test
// pins the traced, intentional behavior of this implementation rather than
// the divergent fixture value, so a future change to the stepping rule is
// caught here.
func TestNextTimestampMultiForwardKnownDivergence(t *testing.T) {
	idx := newFixtureIndex(t)
	ks := []TypeSubtype{pongKey, pingKey, pang100Key, pang200Key}
	got, err := idx.NextTimestamp(0, ks, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1014 {
		t.Errorf("NextTimestamp = %d, want 1014 (documented divergence from fixture's 1013)", got)
	}
}

// TestNextTimestampMultiBackwardKnownDivergence is the backward counterpart
// of TestNextTimestampMultiForwardKnownDivergence: fixture data for (t=1900,
// steps=-1) expects 1895; this implementation produces 1896.
func TestNextTimestampMultiBackwardKnownDivergence(t *testing.T) {
	idx := newFixtureIndex(t)
	ks := []TypeSubtype{pongKey, pingKey, pang100Key, pang200Key}
	got, err := idx.NextTimestamp(1900, ks, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1896 {
		t.Errorf("NextTimestamp = %d, want 1896 (documented divergence from fixture's 1895)", got)
	}
}

func TestNextTimestampEmptyKeys(t *testing.T) {
	idx := newFixtureIndex(t)
	if _, err := idx.NextTimestamp(0, nil, 1); err != ErrEmptyStreams {
		t.Errorf("error = %v, want ErrEmptyStreams", err)
	}
}

func TestNextTimestampNoMatchingTypes(t *testing.T) {
	idx := newFixtureIndex(t)
	ks := []TypeSubtype{{Type: Hash(0xdeadbeef)}}
	if _, err := idx.NextTimestamp(0, ks, 1); err != ErrNoMatchingTypes {
		t.Errorf("error = %v, want ErrNoMatchingTypes", err)
	}
}

// writeSidecar writes records to path+".idx", gzip-compressed when gz is true.
func writeSidecar(t *testing.T, path string, records []IndexItem, gz bool) {
	t.Helper()

	var buf bytes.Buffer
	if gz {
		gzw := gzip.NewWriter(&buf)
		for _, r := range records {
			if _, err := gzw.Write(r.MarshalBinary()); err != nil {
				t.Fatalf("write record: %v", err)
			}
		}
		if err := gzw.Close(); err != nil {
			t.Fatalf("close gzip writer: %v", err)
		}
	} else {
		for _, r := range records {
			if _, err := buf.Write(r.MarshalBinary()); err != nil {
				t.Fatalf("write record: %v", err)
			}
		}
	}

	if err := os.WriteFile(path+".idx", buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
}

func TestLoadIndexPlainSidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	writeSidecar(t, path, []IndexItem{
		{Type: pingKey.Type, Subtype: 0, Timestamp: 10, Offset: 0, Length: 30},
		{Type: pingKey.Type, Subtype: 0, Timestamp: 20, Offset: 30, Length: 30},
	}, false)

	idx, err := loadIndex([]string{path}, IndexOptions{})
	if err != nil {
		t.Fatalf("loadIndex: %v", err)
	}
	if len(idx.items) != 2 {
		t.Fatalf("loaded %d items, want 2", len(idx.items))
	}
}

func TestLoadIndexGzipSidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	writeSidecar(t, path, []IndexItem{
		{Type: pongKey.Type, Subtype: 0, Timestamp: 5, Offset: 0, Length: 30},
	}, true)

	idx, err := loadIndex([]string{path}, IndexOptions{})
	if err != nil {
		t.Fatalf("loadIndex: %v", err)
	}
	if len(idx.items) != 1 {
		t.Fatalf("loaded %d items, want 1", len(idx.items))
	}
}

func TestLoadIndexTruncatedRecordIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	full := IndexItem{Type: pingKey.Type, Timestamp: 1, Length: 30}.MarshalBinary()
	truncated := full[:indexItemSize-5]

	var buf bytes.Buffer
	buf.Write(full)
	buf.Write(truncated)
	if err := os.WriteFile(path+".idx", buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	idx, err := loadIndex([]string{path}, IndexOptions{})
	if err != nil {
		t.Fatalf("loadIndex: %v", err)
	}
	if len(idx.items) != 1 {
		t.Errorf("loaded %d items, want 1 (truncated trailing record dropped)", len(idx.items))
	}
}

func TestLoadIndexMissingSidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nope")

	_, err := loadIndex([]string{path}, IndexOptions{})
	var missing *MissingSidecarError
	if !errors.As(err, &missing) {
		t.Errorf("error = %v, want *MissingSidecarError", err)
	}
	if missing.Path != path {
		t.Errorf("MissingSidecarError.Path = %q, want %q (the path argument, not its .idx sidecar)", missing.Path, path)
	}
}

func TestLoadIndexArgValidation(t *testing.T) {
	if _, err := loadIndex(nil, IndexOptions{}); err != ErrMissingPathsArg {
		t.Errorf("nil paths error = %v, want ErrMissingPathsArg", err)
	}
	if _, err := loadIndex([]string{}, IndexOptions{}); err != ErrEmptyPaths {
		t.Errorf("empty paths error = %v, want ErrEmptyPaths", err)
	}
	if _, err := loadIndex([]string{""}, IndexOptions{}); err != ErrInvalidPathItem {
		t.Errorf("empty path item error = %v, want ErrInvalidPathItem", err)
	}
}

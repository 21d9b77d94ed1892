package nbs

// Timestamp is a monotone nanosecond count since an unspecified epoch.
//
// On disk inside a packet header, timestamps are stored in microseconds; in
// the index sidecar they are stored in nanoseconds. Timestamp itself is
// always nanoseconds — the asymmetry is handled at the Writer/Reader
// boundary (see writer.go), never inside this type.
type Timestamp uint64

// TimestampParts is the struct-shaped external representation of a
// timestamp: seconds and nanos combined as seconds*1e9 + nanos.
type TimestampParts struct {
	Seconds int64
	Nanos   int64
}

const nanosPerSecond = 1_000_000_000

// TimestampFromInt64 interprets ns as a signed nanosecond count.
func TimestampFromInt64(ns int64) (Timestamp, error) {
	if ns < 0 {
		return 0, ErrInvalidTimestamp
	}
	return Timestamp(ns), nil
}

// TimestampFromUint64 interprets ns as an unsigned nanosecond count.
func TimestampFromUint64(ns uint64) (Timestamp, error) {
	return Timestamp(ns), nil
}

// TimestampFromParts combines seconds and nanos as seconds*1e9 + nanos.
func TimestampFromParts(p TimestampParts) (Timestamp, error) {
	total := p.Seconds*nanosPerSecond + p.Nanos
	if total < 0 {
		return 0, ErrInvalidTimestamp
	}
	return Timestamp(total), nil
}

// TimestampFromValue normalizes any of the three external timestamp shapes
// (int64, uint64, TimestampParts) into a Timestamp; a Timestamp value is
// returned unchanged. It fails with ErrInvalidTimestamp for any other type.
func TimestampFromValue(v any) (Timestamp, error) {
	switch x := v.(type) {
	case int64:
		return TimestampFromInt64(x)
	case uint64:
		return TimestampFromUint64(x)
	case Timestamp:
		return x, nil
	case TimestampParts:
		return TimestampFromParts(x)
	default:
		return 0, ErrInvalidTimestamp
	}
}

// Parts converts t back to the struct form, with Nanos in [0, 1e9).
func (t Timestamp) Parts() TimestampParts {
	return TimestampParts{
		Seconds: int64(t) / nanosPerSecond,
		Nanos:   int64(t) % nanosPerSecond,
	}
}

// Micros truncates t to microseconds, as stored in the main file's packet
// header (§3, §6).
func (t Timestamp) Micros() uint64 {
	return uint64(t) / 1000
}

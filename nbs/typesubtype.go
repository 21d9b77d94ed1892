package nbs

// TypeSubtype is the composite key that identifies a message stream: a
// message type hash paired with a subtype discriminator. It has a total
// order: type first, then subtype.
type TypeSubtype struct {
	Type    Hash
	Subtype uint32
}

// Compare returns -1, 0, or 1 as k orders before, equal to, or after o.
func (k TypeSubtype) Compare(o TypeSubtype) int {
	if k.Type != o.Type {
		if k.Type < o.Type {
			return -1
		}
		return 1
	}
	switch {
	case k.Subtype < o.Subtype:
		return -1
	case k.Subtype > o.Subtype:
		return 1
	default:
		return 0
	}
}

// Less reports whether k orders strictly before o.
func (k TypeSubtype) Less(o TypeSubtype) bool {
	return k.Compare(o) < 0
}

package graphdoc

// Stamp orders concurrent writes: a lamport clock with the writing actor's id
// as a deterministic tiebreak. Two replicas comparing the same pair of stamps
// always agree on the winner.
type Stamp struct {
	Clock uint64 `json:"clock"`
	Actor string `json:"actor"`
}

// Newer reports whether s wins against other. Equal stamps are not newer,
// which makes replayed updates idempotent.
func (s Stamp) Newer(other Stamp) bool {
	if s.Clock != other.Clock {
		return s.Clock > other.Clock
	}
	return s.Actor > other.Actor
}

func (s Stamp) IsZero() bool {
	return s.Clock == 0 && s.Actor == ""
}

// register is a last-write-wins cell. set keeps the incoming value only when
// its stamp beats the current one.
type register[T any] struct {
	value T
	stamp Stamp
}

func (r *register[T]) set(value T, stamp Stamp) bool {
	if !stamp.Newer(r.stamp) {
		return false
	}
	r.value = value
	r.stamp = stamp
	return true
}

// Package random implements a deterministic linear-congruential engine.
// Every stochastic draw in the search core goes through an explicit State
// value, never an implicit global RNG, so the same seed and the same
// sequence of calls reproduce a bit-identical search trajectory.
package random

// State is the engine's full state. It is a plain value so SearchStates
// can carry, fork, and replay it without any shared mutable RNG.
type State uint64

const (
	multiplier uint64 = 6364136223846793005
	increment  uint64 = 1442695040888963407
)

// Normalize maps an arbitrary seed onto an engine state. A seed of 0 is
// remapped to 1; every other seed is used as is.
func Normalize(seed uint64) State {
	if seed == 0 {
		return State(1)
	}
	return State(seed)
}

func (s *State) next() uint64 {
	*s = State(uint64(*s)*multiplier + increment)
	return uint64(*s)
}

// SampleUniformInt draws a uniform integer in [lo, hiExcl).
func SampleUniformInt(lo, hiExcl int, s *State) int {
	if hiExcl <= lo {
		return lo
	}
	span := uint64(hiExcl - lo)
	return lo + int(s.next()%span)
}

// SampleUniformReal draws a uniform float64 in [0, 1).
func SampleUniformReal(s *State) float64 {
	// Use the top 53 bits, matching float64's mantissa width: the result is
	// a multiple of 2^-53, spread with uniform density over [0,1).
	return float64(s.next()>>11) / float64(uint64(1)<<53)
}

// Fork draws exactly one value from s to seed a new, independent state,
// so a child computation's draws never entangle with the parent's future
// draws.
func Fork(s *State) State {
	v := s.next()
	// Scramble the drawn value (splitmix64 finalizer) before seeding the
	// child: seeding with v itself would leave the child's state equal to
	// the parent's, so both would emit the same future draws.
	v ^= v >> 30
	v *= 0xbf58476d1ce4e5b9
	v ^= v >> 27
	v *= 0x94d049bb133111eb
	v ^= v >> 31
	return Normalize(v)
}

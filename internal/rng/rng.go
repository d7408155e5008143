// Package rng is the seeded pseudo-random source used wherever a run must be
// reproducible from its seed: message synthesis and confidence jitter.
package rng

const (
	fnvOffset uint32 = 2166136261
	fnvPrime  uint32 = 16777619
)

// HashSeed folds a seed string into a non-zero 32-bit state with FNV-1a.
func HashSeed(seed string) uint32 {
	h := fnvOffset
	for i := 0; i < len(seed); i++ {
		h ^= uint32(seed[i])
		h *= fnvPrime
	}
	if h == 0 {
		// xorshift never leaves the zero state.
		return 1
	}
	return h
}

// Rand is an xorshift32 generator. It is not safe for concurrent use.
type Rand struct {
	state uint32
}

// New returns a generator seeded from seed.
func New(seed string) *Rand {
	return &Rand{state: HashSeed(seed)}
}

// Float64 returns the next value in [0, 1).
func (r *Rand) Float64() float64 {
	x := r.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.state = x
	return float64(x) / 4294967296
}

// Intn returns floor(Float64()*n). It returns 0 when n <= 0.
func (r *Rand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.Float64() * float64(n))
}

// Make returns the closure form of New(seed).Float64.
func Make(seed string) func() float64 {
	r := New(seed)
	return r.Float64
}

// Pick returns a pseudo-random element of list. list must not be empty.
func Pick[T any](r *Rand, list []T) T {
	return list[r.Intn(len(list))]
}

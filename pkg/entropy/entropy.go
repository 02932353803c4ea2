// Package entropy provides the best-effort synthetic entropy source feeding
// the quantum decision engine. True quantum randomness is out of reach; this
// mixes independent classical sources (OS entropy, timing jitter, allocator
// state) the way the original firmware mixed ADC noise and signal strength.
package entropy

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"
)

// Source produces uniform and Gaussian samples from a mixed-entropy seed.
// Reseed folds fresh entropy into the generator; the engine reseeds before
// every collapse so consecutive measurements never share a stream position
// deterministically.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource creates a Source seeded from the mixed entropy pool.
func NewSource() *Source {
	return &Source{rng: rand.New(rand.NewSource(mixSeed()))}
}

// mixSeed XOR-combines independent entropy sources into one 64-bit seed.
func mixSeed() int64 {
	var buf [8]byte
	var osEntropy uint64
	if _, err := cryptorand.Read(buf[:]); err == nil {
		osEntropy = binary.LittleEndian.Uint64(buf[:])
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	mixed := osEntropy
	mixed ^= uint64(time.Now().UnixNano())
	mixed ^= ms.TotalAlloc * 0x9e3779b97f4a7c15
	mixed ^= uint64(ms.Mallocs) << 32
	return int64(mixed)
}

// Reseed folds fresh entropy into the generator.
func (s *Source) Reseed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Seed(mixSeed() ^ s.rng.Int63())
}

// Uniform returns a sample in [0, 1).
func (s *Source) Uniform() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Gauss returns a zero-mean Gaussian sample with the given standard
// deviation.
func (s *Source) Gauss(sigma float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.NormFloat64() * sigma
}

// Phase returns a random phase angle in [0, 2π).
func (s *Source) Phase() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() * 2 * math.Pi
}

// FreeMemory reports the runtime's current free heap estimate in bytes.
// It doubles as the resource-exhaustion probe for the control loop: the
// figure is synthetic (heap headroom, not physical RAM) but monotone enough
// for threshold checks.
func FreeMemory() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys < ms.HeapAlloc {
		return 0
	}
	return ms.HeapSys - ms.HeapAlloc
}

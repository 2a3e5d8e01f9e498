// Package seq provides deterministic, seeded random draw streams for
// stimulus sequence generation. Every randomised decision in a task
// (inter-stimulus intervals, no-go placement, congruency assignment, symbol
// permutations) is drawn from a Stream so that the same session seed and task
// identity always reproduce the identical sequence, across process restarts
// and across implementations.
package seq

import (
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// Stream is a deterministic pseudo-random draw stream keyed by a session seed
// and a task identity. Internally it is SHA-256 in counter mode: the key is
// SHA-256("seed:" + seed + ":" + taskID), and each 32-byte block is
// SHA-256(key || counter), consumed eight bytes at a time. Distinct task
// identities under one seed therefore yield statistically independent streams
// while each remains individually reproducible.
type Stream struct {
	key     [sha256.Size]byte
	counter uint64
	block   [sha256.Size]byte
	offset  int
}

// New creates a Stream for the given session seed and task identity.
func New(seed, taskID string) *Stream {
	s := &Stream{
		key: sha256.Sum256([]byte("seed:" + seed + ":" + taskID)),
	}
	s.offset = len(s.block) // force a block refill on first draw
	return s
}

// next64 returns the next eight bytes of the stream as a uint64.
func (s *Stream) next64() uint64 {
	if s.offset >= len(s.block) {
		var buf [sha256.Size + 8]byte
		copy(buf[:], s.key[:])
		binary.BigEndian.PutUint64(buf[sha256.Size:], s.counter)
		s.block = sha256.Sum256(buf[:])
		s.counter++
		s.offset = 0
	}
	v := binary.BigEndian.Uint64(s.block[s.offset : s.offset+8])
	s.offset += 8
	return v
}

// Float64 returns the next draw as a float64 in [0, 1).
// Uses the top 53 bits so every representable value is equally likely.
func (s *Stream) Float64() float64 {
	return float64(s.next64()>>11) / (1 << 53)
}

// IntN returns a draw in [0, n). Panics if n <= 0.
func (s *Stream) IntN(n int) int {
	if n <= 0 {
		panic("seq: IntN called with n <= 0")
	}
	return int(s.Float64() * float64(n))
}

// Bernoulli returns true with probability p.
func (s *Stream) Bernoulli(p float64) bool {
	return s.Float64() < p
}

// DurationBetween returns a draw linearly scaled into [min, max].
func (s *Stream) DurationBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.Float64()*float64(max-min))
}

// MillisBetween returns a millisecond count linearly scaled into [min, max].
func (s *Stream) MillisBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + int(s.Float64()*float64(max-min))
}

// Perm returns a seeded permutation of [0, n) via Fisher-Yates.
func (s *Stream) Perm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := s.IntN(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}

// Shuffle applies a seeded Fisher-Yates shuffle to a string slice in place.
func (s *Stream) Shuffle(items []string) {
	for i := len(items) - 1; i > 0; i-- {
		j := s.IntN(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

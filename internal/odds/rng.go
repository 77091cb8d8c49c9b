package odds

import (
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/rand/v2"
)

// RandomSource yields uniform variates in [0, 1). It is the only randomness
// the engine consumes, so every financial outcome can be reproduced by
// substituting a deterministic source.
type RandomSource interface {
	Float64() float64
}

// cryptoSource draws 53 bits from crypto/rand per variate. Falls back to
// math/rand/v2 if the kernel source fails, which on any supported platform
// it does not.
type cryptoSource struct{}

func (cryptoSource) Float64() float64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return rand.Float64()
	}
	u := binary.BigEndian.Uint64(buf[:]) >> 11 // 53 bits
	return float64(u) / (1 << 53)
}

// CryptoSource returns the production randomness source.
func CryptoSource() RandomSource {
	return cryptoSource{}
}

// seededSource is a reproducible PCG source for statistical tests.
type seededSource struct {
	r *rand.Rand
}

// SeededSource returns a deterministic source for a fixed seed.
func SeededSource(seed uint64) RandomSource {
	return &seededSource{r: rand.New(rand.NewPCG(seed, 0))}
}

func (s *seededSource) Float64() float64 {
	return s.r.Float64()
}

// seedSource derives variates from a SHA-256 hash chain over a round seed.
// Given the revealed seed, anyone can recompute every variate the round
// consumed, which is what makes the commit-reveal scheme verifiable.
type seedSource struct {
	seed    []byte
	counter uint64
}

// SeedSource returns a deterministic source bound to a round seed.
func SeedSource(seed []byte) RandomSource {
	return &seedSource{seed: append([]byte(nil), seed...)}
}

func (s *seedSource) Float64() float64 {
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], s.counter)
	s.counter++

	h := sha256.New()
	h.Write(s.seed)
	h.Write(ctr[:])
	sum := h.Sum(nil)

	u := binary.BigEndian.Uint64(sum[:8]) >> 11
	return float64(u) / (1 << 53)
}

// NewRoundSeed generates a fresh 32-byte round seed and the SHA-256
// commitment published to clients before the round starts. The seed itself
// stays server-side until the round has crashed.
func NewRoundSeed() (seed []byte, commitment string, err error) {
	seed = make([]byte, 32)
	if _, err = cryptorand.Read(seed); err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(seed)
	return seed, hex.EncodeToString(sum[:]), nil
}

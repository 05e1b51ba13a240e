// Package xrand provides the RandFunc hook used for client masking keys
// and handshake nonces, defaulting to a deterministic PRNG in tests.
package xrand

import (
	cryptorand "crypto/rand"
	mathrand "math/rand/v2"
)

// Crypto returns a RandFunc backed by crypto/rand, suitable for production
// client masking keys and Sec-WebSocket-Key generation.
func Crypto() func(b []byte) {
	return func(b []byte) {
		if _, err := cryptorand.Read(b); err != nil {
			// crypto/rand.Read only fails if the OS entropy source is
			// broken, a condition no caller can recover from; fall back to
			// a seeded PRNG so masking still proceeds rather than panicking
			// mid-connection.
			Deterministic(1)(b)
		}
	}
}

// Deterministic returns a RandFunc backed by a seeded, non-cryptographic
// PRNG. Two calls with the same seed produce identical byte streams —
// used by tests that assert on exact wire bytes, such as a masked-frame
// round trip.
func Deterministic(seed uint64) func(b []byte) {
	r := mathrand.New(mathrand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	return func(b []byte) {
		for i := range b {
			b[i] = byte(r.IntN(256))
		}
	}
}

// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package probe

import (
	"math/rand"
)

// patternSource generates the deterministic test patterns. All
// randomness in the capability test flows from its seed, which is what
// makes repeated runs on identical hardware score identically.
type patternSource struct {
	rnd *rand.Rand
}

func newPatternSource(seed int64) *patternSource {
	return &patternSource{rnd: rand.New(rand.NewSource(seed))}
}

// alternating fills n bytes with b and its complement.
func (p *patternSource) alternating(b byte, n int) []byte {
	out := make([]byte, n)

	for i := range out {
		if i%2 == 0 {
			out[i] = b
		} else {
			out[i] = ^b
		}
	}

	return out
}

// walkingOnes shifts a single set bit through every position.
func (p *patternSource) walkingOnes(n int) []byte {
	out := make([]byte, n)

	for i := range out {
		out[i] = 1 << (i % 8)
	}

	return out
}

// addressPattern derives each byte from its own address, which makes
// transfers that land at the wrong place detectable.
func (p *patternSource) addressPattern(base uint32, n int) []byte {
	out := make([]byte, n)

	for i := range out {
		a := base + uint32(i)
		out[i] = byte(a) ^ byte(a>>8)
	}

	return out
}

// random draws n pseudo-random bytes from the seeded source.
func (p *patternSource) random(n int) []byte {
	out := make([]byte, n)
	p.rnd.Read(out)

	return out
}

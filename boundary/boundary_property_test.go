// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boundary

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"packetdriver.org/dmasafe/nic"
)

// Every descriptor the guard passes through or redirects must be safe:
// inside the bus limit and inside a single wrap window. Rejections are
// allowed, silent unsafe acceptance is not.
func TestProperty_PreparedTransfersAreSafe(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(1994)
	properties := gopter.NewProperties(parameters)

	sim := nic.NewSim(nic.SimConfig{})

	pool, err := NewPool(0x100000, MaxPoolBuffers, DefaultBufferSize)
	require.NoError(t, err)

	g, err := NewGuard(isaFacts(), sim, pool)
	require.NoError(t, err)

	properties.Property("prepared descriptor never straddles wrap or limit", prop.ForAll(
		func(addr int, length int) bool {
			d := Descriptor{Addr: uint32(addr), Len: uint32(length), Dir: nic.ToDevice}

			safe, bounce, err := g.Prepare(d)
			if err != nil {
				return true
			}
			if bounce != nil {
				defer bounce.Cancel()
			}

			if g.crossesWrap(safe) || g.exceedsLimit(safe) {
				t.Logf("unsafe descriptor passed: %08x+%d", safe.Addr, safe.Len)
				return false
			}

			// A redirect must only happen when the original was unsafe.
			if bounce != nil && !g.crossesWrap(d) && !g.exceedsLimit(d) {
				t.Logf("safe descriptor bounced: %08x+%d", d.Addr, d.Len)
				return false
			}

			return true
		},
		gen.IntRange(0, 0x01FF_FFFF),
		gen.IntRange(1, DefaultBufferSize),
	))

	properties.TestingRun(t)
}

// Wrap detection is exact: straddling by a single byte triggers, and
// a transfer that ends on the last byte of a window does not.
func TestProperty_WrapStraddleIsExact(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(509)
	properties := gopter.NewProperties(parameters)

	sim := nic.NewSim(nic.SimConfig{})

	pool, err := NewPool(0x100000, DefaultPoolBuffers, DefaultBufferSize)
	require.NoError(t, err)

	facts := isaFacts()
	g, err := NewGuard(facts, sim, pool)
	require.NoError(t, err)

	wrap := facts.SegmentWrapSize

	properties.Property("one past the boundary straddles, one short does not", prop.ForAll(
		func(window int, length int) bool {
			boundary := uint32(window) * wrap
			n := uint32(length)

			// Ends exactly on the window's last byte.
			flush := Descriptor{Addr: boundary - n, Len: n}
			if g.crossesWrap(flush) {
				t.Logf("false positive at %08x+%d", flush.Addr, flush.Len)
				return false
			}

			// Shifted up one byte, the last byte lands in the next window.
			straddle := Descriptor{Addr: boundary - n + 1, Len: n}
			if !g.crossesWrap(straddle) {
				t.Logf("missed straddle at %08x+%d", straddle.Addr, straddle.Len)
				return false
			}

			return true
		},
		gen.IntRange(1, 255),
		gen.IntRange(1, DefaultBufferSize),
	))

	properties.TestingRun(t)
}

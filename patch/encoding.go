// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patch

import (
	"packetdriver.org/dmasafe/coherency"
)

// SiteLen is the size of every patch window. Hot-path sites reserve
// exactly this many bytes at build time; encodings shorter than the
// window are padded with NOPs.
const SiteLen = 8

// The canonical hot-path sites. Declared at build time, registered at
// init, write-once per boot unless a rollback forces re-selection.
const (
	SiteTxPrepare  = "tx.prepare"
	SiteTxComplete = "tx.complete"
	SiteRxPrepare  = "rx.prepare"
	SiteRxComplete = "rx.complete"
	SiteDispatch   = "dispatch.barrier"
)

// Instruction sequences the windows are patched with.
var (
	// nop is the neutral filler; a window full of them does nothing.
	nop = []byte{0x90}
	// clflushSeq evicts the line addressed by SI.
	clflushSeq = []byte{0x0F, 0xAE, 0x3C}
	// wbinvdSeq writes back and invalidates the whole cache.
	wbinvdSeq = []byte{0x0F, 0x09}
	// barrierCallSeq is a near call into the software barrier stub.
	barrierCallSeq = []byte{0xE8, 0x00, 0x00}
	// delaySeq is four jmp-short-$+2 pairs, the classic bus settle.
	delaySeq = []byte{0xEB, 0x00, 0xEB, 0x00, 0xEB, 0x00, 0xEB, 0x00}
)

func pad(seq []byte) [SiteLen]byte {
	var out [SiteLen]byte

	n := copy(out[:], seq)
	for i := n; i < SiteLen; i++ {
		out[i] = nop[0]
	}

	return out
}

// Encoding returns the canonical byte sequence for the given tier at
// the given site. Sites a tier needs nothing at get the NOP filler.
func Encoding(tier coherency.Tier, site string) [SiteLen]byte {
	switch tier {
	case coherency.TierLineFlush:
		switch site {
		case SiteTxPrepare, SiteRxPrepare, SiteRxComplete:
			return pad(clflushSeq)
		}

	case coherency.TierWholeCache:
		switch site {
		case SiteTxPrepare, SiteRxPrepare, SiteRxComplete:
			return pad(wbinvdSeq)
		}

	case coherency.TierSoftwareBarrier:
		switch site {
		case SiteTxPrepare, SiteRxPrepare, SiteRxComplete, SiteDispatch:
			return pad(barrierCallSeq)
		}

	case coherency.TierConservativeDelay:
		return pad(delaySeq)
	}

	return pad(nil)
}

// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nic

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCachelessMachineIsCoherent(t *testing.T) {
	sim := NewSim(SimConfig{CacheEnabled: false})

	sim.Write(0x1000, []byte{0xAA, 0x55})
	require.NoError(t, sim.SetLoopback(true))
	require.NoError(t, sim.Transmit(0x1000, 2))

	require.Equal(t, []byte{0xAA, 0x55}, sim.LastTransmitted())
}

func TestDirtyLinesInvisibleToDevice(t *testing.T) {
	sim := NewSim(SimConfig{CacheEnabled: true})

	sim.Write(0x1000, []byte{0xAA, 0x55})
	require.NoError(t, sim.Transmit(0x1000, 2))

	// Without a flush the device reads stale RAM.
	require.Equal(t, []byte{0x00, 0x00}, sim.LastTransmitted())

	sim.FlushLines(0x1000, 2)
	require.NoError(t, sim.Transmit(0x1000, 2))
	require.Equal(t, []byte{0xAA, 0x55}, sim.LastTransmitted())
}

func TestDeviceWriteLeavesStaleCleanLines(t *testing.T) {
	sim := NewSim(SimConfig{CacheEnabled: true})

	// CPU caches the line first.
	_ = sim.Read(0x2000, 4)

	sim.InjectFrame([]byte{1, 2, 3, 4})
	n, err := sim.Receive(0x2000, 4)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	// Stale read until the line is invalidated.
	require.Equal(t, []byte{0, 0, 0, 0}, sim.Read(0x2000, 4))

	sim.FlushLines(0x2000, 4)
	require.Equal(t, []byte{1, 2, 3, 4}, sim.Read(0x2000, 4))
}

func TestBarrierWorksDespiteBrokenFlush(t *testing.T) {
	sim := NewSim(SimConfig{
		CacheEnabled: true,
		Faults:       Faults{BrokenLineFlush: true, BrokenFullFlush: true},
	})

	sim.Write(0x3000, []byte{0xFE})

	sim.FlushLines(0x3000, 1)
	require.Equal(t, []byte{0x00}, sim.DeviceView(0x3000, 1))

	sim.Barrier()
	require.Equal(t, []byte{0xFE}, sim.DeviceView(0x3000, 1))
}

func TestLoopbackRoundTrip(t *testing.T) {
	sim := NewSim(SimConfig{CacheEnabled: false})

	payload := []byte("the quick brown fox")
	sim.Write(0x4000, payload)

	require.NoError(t, sim.SetLoopback(true))
	require.NoError(t, sim.Transmit(0x4000, len(payload)))

	n, err := sim.Receive(0x8000, 64)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.True(t, bytes.Equal(payload, sim.Read(0x8000, n)))
}

func TestFaultInjection(t *testing.T) {
	t.Run("no dma engine", func(t *testing.T) {
		sim := NewSim(SimConfig{Faults: Faults{NoDmaEngine: true}})
		require.ErrorIs(t, sim.ProbeDmaEngine(), ErrNoDmaEngine)
		require.ErrorIs(t, sim.Transmit(0, 1), ErrNoDmaEngine)
	})

	t.Run("hang after n transfers", func(t *testing.T) {
		sim := NewSim(SimConfig{Faults: Faults{HangAfter: 3}})
		require.NoError(t, sim.Transmit(0, 1))
		require.NoError(t, sim.Transmit(0, 1))
		require.ErrorIs(t, sim.Transmit(0, 1), ErrEngineHang)
	})

	t.Run("out of range transfer", func(t *testing.T) {
		sim := NewSim(SimConfig{MemSize: 1 << 16})
		err := sim.Transmit(1<<16, 1)
		require.True(t, errors.Is(err, ErrBadTransfer))
	})

	t.Run("corrupt every other frame", func(t *testing.T) {
		sim := NewSim(SimConfig{Faults: Faults{CorruptEvery: 2}})
		sim.Write(0x100, []byte{0x00, 0x00, 0x00, 0x00})

		require.NoError(t, sim.Transmit(0x100, 4)) // 1st ok
		require.Equal(t, []byte{0, 0, 0, 0}, sim.LastTransmitted())

		require.NoError(t, sim.Transmit(0x100, 4)) // 2nd corrupted
		require.NotEqual(t, []byte{0, 0, 0, 0}, sim.LastTransmitted())
	})
}

func TestResetEnginesDropsPendingFrames(t *testing.T) {
	sim := NewSim(SimConfig{})
	sim.InjectFrame([]byte{1})

	require.NoError(t, sim.ResetEngines())

	_, err := sim.Receive(0, 16)
	require.ErrorIs(t, err, ErrNoRxPending)
}

func TestDeterministicLatency(t *testing.T) {
	runOnce := func() []int64 {
		sim := NewSim(SimConfig{Seed: 42, Faults: Faults{JitterPct: 20}})
		var out []int64
		for i := 0; i < 8; i++ {
			require.NoError(t, sim.Transmit(0, 256))
			out = append(out, int64(sim.LastBurstLatency()))
		}
		return out
	}

	require.Equal(t, runOnce(), runOnce())
}

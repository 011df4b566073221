// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"packetdriver.org/dmasafe/boundary"
	"packetdriver.org/dmasafe/probe"
)

func TestNewOptsDefaults(t *testing.T) {
	o, err := NewOpts()
	require.NoError(t, err)

	require.Equal(t, OptsVersion, o.Version)
	require.Equal(t, "info", o.LogLevel)
	require.Equal(t, probe.ModeUnset, o.Mode)
	require.Equal(t, probe.DefaultPolicy(), o.Policy)
	require.Equal(t, DefaultSlotPath, o.SlotPath)

	require.NoError(t, DriverValidation().Validate(o))
}

func TestOptsJSONOverridesDefaults(t *testing.T) {
	src := strings.NewReader(`{
		"log_level": "debug",
		"mode": "quick",
		"pool_buffers": 16,
		"slot_path": "/tmp/slot.json"
	}`)

	o, err := NewOpts(OptsJSON{Src: src})
	require.NoError(t, err)

	require.Equal(t, "debug", o.LogLevel)
	require.Equal(t, probe.ModeQuick, o.Mode)
	require.Equal(t, 16, o.PoolBuffers)
	require.Equal(t, "/tmp/slot.json", o.SlotPath)

	// Untouched fields keep their defaults.
	require.Equal(t, probe.DefaultPolicy(), o.Policy)
	require.Equal(t, uint32(boundary.DefaultBufferSize), o.PoolBufferSize)

	require.NoError(t, DriverValidation().Validate(o))
}

func TestOptsJSONRejectsBadSource(t *testing.T) {
	_, err := NewOpts(OptsJSON{})
	require.Error(t, err)

	_, err = NewOpts(OptsJSON{Src: strings.NewReader(`{"mode": 42`)})
	require.Error(t, err)

	_, err = NewOpts(OptsJSON{Src: strings.NewReader(`{"no_such_option": 1}`)})
	require.ErrorIs(t, err, ErrUnknownJSONKey)

	_, err = NewOpts(OptsFile{Path: "testdata/does-not-exist.json"})
	require.Error(t, err)
}

func TestDriverValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Opts)
		wantErr error
	}{
		{
			name:   "defaults are valid",
			mutate: func(o *Opts) {},
		},
		{
			name:    "bad log level",
			mutate:  func(o *Opts) { o.LogLevel = "verbose" },
			wantErr: ErrUnknownLogLevel,
		},
		{
			name:    "zero pool",
			mutate:  func(o *Opts) { o.PoolBuffers = 0 },
			wantErr: ErrPoolBuffers,
		},
		{
			name:    "oversized pool",
			mutate:  func(o *Opts) { o.PoolBuffers = boundary.MaxPoolBuffers + 1 },
			wantErr: ErrPoolBuffers,
		},
		{
			name:    "bounce buffer too small for a frame",
			mutate:  func(o *Opts) { o.PoolBufferSize = 512 },
			wantErr: ErrPoolBufferSize,
		},
		{
			name:    "missing slot path",
			mutate:  func(o *Opts) { o.SlotPath = "" },
			wantErr: ErrMissingSlotPath,
		},
		{
			name:    "unordered policy thresholds",
			mutate:  func(o *Opts) { o.Policy.HighThreshold = 100 },
			wantErr: probe.ErrPolicyThresholds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewOpts()
			require.NoError(t, err)
			tt.mutate(o)

			err = DriverValidation().Validate(o)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package opts collects the driver's tunables from its sources and
// validates them before the pipeline starts.
package opts

import (
	"packetdriver.org/dmasafe/boundary"
	"packetdriver.org/dmasafe/monitor"
	"packetdriver.org/dmasafe/probe"
)

// OptsVersion is the version of Opts. It can be used for validation.
const OptsVersion int = 1

// InvalidError reports invalid data of Opts.
type InvalidError string

// Error implements error interface.
func (e InvalidError) Error() string {
	return string(e)
}

// Loader wraps the Load function.
// Load fills particular fields of Opts depending on its source.
type Loader interface {
	Load(*Opts) error
}

// Opts controls the operation of the driver.
type Opts struct {
	Version  int    `json:"version"`
	LogLevel string `json:"log_level"`
	// Mode picks the probe depth; unset means choose by CPU family.
	Mode   probe.Mode   `json:"mode"`
	Policy probe.Policy `json:"policy"`
	// Thresholds tune the runtime monitor's trip points.
	Thresholds monitor.Thresholds `json:"thresholds"`
	// Bounce pool geometry.
	PoolBase       uint32 `json:"pool_base"`
	PoolBuffers    int    `json:"pool_buffers"`
	PoolBufferSize uint32 `json:"pool_buffer_size"`
	// SlotPath is where the qualified state survives reboots.
	SlotPath string `json:"slot_path"`
	// Reprobe discards any persisted state at setup.
	Reprobe bool `json:"reprobe"`
}

// DefaultSlotPath is used when no slot path is configured.
const DefaultSlotPath = "/var/lib/dmasafe/state.json"

// DefaultPoolBase is the stock bounce region, in low memory well
// under the 24-bit ISA limit and aligned to a 64KB window.
const DefaultPoolBase uint32 = 0x00090000

func defaults() Opts {
	return Opts{
		Version:        OptsVersion,
		LogLevel:       "info",
		Policy:         probe.DefaultPolicy(),
		Thresholds:     monitor.DefaultThresholds(),
		PoolBase:       DefaultPoolBase,
		PoolBuffers:    boundary.DefaultPoolBuffers,
		PoolBufferSize: boundary.DefaultBufferSize,
		SlotPath:       DefaultSlotPath,
	}
}

// NewOpts returns an Opts initialized with defaults and refined by
// the provided Loaders, in order.
func NewOpts(loaders ...Loader) (*Opts, error) {
	opts := defaults()
	for _, l := range loaders {
		if err := l.Load(&opts); err != nil {
			return nil, err
		}
	}

	return &opts, nil
}

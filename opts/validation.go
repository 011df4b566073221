// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opts

import (
	"packetdriver.org/dmasafe/boundary"
)

var (
	ErrUnknownLogLevel = InvalidError("unknown log level")
	ErrPoolBuffers     = InvalidError("bounce pool buffer count out of range")
	ErrPoolBufferSize  = InvalidError("bounce buffers must hold a full ethernet frame")
	ErrMissingSlotPath = InvalidError("state slot path must be set")
)

// maxFrameSize is an ethernet frame plus FCS, the largest transfer a
// bounce buffer must absorb whole.
const maxFrameSize = 1518

// Validater is the interface that wraps the Validate method.
//
// Validate takes Opts and performs validation on it. If Opts is not
// valid an error is returned.
type Validater interface {
	Validate(*Opts) error
}

type validFunc func(*Opts) error

// ValidationSet is a collection of validation functions.
type ValidationSet []validFunc

// Validate implements Validater.
func (v *ValidationSet) Validate(opts *Opts) error {
	for _, f := range *v {
		if err := f(opts); err != nil {
			return err
		}
	}

	return nil
}

// DriverValidation is a Validater for the whole option set.
func DriverValidation() *ValidationSet {
	return &ValidationSet{
		checkLogLevel,
		checkPolicy,
		checkThresholds,
		checkPool,
		checkSlotPath,
	}
}

func checkLogLevel(opts *Opts) error {
	switch opts.LogLevel {
	case "error", "warn", "info", "debug":
		return nil
	}

	return ErrUnknownLogLevel
}

func checkPolicy(opts *Opts) error {
	return opts.Policy.Validate()
}

func checkThresholds(opts *Opts) error {
	return opts.Thresholds.Validate()
}

func checkPool(opts *Opts) error {
	if opts.PoolBuffers < 1 || opts.PoolBuffers > boundary.MaxPoolBuffers {
		return ErrPoolBuffers
	}

	if opts.PoolBufferSize < maxFrameSize {
		return ErrPoolBufferSize
	}

	return nil
}

func checkSlotPath(opts *Opts) error {
	if opts.SlotPath == "" {
		return ErrMissingSlotPath
	}

	return nil
}

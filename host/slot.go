// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"os"
	"path/filepath"

	"packetdriver.org/dmasafe/dserror"
	"packetdriver.org/dmasafe/dslog"
)

// Slot stores one sealed state blob. Implementations live outside the
// interrupt path; all methods run in setup context.
type Slot interface {
	// Load returns the stored state, validated for the given
	// hardware fingerprint. ErrNoState when the slot is empty.
	Load(fingerprint uint32) (State, error)
	// Save seals and stores the state.
	Save(s State, fingerprint uint32) error
	// Invalidate empties the slot. Idempotent.
	Invalidate() error
}

const slotFilePerm = 0o600

// FileSlot stores the sealed state in a single file.
type FileSlot struct {
	Path string
}

var _ Slot = (*FileSlot)(nil)

// Load implements Slot.
func (f *FileSlot) Load(fingerprint uint32) (State, error) {
	const op = dserror.Op("FileSlot.Load")

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return State{}, dserror.E(op, dserror.Host, ErrNoState)
	}
	if err != nil {
		return State{}, dserror.E(op, dserror.Host, err)
	}

	state, err := Open(data, fingerprint)
	if err != nil {
		// A slot that fails validation is stale. Drop it so the next
		// boot does not trip over it again.
		dslog.Warn("host: discarding state slot %s: %v", f.Path, err)

		if rmErr := f.Invalidate(); rmErr != nil {
			dslog.Error("host: invalidating state slot: %v", rmErr)
		}

		return State{}, err
	}

	return state, nil
}

// Save implements Slot. The write goes through a temporary file and a
// rename so a crash mid-write cannot leave a torn slot behind.
func (f *FileSlot) Save(s State, fingerprint uint32) error {
	const op = dserror.Op("FileSlot.Save")

	data, err := Seal(s, fingerprint)
	if err != nil {
		return err
	}

	tmp := f.Path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return dserror.E(op, dserror.Host, err)
	}
	if err := os.WriteFile(tmp, data, slotFilePerm); err != nil {
		return dserror.E(op, dserror.Host, err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return dserror.E(op, dserror.Host, err)
	}

	dslog.Debug("host: state slot %s updated, tier %s", f.Path, s.Tier)

	return nil
}

// Invalidate implements Slot.
func (f *FileSlot) Invalidate() error {
	const op = dserror.Op("FileSlot.Invalidate")

	err := os.Remove(f.Path)
	if err != nil && !os.IsNotExist(err) {
		return dserror.E(op, dserror.Host, err)
	}

	return nil
}

// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hwinfo holds the read-only hardware facts the DMA safety core
// consumes. CpuProfile and ChipsetFacts are produced once by an external
// detection module and never modified afterwards.
package hwinfo

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"reflect"

	"packetdriver.org/dmasafe/internal/jsonutil"
)

var (
	ErrMissingCpuFamily  = errors.New("CPU family must be set")
	ErrMissingBusType    = errors.New("bus type must be set")
	ErrMissingAddrLimit  = errors.New("DMA address limit must be set")
	ErrMissingWrapSize   = errors.New("segment wrap size must be set")
	ErrBadCacheLineSize  = errors.New("cache line size must be a power of two when line flush is available")
	ErrUnknownCpuFamily  = errors.New("unknown CPU family")
	ErrUnknownCacheLevel = errors.New("unknown cache capability")
	ErrUnknownBusType    = errors.New("unknown bus type")
)

// CpuFamily is the x86 generation reported by CPU detection.
type CpuFamily int

const (
	FamilyUnset CpuFamily = iota
	Family8086
	Family286
	Family386
	Family486
	FamilyPentium
)

// String implements fmt.Stringer.
func (f CpuFamily) String() string {
	return [...]string{"unset", "8086", "80286", "80386", "80486", "pentium"}[f]
}

// MarshalJSON implements json.Marshaler.
func (f CpuFamily) MarshalJSON() ([]byte, error) {
	if f != FamilyUnset {
		return json.Marshal(f.String())
	}

	return []byte(jsonutil.Null), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *CpuFamily) UnmarshalJSON(data []byte) error {
	if string(data) == jsonutil.Null {
		*f = FamilyUnset
	} else {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}

		toID := map[string]CpuFamily{
			"8086":    Family8086,
			"80286":   Family286,
			"80386":   Family386,
			"80486":   Family486,
			"pentium": FamilyPentium,
		}
		family, ok := toID[str]
		if !ok {
			return &json.UnmarshalTypeError{
				Value: fmt.Sprintf("string %q", str),
				Type:  reflect.TypeOf(f),
			}
		}
		*f = family
	}

	return nil
}

// CacheCapability describes the cache maintenance facility the CPU offers.
type CacheCapability int

const (
	CacheUnset CacheCapability = iota
	// CacheNone means the CPU has no cache or no way to flush it.
	CacheNone
	// CacheWholeFlush is a whole-cache flush facility (WBINVD class).
	CacheWholeFlush
	// CacheLineFlush is a fine-grained per-line flush (CLFLUSH class).
	CacheLineFlush
)

// String implements fmt.Stringer.
func (c CacheCapability) String() string {
	return [...]string{"unset", "none", "whole-cache-flush", "line-flush"}[c]
}

// MarshalJSON implements json.Marshaler.
func (c CacheCapability) MarshalJSON() ([]byte, error) {
	if c != CacheUnset {
		return json.Marshal(c.String())
	}

	return []byte(jsonutil.Null), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CacheCapability) UnmarshalJSON(data []byte) error {
	if string(data) == jsonutil.Null {
		*c = CacheUnset
	} else {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}

		toID := map[string]CacheCapability{
			"none":              CacheNone,
			"whole-cache-flush": CacheWholeFlush,
			"line-flush":        CacheLineFlush,
		}
		capability, ok := toID[str]
		if !ok {
			return &json.UnmarshalTypeError{
				Value: fmt.Sprintf("string %q", str),
				Type:  reflect.TypeOf(c),
			}
		}
		*c = capability
	}

	return nil
}

// BusType is the expansion bus the NIC sits on.
type BusType int

const (
	BusUnset BusType = iota
	BusISA
	BusEISA
	BusVLB
	BusPCI
)

// String implements fmt.Stringer.
func (b BusType) String() string {
	return [...]string{"unset", "isa", "eisa", "vlb", "pci"}[b]
}

// MarshalJSON implements json.Marshaler.
func (b BusType) MarshalJSON() ([]byte, error) {
	if b != BusUnset {
		return json.Marshal(b.String())
	}

	return []byte(jsonutil.Null), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *BusType) UnmarshalJSON(data []byte) error {
	if string(data) == jsonutil.Null {
		*b = BusUnset
	} else {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}

		toID := map[string]BusType{
			"isa":  BusISA,
			"eisa": BusEISA,
			"vlb":  BusVLB,
			"pci":  BusPCI,
		}
		bus, ok := toID[str]
		if !ok {
			return &json.UnmarshalTypeError{
				Value: fmt.Sprintf("string %q", str),
				Type:  reflect.TypeOf(b),
			}
		}
		*b = bus
	}

	return nil
}

// CpuProfile is an immutable snapshot of the CPU facts relevant to DMA
// safety decisions.
type CpuProfile struct {
	Family CpuFamily `json:"family"`
	Cache  CacheCapability `json:"cache_capability"`
	// CacheLineSize is in bytes. Only meaningful with CacheLineFlush.
	CacheLineSize int `json:"cache_line_size"`
	// RemapManagerActive reports an address-remapping memory manager
	// (EMM386/QEMM class). Remapped pages break the identity between
	// virtual and bus addresses DMA relies on.
	RemapManagerActive bool `json:"remap_manager_active"`
}

// Validate reports whether the profile is complete enough to drive the
// capability test and tier selection.
func (p *CpuProfile) Validate() error {
	if p.Family == FamilyUnset {
		return ErrMissingCpuFamily
	}

	if p.Cache == CacheLineFlush {
		if p.CacheLineSize <= 0 || p.CacheLineSize&(p.CacheLineSize-1) != 0 {
			return ErrBadCacheLineSize
		}
	}

	return nil
}

// QuickTestCapable reports whether the CPU class is fast enough for the
// abbreviated capability test. Slower parts get the exhaustive run.
func (p *CpuProfile) QuickTestCapable() bool {
	return p.Family >= Family486
}

// ChipsetFacts are the bus facts the boundary guard and the capability
// test parameterize on.
type ChipsetFacts struct {
	Bus BusType `json:"bus"`
	// DmaAddressLimit is the highest physical address the bus master can
	// reach, e.g. 0x00FFFFFF for 24-bit ISA masters.
	DmaAddressLimit uint32 `json:"dma_address_limit"`
	// SegmentWrapSize is the hardware segment-wrap granularity a single
	// transfer must not straddle, 64KB on ISA DMA.
	SegmentWrapSize uint32 `json:"segment_wrap_size"`
	// BusMasterCapable reports first-party DMA support on the bus.
	BusMasterCapable bool `json:"bus_master_capable"`
}

// Validate reports whether the chipset facts are usable.
func (c *ChipsetFacts) Validate() error {
	if c.Bus == BusUnset {
		return ErrMissingBusType
	}

	if c.DmaAddressLimit == 0 {
		return ErrMissingAddrLimit
	}

	if c.SegmentWrapSize == 0 {
		return ErrMissingWrapSize
	}

	return nil
}

// Fingerprint folds both fact blocks into a checksum. The persistence
// slot stores it so stale test results are discarded when the machine
// changes underneath them.
func Fingerprint(cpu *CpuProfile, chipset *ChipsetFacts) uint32 {
	s := fmt.Sprintf("%d/%d/%d/%t|%d/%08x/%08x/%t",
		cpu.Family, cpu.Cache, cpu.CacheLineSize, cpu.RemapManagerActive,
		chipset.Bus, chipset.DmaAddressLimit, chipset.SegmentWrapSize, chipset.BusMasterCapable)

	return crc32.ChecksumIEEE([]byte(s))
}

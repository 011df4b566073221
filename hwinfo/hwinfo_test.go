// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hwinfo

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func assert(t *testing.T, gotErr, wantErrType error, got, want interface{}) {
	t.Helper()

	if wantErrType != nil {
		if gotErr == nil {
			t.Fatal("expect an error")
		}

		goterr, wanterr := reflect.TypeOf(gotErr), reflect.TypeOf(wantErrType)
		if goterr != wanterr {
			t.Fatalf("got %+v, want %+v", goterr, wanterr)
		}
	} else if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestCpuFamilyString(t *testing.T) {
	tests := []struct {
		name   string
		family CpuFamily
		want   string
	}{
		{
			name:   "String for default value",
			family: FamilyUnset,
			want:   "unset",
		},
		{
			name:   "String for 'Family286'",
			family: Family286,
			want:   "80286",
		},
		{
			name:   "String for 'FamilyPentium'",
			family: FamilyPentium,
			want:   "pentium",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.family.String()
			assert(t, nil, nil, got, tt.want)
		})
	}
}

func TestCpuFamilyMarshal(t *testing.T) {
	tests := []struct {
		name   string
		family CpuFamily
		want   string
	}{
		{
			name:   "FamilyUnset",
			family: FamilyUnset,
			want:   `null`,
		},
		{
			name:   "Family386",
			family: Family386,
			want:   `"80386"`,
		},
		{
			name:   "Family486",
			family: Family486,
			want:   `"80486"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.family.MarshalJSON()
			assert(t, err, nil, string(got), tt.want)
		})
	}
}

func TestCpuFamilyUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    CpuFamily
		errType error
	}{
		{
			name: "null",
			json: `null`,
			want: FamilyUnset,
		},
		{
			name: "80286",
			json: `"80286"`,
			want: Family286,
		},
		{
			name: "pentium",
			json: `"pentium"`,
			want: FamilyPentium,
		},
		{
			name:    "unknown string",
			json:    `"z80"`,
			want:    FamilyUnset,
			errType: &json.UnmarshalTypeError{},
		},
		{
			name:    "bad type",
			json:    `1`,
			want:    FamilyUnset,
			errType: &json.UnmarshalTypeError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got CpuFamily
			err := got.UnmarshalJSON([]byte(tt.json))
			assert(t, err, tt.errType, got, tt.want)
		})
	}
}

func TestCacheCapabilityRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		c    CacheCapability
		want string
	}{
		{
			name: "CacheNone",
			c:    CacheNone,
			want: `"none"`,
		},
		{
			name: "CacheWholeFlush",
			c:    CacheWholeFlush,
			want: `"whole-cache-flush"`,
		},
		{
			name: "CacheLineFlush",
			c:    CacheLineFlush,
			want: `"line-flush"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.c.MarshalJSON()
			assert(t, err, nil, string(got), tt.want)

			var back CacheCapability
			err = back.UnmarshalJSON(got)
			assert(t, err, nil, back, tt.c)
		})
	}
}

func TestBusTypeUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    BusType
		errType error
	}{
		{
			name: "isa",
			json: `"isa"`,
			want: BusISA,
		},
		{
			name: "pci",
			json: `"pci"`,
			want: BusPCI,
		},
		{
			name:    "unknown",
			json:    `"mca"`,
			want:    BusUnset,
			errType: &json.UnmarshalTypeError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got BusType
			err := got.UnmarshalJSON([]byte(tt.json))
			assert(t, err, tt.errType, got, tt.want)
		})
	}
}

func TestCpuProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile CpuProfile
		wantErr error
	}{
		{
			name:    "empty profile",
			profile: CpuProfile{},
			wantErr: ErrMissingCpuFamily,
		},
		{
			name: "line flush without line size",
			profile: CpuProfile{
				Family: FamilyPentium,
				Cache:  CacheLineFlush,
			},
			wantErr: ErrBadCacheLineSize,
		},
		{
			name: "line flush with odd line size",
			profile: CpuProfile{
				Family:        FamilyPentium,
				Cache:         CacheLineFlush,
				CacheLineSize: 48,
			},
			wantErr: ErrBadCacheLineSize,
		},
		{
			name: "complete profile",
			profile: CpuProfile{
				Family:        Family486,
				Cache:         CacheWholeFlush,
				CacheLineSize: 16,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestChipsetFactsValidate(t *testing.T) {
	tests := []struct {
		name    string
		facts   ChipsetFacts
		wantErr error
	}{
		{
			name:    "empty facts",
			facts:   ChipsetFacts{},
			wantErr: ErrMissingBusType,
		},
		{
			name: "missing address limit",
			facts: ChipsetFacts{
				Bus:             BusISA,
				SegmentWrapSize: 0x10000,
			},
			wantErr: ErrMissingAddrLimit,
		},
		{
			name: "missing wrap size",
			facts: ChipsetFacts{
				Bus:             BusISA,
				DmaAddressLimit: 0x00FFFFFF,
			},
			wantErr: ErrMissingWrapSize,
		},
		{
			name: "complete facts",
			facts: ChipsetFacts{
				Bus:              BusISA,
				DmaAddressLimit:  0x00FFFFFF,
				SegmentWrapSize:  0x10000,
				BusMasterCapable: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.facts.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFingerprintStable(t *testing.T) {
	cpu := CpuProfile{Family: Family486, Cache: CacheWholeFlush, CacheLineSize: 16}
	chipset := ChipsetFacts{Bus: BusISA, DmaAddressLimit: 0x00FFFFFF, SegmentWrapSize: 0x10000, BusMasterCapable: true}

	one := Fingerprint(&cpu, &chipset)
	two := Fingerprint(&cpu, &chipset)

	if one != two {
		t.Errorf("fingerprint not stable: %08x vs %08x", one, two)
	}

	chipset.DmaAddressLimit = 0xFFFFFFFF
	if Fingerprint(&cpu, &chipset) == one {
		t.Error("fingerprint did not change with chipset facts")
	}
}

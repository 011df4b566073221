// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coherency

import (
	"encoding/json"
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

func TestTierString(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
		want string
	}{
		{
			name: "String for default value",
			tier: TierUnset,
			want: "unset",
		},
		{
			name: "String for 'TierLineFlush'",
			tier: TierLineFlush,
			want: "line-flush",
		},
		{
			name: "String for 'TierConservativeDelay'",
			tier: TierConservativeDelay,
			want: "conservative-delay",
		},
		{
			name: "String for 'TierDisabled'",
			tier: TierDisabled,
			want: "disabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.tier.String()
			assert(t, nil, nil, got, tt.want)
		})
	}
}

func TestTierMarshal(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
		want string
	}{
		{
			name: "TierUnset",
			tier: TierUnset,
			want: `null`,
		},
		{
			name: "TierWholeCache",
			tier: TierWholeCache,
			want: `"whole-cache-flush"`,
		},
		{
			name: "TierSoftwareBarrier",
			tier: TierSoftwareBarrier,
			want: `"software-barrier"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.tier.MarshalJSON()
			assert(t, err, nil, string(got), tt.want)
		})
	}
}

func TestTierUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    Tier
		errType error
	}{
		{
			name: "null",
			json: `null`,
			want: TierUnset,
		},
		{
			name: "line-flush",
			json: `"line-flush"`,
			want: TierLineFlush,
		},
		{
			name: "disabled",
			json: `"disabled"`,
			want: TierDisabled,
		},
		{
			name:    "unknown string",
			json:    `"write-through"`,
			want:    TierUnset,
			errType: &json.UnmarshalTypeError{},
		},
		{
			name:    "bad type",
			json:    `42`,
			want:    TierUnset,
			errType: &json.UnmarshalTypeError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Tier
			err := got.UnmarshalJSON([]byte(tt.json))
			assert(t, err, tt.errType, got, tt.want)
		})
	}
}

func TestNextIsMonotonic(t *testing.T) {
	// Walking Next from the best tier must reach disabled and stay.
	tier := TierLineFlush
	seen := map[Tier]bool{tier: true}

	for i := 0; i < 10; i++ {
		next := Next(tier)

		if next != TierDisabled && seen[next] {
			t.Fatalf("downgrade cycled back to %s", next)
		}

		if next > TierDisabled || next <= tier && tier != TierDisabled {
			t.Fatalf("downgrade from %s to %s is not safer", tier, next)
		}

		seen[next] = true
		tier = next
	}

	if tier != TierDisabled {
		t.Fatalf("downgrade chain did not terminate at disabled, got %s", tier)
	}

	if Next(TierDisabled) != TierDisabled {
		t.Error("disabled must be terminal")
	}
}

func TestUsesDma(t *testing.T) {
	if TierDisabled.UsesDma() || TierUnset.UsesDma() {
		t.Error("disabled and unset must not use DMA")
	}

	for _, tier := range []Tier{TierLineFlush, TierWholeCache, TierSoftwareBarrier, TierConservativeDelay} {
		if !tier.UsesDma() {
			t.Errorf("%s should use DMA", tier)
		}
	}
}

// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"packetdriver.org/dmasafe/coherency"
)

func TestRecordTripsAtThreshold(t *testing.T) {
	m, err := New(DefaultThresholds())
	require.NoError(t, err)

	for i := uint32(1); i < DefaultThresholds().StaleRead; i++ {
		require.False(t, m.Record(EventStaleRead), "tripped early at %d", i)
	}

	_, pending := m.TripPending()
	require.False(t, pending)

	require.True(t, m.Record(EventStaleRead))

	reason, pending := m.TripPending()
	require.True(t, pending)
	require.Equal(t, EventStaleRead, reason)
}

func TestTripFiresOnce(t *testing.T) {
	m, err := New(Thresholds{StaleRead: 2, ExcessiveRetry: 2, Window: 100})
	require.NoError(t, err)

	require.False(t, m.Record(EventStaleRead))
	require.True(t, m.Record(EventStaleRead))

	// Further anomalies of any kind do not trip again.
	require.False(t, m.Record(EventStaleRead))
	require.False(t, m.Record(EventExcessiveRetry))
	require.False(t, m.Record(EventExcessiveRetry))

	reason, pending := m.TripPending()
	require.True(t, pending)
	require.Equal(t, EventStaleRead, reason)
}

func TestWindowRolloverResetsCounts(t *testing.T) {
	m, err := New(Thresholds{StaleRead: 20, Window: 10})
	require.NoError(t, err)

	// Five anomalies, then enough clean traffic to roll the window.
	for i := 0; i < 5; i++ {
		require.False(t, m.Record(EventStaleRead))
	}
	require.Equal(t, uint32(5), m.Count(EventStaleRead))

	for i := 0; i < 10; i++ {
		m.Observe()
	}
	require.Zero(t, m.Count(EventStaleRead))

	_, pending := m.TripPending()
	require.False(t, pending)
}

func TestRolloverKeepsPendingTrip(t *testing.T) {
	m, err := New(Thresholds{StaleRead: 2, Window: 4})
	require.NoError(t, err)

	require.False(t, m.Record(EventStaleRead))
	require.True(t, m.Record(EventStaleRead))

	for i := 0; i < 20; i++ {
		m.Observe()
	}

	reason, pending := m.TripPending()
	require.True(t, pending)
	require.Equal(t, EventStaleRead, reason)
	require.Equal(t, uint32(2), m.Count(EventStaleRead))
}

func TestResetClearsEverything(t *testing.T) {
	m, err := New(Thresholds{StaleRead: 1, Window: 100})
	require.NoError(t, err)

	require.True(t, m.Record(EventStaleRead))

	m.Reset()

	_, pending := m.TripPending()
	require.False(t, pending)
	require.Zero(t, m.Count(EventStaleRead))

	// Trips again after the reset.
	require.True(t, m.Record(EventStaleRead))
}

func TestZeroThresholdNeverTrips(t *testing.T) {
	m, err := New(Thresholds{StaleRead: 0, Window: 100})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.False(t, m.Record(EventStaleRead))
	}

	_, pending := m.TripPending()
	require.False(t, pending)
}

func TestNewRejectsZeroWindow(t *testing.T) {
	_, err := New(Thresholds{StaleRead: 20})
	require.ErrorIs(t, err, ErrZeroWindow)
}

func TestEventJSON(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		want    string
		wantErr error
	}{
		{
			name:  "stale read",
			event: EventStaleRead,
			want:  `"stale read"`,
		},
		{
			name:  "boundary violation",
			event: EventBoundaryViolation,
			want:  `"boundary violation"`,
		},
		{
			name:  "excessive retry",
			event: EventExcessiveRetry,
			want:  `"excessive retry"`,
		},
		{
			name:  "unset",
			event: EventUnset,
			want:  `null`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.event)
			require.NoError(t, err)
			require.Equal(t, tt.want, string(got))

			var back Event
			require.NoError(t, json.Unmarshal(got, &back))
			require.Equal(t, tt.event, back)
		})
	}

	var e Event
	err := json.Unmarshal([]byte(`"no such event"`), &e)
	require.IsType(t, &json.UnmarshalTypeError{}, err)
}

func TestRollbackLog(t *testing.T) {
	var l RollbackLog

	require.Zero(t, l.Len())
	require.Empty(t, l.Events())

	seq := l.Append(EventStaleRead, coherency.TierLineFlush, coherency.TierWholeCache)
	require.Equal(t, uint32(1), seq)

	seq = l.Append(EventStaleRead, coherency.TierWholeCache, coherency.TierSoftwareBarrier)
	require.Equal(t, uint32(2), seq)

	events := l.Events()
	require.Len(t, events, 2)
	require.Equal(t, coherency.TierLineFlush, events[0].From)
	require.Equal(t, coherency.TierSoftwareBarrier, events[1].To)
}

func TestRollbackLogOverwritesOldest(t *testing.T) {
	var l RollbackLog

	for i := 0; i < RollbackDepth+3; i++ {
		l.Append(EventExcessiveRetry, coherency.TierLineFlush, coherency.TierWholeCache)
	}

	require.Equal(t, uint32(RollbackDepth+3), l.Len())

	events := l.Events()
	require.Len(t, events, RollbackDepth)
	require.Equal(t, uint32(4), events[0].Seq)
	require.Equal(t, uint32(RollbackDepth+3), events[len(events)-1].Seq)
}

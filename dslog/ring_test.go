// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
package dslog

import (
	"fmt"
	"strings"
	"testing"
)

func TestRingLoggerKeepsOrder(t *testing.T) {
	l := newRingLogger()
	l.setLevel(DebugLevel)

	for i := 0; i < 5; i++ {
		l.info("message %d", i)
	}

	got := l.dump()
	if len(got) != 5 {
		t.Fatalf("got %d entries, want 5", len(got))
	}

	for i, e := range got {
		if !strings.Contains(e, fmt.Sprintf("message %d", i)) {
			t.Errorf("entry %d: got %q", i, e)
		}
	}
}

func TestRingLoggerWrapsAround(t *testing.T) {
	l := newRingLogger()
	l.setLevel(DebugLevel)

	for i := 0; i < ringEntries+10; i++ {
		l.debug("message %d", i)
	}

	got := l.dump()
	if len(got) != ringEntries {
		t.Fatalf("got %d entries, want %d", len(got), ringEntries)
	}

	if !strings.Contains(got[0], "message 10") {
		t.Errorf("oldest entry: got %q, want message 10", got[0])
	}

	if !strings.Contains(got[len(got)-1], fmt.Sprintf("message %d", ringEntries+9)) {
		t.Errorf("newest entry: got %q", got[len(got)-1])
	}
}

func TestRingLoggerLevel(t *testing.T) {
	l := newRingLogger()
	l.setLevel(WarnLevel)

	l.debug("dropped")
	l.info("dropped")
	l.warn("kept")
	l.error("kept")

	if got := len(l.dump()); got != 2 {
		t.Errorf("got %d entries, want 2", got)
	}
}

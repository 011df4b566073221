// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
package dslog

import (
	"testing"
)

func TestTest(t *testing.T) {
	t.Logf("%+v", dsl)
	Debug("hello")
	Error("fooo %d", 7)
	Info("This %s is a %d", "bar", 7)

	SetLevel(InfoLevel)

	t.Logf("%+v", dsl)
	Debug("hello")
	Error("fooo %d", 7)
	Info("This %s is a %d", "bar", 7)

	SetLevel(ErrorLevel)

	t.Logf("%+v", dsl)
	Debug("hello")
	Error("fooo %d", 7)
	Info("This %s is a %d", "bar", 7)

	SetLevel(DebugLevel)
	SetOutput(MemoryRing)

	t.Logf("%+v", dsl)
	Debug("hello")
	Error("fooo %d", 7)
	Info("This %s is a %d", "bar", 7)

	SetOutput(StdError)

	t.Logf("%+v", dsl)
	Debug("hello")
	Error("fooo %d", 7)
	Info("This %s is a %d", "bar", 7)

	SetLevel(5)
	t.Logf("%+v", dsl)
	Debug("hello")

	SetLevel(0)
	t.Logf("%+v", dsl)
	Debug("hello")
}

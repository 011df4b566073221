// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dslog

import (
	"fmt"
	"sync"
)

// ringEntries bounds the in-memory log so interrupt-heavy runs cannot
// grow it. The oldest entries are overwritten once the ring is full.
const ringEntries = 256

type ringLogger struct {
	mu      sync.Mutex
	entries [ringEntries]string
	next    int
	wrapped bool
	level   LogLevel
}

func newRingLogger() *ringLogger {
	return &ringLogger{level: DebugLevel}
}

func (l *ringLogger) setLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *ringLogger) append(tag, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = tag + prefix + fmt.Sprintf(format, v...)
	l.next++

	if l.next == ringEntries {
		l.next = 0
		l.wrapped = true
	}
}

func (l *ringLogger) error(format string, v ...interface{}) {
	if l.logLevel() >= ErrorLevel {
		l.append(errorTag, format, v...)
	}
}

func (l *ringLogger) warn(format string, v ...interface{}) {
	if l.logLevel() >= WarnLevel {
		l.append(warnTag, format, v...)
	}
}

func (l *ringLogger) info(format string, v ...interface{}) {
	if l.logLevel() >= InfoLevel {
		l.append(infoTag, format, v...)
	}
}

func (l *ringLogger) debug(format string, v ...interface{}) {
	if l.logLevel() >= DebugLevel {
		l.append(debugTag, format, v...)
	}
}

func (l *ringLogger) logLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.level
}

// dump returns the ring content in insertion order.
func (l *ringLogger) dump() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string

	if l.wrapped {
		out = append(out, l.entries[l.next:]...)
	}

	out = append(out, l.entries[:l.next]...)

	return out
}

// Dump returns the buffered log messages if the memory ring output is
// active, oldest first. It returns nil for other outputs.
func Dump() []string {
	if rl, ok := dsl.(*ringLogger); ok {
		return rl.dump()
	}

	return nil
}

// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dslog exposes leveled logging capabilities.
//
// dslog wraps two loggers and adds log levels to them:
// There is a standard "log" package logger and another keeping
// messages in a fixed-size ring for later inspection.
package dslog

import "os"

const (
	prefix   string = "dmasafe: "
	errorTag string = "[ERROR] "
	warnTag  string = "[WARN]  "
	infoTag  string = "[INFO]  "
	debugTag string = "[DEBUG] "
)

type LogLevel int

const (
	ErrorLevel LogLevel = iota
	WarnLevel
	InfoLevel
	DebugLevel
)

type LogOutput int

const (
	StdError LogOutput = iota
	MemoryRing
)

var dsl levelLogger

func init() {
	dsl = newStandardLogger(os.Stderr)
}

type levelLogger interface {
	setLevel(level LogLevel)
	logLevel() LogLevel
	error(format string, v ...interface{})
	warn(format string, v ...interface{})
	info(format string, v ...interface{})
	debug(format string, v ...interface{})
}

// SetOutput sets the packages underlying logger.
func SetOutput(o LogOutput) {
	switch o {
	case MemoryRing:
		dsl = newRingLogger()
	default:
		dsl = newStandardLogger(os.Stderr)
	}
}

// SetLevel sets the logging level of the dslog package.
func SetLevel(l LogLevel) {
	switch l {
	case ErrorLevel, WarnLevel, InfoLevel:
		dsl.setLevel(l)
	default:
		dsl.setLevel(DebugLevel)
	}
}

// Level returns the log level set.
func Level() LogLevel {
	return dsl.logLevel()
}

// Error prints error messages to the currently active logger when permitted
// by the log level. Input can be formatted according to fmt.Printf
func Error(format string, v ...interface{}) {
	dsl.error(format, v...)
}

// Warn prints warning messages to the currently active logger when permitted
// by the log level. Input can be formatted according to fmt.Printf
func Warn(format string, v ...interface{}) {
	dsl.warn(format, v...)
}

// Info prints info messages to the currently active logger when permitted
// by the log level. Input can be formatted according to fmt.Printf
func Info(format string, v ...interface{}) {
	dsl.info(format, v...)
}

// Debug prints debug messages to the currently active logger when permitted
// by the log level. Input can be formatted according to fmt.Printf
func Debug(format string, v ...interface{}) {
	dsl.debug(format, v...)
}

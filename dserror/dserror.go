// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dserror provides the error handling used in dmasafe.
// The core part is the constructor function E().
package dserror

import (
	"errors"
)

// Op describes an operation, usually as the name of the method.
type Op string

// Scope defines the scope of error this is, mostly to identify
// the subsystem where the error occured.
type Scope string

// Info provides further context to the error or holds the string
// value of the triggering error if it is not wrapped.
type Info string

// Scopes of errors.
const (
	Driver    Scope = "Driver core"
	Probe     Scope = "Capability probe"
	Coherency Scope = "Cache coherency"
	Patch     Scope = "Patch engine"
	Boundary  Scope = "DMA boundary"
	Monitor   Scope = "Runtime monitor"
	Host      Scope = "Host"
	Nic       Scope = "NIC"
	Opts      Scope = "Opts"
	Dslog     Scope = "Dslog"
)

// Error provides structured and detailed context. However, some fields
// may be left unset.
//
// An Error value should be created using the E() function.
type Error struct {
	// Op is the operation being executed while the error occurred.
	Op Op
	// Scope is the subsystem of dmasafe causing the error.
	Scope Scope
	// Info provides further context to the error or holds the string
	// value of the triggering error if it is not wrapped.
	Info Info
	// Err is the underlying wrapped error.
	Err error
}

const (
	colon   string = ": "
	hyphen  string = " - "
	newline string = "\n"
)

// Error implements the error interface.
func (e Error) Error() string {
	var composedErrorString string

	switch {
	case e.Op != "" && e.Info != "":
		composedErrorString += colon + string(e.Op) + hyphen + string(e.Info)
	case e.Op != "":
		composedErrorString += colon + string(e.Op)
	case e.Info != "":
		composedErrorString += colon + string(e.Info)
	default:
	}

	if e.Err != nil {
		composedErrorString += newline + e.Err.Error()
	}

	return composedErrorString
}

// Unwrap returns the wrapped error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// E returns an Error constructed from its arguments.
// There should be at least one argument, or E returns an unspecified error.
// The type of each argument determines its meaning.
// If more than one argument of a given type is presented,
// only the last one is recorded.
//
// The types are:
//		dserror.Op
//				The performed operation.
// 		dserror.Scope
//				The subsystem where the error occured.
// 		error
// 				The underlying error if it should be wrapped.
//		dserror.Info, string
// 				Treated as error message of an error that should
// 				not be wrapped or as additional information to the
// 				provided error.
//
// Further types will be ignored.
func E(args ...interface{}) Error {
	if len(args) == 0 {
		return Error{Info: "unspecified"}
	}

	var err = Error{}

	for _, arg := range args {
		switch arg := arg.(type) {
		case Op:
			err.Op = arg
		case Scope:
			err.Scope = arg
		case Info:
			err.Info = arg
		case string:
			err.Info = Info(arg)
		case error:
			err.Err = arg
		default:
		}
	}

	return err
}

// Equal returns true if the two provided Errors are equal.
func Equal(got, want Error) bool {
	if got.Scope != want.Scope {
		return false
	}

	if got.Op != want.Op {
		return false
	}

	if got.Info != want.Info {
		return false
	}

	gotWrappedErr, typeOkGot := got.Err.(Error)
	wantWrappedErr, typeOkWant := want.Err.(Error)

	if typeOkGot != typeOkWant {
		return false
	}

	if typeOkGot {
		return Equal(gotWrappedErr, wantWrappedErr)
	}

	return errors.Is(got.Err, want.Err)
}

// Copyright 2024 The memflow-win32-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xerr defines the error taxonomy used across the bootstrap
// pipeline: every failure is tagged with a Kind and the stage (component)
// that produced it, so callers can distinguish "not found" from "transport
// failure" from "bad input" without string-matching messages.
package xerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure independently of which stage produced it.
type Kind int

const (
	// NotFound means a required element (kernel image, export, struct,
	// field, start block) was not present.
	NotFound Kind = iota
	// InvalidExeFile means PE parsing failed: bad magic, missing debug
	// directory, unsupported CodeView version.
	InvalidExeFile
	// Offset means PDB parsing or offset resolution failed.
	Offset
	// Http means a symbol store fetch failed (transport, status, length
	// mismatch).
	Http
	// IO means a local filesystem operation failed.
	IO
	// Encoding means a non-UTF8 string (e.g. a PDB file name) was
	// encountered where a valid string was required.
	Encoding
	// Configuration means the caller omitted a mandatory input.
	Configuration
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case InvalidExeFile:
		return "invalid exe file"
	case Offset:
		return "offset"
	case Http:
		return "http"
	case IO:
		return "io"
	case Encoding:
		return "encoding"
	case Configuration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every stage in this module.
// Stage names the component that produced the error (e.g. "StartBlockFinder",
// "PdbExtractor"), so a failed bootstrap surfaces a single typed error
// pinpointing the failing stage.
type Error struct {
	Kind  Kind
	Stage string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Stage, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, stage, msg string) *Error {
	return &Error{Kind: kind, Stage: stage, Msg: msg}
}

// Wrap builds an *Error wrapping an underlying cause.
func Wrap(kind Kind, stage, msg string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Msg: msg, Err: err}
}

// Is reports whether err (or anything it wraps) is an *Error of the given
// Kind. It lets callers write `xerr.Is(err, xerr.NotFound)` instead of
// type-asserting manually.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

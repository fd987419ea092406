// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errors defines the error handling used by all FDFS software.
package errors

import (
	"bytes"
	"fmt"
	"runtime"

	"fdfs.io/fdfs"
	"fdfs.io/log"
)

// Error is the type that implements the error interface.
// It contains a number of fields, each of different type.
// An Error value may leave some values unset.
type Error struct {
	// FileID is the identifier of the file being operated on.
	FileID fdfs.FileID
	// Addr is the address of the server involved in the operation.
	Addr string
	// Op is the operation being performed, usually the name of the method
	// being invoked (Upload, QueryStore, etc.).
	Op string
	// Kind is the class of error, such as a protocol failure,
	// or "Other" if its class is unknown or irrelevant.
	Kind Kind
	// The underlying error that triggered this one, if any.
	Err error
}

var (
	_       error = (*Error)(nil)
	zeroErr Error
)

// Separator is the string used to separate nested errors. By
// default, to make errors easier on the eye, nested errors are
// indented on a new line. A server may instead choose to keep each
// error on a single line by modifying the separator string, perhaps
// to ":: ".
var Separator = ":\n\t"

// Kind defines the class of error so callers can branch on
// recoverability without parsing messages.
type Kind uint8

// Kinds of errors.
const (
	Other     Kind = iota // Unclassified error. This value is not printed in the error message.
	Invalid               // Invalid operation or argument, such as modify past end of file.
	Syntax                // Ill-formed name, such as an invalid group or file name.
	IO                    // External I/O error such as a disk failure.
	Transient             // Network failure that is safe to retry: refused, reset, timed out.
	Protocol              // Peer violated the wire protocol or reported a non-zero status.
	Exist                 // Item already exists.
	NotExist              // Item does not exist.
	Exhausted             // A resource limit was reached, such as the connection pool cap.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case Invalid:
		return "invalid operation"
	case Syntax:
		return "syntax error"
	case IO:
		return "I/O error"
	case Transient:
		return "transient network error"
	case Protocol:
		return "protocol error"
	case Exist:
		return "item already exists"
	case NotExist:
		return "item does not exist"
	case Exhausted:
		return "resource exhausted"
	}
	return "unknown error kind"
}

// E builds an error value from its arguments.
// The type of each argument determines its meaning.
// If more than one argument of a given type is presented,
// only the last one is recorded.
//
// The types are:
//
//	fdfs.FileID
//		The identifier of the file being operated on.
//	fdfs.Endpoint
//		The server involved, recorded as its address.
//	string
//		The operation being performed, usually the method
//		being invoked (Upload, QueryStore, etc.)
//	errors.Kind
//		The class of error, such as a protocol failure.
//	error
//		The underlying error that triggered this one.
//
// If the error is printed, only those items that have been
// set to non-zero values will appear in the result.
//
// If Kind is not specified or Other, we set it to the Kind of
// the underlying error.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case fdfs.FileID:
			e.FileID = arg
		case fdfs.Endpoint:
			e.Addr = arg.String()
		case string:
			e.Op = arg
		case Kind:
			e.Kind = arg
		case *Error:
			// Make a copy so mutations below don't reach the original.
			inner := *arg
			e.Err = &inner
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Printf("errors.E: bad call from %s:%d: %v", file, line, args)
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}

	// The previous error was also one of ours. Suppress duplications
	// so the message won't contain the same kind, file id or address
	// twice.
	if prev.FileID == e.FileID {
		prev.FileID = ""
	}
	if prev.Addr == e.Addr {
		prev.Addr = ""
	}
	if prev.Kind == e.Kind {
		prev.Kind = Other
	}
	// If this error has Kind unset or Other, pull up the inner one.
	if e.Kind == Other {
		e.Kind = prev.Kind
		prev.Kind = Other
	}
	return e
}

// pad appends str to the buffer if the buffer already has some data.
func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.FileID != "" {
		b.WriteString(string(e.FileID))
	}
	if e.Addr != "" {
		pad(b, ", ")
		b.WriteString("server ")
		b.WriteString(e.Addr)
	}
	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(e.Op)
	}
	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		// Indent on new line if we are cascading non-empty FDFS errors.
		if prevErr, ok := e.Err.(*Error); ok {
			if *prevErr != zeroErr {
				pad(b, Separator)
				b.WriteString(e.Err.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Unwrap returns the underlying error, making Error work with the
// standard library's errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Recreate the errors.New functionality of the standard Go errors package
// so we can create simple text errors when needed.

// Str returns an error that formats as the given text. It is intended to
// be used as the error-typed argument to the E function.
func Str(text string) error {
	return &errorString{text}
}

// errorString is a trivial implementation of error.
type errorString struct {
	s string
}

func (e *errorString) Error() string {
	return e.s
}

// Errorf is equivalent to fmt.Errorf, but allows clients to import only this
// package for all error handling.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}

// Is reports whether err is an *Error of the given Kind.
// If err is a nested *Error with Kind Other, the test is applied
// to the next error in the chain.
func Is(kind Kind, err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind != Other {
		return e.Kind == kind
	}
	if e.Err != nil {
		return Is(kind, e.Err)
	}
	return false
}

// Match compares its two error arguments. It can be used to check
// for expected errors in tests. Both arguments must have underlying
// type *Error or Match will return false. Otherwise it returns true
// iff every non-zero element of the first error is equal to the
// corresponding element of the second.
// If the Err field is a *Error, Match recurs on both fields;
// otherwise it compares the strings returned by the Error methods.
// Elements that are in the second argument but not present in
// the first are ignored.
func Match(err1, err2 error) bool {
	e1, ok := err1.(*Error)
	if !ok {
		return false
	}
	e2, ok := err2.(*Error)
	if !ok {
		return false
	}
	if e1.FileID != "" && e2.FileID != e1.FileID {
		return false
	}
	if e1.Addr != "" && e2.Addr != e1.Addr {
		return false
	}
	if e1.Op != "" && e2.Op != e1.Op {
		return false
	}
	if e1.Kind != Other && e2.Kind != e1.Kind {
		return false
	}
	if e1.Err != nil {
		if e2.Err == nil {
			return false
		}
		if _, ok := e1.Err.(*Error); ok {
			return Match(e1.Err, e2.Err)
		}
		if e1.Err.Error() != e2.Err.Error() {
			return false
		}
	}
	return true
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates a lookaside tier cannot proceed immediately.
//
// For Push: the tier is at its maximum depth
// For Pop: the tier is empty
//
// ErrWouldBlock is a control flow signal, not a failure. The packet pool
// treats it as a miss and falls through to the next tier.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

var (
	// ErrInvalidArgument reports malformed request parameters. It is
	// detected before any shared state is touched.
	ErrInvalidArgument = errors.New("iocp: invalid argument")

	// ErrInvalidInfoClass reports an unsupported information class on Query.
	ErrInvalidInfoClass = fmtErr(ErrInvalidArgument, "invalid information class")

	// ErrInfoLengthMismatch reports a Query buffer of the wrong length.
	ErrInfoLengthMismatch = fmtErr(ErrInvalidArgument, "information length mismatch")

	// ErrResourceExhausted reports that a completion packet could not be
	// allocated from any lookaside tier nor from the heap fallback.
	// The port stays valid and usable; the producer decides whether to retry.
	ErrResourceExhausted = errors.New("iocp: insufficient resources")

	// ErrQuotaExceeded reports that charging a [Quota] would exceed its limit.
	// Post wraps it in [ErrResourceExhausted].
	ErrQuotaExceeded = errors.New("iocp: quota exceeded")

	// ErrTimeout reports that Remove reached its deadline without an entry.
	// It is a routine outcome of waiting, not a failure. Queue state is
	// unchanged.
	ErrTimeout = errors.New("iocp: timeout")

	// ErrCancelled reports that a blocked Remove was aborted: the thread
	// was alerted, its context was cancelled, or the port ran down.
	// It is a routine outcome of waiting, not a failure.
	ErrCancelled = errors.New("iocp: wait cancelled")

	// ErrObjectReference reports a port reference that cannot be resolved:
	// unknown name, closed handle, or deleted port.
	ErrObjectReference = errors.New("iocp: object reference failure")

	// ErrAccessDenied reports a handle lacking the access right an
	// operation requires.
	ErrAccessDenied = fmtErr(ErrObjectReference, "access denied")

	// ErrNameCollision reports that Create was given a name already in use.
	ErrNameCollision = errors.New("iocp: object name collision")
)

// IsWouldBlock reports whether err indicates a lookaside tier miss.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsTimeout reports whether err is (or wraps) [ErrTimeout].
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCancelled reports whether err is (or wraps) [ErrCancelled].
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Returns true for nil, [ErrTimeout], [ErrCancelled], and anything
// [iox.IsNonFailure] accepts.
func IsNonFailure(err error) bool {
	return IsTimeout(err) || IsCancelled(err) || iox.IsNonFailure(err)
}

type wrapped struct {
	parent error
	msg    string
}

func fmtErr(parent error, msg string) error {
	return &wrapped{parent: parent, msg: msg}
}

func (e *wrapped) Error() string { return "iocp: " + e.msg }

func (e *wrapped) Unwrap() error { return e.parent }

// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-truststore.
//
// go-truststore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package push

import "errors"

// Service errors. Remote callers map these onto protocol status codes, so
// every operation fails with exactly one of them (or a certgroup sentinel).
var (
	// ErrTypeMismatch is returned when an argument or written payload does
	// not decode as the expected type.
	ErrTypeMismatch = errors.New("push: type mismatch")

	// ErrNotSupported is returned for unsupported certificate types, key
	// formats, and operations a group cannot perform.
	ErrNotSupported = errors.New("push: not supported")

	// ErrTransactionPending is returned when the server-wide transaction is
	// held by another session, or when an operation conflicts with an
	// in-progress transaction.
	ErrTransactionPending = errors.New("push: transaction in progress")

	// ErrUserAccessDenied is returned when the calling session lacks admin
	// rights or does not own the file handle it addresses.
	ErrUserAccessDenied = errors.New("push: user access denied")

	// ErrInvalidState is returned when an operation is not valid for the
	// current handle or trust list state.
	ErrInvalidState = errors.New("push: invalid state")

	// ErrNotWritable is returned when the trust list cannot be opened for
	// writing because other handles are open.
	ErrNotWritable = errors.New("push: not writable")

	// ErrNothingToDo is returned by apply-changes when no transaction or an
	// empty transaction exists.
	ErrNothingToDo = errors.New("push: nothing to do")

	// ErrInvalidArgument is returned for arguments that fail validation.
	ErrInvalidArgument = errors.New("push: invalid argument")

	// ErrInternal is returned for unexpected internal failures.
	ErrInternal = errors.New("push: internal error")
)

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

package certgroup

import "errors"

// Verification errors. VerifyCertificate classifies every failure as exactly
// one of these so callers can map them to protocol status codes.
var (
	// ErrCertificateInvalid is returned when a certificate cannot be parsed.
	ErrCertificateInvalid = errors.New("certgroup: certificate invalid")

	// ErrCertificateUntrusted is returned when no chain to a trusted
	// certificate can be built.
	ErrCertificateUntrusted = errors.New("certgroup: certificate untrusted")

	// ErrCertificateTimeInvalid is returned when the certificate or one of
	// its issuers is expired or not yet valid.
	ErrCertificateTimeInvalid = errors.New("certgroup: certificate time invalid")

	// ErrCertificateRevoked is returned when the certificate appears on an
	// issuer's revocation list.
	ErrCertificateRevoked = errors.New("certgroup: certificate revoked")

	// ErrRevocationUnknown is returned when revocation status cannot be
	// determined because no CRL for the issuer is available.
	ErrRevocationUnknown = errors.New("certgroup: certificate revocation status unknown")

	// ErrSecurityChecksFailed is returned for any other verification
	// failure, including use of a CA certificate as an end entity.
	ErrSecurityChecksFailed = errors.New("certgroup: certificate security checks failed")
)

// Trust list operation errors
var (
	// ErrGroupNotFound is returned when a group identifier is not known to
	// the server.
	ErrGroupNotFound = errors.New("certgroup: certificate group not found")

	// ErrEntryInvalid is returned when a trust list entry is not valid DER.
	ErrEntryInvalid = errors.New("certgroup: trust list entry invalid")

	// ErrNotSupported is returned for operations a group implementation
	// does not provide.
	ErrNotSupported = errors.New("certgroup: operation not supported")

	// ErrStorage is returned when the backing store fails.
	ErrStorage = errors.New("certgroup: storage failure")
)

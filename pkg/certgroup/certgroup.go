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

// Package certgroup defines the certificate group contract: a named store of
// trust anchors, issuer material and revocation lists, together with the
// rejected-certificate side channel and peer certificate verification.
//
// Implementations live in the filestore and memstore subpackages; an
// accept-all group for deployments without a configured PKI is provided here.
//
// All implementations must be thread-safe.
package certgroup

import (
	"time"

	"github.com/jeremyhahn/go-truststore/pkg/trustlist"
)

// GroupID identifies a certificate group on a server.
type GroupID string

const (
	// GroupApplication is the group holding application instance trust anchors.
	GroupApplication GroupID = "application"

	// GroupUserToken is the group holding user token trust anchors.
	GroupUserToken GroupID = "usertoken"
)

// DirName returns the on-disk directory name of a built-in group.
func (g GroupID) DirName() string {
	switch g {
	case GroupApplication:
		return "ApplCerts"
	case GroupUserToken:
		return "UserTokenCerts"
	default:
		return string(g)
	}
}

// CertificateType identifies the key algorithm and profile of a server
// certificate managed through a group.
type CertificateType string

const (
	CertificateTypeRSAMin      CertificateType = "rsa-min"
	CertificateTypeRSASha256   CertificateType = "rsa-sha256"
	CertificateTypeECCNistP256 CertificateType = "ecc-nistp256"
	CertificateTypeECCNistP384 CertificateType = "ecc-nistp384"
)

// CertificateGroup manages the trust list and rejected list of one group.
type CertificateGroup interface {
	// ID returns the group identity.
	ID() GroupID

	// CertificateTypes returns the certificate types the group supports.
	CertificateTypes() []CertificateType

	// TrustList returns a copy of the group's trust list restricted to the
	// categories selected by mask.
	TrustList(mask trustlist.Mask) (*trustlist.TrustList, error)

	// SetTrustList replaces the categories selected by the list's mask with
	// the list's entries.
	SetTrustList(list *trustlist.TrustList) error

	// AddToTrustList adds the list's entries to the categories selected by
	// its mask, skipping entries already present.
	AddToTrustList(list *trustlist.TrustList) error

	// RemoveFromTrustList removes the list's entries from the categories
	// selected by its mask. Entries not present are ignored.
	RemoveFromTrustList(list *trustlist.TrustList) error

	// RejectedList returns the DER certificates most recently rejected by
	// verification, newest first.
	RejectedList() ([][]byte, error)

	// AddToRejectedList records a certificate that failed verification.
	// Duplicates are ignored and the oldest entries are evicted once the
	// list exceeds its size limit. Failures are not surfaced to
	// verification callers.
	AddToRejectedList(der []byte) error

	// VerifyCertificate verifies a DER certificate against the group's trust
	// list. Extra issuer certificates, such as intermediates presented
	// alongside the certificate in a handshake, participate in chain
	// building but confer no trust of their own. The returned error is one
	// of the verification sentinels below. Certificates failing with
	// ErrCertificateUntrusted or ErrRevocationUnknown are recorded on the
	// rejected list.
	VerifyCertificate(der []byte, extraIssuers ...[]byte) error

	// LastUpdate returns the time of the last successful trust list mutation.
	LastUpdate() time.Time

	// Clear removes every trust list entry in every category.
	Clear() error
}

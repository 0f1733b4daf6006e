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

import (
	"crypto/x509"
	"time"

	"github.com/jeremyhahn/go-truststore/pkg/trustlist"
)

// AcceptAllGroup is a certificate group without a PKI behind it: every
// certificate verifies, the trust list is always empty, and mutations are
// not supported. Intended for development and first-boot provisioning.
type AcceptAllGroup struct {
	id    GroupID
	types []CertificateType
}

// NewAcceptAllGroup creates an accept-all group with the given identity.
func NewAcceptAllGroup(id GroupID, types ...CertificateType) *AcceptAllGroup {
	if len(types) == 0 {
		types = []CertificateType{CertificateTypeRSASha256}
	}
	return &AcceptAllGroup{id: id, types: types}
}

// ID returns the group identity.
func (g *AcceptAllGroup) ID() GroupID { return g.id }

// CertificateTypes returns the certificate types the group supports.
func (g *AcceptAllGroup) CertificateTypes() []CertificateType { return g.types }

// TrustList always returns an empty list.
func (g *AcceptAllGroup) TrustList(mask trustlist.Mask) (*trustlist.TrustList, error) {
	return &trustlist.TrustList{Mask: mask & trustlist.MaskAll}, nil
}

// SetTrustList is not supported.
func (g *AcceptAllGroup) SetTrustList(*trustlist.TrustList) error { return ErrNotSupported }

// AddToTrustList is not supported.
func (g *AcceptAllGroup) AddToTrustList(*trustlist.TrustList) error { return ErrNotSupported }

// RemoveFromTrustList is not supported.
func (g *AcceptAllGroup) RemoveFromTrustList(*trustlist.TrustList) error { return ErrNotSupported }

// RejectedList is always empty.
func (g *AcceptAllGroup) RejectedList() ([][]byte, error) { return nil, nil }

// AddToRejectedList drops the certificate.
func (g *AcceptAllGroup) AddToRejectedList([]byte) error { return nil }

// VerifyCertificate accepts any parseable certificate.
func (g *AcceptAllGroup) VerifyCertificate(der []byte, _ ...[]byte) error {
	if _, err := x509.ParseCertificate(der); err != nil {
		return ErrCertificateInvalid
	}
	return nil
}

// LastUpdate returns the zero time.
func (g *AcceptAllGroup) LastUpdate() time.Time { return time.Time{} }

// Clear is a no-op.
func (g *AcceptAllGroup) Clear() error { return nil }

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

// Package trustlist defines the trust list value object exchanged between a
// certificate group and its clients. A trust list carries up to four categories
// of DER-encoded material (trusted certificates, trusted CRLs, issuer
// certificates, issuer CRLs) together with a mask selecting which categories
// are meaningful, and a deterministic binary encoding used by trust list file
// handles.
package trustlist

import "bytes"

// Mask selects which trust list categories an operation applies to.
type Mask uint32

const (
	// MaskNone selects no categories.
	MaskNone Mask = 0x0

	// MaskTrustedCertificates selects the trusted certificate category.
	MaskTrustedCertificates Mask = 0x1

	// MaskTrustedCRLs selects the CRLs issued by trusted certificates.
	MaskTrustedCRLs Mask = 0x2

	// MaskIssuerCertificates selects the issuer (chain-building) certificates.
	MaskIssuerCertificates Mask = 0x4

	// MaskIssuerCRLs selects the CRLs issued by issuer certificates.
	MaskIssuerCRLs Mask = 0x8

	// MaskAll selects every category.
	MaskAll Mask = 0xF
)

// Has reports whether all categories in flag are selected.
func (m Mask) Has(flag Mask) bool {
	return m&flag == flag
}

// Valid reports whether the mask contains only defined category bits.
func (m Mask) Valid() bool {
	return m <= MaskAll
}

// TrustList holds the trust anchors and revocation lists of a certificate
// group. All entries are raw DER. The zero value is an empty list with an
// empty mask.
type TrustList struct {
	Mask                Mask
	TrustedCertificates [][]byte
	TrustedCRLs         [][]byte
	IssuerCertificates  [][]byte
	IssuerCRLs          [][]byte
}

// New returns an empty trust list selecting every category.
func New() *TrustList {
	return &TrustList{Mask: MaskAll}
}

// IsEmpty reports whether the list carries no entries in any category.
func (t *TrustList) IsEmpty() bool {
	return len(t.TrustedCertificates) == 0 &&
		len(t.TrustedCRLs) == 0 &&
		len(t.IssuerCertificates) == 0 &&
		len(t.IssuerCRLs) == 0
}

// Filter returns a copy of the list restricted to the categories selected by
// mask. Unselected categories are nil and the returned mask is the
// intersection of the list's mask with the argument.
func (t *TrustList) Filter(mask Mask) *TrustList {
	out := &TrustList{Mask: t.Mask & mask}
	if mask.Has(MaskTrustedCertificates) {
		out.TrustedCertificates = cloneEntries(t.TrustedCertificates)
	}
	if mask.Has(MaskTrustedCRLs) {
		out.TrustedCRLs = cloneEntries(t.TrustedCRLs)
	}
	if mask.Has(MaskIssuerCertificates) {
		out.IssuerCertificates = cloneEntries(t.IssuerCertificates)
	}
	if mask.Has(MaskIssuerCRLs) {
		out.IssuerCRLs = cloneEntries(t.IssuerCRLs)
	}
	return out
}

// Clone returns a deep copy of the list.
func (t *TrustList) Clone() *TrustList {
	return t.Filter(MaskAll)
}

// Count returns the total number of entries across all categories.
func (t *TrustList) Count() int {
	return len(t.TrustedCertificates) + len(t.TrustedCRLs) +
		len(t.IssuerCertificates) + len(t.IssuerCRLs)
}

// ContainsTrusted reports whether der is present in the trusted certificate
// category.
func (t *TrustList) ContainsTrusted(der []byte) bool {
	return containsEntry(t.TrustedCertificates, der)
}

// ContainsIssuer reports whether der is present in the issuer certificate
// category.
func (t *TrustList) ContainsIssuer(der []byte) bool {
	return containsEntry(t.IssuerCertificates, der)
}

func containsEntry(entries [][]byte, der []byte) bool {
	for _, e := range entries {
		if bytes.Equal(e, der) {
			return true
		}
	}
	return false
}

func cloneEntries(entries [][]byte) [][]byte {
	if entries == nil {
		return nil
	}
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = bytes.Clone(e)
	}
	return out
}

// appendMissing appends the entries of src not already present in dst and
// reports how many were added.
func appendMissing(dst [][]byte, src [][]byte) ([][]byte, int) {
	added := 0
	for _, e := range src {
		if !containsEntry(dst, e) {
			dst = append(dst, bytes.Clone(e))
			added++
		}
	}
	return dst, added
}

// removeMatching removes the entries of src from dst and reports how many
// were removed.
func removeMatching(dst [][]byte, src [][]byte) ([][]byte, int) {
	removed := 0
	out := dst[:0]
	for _, e := range dst {
		if containsEntry(src, e) {
			removed++
			continue
		}
		out = append(out, e)
	}
	return out, removed
}

// Merge adds the entries of other, restricted to other's mask, that are not
// already present. Returns the number of entries added.
func (t *TrustList) Merge(other *TrustList) int {
	added := 0
	n := 0
	if other.Mask.Has(MaskTrustedCertificates) {
		t.TrustedCertificates, n = appendMissing(t.TrustedCertificates, other.TrustedCertificates)
		added += n
	}
	if other.Mask.Has(MaskTrustedCRLs) {
		t.TrustedCRLs, n = appendMissing(t.TrustedCRLs, other.TrustedCRLs)
		added += n
	}
	if other.Mask.Has(MaskIssuerCertificates) {
		t.IssuerCertificates, n = appendMissing(t.IssuerCertificates, other.IssuerCertificates)
		added += n
	}
	if other.Mask.Has(MaskIssuerCRLs) {
		t.IssuerCRLs, n = appendMissing(t.IssuerCRLs, other.IssuerCRLs)
		added += n
	}
	return added
}

// Remove deletes the entries of other, restricted to other's mask, from the
// list. Returns the number of entries removed.
func (t *TrustList) Remove(other *TrustList) int {
	removed := 0
	n := 0
	if other.Mask.Has(MaskTrustedCertificates) {
		t.TrustedCertificates, n = removeMatching(t.TrustedCertificates, other.TrustedCertificates)
		removed += n
	}
	if other.Mask.Has(MaskTrustedCRLs) {
		t.TrustedCRLs, n = removeMatching(t.TrustedCRLs, other.TrustedCRLs)
		removed += n
	}
	if other.Mask.Has(MaskIssuerCertificates) {
		t.IssuerCertificates, n = removeMatching(t.IssuerCertificates, other.IssuerCertificates)
		removed += n
	}
	if other.Mask.Has(MaskIssuerCRLs) {
		t.IssuerCRLs, n = removeMatching(t.IssuerCRLs, other.IssuerCRLs)
		removed += n
	}
	return removed
}

// Replace overwrites the categories selected by other's mask with other's
// entries. Unselected categories are left untouched.
func (t *TrustList) Replace(other *TrustList) {
	if other.Mask.Has(MaskTrustedCertificates) {
		t.TrustedCertificates = cloneEntries(other.TrustedCertificates)
	}
	if other.Mask.Has(MaskTrustedCRLs) {
		t.TrustedCRLs = cloneEntries(other.TrustedCRLs)
	}
	if other.Mask.Has(MaskIssuerCertificates) {
		t.IssuerCertificates = cloneEntries(other.IssuerCertificates)
	}
	if other.Mask.Has(MaskIssuerCRLs) {
		t.IssuerCRLs = cloneEntries(other.IssuerCRLs)
	}
}

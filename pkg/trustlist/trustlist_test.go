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

package trustlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskHas(t *testing.T) {
	assert.True(t, MaskAll.Has(MaskTrustedCertificates))
	assert.True(t, MaskAll.Has(MaskTrustedCRLs|MaskIssuerCRLs))
	assert.True(t, (MaskTrustedCertificates | MaskTrustedCRLs).Has(MaskTrustedCRLs))
	assert.False(t, MaskTrustedCertificates.Has(MaskIssuerCertificates))
	assert.False(t, MaskNone.Has(MaskTrustedCertificates))
}

func TestMaskValid(t *testing.T) {
	assert.True(t, MaskNone.Valid())
	assert.True(t, MaskAll.Valid())
	assert.False(t, Mask(0x10).Valid())
	assert.False(t, Mask(0xFFFF).Valid())
}

func TestIsEmpty(t *testing.T) {
	list := New()
	assert.True(t, list.IsEmpty())

	list.IssuerCRLs = [][]byte{[]byte("crl")}
	assert.False(t, list.IsEmpty())
}

func TestFilter(t *testing.T) {
	list := &TrustList{
		Mask:                MaskAll,
		TrustedCertificates: [][]byte{[]byte("tc")},
		TrustedCRLs:         [][]byte{[]byte("tr")},
		IssuerCertificates:  [][]byte{[]byte("ic")},
		IssuerCRLs:          [][]byte{[]byte("ir")},
	}

	filtered := list.Filter(MaskTrustedCertificates | MaskIssuerCRLs)
	assert.Equal(t, MaskTrustedCertificates|MaskIssuerCRLs, filtered.Mask)
	assert.Equal(t, [][]byte{[]byte("tc")}, filtered.TrustedCertificates)
	assert.Nil(t, filtered.TrustedCRLs)
	assert.Nil(t, filtered.IssuerCertificates)
	assert.Equal(t, [][]byte{[]byte("ir")}, filtered.IssuerCRLs)

	// Filtering must copy, not alias.
	filtered.TrustedCertificates[0][0] = 'X'
	assert.Equal(t, []byte("tc"), list.TrustedCertificates[0])
}

func TestMergeDeduplicates(t *testing.T) {
	list := &TrustList{
		Mask:                MaskAll,
		TrustedCertificates: [][]byte{[]byte("a")},
	}
	delta := &TrustList{
		Mask:                MaskTrustedCertificates | MaskIssuerCertificates,
		TrustedCertificates: [][]byte{[]byte("a"), []byte("b")},
		IssuerCertificates:  [][]byte{[]byte("i")},
		IssuerCRLs:          [][]byte{[]byte("ignored")},
	}

	added := list.Merge(delta)
	assert.Equal(t, 2, added)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, list.TrustedCertificates)
	assert.Equal(t, [][]byte{[]byte("i")}, list.IssuerCertificates)

	// IssuerCRLs was outside the delta mask.
	assert.Empty(t, list.IssuerCRLs)

	// Merging the same delta again is a no-op.
	assert.Equal(t, 0, list.Merge(delta))
}

func TestRemove(t *testing.T) {
	list := &TrustList{
		Mask:                MaskAll,
		TrustedCertificates: [][]byte{[]byte("a"), []byte("b")},
		TrustedCRLs:         [][]byte{[]byte("r")},
	}
	delta := &TrustList{
		Mask:                MaskTrustedCertificates,
		TrustedCertificates: [][]byte{[]byte("a")},
		TrustedCRLs:         [][]byte{[]byte("r")},
	}

	removed := list.Remove(delta)
	assert.Equal(t, 1, removed)
	assert.Equal(t, [][]byte{[]byte("b")}, list.TrustedCertificates)

	// CRL category was outside the delta mask.
	assert.Equal(t, [][]byte{[]byte("r")}, list.TrustedCRLs)

	assert.Equal(t, 0, list.Remove(delta))
}

func TestReplace(t *testing.T) {
	list := &TrustList{
		Mask:                MaskAll,
		TrustedCertificates: [][]byte{[]byte("old")},
		IssuerCertificates:  [][]byte{[]byte("keep")},
	}
	incoming := &TrustList{
		Mask:                MaskTrustedCertificates | MaskTrustedCRLs,
		TrustedCertificates: [][]byte{[]byte("new")},
		TrustedCRLs:         [][]byte{[]byte("crl")},
	}

	list.Replace(incoming)
	assert.Equal(t, [][]byte{[]byte("new")}, list.TrustedCertificates)
	assert.Equal(t, [][]byte{[]byte("crl")}, list.TrustedCRLs)
	assert.Equal(t, [][]byte{[]byte("keep")}, list.IssuerCertificates)
}

func TestContains(t *testing.T) {
	list := &TrustList{
		Mask:                MaskAll,
		TrustedCertificates: [][]byte{[]byte("t")},
		IssuerCertificates:  [][]byte{[]byte("i")},
	}
	assert.True(t, list.ContainsTrusted([]byte("t")))
	assert.False(t, list.ContainsTrusted([]byte("i")))
	assert.True(t, list.ContainsIssuer([]byte("i")))
	assert.False(t, list.ContainsIssuer([]byte("t")))
}

func TestCount(t *testing.T) {
	list := &TrustList{
		Mask:                MaskAll,
		TrustedCertificates: [][]byte{[]byte("a"), []byte("b")},
		IssuerCRLs:          [][]byte{[]byte("c")},
	}
	assert.Equal(t, 3, list.Count())
}

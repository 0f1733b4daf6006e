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

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-truststore/internal/testutil"
	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
	"github.com/jeremyhahn/go-truststore/pkg/certgroup/memstore"
	"github.com/jeremyhahn/go-truststore/pkg/trustlist"
)

func TestTransactionAcquire(t *testing.T) {
	tx := newTransaction()
	assert.Equal(t, TransactionFresh, tx.state)
	assert.True(t, tx.empty())

	owner := uuid.New()
	require.NoError(t, tx.acquire(owner))
	assert.Equal(t, TransactionPending, tx.state)
	assert.True(t, tx.ownedBy(owner))

	// Re-acquiring by the owner is idempotent.
	require.NoError(t, tx.acquire(owner))

	other := uuid.New()
	assert.ErrorIs(t, tx.acquire(other), ErrTransactionPending)
	assert.False(t, tx.ownedBy(other))
}

func TestTransactionStagedGroupIsolation(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Staging Root")
	require.NoError(t, err)

	target := memstore.NewSeeded(memstore.Config{
		ID: certgroup.GroupApplication,
	}, &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{ca.Cert.Raw},
	})

	tx := newTransaction()
	require.NoError(t, tx.acquire(uuid.New()))

	staged, err := tx.stagedGroup(target)
	require.NoError(t, err)

	// The staging group starts as a copy of the target.
	list, err := staged.TrustList(trustlist.MaskAll)
	require.NoError(t, err)
	assert.True(t, list.ContainsTrusted(ca.Cert.Raw))

	// Mutating the staging group leaves the target untouched.
	require.NoError(t, staged.Clear())
	targetList, err := target.TrustList(trustlist.MaskAll)
	require.NoError(t, err)
	assert.True(t, targetList.ContainsTrusted(ca.Cert.Raw))

	// The same staging group is returned on repeat lookups.
	again, err := tx.stagedGroup(target)
	require.NoError(t, err)
	assert.Same(t, staged, again)

	assert.False(t, tx.empty())
}

func TestTransactionStageCertificateSupersedes(t *testing.T) {
	tx := newTransaction()
	require.NoError(t, tx.acquire(uuid.New()))

	tx.stageCertificate(stagedCertificate{
		group:       certgroup.GroupApplication,
		certType:    certgroup.CertificateTypeECCNistP256,
		certificate: []byte{1},
	})
	tx.stageCertificate(stagedCertificate{
		group:       certgroup.GroupApplication,
		certType:    certgroup.CertificateTypeRSASha256,
		certificate: []byte{2},
	})
	// A later update for the same group and type replaces the first.
	tx.stageCertificate(stagedCertificate{
		group:       certgroup.GroupApplication,
		certType:    certgroup.CertificateTypeECCNistP256,
		certificate: []byte{3},
	})

	require.Len(t, tx.certs, 2)
	for _, sc := range tx.certs {
		if sc.certType == certgroup.CertificateTypeECCNistP256 {
			assert.Equal(t, []byte{3}, sc.certificate)
		}
	}
	assert.False(t, tx.empty())
}

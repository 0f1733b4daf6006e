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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-truststore/internal/testutil"
	"github.com/jeremyhahn/go-truststore/pkg/trustlist"
)

func TestVerifyTrustedLeaf(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(ca, "peer")
	require.NoError(t, err)
	crl, err := testutil.GenerateCRL(ca)
	require.NoError(t, err)

	list := &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{ca.Cert.Raw},
		TrustedCRLs:         [][]byte{crl},
	}

	v := NewVerifier(nil)
	assert.NoError(t, v.Verify(list, leaf.Cert.Raw))
}

func TestVerificationResult(t *testing.T) {
	assert.Equal(t, "accepted", VerificationResult(nil))
	assert.Equal(t, "untrusted", VerificationResult(ErrCertificateUntrusted))
	assert.Equal(t, "time_invalid", VerificationResult(ErrCertificateTimeInvalid))
	assert.Equal(t, "revoked", VerificationResult(ErrCertificateRevoked))
	assert.Equal(t, "revocation_unknown", VerificationResult(ErrRevocationUnknown))
	assert.Equal(t, "invalid", VerificationResult(ErrCertificateInvalid))
	assert.Equal(t, "security_checks_failed", VerificationResult(ErrSecurityChecksFailed))
}

func TestVerifyEmptyStoreAcceptsAll(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(ca, "peer")
	require.NoError(t, err)

	v := NewVerifier(nil)
	assert.NoError(t, v.Verify(trustlist.New(), leaf.Cert.Raw))
	assert.NoError(t, v.Verify(nil, leaf.Cert.Raw))
}

func TestVerifyUnknownAuthority(t *testing.T) {
	trusted, err := testutil.GenerateTestCA("Trusted Root")
	require.NoError(t, err)
	other, err := testutil.GenerateTestCA("Other Root")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(other, "peer")
	require.NoError(t, err)
	crl, err := testutil.GenerateCRL(trusted)
	require.NoError(t, err)

	list := &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{trusted.Cert.Raw},
		TrustedCRLs:         [][]byte{crl},
	}

	v := NewVerifier(nil)
	err = v.Verify(list, leaf.Cert.Raw)
	assert.ErrorIs(t, err, ErrCertificateUntrusted)
}

func TestVerifyWithHandshakeIntermediate(t *testing.T) {
	root, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	intermediate, err := testutil.GenerateIntermediateCA(root, "Intermediate")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(intermediate, "peer")
	require.NoError(t, err)
	rootCRL, err := testutil.GenerateCRL(root)
	require.NoError(t, err)
	intermediateCRL, err := testutil.GenerateCRL(intermediate)
	require.NoError(t, err)

	// Only the root is trusted; the intermediate travels in the handshake.
	list := &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{root.Cert.Raw},
		TrustedCRLs:         [][]byte{rootCRL},
		IssuerCRLs:          [][]byte{intermediateCRL},
	}

	v := NewVerifier(nil)
	err = v.Verify(list, leaf.Cert.Raw)
	assert.ErrorIs(t, err, ErrCertificateUntrusted)

	assert.NoError(t, v.Verify(list, leaf.Cert.Raw, intermediate.Cert.Raw))

	// Extra issuers do not make an untrusted chain trusted.
	stranger, err := testutil.GenerateTestCA("Stranger Root")
	require.NoError(t, err)
	strangerLeaf, err := testutil.GenerateTestClientCert(stranger, "stranger-peer")
	require.NoError(t, err)
	err = v.Verify(list, strangerLeaf.Cert.Raw, stranger.Cert.Raw)
	assert.ErrorIs(t, err, ErrCertificateUntrusted)
}

func TestVerifyExpiredCertificate(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	leaf, err := testutil.GenerateExpiredClientCert(ca, "peer")
	require.NoError(t, err)
	crl, err := testutil.GenerateCRL(ca)
	require.NoError(t, err)

	list := &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{ca.Cert.Raw},
		TrustedCRLs:         [][]byte{crl},
	}

	v := NewVerifier(nil)
	err = v.Verify(list, leaf.Cert.Raw)
	assert.ErrorIs(t, err, ErrCertificateTimeInvalid)
}

func TestVerifyRevokedCertificate(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(ca, "peer")
	require.NoError(t, err)
	crl, err := testutil.GenerateCRL(ca, leaf.Cert.SerialNumber)
	require.NoError(t, err)

	list := &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{ca.Cert.Raw},
		TrustedCRLs:         [][]byte{crl},
	}

	v := NewVerifier(nil)
	err = v.Verify(list, leaf.Cert.Raw)
	assert.ErrorIs(t, err, ErrCertificateRevoked)
}

func TestVerifyRevocationUnknown(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(ca, "peer")
	require.NoError(t, err)

	// Trusted CA but no CRL at all.
	list := &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{ca.Cert.Raw},
	}

	v := NewVerifier(nil)
	err = v.Verify(list, leaf.Cert.Raw)
	assert.ErrorIs(t, err, ErrRevocationUnknown)
}

func TestVerifyExpiredCRL(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(ca, "peer")
	require.NoError(t, err)
	crl, err := testutil.GenerateExpiredCRL(ca)
	require.NoError(t, err)

	list := &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{ca.Cert.Raw},
		TrustedCRLs:         [][]byte{crl},
	}

	v := NewVerifier(nil)
	err = v.Verify(list, leaf.Cert.Raw)
	assert.ErrorIs(t, err, ErrRevocationUnknown)
}

func TestVerifyCAAsEndEntity(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	crl, err := testutil.GenerateCRL(ca)
	require.NoError(t, err)

	list := &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{ca.Cert.Raw},
		TrustedCRLs:         [][]byte{crl},
	}

	v := NewVerifier(nil)
	err = v.Verify(list, ca.Cert.Raw)
	assert.ErrorIs(t, err, ErrSecurityChecksFailed)
}

func TestVerifyIssuerOnlyChainIsUntrusted(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(ca, "peer")
	require.NoError(t, err)
	crl, err := testutil.GenerateCRL(ca)
	require.NoError(t, err)

	// The CA is only issuer material; the chain verifies but nothing on it
	// is trusted.
	list := &trustlist.TrustList{
		Mask:               trustlist.MaskAll,
		IssuerCertificates: [][]byte{ca.Cert.Raw},
		IssuerCRLs:         [][]byte{crl},
	}

	v := NewVerifier(nil)
	err = v.Verify(list, leaf.Cert.Raw)
	assert.ErrorIs(t, err, ErrCertificateUntrusted)
}

func TestVerifyIntermediateChain(t *testing.T) {
	root, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	intermediate, err := testutil.GenerateIntermediateCA(root, "Intermediate")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(intermediate, "peer")
	require.NoError(t, err)
	rootCRL, err := testutil.GenerateCRL(root)
	require.NoError(t, err)
	intermediateCRL, err := testutil.GenerateCRL(intermediate)
	require.NoError(t, err)

	list := &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{root.Cert.Raw},
		TrustedCRLs:         [][]byte{rootCRL},
		IssuerCertificates:  [][]byte{intermediate.Cert.Raw},
		IssuerCRLs:          [][]byte{intermediateCRL},
	}

	v := NewVerifier(nil)
	assert.NoError(t, v.Verify(list, leaf.Cert.Raw))
}

func TestVerifyGarbage(t *testing.T) {
	v := NewVerifier(nil)
	assert.ErrorIs(t, v.Verify(trustlist.New(), []byte("not a certificate")), ErrCertificateInvalid)
	assert.ErrorIs(t, v.Verify(trustlist.New(), nil), ErrCertificateInvalid)
}

func TestRecordRejected(t *testing.T) {
	assert.True(t, RecordRejected(ErrCertificateUntrusted))
	assert.True(t, RecordRejected(ErrRevocationUnknown))
	assert.False(t, RecordRejected(ErrCertificateRevoked))
	assert.False(t, RecordRejected(ErrCertificateTimeInvalid))
	assert.False(t, RecordRejected(nil))
}

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

package endpoint

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-truststore/internal/testutil"
	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
	"github.com/jeremyhahn/go-truststore/pkg/certgroup/memstore"
	"github.com/jeremyhahn/go-truststore/pkg/trustlist"
)

func startTestListener(t *testing.T, verifier certgroup.CertificateGroup) (*Listener, *testutil.TestCA) {
	t.Helper()

	ca, err := testutil.GenerateTestCA("Listener Root")
	require.NoError(t, err)
	serverCert, _ := testTLSCert(t, ca, "listener-server")

	m := NewManager(nil)
	require.NoError(t, m.SetCertificate(serverCert))

	l, err := NewListener(ListenerConfig{
		Addr:     "127.0.0.1:0",
		Manager:  m,
		Verifier: verifier,
	})
	require.NoError(t, err)
	require.NoError(t, l.Start())
	t.Cleanup(func() { _ = l.Close() })

	return l, ca
}

func dialTestListener(t *testing.T, addr string, clientCerts []tls.Certificate) (*quic.Conn, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return quic.DialAddr(ctx, addr, &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
		Certificates:       clientCerts,
	}, nil)
}

func TestListenerTracksConnections(t *testing.T) {
	peerCA, err := testutil.GenerateTestCA("Peer Root")
	require.NoError(t, err)
	crl, err := testutil.GenerateCRL(peerCA)
	require.NoError(t, err)
	group := memstore.NewSeeded(memstore.Config{
		ID: certgroup.GroupApplication,
	}, &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{peerCA.Cert.Raw},
		TrustedCRLs:         [][]byte{crl},
	})

	l, _ := startTestListener(t, group)
	require.NotEmpty(t, l.Addr())

	clientLeaf, err := testutil.GenerateTestClientCert(peerCA, "push-client")
	require.NoError(t, err)
	conn, err := dialTestListener(t, l.Addr(), []tls.Certificate{{
		Certificate: [][]byte{clientLeaf.Cert.Raw},
		PrivateKey:  clientLeaf.Key,
	}})
	require.NoError(t, err)
	defer conn.CloseWithError(0, "test done")

	require.Eventually(t, func() bool {
		return len(l.Connections()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	tracked := l.Connections()[0]
	assert.Equal(t, clientLeaf.Cert.Raw, tracked.PeerCertificate())

	// A sweep close terminates the client side.
	require.NoError(t, tracked.Close("trust revoked"))
	select {
	case <-conn.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client connection was not closed")
	}

	require.Eventually(t, func() bool {
		return len(l.Connections()) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestListenerAllowsAnonymousPeers(t *testing.T) {
	group := memstore.New(memstore.Config{ID: certgroup.GroupApplication})
	l, _ := startTestListener(t, group)

	conn, err := dialTestListener(t, l.Addr(), nil)
	require.NoError(t, err)
	defer conn.CloseWithError(0, "test done")

	require.Eventually(t, func() bool {
		conns := l.Connections()
		return len(conns) == 1 && conns[0].PeerCertificate() == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestListenerAcceptsHandshakeIntermediate(t *testing.T) {
	root, err := testutil.GenerateTestCA("Peer Root")
	require.NoError(t, err)
	intermediate, err := testutil.GenerateIntermediateCA(root, "Peer Intermediate")
	require.NoError(t, err)
	rootCRL, err := testutil.GenerateCRL(root)
	require.NoError(t, err)
	intermediateCRL, err := testutil.GenerateCRL(intermediate)
	require.NoError(t, err)

	// The store trusts the root only; the client sends the intermediate in
	// its handshake chain.
	group := memstore.NewSeeded(memstore.Config{
		ID: certgroup.GroupApplication,
	}, &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{root.Cert.Raw},
		TrustedCRLs:         [][]byte{rootCRL},
		IssuerCRLs:          [][]byte{intermediateCRL},
	})
	l, _ := startTestListener(t, group)

	clientLeaf, err := testutil.GenerateTestClientCert(intermediate, "chained-client")
	require.NoError(t, err)
	conn, err := dialTestListener(t, l.Addr(), []tls.Certificate{{
		Certificate: [][]byte{clientLeaf.Cert.Raw, intermediate.Cert.Raw},
		PrivateKey:  clientLeaf.Key,
	}})
	require.NoError(t, err)
	defer conn.CloseWithError(0, "test done")

	require.Eventually(t, func() bool {
		return len(l.Connections()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, clientLeaf.Cert.Raw, l.Connections()[0].PeerCertificate())
}

func TestListenerRejectsUntrustedPeer(t *testing.T) {
	peerCA, err := testutil.GenerateTestCA("Peer Root")
	require.NoError(t, err)
	crl, err := testutil.GenerateCRL(peerCA)
	require.NoError(t, err)
	group := memstore.NewSeeded(memstore.Config{
		ID: certgroup.GroupApplication,
	}, &trustlist.TrustList{
		Mask:                trustlist.MaskAll,
		TrustedCertificates: [][]byte{peerCA.Cert.Raw},
		TrustedCRLs:         [][]byte{crl},
	})
	l, _ := startTestListener(t, group)

	strangerCA, err := testutil.GenerateTestCA("Stranger Root")
	require.NoError(t, err)
	stranger, err := testutil.GenerateTestClientCert(strangerCA, "stranger")
	require.NoError(t, err)

	_, err = dialTestListener(t, l.Addr(), []tls.Certificate{{
		Certificate: [][]byte{stranger.Cert.Raw},
		PrivateKey:  stranger.Key,
	}})
	require.Error(t, err)

	// The refused certificate lands on the rejected list.
	rejected, err := group.RejectedList()
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, stranger.Cert.Raw, rejected[0])
}

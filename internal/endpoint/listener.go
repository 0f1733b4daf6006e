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
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/jeremyhahn/go-truststore/internal/push"
	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
	"github.com/jeremyhahn/go-truststore/pkg/logging"
)

// alpnProtocol identifies the trust store management protocol in TLS
// handshakes.
const alpnProtocol = "truststore/1"

// closeCodeShutdown is the application error code sent when the server
// closes a connection.
const closeCodeShutdown = quic.ApplicationErrorCode(0)

// ListenerConfig configures the QUIC listener.
type ListenerConfig struct {
	Addr     string
	Manager  *Manager
	Verifier certgroup.CertificateGroup
	Logger   *logging.Logger
}

// Listener accepts QUIC connections, verifies peer certificates against the
// application certificate group, and tracks live connections for the push
// service's post-commit sweep.
type Listener struct {
	addr     string
	manager  *Manager
	verifier certgroup.CertificateGroup
	logger   *logging.Logger

	ln     *quic.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewListener creates a QUIC listener. Start must be called before
// connections are accepted.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("endpoint: certificate manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Listener{
		addr:     cfg.Addr,
		manager:  cfg.Manager,
		verifier: cfg.Verifier,
		logger:   logger,
		conns:    make(map[*Conn]struct{}),
	}, nil
}

// Start binds the listener and begins accepting connections.
func (l *Listener) Start() error {
	tlsConf := &tls.Config{
		MinVersion:     tls.VersionTLS13,
		NextProtos:     []string{alpnProtocol},
		GetCertificate: l.manager.GetCertificate,
		ClientAuth:     tls.RequestClientCert,
		// Chain building runs against the trust store, not the system
		// roots, so the handshake verification is replaced entirely.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: l.verifyPeer,
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ln, err := quic.ListenAddr(l.addr, tlsConf, quicConf)
	if err != nil {
		return fmt.Errorf("endpoint: listening on %s: %w", l.addr, err)
	}
	l.ln = ln

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.wg.Add(1)
	go l.acceptLoop(ctx)

	l.logger.Infof("QUIC listener started on %s", ln.Addr())
	return nil
}

// verifyPeer checks a presented client certificate against the application
// certificate group. Intermediates sent in the handshake join the chain
// building pool. Connections without a client certificate are allowed;
// access control happens at the session layer.
func (l *Listener) verifyPeer(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 || l.verifier == nil {
		return nil
	}
	if err := l.verifier.VerifyCertificate(rawCerts[0], rawCerts[1:]...); err != nil {
		l.logger.Warnf("rejecting peer certificate: %v", err)
		return err
	}
	return nil
}

func (l *Listener) acceptLoop(ctx context.Context) {
	defer l.wg.Done()
	for {
		qc, err := l.ln.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			l.logger.Warnf("accept failed: %v", err)
			return
		}
		conn := &Conn{qc: qc}
		l.track(conn)

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			<-qc.Context().Done()
			l.untrack(conn)
		}()
	}
}

func (l *Listener) track(c *Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[c] = struct{}{}
}

func (l *Listener) untrack(c *Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, c)
}

// Connections returns the live connections for the push service's sweep.
func (l *Listener) Connections() []push.PeerConnection {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]push.PeerConnection, 0, len(l.conns))
	for c := range l.conns {
		out = append(out, c)
	}
	return out
}

// Addr returns the listener's bound address, or empty before Start.
func (l *Listener) Addr() string {
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// Close stops accepting, closes every connection and waits for the accept
// loop to exit.
func (l *Listener) Close() error {
	if l.cancel != nil {
		l.cancel()
	}

	l.mu.Lock()
	conns := make([]*Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()
	for _, c := range conns {
		if err := c.Close("server shutting down"); err != nil {
			l.logger.MaybeError(err)
		}
	}

	var err error
	if l.ln != nil {
		err = l.ln.Close()
	}
	l.wg.Wait()
	return err
}

// Conn adapts a QUIC connection to the push service's sweep interface.
type Conn struct {
	qc *quic.Conn
}

// PeerCertificate returns the peer's DER certificate, or nil when the peer
// did not present one.
func (c *Conn) PeerCertificate() []byte {
	peers := c.qc.ConnectionState().TLS.PeerCertificates
	if len(peers) == 0 {
		return nil
	}
	return peers[0].Raw
}

// Close terminates the connection with the given reason.
func (c *Conn) Close(reason string) error {
	return c.qc.CloseWithError(closeCodeShutdown, reason)
}

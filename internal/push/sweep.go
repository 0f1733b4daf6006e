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
	"errors"

	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
	"github.com/jeremyhahn/go-truststore/pkg/metrics"
)

// ensureSweepLocked starts the session liveness sweep if there is a
// transaction or open handle to watch. Caller holds the service mutex.
func (s *Service) ensureSweepLocked() {
	if s.sweepActive {
		return
	}
	if s.tx == nil && len(s.handles) == 0 {
		return
	}
	s.sweepActive = true
	s.sweepID = s.sched.Repeat(s.interval, s.sessionSweep)
}

// sessionSweep reclaims state owned by sessions that no longer exist: the
// transaction is discarded and orphaned handles are closed. The sweep
// deschedules itself once nothing is left to watch.
func (s *Service) sessionSweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil && s.tx.state == TransactionPending && !s.sessions.Alive(s.tx.session) {
		s.logger.Infof("discarding transaction of closed session %s", s.tx.session)
		metrics.TransactionsTotal.WithLabelValues("orphaned").Inc()
		s.tx = nil
	}

	for id, h := range s.handles {
		if s.sessions.Alive(h.session) {
			continue
		}
		s.logger.Infof("closing trust list handle %d of closed session %s", id, h.session)
		delete(s.handles, id)
		s.publishFileInfo(h.group)
	}

	if s.tx == nil && len(s.handles) == 0 {
		s.sched.Cancel(s.sweepID)
		s.sweepActive = false
	}
}

// connectionSweep enforces committed changes on live connections. A
// certificate change invalidates every secure channel, so all connections
// are closed. A trust list only change closes the connections whose peer
// certificate no longer verifies.
func (s *Service) connectionSweep(certChanged bool, changedGroups []certgroup.GroupID) {
	var conns []PeerConnection
	if s.connections != nil {
		conns = s.connections.Connections()
	}

	closed := 0
	if certChanged {
		for _, conn := range conns {
			if err := conn.Close("server certificate changed"); err != nil {
				s.logger.Warnf("closing connection after certificate change: %v", err)
			}
			closed++
		}
		metrics.ConnectionsClosed.WithLabelValues("certificate_change").Add(float64(closed))
	} else if len(changedGroups) > 0 {
		for _, conn := range conns {
			if s.peerStillTrusted(conn, changedGroups) {
				continue
			}
			if err := conn.Close("peer certificate no longer trusted"); err != nil {
				s.logger.Warnf("closing untrusted connection: %v", err)
			}
			closed++
		}
		metrics.ConnectionsClosed.WithLabelValues("trust_change").Add(float64(closed))
	}
	if closed > 0 {
		s.logger.Infof("closed %d connections after trust store changes", closed)
	}
}

// peerStillTrusted re-verifies a connection's peer certificate against the
// groups whose trust lists changed. Connections without a peer certificate
// are left alone.
func (s *Service) peerStillTrusted(conn PeerConnection, groups []certgroup.GroupID) bool {
	der := conn.PeerCertificate()
	if len(der) == 0 {
		return true
	}
	for _, id := range groups {
		g, ok := s.groups[id]
		if !ok {
			continue
		}
		err := g.VerifyCertificate(der)
		if err == nil {
			continue
		}
		if errors.Is(err, certgroup.ErrNotSupported) {
			continue
		}
		return false
	}
	return true
}

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
	"crypto"
	"fmt"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
	"github.com/jeremyhahn/go-truststore/pkg/certgroup/memstore"
	"github.com/jeremyhahn/go-truststore/pkg/trustlist"
)

// TransactionState tracks the lifecycle of the server-wide transaction.
type TransactionState int

const (
	// TransactionFresh is a created but not yet acquired transaction.
	TransactionFresh TransactionState = iota

	// TransactionPending is a transaction owned by a session with staged
	// changes awaiting apply-changes.
	TransactionPending
)

// stagedCertificate is a certificate replacement queued in a transaction.
type stagedCertificate struct {
	group       certgroup.GroupID
	certType    certgroup.CertificateType
	certificate []byte
	issuers     [][]byte
	signer      crypto.Signer
}

// Transaction accumulates trust list and certificate changes until they are
// applied or discarded. The server has at most one; mutation happens under
// the service mutex.
type Transaction struct {
	state   TransactionState
	session uuid.UUID

	// staged holds one in-memory group per durable group touched by the
	// transaction, lazily seeded with the durable group's current list.
	staged map[certgroup.GroupID]*memstore.Group

	certs []stagedCertificate
}

func newTransaction() *Transaction {
	return &Transaction{
		state:  TransactionFresh,
		staged: make(map[certgroup.GroupID]*memstore.Group),
	}
}

// acquire binds the transaction to a session. A pending transaction can only
// be re-acquired by its owner.
func (t *Transaction) acquire(session uuid.UUID) error {
	if t.state == TransactionPending && t.session != session {
		return ErrTransactionPending
	}
	t.state = TransactionPending
	t.session = session
	return nil
}

// ownedBy reports whether the pending transaction belongs to session.
func (t *Transaction) ownedBy(session uuid.UUID) bool {
	return t.state == TransactionPending && t.session == session
}

// stagedGroup returns the staging group for target, seeding it with the
// target's current trust list on first use.
func (t *Transaction) stagedGroup(target certgroup.CertificateGroup) (*memstore.Group, error) {
	if g, ok := t.staged[target.ID()]; ok {
		return g, nil
	}
	seed, err := target.TrustList(trustlist.MaskAll)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	g := memstore.NewSeeded(memstore.Config{
		ID:               target.ID(),
		CertificateTypes: target.CertificateTypes(),
	}, seed)
	t.staged[target.ID()] = g
	return g, nil
}

// stageCertificate queues a certificate replacement, superseding any earlier
// replacement for the same certificate type.
func (t *Transaction) stageCertificate(sc stagedCertificate) {
	for i := range t.certs {
		if t.certs[i].group == sc.group && t.certs[i].certType == sc.certType {
			t.certs[i] = sc
			return
		}
	}
	t.certs = append(t.certs, sc)
}

// empty reports whether the transaction stages no changes.
func (t *Transaction) empty() bool {
	return len(t.staged) == 0 && len(t.certs) == 0
}

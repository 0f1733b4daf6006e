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

// Package push implements the server's certificate push management facility:
// trust list file handles, the server-wide transaction, direct certificate
// add/remove, certificate updates with signing request support, and the
// background sweeps that reclaim orphaned state and enforce trust changes on
// live connections.
package push

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
	"github.com/jeremyhahn/go-truststore/pkg/keyutil"
	"github.com/jeremyhahn/go-truststore/pkg/logging"
	"github.com/jeremyhahn/go-truststore/pkg/metrics"
	"github.com/jeremyhahn/go-truststore/pkg/trustlist"
)

// SessionDirectory answers liveness and authorization questions about the
// sessions issuing push management calls.
type SessionDirectory interface {
	// Alive reports whether the session still exists.
	Alive(id uuid.UUID) bool

	// IsAdmin reports whether the session has administrative rights.
	IsAdmin(id uuid.UUID) bool
}

// PeerConnection is a live connection whose peer presented a certificate.
type PeerConnection interface {
	// PeerCertificate returns the peer's DER certificate, or nil.
	PeerCertificate() []byte

	// Close terminates the connection.
	Close(reason string) error
}

// ConnectionRegistry enumerates the server's live connections for the
// post-commit sweep.
type ConnectionRegistry interface {
	Connections() []PeerConnection
}

// EndpointManager owns the server's certificates and applies replacements
// committed through a transaction.
type EndpointManager interface {
	// Certificate returns the active certificate and private key for a
	// certificate type.
	Certificate(certType certgroup.CertificateType) (*x509.Certificate, crypto.Signer, error)

	// UpdateCertificate installs a new certificate, issuer chain and key on
	// every endpoint using the certificate type. Reports whether any
	// endpoint was updated.
	UpdateCertificate(certType certgroup.CertificateType, cert []byte, issuers [][]byte, signer crypto.Signer) (bool, error)
}

// Scheduler runs service callbacks on the server's run loop.
type Scheduler interface {
	// Defer queues fn for one-shot execution.
	Defer(fn func())

	// Repeat runs fn at every interval until cancelled.
	Repeat(interval time.Duration, fn func()) uint64

	// Cancel stops a repeated callback.
	Cancel(id uint64)
}

// DefaultSweepInterval is how often orphaned transactions and handles are
// reclaimed.
const DefaultSweepInterval = 10 * time.Second

// Config wires a Service to its collaborators.
type Config struct {
	Groups      map[certgroup.GroupID]certgroup.CertificateGroup
	Sessions    SessionDirectory
	Endpoints   EndpointManager
	Connections ConnectionRegistry
	Scheduler   Scheduler
	Logger      *logging.Logger

	// SweepInterval overrides DefaultSweepInterval when positive.
	SweepInterval time.Duration
}

// Service is the certificate push management service. All state is owned by
// the service instance; operations serialize on its mutex.
type Service struct {
	mu sync.Mutex

	groups      map[certgroup.GroupID]certgroup.CertificateGroup
	sessions    SessionDirectory
	endpoints   EndpointManager
	connections ConnectionRegistry
	sched       Scheduler
	logger      *logging.Logger
	interval    time.Duration

	tx      *Transaction
	handles map[uint32]*fileHandle

	// csrKeys holds keys regenerated by create-signing-request until the
	// matching certificate update arrives.
	csrKeys map[certgroup.CertificateType]crypto.Signer

	sweepID     uint64
	sweepActive bool
}

// New creates the push management service.
func New(cfg Config) (*Service, error) {
	if len(cfg.Groups) == 0 {
		return nil, fmt.Errorf("push: at least one certificate group is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("push: session directory is required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("push: scheduler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Service{
		groups:      cfg.Groups,
		sessions:    cfg.Sessions,
		endpoints:   cfg.Endpoints,
		connections: cfg.Connections,
		sched:       cfg.Scheduler,
		logger:      logger,
		interval:    interval,
		handles:     make(map[uint32]*fileHandle),
		csrKeys:     make(map[certgroup.CertificateType]crypto.Signer),
	}, nil
}

func (s *Service) authorize(session uuid.UUID) error {
	if !s.sessions.IsAdmin(session) {
		return ErrUserAccessDenied
	}
	return nil
}

func (s *Service) group(id certgroup.GroupID) (certgroup.CertificateGroup, error) {
	g, ok := s.groups[id]
	if !ok {
		return nil, certgroup.ErrGroupNotFound
	}
	return g, nil
}

// Open opens a group's trust list file. Read handles snapshot the complete
// encoded trust list eagerly; write handles erase and accumulate a
// replacement image and acquire the server transaction.
func (s *Service) Open(session uuid.UUID, group certgroup.GroupID, mode OpenMode) (uint32, error) {
	return s.open(session, group, mode, trustlist.MaskAll)
}

// OpenWithMask opens a read handle whose snapshot is restricted to the trust
// list categories selected by mask.
func (s *Service) OpenWithMask(session uuid.UUID, group certgroup.GroupID, mask trustlist.Mask) (uint32, error) {
	if !mask.Valid() {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, trustlist.ErrMaskInvalid)
	}
	return s.open(session, group, OpenModeRead, mask)
}

func (s *Service) open(session uuid.UUID, groupID certgroup.GroupID, mode OpenMode, mask trustlist.Mask) (handle uint32, err error) {
	defer func() { metrics.RecordOperation(metrics.OpOpen, string(groupID), err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.authorize(session); err != nil {
		return 0, err
	}
	g, err := s.group(groupID)
	if err != nil {
		return 0, err
	}
	if !mode.valid() {
		return 0, fmt.Errorf("%w: unsupported open mode %#x", ErrInvalidState, uint8(mode))
	}

	// No opens of either mode while a transaction is staged, the owning
	// session included. Opening for write acquires the transaction, so an
	// open write handle blocks every further open until the changes are
	// applied or discarded.
	if s.tx != nil && s.tx.state == TransactionPending {
		return 0, ErrTransactionPending
	}

	if mode.writable() {
		// Replacing the trust list requires exclusive access.
		if len(s.handles) > 0 {
			return 0, fmt.Errorf("%w: trust list has open handles", ErrNotWritable)
		}
		if err = s.acquireTransaction(session); err != nil {
			return 0, err
		}
	}

	h := &fileHandle{
		id:      s.allocHandle(),
		session: session,
		group:   groupID,
		mode:    mode,
	}
	if mode.readable() {
		list, listErr := g.TrustList(mask)
		if listErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrInternal, listErr)
		}
		h.snapshot, err = list.Encode()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}
	s.handles[h.id] = h
	s.publishFileInfo(groupID)
	s.ensureSweepLocked()
	return h.id, nil
}

// Read returns up to length bytes from a read handle's snapshot, advancing
// the position. Returns an empty slice at end of file.
func (s *Service) Read(session uuid.UUID, handle uint32, length int32) (data []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.authorize(session); err != nil {
		return nil, err
	}
	h, err := s.ownedHandle(session, handle)
	if err != nil {
		return nil, err
	}
	defer func() { metrics.RecordOperation(metrics.OpRead, string(h.group), err) }()

	if !h.mode.readable() {
		return nil, fmt.Errorf("%w: handle not open for reading", ErrInvalidState)
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: negative read length", ErrInvalidArgument)
	}

	remaining := len(h.snapshot) - h.pos
	n := int(length)
	if n > remaining {
		n = remaining
	}
	out := make([]byte, n)
	copy(out, h.snapshot[h.pos:h.pos+n])
	h.pos += n
	return out, nil
}

// Write appends data to a write handle's replacement image. An empty write
// is a successful no-op.
func (s *Service) Write(session uuid.UUID, handle uint32, data []byte) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.authorize(session); err != nil {
		return err
	}
	h, err := s.ownedHandle(session, handle)
	if err != nil {
		return err
	}
	defer func() { metrics.RecordOperation(metrics.OpWrite, string(h.group), err) }()

	if !h.mode.writable() {
		return fmt.Errorf("%w: handle not open for writing", ErrInvalidState)
	}
	if len(data) == 0 {
		return nil
	}
	h.writeBuf.Write(data)
	return nil
}

// Close closes a handle without applying anything. Closing a write handle
// discards the transaction.
func (s *Service) Close(session uuid.UUID, handle uint32) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.authorize(session); err != nil {
		return err
	}
	h, err := s.ownedHandle(session, handle)
	if err != nil {
		return err
	}
	defer func() { metrics.RecordOperation(metrics.OpClose, string(h.group), err) }()

	if h.mode.writable() {
		s.discardTransactionLocked("write handle closed without update")
	}
	delete(s.handles, handle)
	s.publishFileInfo(h.group)
	return nil
}

// CloseAndUpdate decodes the written image into the transaction's staging
// group and closes the handle. The staged changes remain pending until
// ApplyChanges. Returns true: applying the changes is still required.
func (s *Service) CloseAndUpdate(session uuid.UUID, handle uint32) (applyRequired bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.authorize(session); err != nil {
		return false, err
	}
	h, err := s.ownedHandle(session, handle)
	if err != nil {
		return false, err
	}
	defer func() { metrics.RecordOperation(metrics.OpCloseAndUpdate, string(h.group), err) }()

	if !h.mode.writable() {
		return false, fmt.Errorf("%w: handle not open for writing", ErrInvalidState)
	}
	if s.tx == nil || !s.tx.ownedBy(session) {
		return false, fmt.Errorf("%w: no transaction for session", ErrInvalidState)
	}

	list, decodeErr := trustlist.Decode(h.writeBuf.Bytes())
	if decodeErr != nil {
		// A malformed image discards the handle but keeps the transaction
		// so the session can retry.
		delete(s.handles, handle)
		s.publishFileInfo(h.group)
		return false, fmt.Errorf("%w: %v", ErrTypeMismatch, decodeErr)
	}

	g, err := s.group(h.group)
	if err != nil {
		return false, err
	}
	staged, err := s.tx.stagedGroup(g)
	if err != nil {
		return false, err
	}
	if err = staged.SetTrustList(list); err != nil {
		return false, err
	}

	delete(s.handles, handle)
	s.publishFileInfo(h.group)
	return true, nil
}

// GetPosition returns the handle's current position.
func (s *Service) GetPosition(session uuid.UUID, handle uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(session); err != nil {
		return 0, err
	}
	h, err := s.ownedHandle(session, handle)
	if err != nil {
		return 0, err
	}
	return uint64(h.pos), nil
}

// SetPosition moves the handle's position, clamping to the end of the file.
func (s *Service) SetPosition(session uuid.UUID, handle uint32, pos uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(session); err != nil {
		return err
	}
	h, err := s.ownedHandle(session, handle)
	if err != nil {
		return err
	}
	limit := uint64(h.size())
	if pos > limit {
		pos = limit
	}
	h.pos = int(pos)
	return nil
}

// FileInfo returns the published state of a group's trust list file.
func (s *Service) FileInfo(group certgroup.GroupID) (FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.group(group)
	if err != nil {
		return FileInfo{}, err
	}
	list, err := g.TrustList(trustlist.MaskAll)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	encoded, err := list.Encode()
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return FileInfo{
		OpenCount:  s.openCount(group),
		LastUpdate: g.LastUpdate(),
		Size:       len(encoded),
		Writable:   len(s.handles) == 0 && (s.tx == nil || s.tx.state != TransactionPending),
	}, nil
}

// AddCertificate adds a single non-CA certificate to a group's trusted
// category, bypassing the transaction. CA certificates are refused because
// this method cannot carry the CRLs they require.
func (s *Service) AddCertificate(session uuid.UUID, groupID certgroup.GroupID, der []byte, isTrusted bool) (err error) {
	defer func() { metrics.RecordOperation(metrics.OpAddCertificate, string(groupID), err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.authorize(session); err != nil {
		return err
	}
	g, err := s.group(groupID)
	if err != nil {
		return err
	}
	if !isTrusted {
		return fmt.Errorf("%w: issuer certificates require CRLs, write the trust list instead", ErrNotSupported)
	}
	if len(der) == 0 {
		return fmt.Errorf("%w: empty certificate", ErrInvalidArgument)
	}
	if err = s.requireQuiescent(groupID); err != nil {
		return err
	}

	cert, parseErr := x509.ParseCertificate(der)
	if parseErr != nil {
		return fmt.Errorf("%w: %v", certgroup.ErrCertificateInvalid, parseErr)
	}
	if cert.IsCA && cert.KeyUsage&(x509.KeyUsageCertSign|x509.KeyUsageCRLSign) != 0 {
		s.logger.Warnf("refusing to add CA certificate %q without CRLs", cert.Subject.CommonName)
		return fmt.Errorf("%w: CA certificates require CRLs", ErrInvalidArgument)
	}

	if err = g.AddToTrustList(&trustlist.TrustList{
		Mask:                trustlist.MaskTrustedCertificates,
		TrustedCertificates: [][]byte{der},
	}); err != nil {
		return err
	}
	s.publishFileInfo(groupID)
	return nil
}

// RemoveCertificate removes the certificate identified by thumbprint from a
// group's trusted or issuer category, together with every CRL it issued.
func (s *Service) RemoveCertificate(session uuid.UUID, groupID certgroup.GroupID, thumbprint string, isTrusted bool) (err error) {
	defer func() { metrics.RecordOperation(metrics.OpRemoveCert, string(groupID), err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.authorize(session); err != nil {
		return err
	}
	g, err := s.group(groupID)
	if err != nil {
		return err
	}
	if err = s.requireQuiescent(groupID); err != nil {
		return err
	}

	list, listErr := g.TrustList(trustlist.MaskAll)
	if listErr != nil {
		return fmt.Errorf("%w: %v", ErrInternal, listErr)
	}
	certs := list.TrustedCertificates
	if !isTrusted {
		certs = list.IssuerCertificates
	}

	var match []byte
	for _, der := range certs {
		if certgroup.ThumbprintMatches(thumbprint, der) {
			match = der
			break
		}
	}
	if match == nil {
		s.logger.Warnf("certificate to remove was not found in group %s", groupID)
		return fmt.Errorf("%w: certificate not found", ErrInvalidArgument)
	}

	delta := &trustlist.TrustList{}
	crls := list.TrustedCRLs
	if isTrusted {
		delta.Mask = trustlist.MaskTrustedCertificates | trustlist.MaskTrustedCRLs
		delta.TrustedCertificates = [][]byte{match}
		delta.TrustedCRLs = issuedCRLs(match, crls)
	} else {
		crls = list.IssuerCRLs
		delta.Mask = trustlist.MaskIssuerCertificates | trustlist.MaskIssuerCRLs
		delta.IssuerCertificates = [][]byte{match}
		delta.IssuerCRLs = issuedCRLs(match, crls)
	}

	if err = g.RemoveFromTrustList(delta); err != nil {
		return err
	}
	s.publishFileInfo(groupID)
	return nil
}

// issuedCRLs returns the CRLs from candidates issued and signed by the DER
// certificate.
func issuedCRLs(der []byte, candidates [][]byte) [][]byte {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil
	}
	var out [][]byte
	for _, crlDER := range candidates {
		crl, err := x509.ParseRevocationList(crlDER)
		if err != nil {
			continue
		}
		if !bytes.Equal(crl.RawIssuer, cert.RawSubject) {
			continue
		}
		if crl.CheckSignatureFrom(cert) != nil {
			continue
		}
		out = append(out, crlDER)
	}
	return out
}

// UpdateCertificate validates and stages a server certificate replacement in
// the transaction. The change takes effect on ApplyChanges. Returns true:
// apply-changes is required.
func (s *Service) UpdateCertificate(session uuid.UUID, groupID certgroup.GroupID, certType certgroup.CertificateType,
	der []byte, issuers [][]byte, keyFormat string, key []byte, keyPassword string) (applyRequired bool, err error) {
	defer func() { metrics.RecordOperation(metrics.OpUpdateCert, string(groupID), err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.authorize(session); err != nil {
		return false, err
	}
	g, err := s.group(groupID)
	if err != nil {
		return false, err
	}
	if !supportsType(g, certType) {
		return false, fmt.Errorf("%w: certificate type %q", ErrNotSupported, certType)
	}
	cert, parseErr := x509.ParseCertificate(der)
	if parseErr != nil {
		return false, fmt.Errorf("%w: %v", certgroup.ErrCertificateInvalid, parseErr)
	}

	var signer crypto.Signer
	if len(key) > 0 {
		if keyFormat != keyutil.FormatPEM && keyFormat != keyutil.FormatPFX {
			return false, fmt.Errorf("%w: private key format %q", ErrNotSupported, keyFormat)
		}
		signer, err = keyutil.ParsePrivateKey(keyFormat, key, keyPassword)
		if err != nil {
			return false, err
		}
	} else {
		signer, err = s.existingKey(certType)
		if err != nil {
			return false, err
		}
	}
	if err = keyutil.MatchesCertificate(signer, cert); err != nil {
		return false, err
	}

	if err = s.acquireTransaction(session); err != nil {
		return false, err
	}
	s.tx.stageCertificate(stagedCertificate{
		group:       groupID,
		certType:    certType,
		certificate: der,
		issuers:     issuers,
		signer:      signer,
	})
	s.ensureSweepLocked()
	return true, nil
}

// existingKey resolves the key a no-key certificate update pairs with: a key
// regenerated by a prior signing request, falling back to the active
// endpoint key.
func (s *Service) existingKey(certType certgroup.CertificateType) (crypto.Signer, error) {
	if signer, ok := s.csrKeys[certType]; ok {
		return signer, nil
	}
	if s.endpoints == nil {
		return nil, fmt.Errorf("%w: no private key available", ErrInvalidArgument)
	}
	_, signer, err := s.endpoints.Certificate(certType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return signer, nil
}

// CreateSigningRequest produces a PKCS#10 DER signing request for a
// certificate type, optionally regenerating the key pair. A regenerated key
// is held until the signed certificate arrives via UpdateCertificate.
func (s *Service) CreateSigningRequest(session uuid.UUID, groupID certgroup.GroupID, certType certgroup.CertificateType,
	subjectName string, regenerateKey bool, nonce []byte) (csr []byte, err error) {
	defer func() { metrics.RecordOperation(metrics.OpSigningRequest, string(groupID), err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.authorize(session); err != nil {
		return nil, err
	}
	g, err := s.group(groupID)
	if err != nil {
		return nil, err
	}
	if !supportsType(g, certType) {
		return nil, fmt.Errorf("%w: certificate type %q", ErrNotSupported, certType)
	}
	if s.endpoints == nil {
		return nil, fmt.Errorf("%w: no endpoint certificates", ErrInternal)
	}
	current, signer, err := s.endpoints.Certificate(certType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if regenerateKey {
		reader := io.Reader(nil)
		if len(nonce) > 0 {
			seed := make([]byte, 0, len(nonce)+32)
			seed = append(seed, nonce...)
			var fresh [32]byte
			if _, randErr := rand.Read(fresh[:]); randErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrInternal, randErr)
			}
			seed = append(seed, fresh[:]...)
			reader, err = keyutil.NewNonceReader(seed)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
		}
		signer, err = keyutil.GenerateKey(certType, reader)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		s.csrKeys[certType] = signer
	}

	subject := pkix.Name{}
	if subjectName != "" {
		subject.CommonName = subjectName
	}
	csr, err = keyutil.CreateSigningRequest(signer, subject, current)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return csr, nil
}

// RejectedList aggregates the rejected certificates of every group, newest
// first per group, with duplicates across groups removed.
func (s *Service) RejectedList(session uuid.UUID) (certs [][]byte, err error) {
	defer func() { metrics.RecordOperation(metrics.OpGetRejectedList, "", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.authorize(session); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, id := range []certgroup.GroupID{certgroup.GroupApplication, certgroup.GroupUserToken} {
		g, ok := s.groups[id]
		if !ok {
			continue
		}
		rejected, listErr := g.RejectedList()
		if listErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, listErr)
		}
		for _, der := range rejected {
			tp := certgroup.Thumbprint(der)
			if !seen[tp] {
				seen[tp] = true
				certs = append(certs, der)
			}
		}
	}
	return certs, nil
}

// ApplyChanges commits the session's pending transaction: staged trust lists
// are written to their durable groups, then staged certificates are
// installed on the endpoints. The transaction is released before returning;
// a deferred sweep then enforces the changes on live connections. Trust list
// changes applied before a certificate failure are not rolled back; the
// error reports the partial state.
func (s *Service) ApplyChanges(session uuid.UUID) (err error) {
	defer func() { metrics.RecordOperation(metrics.OpApplyChanges, "", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.authorize(session); err != nil {
		return err
	}
	if s.tx == nil || s.tx.state != TransactionPending {
		return ErrNothingToDo
	}
	if !s.tx.ownedBy(session) {
		return ErrTransactionPending
	}
	if len(s.handles) > 0 {
		return fmt.Errorf("%w: trust list has open handles", ErrInvalidState)
	}
	if s.tx.empty() {
		s.discardTransactionLocked("empty transaction applied")
		return ErrNothingToDo
	}

	trustChanged := make([]certgroup.GroupID, 0, len(s.tx.staged))
	for id, staged := range s.tx.staged {
		target, groupErr := s.group(id)
		if groupErr != nil {
			s.discardTransactionLocked("staged group vanished")
			return groupErr
		}
		list, listErr := staged.TrustList(trustlist.MaskAll)
		if listErr != nil {
			s.discardTransactionLocked("staging group unreadable")
			return fmt.Errorf("%w: %v", ErrInternal, listErr)
		}
		if err = target.SetTrustList(list); err != nil {
			s.discardTransactionLocked("trust list apply failed")
			return err
		}
		trustChanged = append(trustChanged, id)
		s.publishFileInfo(id)
	}

	certChanged := false
	for _, sc := range s.tx.certs {
		if s.endpoints == nil {
			s.discardTransactionLocked("no endpoints for staged certificate")
			return fmt.Errorf("%w: no endpoint certificates", ErrInternal)
		}
		applied, updateErr := s.endpoints.UpdateCertificate(sc.certType, sc.certificate, sc.issuers, sc.signer)
		if updateErr != nil {
			s.discardTransactionLocked("certificate apply failed")
			return fmt.Errorf("certificate update for %s: %w", sc.certType, updateErr)
		}
		if applied {
			certChanged = true
			delete(s.csrKeys, sc.certType)
		}
	}

	metrics.TransactionsTotal.WithLabelValues("committed").Inc()
	s.logger.Infof("trust store changes applied: groups=%d certificates=%d",
		len(trustChanged), len(s.tx.certs))

	// The transaction is released here, not by the sweep: a second
	// apply-changes must find nothing to do even before the sweep ran. The
	// sweep carries the change classification by value.
	s.tx = nil
	s.sched.Defer(func() { s.connectionSweep(certChanged, trustChanged) })
	return nil
}

func supportsType(g certgroup.CertificateGroup, certType certgroup.CertificateType) bool {
	for _, t := range g.CertificateTypes() {
		if t == certType {
			return true
		}
	}
	return false
}

// requireQuiescent fails when the group's trust list has open handles or a
// transaction is staged.
func (s *Service) requireQuiescent(group certgroup.GroupID) error {
	if s.openCount(group) > 0 {
		return fmt.Errorf("%w: trust list is open", ErrInvalidState)
	}
	if s.tx != nil && s.tx.state == TransactionPending {
		return ErrTransactionPending
	}
	return nil
}

// acquireTransaction creates or re-acquires the server transaction for the
// session. Caller holds the service mutex.
func (s *Service) acquireTransaction(session uuid.UUID) error {
	if s.tx == nil {
		s.tx = newTransaction()
	}
	if err := s.tx.acquire(session); err != nil {
		return err
	}
	s.ensureSweepLocked()
	return nil
}

// discardTransactionLocked drops the transaction and its staged state.
// Caller holds the service mutex.
func (s *Service) discardTransactionLocked(reason string) {
	if s.tx == nil {
		return
	}
	s.logger.Infof("transaction discarded: %s", reason)
	metrics.TransactionsTotal.WithLabelValues("discarded").Inc()
	s.tx = nil
}

// publishFileInfo mirrors a group's open count and trust list state into the
// metrics gauges. Caller holds the service mutex.
func (s *Service) publishFileInfo(group certgroup.GroupID) {
	g, ok := s.groups[group]
	if !ok {
		return
	}
	metrics.OpenFileHandles.WithLabelValues(string(group)).Set(float64(s.openCount(group)))
	if list, err := g.TrustList(trustlist.MaskAll); err == nil {
		metrics.PublishGroupState(string(group), list.Count(), g.LastUpdate())
	}
}

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

// Package memstore provides an in-memory certificate group. It backs the
// staging groups of a trust store transaction, where trust list deltas
// accumulate before being applied to the durable group, and is the group of
// choice in tests.
package memstore

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
	"github.com/jeremyhahn/go-truststore/pkg/logging"
	"github.com/jeremyhahn/go-truststore/pkg/metrics"
	"github.com/jeremyhahn/go-truststore/pkg/trustlist"
)

// DefaultMaxRejected bounds the rejected list when no limit is configured.
const DefaultMaxRejected = 100

// Group is an in-memory certgroup.CertificateGroup. It is thread-safe.
type Group struct {
	mu          sync.RWMutex
	id          certgroup.GroupID
	types       []certgroup.CertificateType
	list        *trustlist.TrustList
	rejected    [][]byte
	maxRejected int
	lastUpdate  time.Time
	verifier    *certgroup.Verifier
}

// Config configures an in-memory group.
type Config struct {
	ID               certgroup.GroupID
	CertificateTypes []certgroup.CertificateType
	MaxRejected      int
	Logger           *logging.Logger
}

// New creates an empty in-memory group.
func New(cfg Config) *Group {
	types := cfg.CertificateTypes
	if len(types) == 0 {
		types = []certgroup.CertificateType{certgroup.CertificateTypeRSASha256}
	}
	maxRejected := cfg.MaxRejected
	if maxRejected <= 0 {
		maxRejected = DefaultMaxRejected
	}
	return &Group{
		id:          cfg.ID,
		types:       types,
		list:        trustlist.New(),
		maxRejected: maxRejected,
		verifier:    certgroup.NewVerifier(cfg.Logger),
	}
}

// NewSeeded creates an in-memory group initialized with a copy of the given
// trust list. Used to stage transaction deltas against a durable group's
// current content.
func NewSeeded(cfg Config, seed *trustlist.TrustList) *Group {
	g := New(cfg)
	if seed != nil {
		g.list = seed.Clone()
		g.list.Mask = trustlist.MaskAll
	}
	return g
}

// ID returns the group identity.
func (g *Group) ID() certgroup.GroupID { return g.id }

// CertificateTypes returns the certificate types the group supports.
func (g *Group) CertificateTypes() []certgroup.CertificateType { return g.types }

// TrustList returns a copy of the trust list restricted to mask.
func (g *Group) TrustList(mask trustlist.Mask) (*trustlist.TrustList, error) {
	if !mask.Valid() {
		return nil, trustlist.ErrMaskInvalid
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.list.Filter(mask), nil
}

// SetTrustList replaces the categories selected by the list's mask.
func (g *Group) SetTrustList(list *trustlist.TrustList) error {
	if err := validate(list); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.list.Replace(list)
	g.lastUpdate = time.Now()
	return nil
}

// AddToTrustList merges the list's entries, skipping duplicates.
func (g *Group) AddToTrustList(list *trustlist.TrustList) error {
	if err := validate(list); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.list.Merge(list) > 0 {
		g.lastUpdate = time.Now()
	}
	return nil
}

// RemoveFromTrustList removes the list's entries.
func (g *Group) RemoveFromTrustList(list *trustlist.TrustList) error {
	if !list.Mask.Valid() {
		return trustlist.ErrMaskInvalid
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.list.Remove(list) > 0 {
		g.lastUpdate = time.Now()
	}
	return nil
}

// RejectedList returns the rejected certificates, newest first.
func (g *Group) RejectedList() ([][]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([][]byte, len(g.rejected))
	for i, der := range g.rejected {
		out[i] = bytes.Clone(der)
	}
	return out, nil
}

// AddToRejectedList records a rejected certificate, evicting the oldest
// entry once the list is full. Duplicates are ignored.
func (g *Group) AddToRejectedList(der []byte) error {
	if len(der) == 0 {
		return certgroup.ErrEntryInvalid
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.rejected {
		if bytes.Equal(existing, der) {
			return nil
		}
	}
	g.rejected = append([][]byte{bytes.Clone(der)}, g.rejected...)
	if len(g.rejected) > g.maxRejected {
		g.rejected = g.rejected[:g.maxRejected]
	}
	metrics.RecordRejectedCertificate(string(g.id))
	return nil
}

// VerifyCertificate verifies der against the group's trust list. Untrusted
// certificates and certificates with unknown revocation status are recorded
// on the rejected list.
func (g *Group) VerifyCertificate(der []byte, extraIssuers ...[]byte) error {
	g.mu.RLock()
	list := g.list.Clone()
	g.mu.RUnlock()

	err := g.verifier.Verify(list, der, extraIssuers...)
	metrics.RecordVerification(string(g.id), certgroup.VerificationResult(err))
	if err != nil && certgroup.RecordRejected(err) {
		// Best effort, never masks the verification result.
		_ = g.AddToRejectedList(der)
	}
	return err
}

// LastUpdate returns the time of the last trust list mutation.
func (g *Group) LastUpdate() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastUpdate
}

// Clear drops every trust list entry.
func (g *Group) Clear() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.list = trustlist.New()
	g.lastUpdate = time.Now()
	return nil
}

// validate checks the mask and that certificate entries parse as DER. CRL
// entries are checked likewise. Invalid entries never enter the store.
func validate(list *trustlist.TrustList) error {
	if !list.Mask.Valid() {
		return trustlist.ErrMaskInvalid
	}
	check := func(entries [][]byte, parse func([]byte) error) error {
		for _, der := range entries {
			if err := parse(der); err != nil {
				return fmt.Errorf("%w: %v", certgroup.ErrEntryInvalid, err)
			}
		}
		return nil
	}
	parseCert := func(der []byte) error {
		_, err := x509.ParseCertificate(der)
		return err
	}
	parseCRL := func(der []byte) error {
		_, err := x509.ParseRevocationList(der)
		return err
	}
	if list.Mask.Has(trustlist.MaskTrustedCertificates) {
		if err := check(list.TrustedCertificates, parseCert); err != nil {
			return err
		}
	}
	if list.Mask.Has(trustlist.MaskIssuerCertificates) {
		if err := check(list.IssuerCertificates, parseCert); err != nil {
			return err
		}
	}
	if list.Mask.Has(trustlist.MaskTrustedCRLs) {
		if err := check(list.TrustedCRLs, parseCRL); err != nil {
			return err
		}
	}
	if list.Mask.Has(trustlist.MaskIssuerCRLs) {
		if err := check(list.IssuerCRLs, parseCRL); err != nil {
			return err
		}
	}
	return nil
}

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

// Package filestore provides the durable, file-backed certificate group.
// Every trust list entry is one file under the group's directory:
//
//	<root>/trusted/certs  trusted certificates
//	<root>/trusted/crl    CRLs issued by trusted certificates
//	<root>/issuer/certs   issuer certificates
//	<root>/issuer/crl     CRLs issued by issuer certificates
//	<root>/rejected/certs certificates rejected by verification
//
// Files are the source of truth: the group loads them at startup and keeps
// the directories in sync after every mutation. Thread-safe via RWMutex.
package filestore

import (
	"bytes"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
	"github.com/jeremyhahn/go-truststore/pkg/logging"
	"github.com/jeremyhahn/go-truststore/pkg/metrics"
	"github.com/jeremyhahn/go-truststore/pkg/trustlist"
)

const (
	dirPerms  = 0700
	filePerms = 0644

	// DefaultMaxRejected bounds the rejected list when no limit is configured.
	DefaultMaxRejected = 100

	maxFileNameCN = 64
)

var categoryDirs = []string{
	"trusted/certs",
	"trusted/crl",
	"issuer/certs",
	"issuer/crl",
	"rejected/certs",
}

// Config configures a file-backed group.
type Config struct {
	// Root is the group's directory. Created if missing.
	Root string

	// ID is the group identity.
	ID certgroup.GroupID

	// CertificateTypes the group supports. Defaults to rsa-sha256.
	CertificateTypes []certgroup.CertificateType

	// MaxRejected bounds the rejected list. Defaults to DefaultMaxRejected.
	MaxRejected int

	Logger *logging.Logger
}

// Group is a file-backed certgroup.CertificateGroup.
type Group struct {
	mu          sync.RWMutex
	id          certgroup.GroupID
	types       []certgroup.CertificateType
	root        string
	list        *trustlist.TrustList
	maxRejected int
	lastUpdate  time.Time
	verifier    *certgroup.Verifier
	logger      *logging.Logger
}

// New creates a file-backed group rooted at cfg.Root, creating the category
// directories and loading any existing entries.
func New(cfg Config) (*Group, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("filestore: root directory cannot be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	types := cfg.CertificateTypes
	if len(types) == 0 {
		types = []certgroup.CertificateType{certgroup.CertificateTypeRSASha256}
	}
	maxRejected := cfg.MaxRejected
	if maxRejected <= 0 {
		maxRejected = DefaultMaxRejected
	}

	for _, dir := range categoryDirs {
		if err := os.MkdirAll(filepath.Join(cfg.Root, dir), dirPerms); err != nil {
			return nil, fmt.Errorf("filestore: failed to create %s: %w", dir, err)
		}
	}

	g := &Group{
		id:          cfg.ID,
		types:       types,
		root:        cfg.Root,
		list:        trustlist.New(),
		maxRejected: maxRejected,
		verifier:    certgroup.NewVerifier(logger),
		logger:      logger,
	}
	if err := g.load(); err != nil {
		return nil, err
	}
	return g, nil
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

// SetTrustList replaces the categories selected by the list's mask and
// rewrites the affected directories.
func (g *Group) SetTrustList(list *trustlist.TrustList) error {
	if !list.Mask.Valid() {
		return trustlist.ErrMaskInvalid
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.list.Clone()
	next.Replace(list)
	if err := g.sync(next); err != nil {
		return err
	}
	g.list = next
	g.lastUpdate = time.Now()
	return nil
}

// AddToTrustList merges the list's entries, skipping duplicates.
func (g *Group) AddToTrustList(list *trustlist.TrustList) error {
	if !list.Mask.Valid() {
		return trustlist.ErrMaskInvalid
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.list.Clone()
	if next.Merge(list) == 0 {
		return nil
	}
	if err := g.sync(next); err != nil {
		return err
	}
	g.list = next
	g.lastUpdate = time.Now()
	return nil
}

// RemoveFromTrustList removes the list's entries.
func (g *Group) RemoveFromTrustList(list *trustlist.TrustList) error {
	if !list.Mask.Valid() {
		return trustlist.ErrMaskInvalid
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.list.Clone()
	if next.Remove(list) == 0 {
		return nil
	}
	if err := g.sync(next); err != nil {
		return err
	}
	g.list = next
	g.lastUpdate = time.Now()
	return nil
}

// RejectedList returns the rejected certificates, newest first.
func (g *Group) RejectedList() ([][]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entries, err := g.loadDirByTime(filepath.Join(g.root, "rejected/certs"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", certgroup.ErrStorage, err)
	}
	return entries, nil
}

// AddToRejectedList records a rejected certificate, evicting the oldest
// files once the list is full. Duplicates are ignored.
func (g *Group) AddToRejectedList(der []byte) error {
	if len(der) == 0 {
		return certgroup.ErrEntryInvalid
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	dir := filepath.Join(g.root, "rejected/certs")
	existing, err := g.loadDirByTime(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", certgroup.ErrStorage, err)
	}
	for _, e := range existing {
		if bytes.Equal(e, der) {
			return nil
		}
	}

	name := entryFileName(der, false)
	if err := os.WriteFile(filepath.Join(dir, name), der, filePerms); err != nil {
		return fmt.Errorf("%w: %v", certgroup.ErrStorage, err)
	}
	g.pruneRejected(dir)
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
		if rejErr := g.AddToRejectedList(der); rejErr != nil {
			g.logger.Warnf("failed to record rejected certificate: %v", rejErr)
		}
	}
	return err
}

// LastUpdate returns the time of the last trust list mutation.
func (g *Group) LastUpdate() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastUpdate
}

// Clear drops every trust list entry and deletes the backing files.
func (g *Group) Clear() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := trustlist.New()
	if err := g.sync(next); err != nil {
		return err
	}
	g.list = next
	g.lastUpdate = time.Now()
	return nil
}

// load reads the category directories into the in-memory trust list.
func (g *Group) load() error {
	read := func(dir string) ([][]byte, error) {
		return g.loadDirSorted(filepath.Join(g.root, dir))
	}
	var err error
	list := trustlist.New()
	if list.TrustedCertificates, err = read("trusted/certs"); err != nil {
		return err
	}
	if list.TrustedCRLs, err = read("trusted/crl"); err != nil {
		return err
	}
	if list.IssuerCertificates, err = read("issuer/certs"); err != nil {
		return err
	}
	if list.IssuerCRLs, err = read("issuer/crl"); err != nil {
		return err
	}
	g.list = list
	return nil
}

// sync brings the four trust list category directories in line with next.
func (g *Group) sync(next *trustlist.TrustList) error {
	steps := []struct {
		dir     string
		entries [][]byte
	}{
		{"trusted/certs", next.TrustedCertificates},
		{"trusted/crl", next.TrustedCRLs},
		{"issuer/certs", next.IssuerCertificates},
		{"issuer/crl", next.IssuerCRLs},
	}
	for _, step := range steps {
		if err := g.syncDir(filepath.Join(g.root, step.dir), step.entries); err != nil {
			return fmt.Errorf("%w: %s: %v", certgroup.ErrStorage, step.dir, err)
		}
	}
	return nil
}

// syncDir writes entries missing from dir and deletes files whose content is
// no longer in entries.
func (g *Group) syncDir(dir string, entries [][]byte) error {
	onDisk := map[string][]byte{}
	files, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name())) // #nosec G304 - paths come from our directory walk
		if err != nil {
			return err
		}
		onDisk[f.Name()] = data
	}

	keep := map[string]bool{}
	for _, der := range entries {
		found := ""
		for name, data := range onDisk {
			if bytes.Equal(data, der) {
				found = name
				break
			}
		}
		if found == "" {
			found = entryFileName(der, strings.HasSuffix(dir, "crl"))
			if err := os.WriteFile(filepath.Join(dir, found), der, filePerms); err != nil {
				return err
			}
		}
		keep[found] = true
	}

	for name := range onDisk {
		if !keep[name] {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadDirSorted returns the contents of every file in dir, ordered by file
// name for deterministic trust list ordering across restarts.
func (g *Group) loadDirSorted(dir string) ([][]byte, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", certgroup.ErrStorage, err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	out := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("%w: %v", certgroup.ErrStorage, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// loadDirByTime returns the contents of every file in dir, newest first.
func (g *Group) loadDirByTime(dir string) ([][]byte, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type entry struct {
		name string
		mod  time.Time
	}
	infos := make([]entry, 0, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		info, err := f.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, entry{name: f.Name(), mod: info.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].mod.Equal(infos[j].mod) {
			return infos[i].name > infos[j].name
		}
		return infos[i].mod.After(infos[j].mod)
	})

	out := make([][]byte, 0, len(infos))
	for _, e := range infos {
		data, err := os.ReadFile(filepath.Join(dir, e.name)) // #nosec G304
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// pruneRejected deletes the oldest rejected certificates beyond the limit.
// Failures are logged, never surfaced.
func (g *Group) pruneRejected(dir string) {
	files, err := os.ReadDir(dir)
	if err != nil || len(files) <= g.maxRejected {
		return
	}
	type entry struct {
		name string
		mod  time.Time
	}
	infos := make([]entry, 0, len(files))
	for _, f := range files {
		info, err := f.Info()
		if err != nil {
			continue
		}
		infos = append(infos, entry{name: f.Name(), mod: info.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].mod.Before(infos[j].mod) })
	for _, e := range infos[:len(infos)-g.maxRejected] {
		if err := os.Remove(filepath.Join(dir, e.name)); err != nil {
			g.logger.Warnf("failed to prune rejected certificate %s: %v", e.name, err)
		}
	}
}

// entryFileName derives a stable file name for a DER entry: the sanitized
// subject (or issuer, for CRLs) common name followed by the bracketed SHA-1
// thumbprint. Entries that do not parse get a random hex name.
func entryFileName(der []byte, isCRL bool) string {
	cn := ""
	if isCRL {
		if crl, err := x509.ParseRevocationList(der); err == nil {
			cn = crl.Issuer.CommonName
		}
	} else {
		if cert, err := x509.ParseCertificate(der); err == nil {
			cn = cert.Subject.CommonName
		}
	}
	if cn == "" {
		var buf [20]byte
		if _, err := rand.Read(buf[:]); err == nil {
			return strings.ToUpper(hex.EncodeToString(buf[:]))
		}
	}
	return fmt.Sprintf("%s[%s]", sanitizeCN(cn), certgroup.Thumbprint(der))
}

// sanitizeCN keeps file names portable: anything outside [A-Za-z0-9._-] is
// replaced and overly long common names are truncated.
func sanitizeCN(cn string) string {
	var b strings.Builder
	for _, r := range cn {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		if b.Len() >= maxFileNameCN {
			break
		}
	}
	return b.String()
}

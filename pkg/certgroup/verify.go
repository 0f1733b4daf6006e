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
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-truststore/pkg/logging"
	"github.com/jeremyhahn/go-truststore/pkg/trustlist"
)

// Verifier verifies peer certificates against a trust list and classifies
// failures into the verification sentinel errors.
type Verifier struct {
	logger *logging.Logger
}

// NewVerifier creates a verifier. A nil logger falls back to the default.
func NewVerifier(logger *logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Verifier{logger: logger}
}

// Verify verifies the DER certificate against the trust list. Extra issuer
// certificates join the intermediates pool for chain building; trust still
// comes from the list alone.
//
// An empty trust list accepts every certificate; this keeps a freshly
// provisioned server reachable but is logged as a warning on every
// verification.
func (v *Verifier) Verify(list *trustlist.TrustList, der []byte, extraIssuers ...[]byte) error {
	if len(der) == 0 {
		return ErrCertificateInvalid
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
	}

	if list == nil || list.IsEmpty() {
		v.logger.Warnf("certificate verification skipped, trust list is empty: accepting %q",
			cert.Subject.CommonName)
		return nil
	}

	// A CA certificate must not be used as an end entity.
	if cert.IsCA && cert.KeyUsage&(x509.KeyUsageCertSign|x509.KeyUsageCRLSign) != 0 {
		v.logger.Warnf("rejecting CA certificate %q presented as end entity",
			cert.Subject.CommonName)
		return ErrSecurityChecksFailed
	}

	roots, intermediates, parsed := buildPools(list)
	if len(parsed) == 0 {
		// The store has entries but none parsed as certificates.
		return ErrCertificateUntrusted
	}
	for _, issuerDER := range extraIssuers {
		if c, parseErr := x509.ParseCertificate(issuerDER); parseErr == nil {
			intermediates.AddCert(c)
		}
	}

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   time.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return classifyVerifyError(err)
	}

	chain := selectTrustedChain(chains, list)
	if chain == nil {
		return ErrCertificateUntrusted
	}

	return v.checkRevocation(chain, list)
}

// buildPools splits the trust list's certificate material into root and
// intermediate pools. Unparseable entries are skipped.
func buildPools(list *trustlist.TrustList) (*x509.CertPool, *x509.CertPool, []*x509.Certificate) {
	roots := x509.NewCertPool()
	intermediates := x509.NewCertPool()
	parsed := make([]*x509.Certificate, 0, len(list.TrustedCertificates)+len(list.IssuerCertificates))

	add := func(entries [][]byte) {
		for _, der := range entries {
			c, err := x509.ParseCertificate(der)
			if err != nil {
				continue
			}
			parsed = append(parsed, c)
			if isSelfSigned(c) {
				roots.AddCert(c)
			} else {
				intermediates.AddCert(c)
			}
		}
	}
	add(list.TrustedCertificates)
	add(list.IssuerCertificates)
	return roots, intermediates, parsed
}

func isSelfSigned(c *x509.Certificate) bool {
	if !bytes.Equal(c.RawIssuer, c.RawSubject) {
		return false
	}
	return c.CheckSignatureFrom(c) == nil
}

// selectTrustedChain returns the first chain containing a certificate from
// the trusted category, or nil when every chain terminates purely in issuer
// material.
func selectTrustedChain(chains [][]*x509.Certificate, list *trustlist.TrustList) []*x509.Certificate {
	for _, chain := range chains {
		for _, c := range chain {
			if list.ContainsTrusted(c.Raw) {
				return chain
			}
		}
	}
	return nil
}

// checkRevocation walks the chain leaf-to-root and checks each certificate
// against a CRL issued by its parent. A parent without any usable CRL makes
// the revocation status unknown.
func (v *Verifier) checkRevocation(chain []*x509.Certificate, list *trustlist.TrustList) error {
	crls := parseCRLs(list)
	now := time.Now()

	for i := 0; i < len(chain)-1; i++ {
		cert, issuer := chain[i], chain[i+1]
		found := false
		for _, crl := range crls {
			if !bytes.Equal(crl.RawIssuer, issuer.RawSubject) {
				continue
			}
			if err := crl.CheckSignatureFrom(issuer); err != nil {
				continue
			}
			if !crl.NextUpdate.IsZero() && now.After(crl.NextUpdate) {
				v.logger.Warnf("CRL for issuer %q expired at %s",
					issuer.Subject.CommonName, crl.NextUpdate)
				continue
			}
			found = true
			for _, revoked := range crl.RevokedCertificateEntries {
				if revoked.SerialNumber.Cmp(cert.SerialNumber) == 0 {
					return ErrCertificateRevoked
				}
			}
			break
		}
		if !found {
			v.logger.Warnf("no CRL available for issuer %q", issuer.Subject.CommonName)
			return ErrRevocationUnknown
		}
	}
	return nil
}

func parseCRLs(list *trustlist.TrustList) []*x509.RevocationList {
	out := make([]*x509.RevocationList, 0, len(list.TrustedCRLs)+len(list.IssuerCRLs))
	for _, der := range list.TrustedCRLs {
		if crl, err := x509.ParseRevocationList(der); err == nil {
			out = append(out, crl)
		}
	}
	for _, der := range list.IssuerCRLs {
		if crl, err := x509.ParseRevocationList(der); err == nil {
			out = append(out, crl)
		}
	}
	return out
}

func classifyVerifyError(err error) error {
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		if invalidErr.Reason == x509.Expired {
			return fmt.Errorf("%w: %v", ErrCertificateTimeInvalid, err)
		}
		return fmt.Errorf("%w: %v", ErrSecurityChecksFailed, err)
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return fmt.Errorf("%w: %v", ErrCertificateUntrusted, err)
	}
	return fmt.Errorf("%w: %v", ErrSecurityChecksFailed, err)
}

// RecordRejected is true for verification failures that must be appended to
// the group's rejected list.
func RecordRejected(err error) bool {
	return errors.Is(err, ErrCertificateUntrusted) || errors.Is(err, ErrRevocationUnknown)
}

// VerificationResult maps a verification outcome onto the result label of
// the verification metrics.
func VerificationResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrCertificateUntrusted):
		return "untrusted"
	case errors.Is(err, ErrCertificateTimeInvalid):
		return "time_invalid"
	case errors.Is(err, ErrCertificateRevoked):
		return "revoked"
	case errors.Is(err, ErrRevocationUnknown):
		return "revocation_unknown"
	case errors.Is(err, ErrCertificateInvalid):
		return "invalid"
	default:
		return "security_checks_failed"
	}
}

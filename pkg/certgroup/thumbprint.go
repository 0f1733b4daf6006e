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
	"crypto/sha1" // #nosec G505 - thumbprints identify certificates, they are not a security primitive
	"encoding/hex"
	"strings"
)

// ThumbprintLen is the length of a hex-encoded certificate thumbprint.
const ThumbprintLen = 40

// Thumbprint returns the SHA-1 digest of a DER certificate as 40 uppercase
// hex characters.
func Thumbprint(der []byte) string {
	sum := sha1.Sum(der)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ThumbprintMatches reports whether thumbprint identifies the given DER
// certificate. Comparison is case-insensitive.
func ThumbprintMatches(thumbprint string, der []byte) bool {
	if len(thumbprint) != ThumbprintLen {
		return false
	}
	return strings.EqualFold(thumbprint, Thumbprint(der))
}

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

package trustlist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire format: little-endian uint32 mask followed by the four categories in
// fixed order (trusted certificates, trusted CRLs, issuer certificates,
// issuer CRLs). Each category is an int32 entry count followed by
// int32-length-prefixed byte strings. A count of -1 encodes a category not
// selected by the mask.

const (
	nullArray = int32(-1)

	// maxEntries bounds the entry count of a single category during decode.
	maxEntries = 1 << 16

	// maxEntrySize bounds the byte length of a single DER entry during decode.
	maxEntrySize = 1 << 24
)

// Codec errors
var (
	// ErrEncodingInvalid is returned when a serialized trust list is malformed.
	ErrEncodingInvalid = errors.New("trustlist: invalid encoding")

	// ErrMaskInvalid is returned when a mask carries undefined category bits.
	ErrMaskInvalid = errors.New("trustlist: invalid specified lists mask")
)

// Encode serializes the trust list. Categories not selected by the list's
// mask are encoded as null arrays so the mask survives a round trip.
func (t *TrustList) Encode() ([]byte, error) {
	if !t.Mask.Valid() {
		return nil, ErrMaskInvalid
	}
	var buf bytes.Buffer
	writeUint32(&buf, uint32(t.Mask))
	encodeCategory(&buf, t.TrustedCertificates, t.Mask.Has(MaskTrustedCertificates))
	encodeCategory(&buf, t.TrustedCRLs, t.Mask.Has(MaskTrustedCRLs))
	encodeCategory(&buf, t.IssuerCertificates, t.Mask.Has(MaskIssuerCertificates))
	encodeCategory(&buf, t.IssuerCRLs, t.Mask.Has(MaskIssuerCRLs))
	return buf.Bytes(), nil
}

// Decode deserializes a trust list previously produced by Encode.
func Decode(data []byte) (*TrustList, error) {
	r := &reader{data: data}
	mask, err := r.uint32()
	if err != nil {
		return nil, err
	}
	t := &TrustList{Mask: Mask(mask)}
	if !t.Mask.Valid() {
		return nil, ErrMaskInvalid
	}
	if t.TrustedCertificates, err = r.category(); err != nil {
		return nil, fmt.Errorf("trusted certificates: %w", err)
	}
	if t.TrustedCRLs, err = r.category(); err != nil {
		return nil, fmt.Errorf("trusted CRLs: %w", err)
	}
	if t.IssuerCertificates, err = r.category(); err != nil {
		return nil, fmt.Errorf("issuer certificates: %w", err)
	}
	if t.IssuerCRLs, err = r.category(); err != nil {
		return nil, fmt.Errorf("issuer CRLs: %w", err)
	}
	if len(r.data[r.off:]) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrEncodingInvalid, len(r.data[r.off:]))
	}
	return t, nil
}

func encodeCategory(buf *bytes.Buffer, entries [][]byte, selected bool) {
	if !selected {
		writeInt32(buf, nullArray)
		return
	}
	writeInt32(buf, int32(len(entries)))
	for _, e := range entries {
		writeInt32(buf, int32(len(e)))
		buf.Write(e)
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt32(buf *bytes.Buffer, v int32) {
	writeUint32(buf, uint32(v))
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) uint32() (uint32, error) {
	if len(r.data)-r.off < 4 {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrEncodingInvalid, r.off)
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) category() ([][]byte, error) {
	raw, err := r.uint32()
	if err != nil {
		return nil, err
	}
	count := int32(raw)
	if count == nullArray {
		return nil, nil
	}
	if count < 0 || count > maxEntries {
		return nil, fmt.Errorf("%w: entry count %d out of range", ErrEncodingInvalid, count)
	}
	entries := make([][]byte, 0, count)
	for i := int32(0); i < count; i++ {
		rawLen, err := r.uint32()
		if err != nil {
			return nil, err
		}
		length := int32(rawLen)
		if length < 0 || length > maxEntrySize {
			return nil, fmt.Errorf("%w: entry length %d out of range", ErrEncodingInvalid, length)
		}
		if len(r.data)-r.off < int(length) {
			return nil, fmt.Errorf("%w: truncated entry at offset %d", ErrEncodingInvalid, r.off)
		}
		entries = append(entries, bytes.Clone(r.data[r.off:r.off+int(length)]))
		r.off += int(length)
	}
	return entries, nil
}

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
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
)

// OpenMode is the access mode of a trust list file handle. Only two
// combinations are accepted: read, or write with erase-existing.
type OpenMode uint8

const (
	openBitRead  OpenMode = 0x01
	openBitWrite OpenMode = 0x02
	openBitErase OpenMode = 0x04

	// OpenModeRead opens the trust list for sequential reading.
	OpenModeRead = openBitRead

	// OpenModeWriteEraseExisting opens the trust list for replacement.
	OpenModeWriteEraseExisting = openBitWrite | openBitErase
)

// valid reports whether the mode is one of the two accepted combinations.
func (m OpenMode) valid() bool {
	return m == OpenModeRead || m == OpenModeWriteEraseExisting
}

func (m OpenMode) readable() bool { return m == OpenModeRead }
func (m OpenMode) writable() bool { return m == OpenModeWriteEraseExisting }

// fileHandle is an open trust list file. Read handles carry an eager
// snapshot taken at open time; write handles accumulate the replacement
// image until close-and-update.
type fileHandle struct {
	id      uint32
	session uuid.UUID
	group   certgroup.GroupID
	mode    OpenMode

	snapshot []byte
	pos      int
	writeBuf bytes.Buffer
}

// size returns the byte length the position is bounded by.
func (h *fileHandle) size() int {
	if h.mode.writable() {
		return h.writeBuf.Len()
	}
	return len(h.snapshot)
}

// FileInfo is the published state of one group's trust list file.
type FileInfo struct {
	// OpenCount is the number of open handles on the trust list.
	OpenCount int

	// LastUpdate is the time of the last applied trust list change.
	LastUpdate time.Time

	// Size is the encoded size of the current trust list.
	Size int

	// Writable reports whether a write handle could currently be opened.
	Writable bool
}

// allocHandle returns the first unused handle, searching linearly from 1.
// Handle counts are tiny and the allocation order is observable by clients.
func (s *Service) allocHandle() uint32 {
	id := uint32(1)
	for {
		if _, ok := s.handles[id]; !ok {
			return id
		}
		id++
	}
}

// openCount returns the number of open handles for a group. Caller holds the
// service mutex.
func (s *Service) openCount(group certgroup.GroupID) int {
	n := 0
	for _, h := range s.handles {
		if h.group == group {
			n++
		}
	}
	return n
}

// ownedHandle resolves a handle and checks the session owns it. Caller holds
// the service mutex.
func (s *Service) ownedHandle(session uuid.UUID, id uint32) (*fileHandle, error) {
	h, ok := s.handles[id]
	if !ok {
		return nil, ErrInvalidState
	}
	if h.session != session {
		return nil, ErrUserAccessDenied
	}
	return h, nil
}

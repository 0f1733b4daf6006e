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

package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// session is an authenticated client session.
type session struct {
	id      uuid.UUID
	admin   bool
	created time.Time
}

// SessionRegistry tracks the server's live sessions and answers the push
// service's liveness and authorization queries.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
}

// NewSessionRegistry creates an empty session registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[uuid.UUID]*session)}
}

// Register creates a session and returns its identifier.
func (r *SessionRegistry) Register(admin bool) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &session{id: uuid.New(), admin: admin, created: time.Now()}
	r.sessions[s.id] = s
	return s.id
}

// Remove deletes a session. Removing an unknown session is a no-op.
func (r *SessionRegistry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Alive reports whether the session exists.
func (r *SessionRegistry) Alive(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// IsAdmin reports whether the session exists and has administrative rights.
func (r *SessionRegistry) IsAdmin(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return ok && s.admin
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

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
)

// Scheduler runs callbacks serially on a single run loop goroutine. The push
// service relies on this serialization for its deferred connection sweep and
// repeated session sweeps.
type Scheduler struct {
	mu      sync.Mutex
	tasks   chan func()
	repeats map[uint64]chan struct{}
	nextID  uint64
	quit    chan struct{}
	done    chan struct{}
	stopped bool
}

// NewScheduler creates a scheduler and starts its run loop.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		tasks:   make(chan func(), 64),
		repeats: make(map[uint64]chan struct{}),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.quit:
			// Drain callbacks queued before the stop.
			for {
				select {
				case fn := <-s.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Defer queues fn for one-shot execution on the run loop. Callbacks queued
// after Stop are dropped.
func (s *Scheduler) Defer(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.quit:
	}
}

// Repeat runs fn on the run loop at every interval until cancelled.
func (s *Scheduler) Repeat(interval time.Duration, fn func()) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}
	s.nextID++
	id := s.nextID
	cancel := make(chan struct{})
	s.repeats[id] = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Defer(fn)
			case <-cancel:
				return
			case <-s.quit:
				return
			}
		}
	}()
	return id
}

// Cancel stops a repeated callback. Cancelling an unknown or already
// cancelled id is a no-op.
func (s *Scheduler) Cancel(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.repeats[id]; ok {
		close(cancel)
		delete(s.repeats, id)
	}
}

// Stop terminates the run loop after draining queued callbacks and waits for
// it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.stopped = true
	for id, cancel := range s.repeats {
		close(cancel)
		delete(s.repeats, id)
	}
	s.mu.Unlock()

	close(s.quit)
	<-s.done
}

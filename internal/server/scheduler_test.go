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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerDefer(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	done := make(chan struct{})
	s.Defer(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deferred callback never ran")
	}
}

func TestSchedulerSerializesCallbacks(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		i := i
		s.Defer(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 10)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestSchedulerRepeatAndCancel(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var ticks atomic.Int64
	id := s.Repeat(10*time.Millisecond, func() { ticks.Add(1) })

	require.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, 5*time.Second, 5*time.Millisecond)

	s.Cancel(id)
	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	// A queued tick may still land after the cancel, but the ticker is gone.
	assert.LessOrEqual(t, ticks.Load(), settled+1)

	// Cancelling twice is harmless.
	s.Cancel(id)
}

func TestSchedulerStopDrainsQueue(t *testing.T) {
	s := NewScheduler()

	var ran atomic.Bool
	s.Defer(func() { ran.Store(true) })
	s.Stop()

	assert.True(t, ran.Load())

	// Work submitted after stop is dropped without blocking.
	s.Defer(func() { t.Error("callback ran after stop") })
	assert.Zero(t, s.Repeat(time.Millisecond, func() { t.Error("repeat ran after stop") }))

	// Stop is idempotent.
	s.Stop()
}

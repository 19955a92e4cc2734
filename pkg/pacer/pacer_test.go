// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pacer

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireEnforcesGap(t *testing.T) {
	gap := 60 * time.Millisecond
	p := New(Config{Gap: gap})
	ctx := context.Background()

	var grants []time.Time
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Acquire(ctx))
		grants = append(grants, p.LastAcquired())
	}

	// Scheduling jitter only ever widens the spacing; allow a small
	// tolerance below the gap for timer granularity.
	tolerance := 5 * time.Millisecond
	for i := 1; i < len(grants); i++ {
		delta := grants[i].Sub(grants[i-1])
		assert.GreaterOrEqual(t, delta, gap-tolerance,
			"grant %d followed %d after only %v", i, i-1, delta)
	}
}

func TestAcquireConcurrentTotalOrder(t *testing.T) {
	gap := 40 * time.Millisecond
	p := New(Config{Gap: gap})
	ctx := context.Background()

	const workers = 3
	const perWorker = 2

	var mu sync.Mutex
	var grants []time.Time

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := p.Acquire(ctx); err != nil {
					t.Error(err)
					return
				}
				at := time.Now()
				mu.Lock()
				grants = append(grants, at)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, grants, workers*perWorker)
	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })

	tolerance := 10 * time.Millisecond
	for i := 1; i < len(grants); i++ {
		delta := grants[i].Sub(grants[i-1])
		assert.GreaterOrEqual(t, delta, gap-tolerance,
			"concurrent grants %d and %d only %v apart", i-1, i, delta)
	}

	m := p.Metrics()
	assert.Equal(t, int64(workers*perWorker), m.Acquisitions)
	assert.Greater(t, m.TotalWait, time.Duration(0))
}

func TestZeroGapIsImmediate(t *testing.T) {
	p := New(Config{Gap: 0})
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Acquire(ctx))
		}()
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int64(10), p.Metrics().Acquisitions)
}

func TestAcquireHonorsContext(t *testing.T) {
	p := New(Config{Gap: 10 * time.Second})
	require.NoError(t, p.Acquire(context.Background()))
	first := p.LastAcquired()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	// A cancelled wait must not consume the slot.
	assert.Equal(t, first, p.LastAcquired())
}

func TestAcquireCancelledBeforeCall(t *testing.T) {
	p := New(Config{Gap: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, p.Acquire(ctx))
	assert.True(t, p.LastAcquired().IsZero())
}

func TestNullPacer(t *testing.T) {
	p := NewNull()
	ctx := context.Background()

	assert.True(t, p.LastAcquired().IsZero())

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.False(t, p.LastAcquired().IsZero())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, p.Acquire(cancelled))
}

func TestDefaultGapValue(t *testing.T) {
	assert.Equal(t, 20*time.Second, DefaultGap)
}

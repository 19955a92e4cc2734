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

// Package pacer implements the process-global minimum-interval gate for
// outbound forge mutations. The forge throttles mutations and sibling
// processes share the same budget, so every write path acquires the
// pacer first. Reads are never paced.
//
// The pacer is always passed through construction, never consulted as a
// process global, so tests can inject NullPacer without patching.
package pacer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultGap is the empirically safe floor between forge mutations.
const DefaultGap = 20 * time.Second

// Pacer gates outbound mutations. Acquire blocks until the configured
// gap has elapsed since the most recent successful acquisition across
// all streams, then records a new timestamp and returns. Mutations are
// therefore globally totally ordered by acquisition order.
type Pacer interface {
	Acquire(ctx context.Context) error
	LastAcquired() time.Time
}

// Config holds configuration for the mutation pacer.
type Config struct {
	// Gap is the minimum interval between grants. Default 20s.
	Gap time.Duration

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Metrics reports pacer activity counters.
type Metrics struct {
	Acquisitions int64
	TotalWait    time.Duration
}

// MutationPacer is the production Pacer: a mutex guarding a single
// last-issued timestamp.
type MutationPacer struct {
	gap    time.Duration
	logger *zap.Logger

	mu         sync.Mutex
	lastIssued time.Time

	acquisitions atomic.Int64
	totalWaitNs  atomic.Int64
}

// New creates a mutation pacer.
func New(cfg Config) *MutationPacer {
	if cfg.Gap < 0 {
		cfg.Gap = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &MutationPacer{gap: cfg.Gap, logger: cfg.Logger}
}

// Acquire blocks until the gap has elapsed since the last grant, stamps
// the grant, and returns. Honors context cancellation while waiting.
// With a zero gap, grants are immediate and may be concurrent.
func (p *MutationPacer) Acquire(ctx context.Context) error {
	waited := time.Duration(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(p.lastIssued)
		if p.lastIssued.IsZero() || elapsed >= p.gap {
			p.lastIssued = now
			p.mu.Unlock()

			p.acquisitions.Add(1)
			p.totalWaitNs.Add(int64(waited))
			if waited > 0 {
				p.logger.Debug("pacer grant after wait", zap.Duration("waited", waited))
			}
			return nil
		}
		wait := p.gap - elapsed
		p.mu.Unlock()

		// Sleep outside the lock, then re-check: another stream may have
		// taken the slot while we waited.
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			waited += wait
		}
	}
}

// LastAcquired returns the timestamp of the most recent grant, zero if
// none yet.
func (p *MutationPacer) LastAcquired() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastIssued
}

// Gap returns the configured minimum interval.
func (p *MutationPacer) Gap() time.Duration {
	return p.gap
}

// Metrics returns activity counters.
func (p *MutationPacer) Metrics() Metrics {
	return Metrics{
		Acquisitions: p.acquisitions.Load(),
		TotalWait:    time.Duration(p.totalWaitNs.Load()),
	}
}

// NullPacer grants immediately while still stamping acquisition times.
// Used by tests and dry runs.
type NullPacer struct {
	mu   sync.Mutex
	last time.Time
}

// NewNull creates a NullPacer.
func NewNull() *NullPacer {
	return &NullPacer{}
}

// Acquire stamps and returns without waiting.
func (p *NullPacer) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.last = time.Now()
	p.mu.Unlock()
	return nil
}

// LastAcquired returns the most recent stamp.
func (p *NullPacer) LastAcquired() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

var (
	_ Pacer = (*MutationPacer)(nil)
	_ Pacer = (*NullPacer)(nil)
)

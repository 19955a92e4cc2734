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

package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for retry and propagation policy.
type ErrorKind string

const (
	// ErrKindTransient covers timeouts, 5xx, and DNS failures. Retried
	// with backoff inside the producing client.
	ErrKindTransient ErrorKind = "transient"

	// ErrKindRateLimited covers forge 403 rate limits and LLM 429s.
	// Surfaced as a per-task failure; the cycle continues.
	ErrKindRateLimited ErrorKind = "rate_limited"

	// ErrKindSchema covers malformed LLM responses and malformed state
	// files on read.
	ErrKindSchema ErrorKind = "schema"

	// ErrKindAuth covers 401/403-permission failures. Fatal to the runner.
	ErrKindAuth ErrorKind = "auth"

	// ErrKindUnavailable marks a provider that cannot serve at all.
	ErrKindUnavailable ErrorKind = "unavailable"

	// ErrKindConflict covers git push rejection and remote divergence.
	ErrKindConflict ErrorKind = "conflict"

	// ErrKindIntegrity covers reconciler invariant violations. The cycle
	// aborts and nothing is committed.
	ErrKindIntegrity ErrorKind = "integrity"

	// ErrKindCancelled marks work dropped by cooperative cancellation.
	ErrKindCancelled ErrorKind = "cancelled"
)

// Retryable reports whether a failure of this kind may be retried in place.
func (k ErrorKind) Retryable() bool {
	return k == ErrKindTransient || k == ErrKindRateLimited
}

// TaggedError attaches an ErrorKind to an underlying error so callers can
// classify without string matching.
type TaggedError struct {
	Kind ErrorKind
	Err  error
}

func (e *TaggedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TaggedError) Unwrap() error {
	return e.Err
}

// Tag wraps err with kind. A nil err returns nil.
func Tag(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &TaggedError{Kind: kind, Err: err}
}

// Tagf wraps a formatted error with kind.
func Tagf(kind ErrorKind, format string, args ...interface{}) error {
	return &TaggedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf walks the error chain and returns the first tagged kind.
// Context cancellation maps to cancelled; everything untagged is treated
// as transient, the safe default for retry policy.
func KindOf(err error) ErrorKind {
	var te *TaggedError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrKindCancelled
	}
	return ErrKindTransient
}

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
	"fmt"
	"time"
)

// ResultKind discriminates the Result variants.
type ResultKind string

const (
	ResultCreated   ResultKind = "created"
	ResultCommented ResultKind = "commented"
	ResultVoted     ResultKind = "voted"
	ResultPoked     ResultKind = "poked"
	ResultSkipped   ResultKind = "skipped"
	ResultFailed    ResultKind = "failed"
)

// Result is the outcome of one worker task and the only channel by which
// streams communicate back to the reconciler. It is a tagged union: Kind
// selects exactly one populated variant field. Use the New* constructors;
// the reconciler dispatches exhaustively on Kind.
type Result struct {
	Kind ResultKind

	// AgentID is the acting agent, set for every variant.
	AgentID string

	Created   *CreatedResult
	Commented *CommentedResult
	Voted     *VotedResult
	Poked     *PokedResult
	Skipped   *SkippedResult
	Failed    *FailedResult
}

// CreatedResult carries the authoritative mirror of a created discussion.
type CreatedResult struct {
	Post PostMirror
}

// CommentedResult records a comment mutation.
type CommentedResult struct {
	Number int

	// ParentAuthor is the commented post's authoring agent, used for the
	// social-graph edge. May be empty when authorship was unrecoverable.
	ParentAuthor string

	At time.Time
}

// VotedResult records a reaction mutation.
type VotedResult struct {
	Number   int
	Reaction ReactionKind
}

// PokedResult records an emitted poke.
type PokedResult struct {
	From    string
	To      string
	Message string
	At      time.Time
}

// SkippedResult records a task dropped without a forge mutation.
type SkippedResult struct {
	Task   Task
	Reason string
}

// FailedResult records a task that exhausted its attempts.
type FailedResult struct {
	Task      Task
	ErrorKind ErrorKind
	Attempts  int
	Err       string
}

// NewCreated builds a Created result.
func NewCreated(agentID string, post PostMirror) Result {
	return Result{Kind: ResultCreated, AgentID: agentID, Created: &CreatedResult{Post: post}}
}

// NewCommented builds a Commented result.
func NewCommented(agentID string, number int, parentAuthor string, at time.Time) Result {
	return Result{Kind: ResultCommented, AgentID: agentID, Commented: &CommentedResult{
		Number:       number,
		ParentAuthor: parentAuthor,
		At:           at,
	}}
}

// NewVoted builds a Voted result.
func NewVoted(agentID string, number int, reaction ReactionKind) Result {
	return Result{Kind: ResultVoted, AgentID: agentID, Voted: &VotedResult{Number: number, Reaction: reaction}}
}

// NewPoked builds a Poked result.
func NewPoked(from, to, message string, at time.Time) Result {
	return Result{Kind: ResultPoked, AgentID: from, Poked: &PokedResult{
		From:    from,
		To:      to,
		Message: message,
		At:      at,
	}}
}

// NewSkipped builds a Skipped result.
func NewSkipped(task Task, reason string) Result {
	return Result{Kind: ResultSkipped, AgentID: task.AgentID, Skipped: &SkippedResult{Task: task, Reason: reason}}
}

// NewFailed builds a Failed result.
func NewFailed(task Task, kind ErrorKind, attempts int, err error) Result {
	fr := &FailedResult{Task: task, ErrorKind: kind, Attempts: attempts}
	if err != nil {
		fr.Err = err.Error()
	}
	return Result{Kind: ResultFailed, AgentID: task.AgentID, Failed: fr}
}

// Validate checks that exactly the variant selected by Kind is populated.
func (r Result) Validate() error {
	set := 0
	if r.Created != nil {
		set++
	}
	if r.Commented != nil {
		set++
	}
	if r.Voted != nil {
		set++
	}
	if r.Poked != nil {
		set++
	}
	if r.Skipped != nil {
		set++
	}
	if r.Failed != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("result has %d variants set, want exactly 1", set)
	}

	var ok bool
	switch r.Kind {
	case ResultCreated:
		ok = r.Created != nil
	case ResultCommented:
		ok = r.Commented != nil
	case ResultVoted:
		ok = r.Voted != nil
	case ResultPoked:
		ok = r.Poked != nil
	case ResultSkipped:
		ok = r.Skipped != nil
	case ResultFailed:
		ok = r.Failed != nil
	default:
		return fmt.Errorf("unknown result kind %q", r.Kind)
	}
	if !ok {
		return fmt.Errorf("result kind %q does not match populated variant", r.Kind)
	}
	return nil
}

// Mutated reports whether the result reflects a completed forge mutation.
func (r Result) Mutated() bool {
	switch r.Kind {
	case ResultCreated, ResultCommented, ResultVoted, ResultPoked:
		return true
	default:
		return false
	}
}

// String renders a compact human-readable summary for logs.
func (r Result) String() string {
	switch r.Kind {
	case ResultCreated:
		return fmt.Sprintf("created(#%d by %s)", r.Created.Post.Number, r.AgentID)
	case ResultCommented:
		return fmt.Sprintf("commented(#%d by %s)", r.Commented.Number, r.AgentID)
	case ResultVoted:
		return fmt.Sprintf("voted(#%d %s by %s)", r.Voted.Number, r.Voted.Reaction, r.AgentID)
	case ResultPoked:
		return fmt.Sprintf("poked(%s -> %s)", r.Poked.From, r.Poked.To)
	case ResultSkipped:
		return fmt.Sprintf("skipped(%s: %s)", r.AgentID, r.Skipped.Reason)
	case ResultFailed:
		return fmt.Sprintf("failed(%s: %s after %d attempts)", r.AgentID, r.Failed.ErrorKind, r.Failed.Attempts)
	default:
		return string(r.Kind)
	}
}

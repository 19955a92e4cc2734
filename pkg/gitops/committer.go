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

// Package gitops commits and pushes state-file changes to a shared
// remote branch without ever committing a corrupt file. Sibling
// processes push to the same branch, so a plain push races; the
// committer converges by rebasing when it can and by re-applying the
// in-memory state on top of the fetched remote when the rebase would
// need a textual merge. JSON state files cannot be merged as text.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

const (
	// DefaultRemote is the git remote pushed to.
	DefaultRemote = "origin"

	// DefaultBranch is the shared state branch.
	DefaultBranch = "main"

	// DefaultMaxAttempts bounds the push/recover loop.
	DefaultMaxAttempts = 5

	// Commit identity, overridable per config. Passed with -c on the
	// commit itself so a bare checkout works.
	defaultAuthorName  = "tapestry"
	defaultAuthorEmail = "tapestry@localhost"
)

// ErrPushExhausted is returned when every push attempt was rejected.
// The local commit exists; the next cycle's commit retries on top.
var ErrPushExhausted = errors.New("push attempts exhausted")

// ReapplyFunc rebuilds the state files from the in-memory cycle outcome
// after the working tree was hard-reset to the remote. It returns the
// file names, relative to the state directory, that changed and must be
// staged again. Reapply is what makes recovery lossless: the result
// batch reflects forge mutations that already happened, so replaying it
// onto the freshly fetched state reproduces this cycle's work on top of
// whatever the sibling pushed.
type ReapplyFunc func() ([]string, error)

// Config holds configuration for the committer.
type Config struct {
	// Store locates the state directory (which is the git work tree)
	// and validates files before every commit. Required.
	Store *state.Store

	Remote      string
	Branch      string
	MaxAttempts int

	// NoPush commits locally and skips the push loop entirely.
	NoPush bool

	AuthorName  string
	AuthorEmail string

	Logger *zap.Logger
}

// Committer runs the safe-commit protocol over the state directory.
type Committer struct {
	store       *state.Store
	dir         string
	remote      string
	branch      string
	maxAttempts int
	noPush      bool
	authorName  string
	authorEmail string
	logger      *zap.Logger
}

// New creates a committer.
func New(cfg Config) (*Committer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Remote == "" {
		cfg.Remote = DefaultRemote
	}
	if cfg.Branch == "" {
		cfg.Branch = DefaultBranch
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = defaultAuthorName
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = defaultAuthorEmail
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Committer{
		store:       cfg.Store,
		dir:         cfg.Store.Dir(),
		remote:      cfg.Remote,
		branch:      cfg.Branch,
		maxAttempts: cfg.MaxAttempts,
		noPush:      cfg.NoPush,
		authorName:  cfg.AuthorName,
		authorEmail: cfg.AuthorEmail,
		logger:      cfg.Logger,
	}, nil
}

// Commit stages, commits, and pushes the given state files. Every file
// is validated before it is committed; a file that fails to parse or
// carries conflict markers never reaches a commit. On push rejection
// the committer fetches and rebases, falling back to reset-and-reapply
// when the rebase conflicts or damages a file, bounded by MaxAttempts.
// An empty file set is a no-op.
//
// reapply rebuilds the files from the in-memory cycle outcome after a
// hard reset; it may be nil, which makes a conflicted rebase terminal
// for this commit.
func (c *Committer) Commit(ctx context.Context, files []string, message string, reapply ReapplyFunc) error {
	if len(files) == 0 {
		return nil
	}

	if err := c.validateAll(files); err != nil {
		return err
	}
	if err := c.stage(ctx, files); err != nil {
		return err
	}
	staged, err := c.hasStagedChanges(ctx)
	if err != nil {
		return err
	}
	if !staged {
		c.logger.Debug("nothing staged, skipping commit")
		return nil
	}
	if err := c.commitStaged(ctx, message); err != nil {
		return err
	}

	if c.noPush {
		c.logger.Info("committed locally, push disabled", zap.Int("files", len(files)))
		return nil
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		pushErr := c.run(ctx, "push", c.remote, "HEAD:"+c.branch)
		if pushErr == nil {
			c.logger.Info("state pushed",
				zap.Int("attempt", attempt),
				zap.Int("files", len(files)))
			return nil
		}
		if ctx.Err() != nil {
			return types.Tag(types.ErrKindCancelled, ctx.Err())
		}
		c.logger.Warn("push rejected",
			zap.Int("attempt", attempt),
			zap.Error(pushErr))

		if err := c.run(ctx, "fetch", c.remote, c.branch); err != nil {
			return types.Tag(types.ErrKindUnavailable, err)
		}

		if rebaseErr := c.run(ctx, "rebase", c.remote+"/"+c.branch); rebaseErr == nil {
			valErr := c.validateAll(files)
			if valErr == nil {
				continue
			}
			c.logger.Warn("rebase produced invalid state, recovering", zap.Error(valErr))
		} else {
			// A conflicted rebase leaves marker-riddled files in the
			// tree; abort before they can be seen by anything.
			_ = c.run(ctx, "rebase", "--abort")
			c.logger.Warn("rebase conflicted, recovering", zap.Error(rebaseErr))
		}

		done, refiles, err := c.recover(ctx, message, reapply)
		if err != nil {
			return err
		}
		if done {
			c.logger.Info("state already represented on remote after recovery")
			return nil
		}
		files = refiles
	}

	return types.Tag(types.ErrKindConflict,
		fmt.Errorf("%w after %d attempts", ErrPushExhausted, c.maxAttempts))
}

// recover hard-resets to the remote and replays the in-memory state on
// top of it. Returns done=true when the replay produced no change,
// meaning the remote already carries everything this cycle did.
func (c *Committer) recover(ctx context.Context, message string, reapply ReapplyFunc) (bool, []string, error) {
	if reapply == nil {
		return false, nil, types.Tagf(types.ErrKindConflict,
			"rebase unrecoverable and no reapply hook configured")
	}

	if err := c.run(ctx, "reset", "--hard", c.remote+"/"+c.branch); err != nil {
		return false, nil, err
	}

	refiles, err := reapply()
	if err != nil {
		return false, nil, fmt.Errorf("reapply after reset failed: %w", err)
	}
	if len(refiles) == 0 {
		return true, nil, nil
	}

	if err := c.validateAll(refiles); err != nil {
		return false, nil, err
	}
	if err := c.stage(ctx, refiles); err != nil {
		return false, nil, err
	}
	staged, err := c.hasStagedChanges(ctx)
	if err != nil {
		return false, nil, err
	}
	if !staged {
		return true, nil, nil
	}
	if err := c.commitStaged(ctx, message); err != nil {
		return false, nil, err
	}
	return false, refiles, nil
}

// validateAll re-checks every file on disk. Non-JSON artifacts (soul
// files, inbox deltas, the change archive) pass through; state files
// must parse, satisfy their schema and meta count, and be free of
// conflict markers.
func (c *Committer) validateAll(files []string) error {
	for _, name := range files {
		if err := c.store.ValidateFile(name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Committer) stage(ctx context.Context, files []string) error {
	return c.run(ctx, append([]string{"add", "--"}, files...)...)
}

func (c *Committer) commitStaged(ctx context.Context, message string) error {
	return c.run(ctx, "commit", "-m", message)
}

// hasStagedChanges distinguishes "nothing to commit" from real errors.
// git diff --cached --quiet exits 1 when the index differs from HEAD.
func (c *Committer) hasStagedChanges(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--cached", "--quiet")
	cmd.Dir = c.dir
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff --cached: %w", err)
}

// run executes one git command in the state directory, folding output
// into the returned error. The configured identity rides along on every
// invocation: commit and rebase both need one, and a freshly cloned
// state checkout has none.
func (c *Committer) run(ctx context.Context, args ...string) error {
	full := append([]string{
		"-c", "user.name=" + c.authorName,
		"-c", "user.email=" + c.authorEmail,
	}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Dir = c.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
		}
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, msg)
	}
	return nil
}

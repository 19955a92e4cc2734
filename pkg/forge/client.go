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

// Package forge is the client for the code forge hosting the community:
// discussions over GraphQL, issues over REST, one bot token for all
// personas. Mutation pacing lives with the caller; this package owns
// transport, read retries, and failure classification.
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/types"
)

const (
	// DefaultBaseURL is the public GitHub API host.
	DefaultBaseURL = "https://api.github.com"
	// DefaultTimeout bounds one HTTP round trip.
	DefaultTimeout = 30 * time.Second
	// DefaultReadRetries is the retry budget for read operations.
	// Writes get a single extra attempt, and only when the forge
	// throttled them: a rejected call cannot have landed, so one retry
	// cannot duplicate a mutation. Every other write failure stays
	// single-attempt because the mutation may have gone through.
	DefaultReadRetries = 3

	// DefaultReadBackoff is the initial delay between read retries.
	// Doubles per attempt.
	DefaultReadBackoff = time.Second

	// discussionPageSize is the GraphQL page size for listing.
	discussionPageSize = 50
)

// ErrNotFound marks a discussion, comment, or category the forge does
// not have.
var ErrNotFound = errors.New("not found on forge")

// Config holds configuration for the forge client.
type Config struct {
	// Token is the bot account token. Required.
	Token string
	// Owner and Repo identify the community repository. Required.
	Owner string
	Repo  string

	BaseURL     string        // Default: https://api.github.com
	Timeout     time.Duration // Default: 30s
	ReadRetries int           // Default: 3
	ReadBackoff time.Duration // Default: 1s
	Logger      *zap.Logger
}

// Client is a forge API client.
type Client struct {
	httpClient  *http.Client
	token       string
	owner       string
	repo        string
	baseURL     string
	readRetries int
	readBackoff time.Duration
	logger      *zap.Logger

	mu            sync.Mutex
	repoID        string
	categories    map[string]Category
	discussionIDs map[int]string
}

// New creates a forge client. Token, owner, and repo are required.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("forge token is required (set GITHUB_TOKEN)")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("forge owner and repo are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ReadRetries <= 0 {
		cfg.ReadRetries = DefaultReadRetries
	}
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = DefaultReadBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		token:         cfg.Token,
		owner:         cfg.Owner,
		repo:          cfg.Repo,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		readRetries:   cfg.ReadRetries,
		readBackoff:   cfg.ReadBackoff,
		logger:        cfg.Logger,
		categories:    make(map[string]Category),
		discussionIDs: make(map[int]string),
	}, nil
}

// Ping verifies the repository is reachable with the configured token.
func (c *Client) Ping(ctx context.Context) error {
	return c.withReadRetries(ctx, "ping", func(ctx context.Context) error {
		path := fmt.Sprintf("/repos/%s/%s", c.owner, c.repo)
		return c.doREST(ctx, http.MethodGet, path, nil, nil, http.StatusOK)
	})
}

// ResolveRepo loads the repository node ID and its discussion
// categories. Results are cached for the client's lifetime.
func (c *Client) ResolveRepo(ctx context.Context) error {
	c.mu.Lock()
	resolved := c.repoID != ""
	c.mu.Unlock()
	if resolved {
		return nil
	}

	var data repoQueryData
	err := c.withReadRetries(ctx, "resolve_repo", func(ctx context.Context) error {
		return c.doGraphQL(ctx, queryRepo, map[string]interface{}{
			"owner": c.owner,
			"name":  c.repo,
		}, &data)
	})
	if err != nil {
		return err
	}
	if data.Repository.ID == "" {
		return types.Tag(types.ErrKindUnavailable,
			fmt.Errorf("%w: repository %s/%s", ErrNotFound, c.owner, c.repo))
	}

	c.mu.Lock()
	c.repoID = data.Repository.ID
	for _, node := range data.Repository.DiscussionCategories.Nodes {
		c.categories[node.Slug] = Category{ID: node.ID, Name: node.Name, Slug: node.Slug}
	}
	c.mu.Unlock()

	c.logger.Debug("forge repository resolved",
		zap.String("repo", c.owner+"/"+c.repo),
		zap.Int("categories", len(data.Repository.DiscussionCategories.Nodes)))
	return nil
}

// Categories returns the discussion categories, resolving on demand.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	if err := c.ResolveRepo(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Category, 0, len(c.categories))
	for _, cat := range c.categories {
		out = append(out, cat)
	}
	return out, nil
}

// ListRecentDiscussions returns discussions created at or after since,
// newest first, up to max entries.
func (c *Client) ListRecentDiscussions(ctx context.Context, since time.Time, max int) ([]RemoteDiscussion, error) {
	if max <= 0 {
		max = 200
	}

	var out []RemoteDiscussion
	cursor := ""
	for len(out) < max {
		var data discussionsQueryData
		vars := map[string]interface{}{
			"owner": c.owner,
			"name":  c.repo,
			"first": discussionPageSize,
		}
		if cursor != "" {
			vars["after"] = cursor
		}
		err := c.withReadRetries(ctx, "list_discussions", func(ctx context.Context) error {
			return c.doGraphQL(ctx, queryDiscussions, vars, &data)
		})
		if err != nil {
			return nil, err
		}

		page := data.Repository.Discussions
		for _, node := range page.Nodes {
			if node.CreatedAt.Before(since) {
				return out, nil
			}
			out = append(out, node.remote())
			c.cacheDiscussionID(node.Number, node.ID)
			if len(out) == max {
				return out, nil
			}
		}
		if !page.PageInfo.HasNextPage {
			break
		}
		cursor = page.PageInfo.EndCursor
	}
	return out, nil
}

// ReadDiscussion fetches one discussion, body included.
func (c *Client) ReadDiscussion(ctx context.Context, number int) (*RemoteDiscussion, error) {
	var data discussionQueryData
	err := c.withReadRetries(ctx, "read_discussion", func(ctx context.Context) error {
		return c.doGraphQL(ctx, queryDiscussion, map[string]interface{}{
			"owner":  c.owner,
			"name":   c.repo,
			"number": number,
		}, &data)
	})
	if err != nil {
		return nil, err
	}
	if data.Repository.Discussion == nil {
		return nil, types.Tag(types.ErrKindUnavailable,
			fmt.Errorf("%w: discussion #%d", ErrNotFound, number))
	}

	c.cacheDiscussionID(number, data.Repository.Discussion.ID)
	remote := data.Repository.Discussion.remote()
	return &remote, nil
}

// ReadComments fetches the newest comments of a discussion, oldest
// first within the returned window.
func (c *Client) ReadComments(ctx context.Context, number, last int) ([]RemoteComment, error) {
	if last <= 0 {
		last = 20
	}

	var data commentsQueryData
	err := c.withReadRetries(ctx, "read_comments", func(ctx context.Context) error {
		return c.doGraphQL(ctx, queryComments, map[string]interface{}{
			"owner":  c.owner,
			"name":   c.repo,
			"number": number,
			"last":   last,
		}, &data)
	})
	if err != nil {
		return nil, err
	}
	if data.Repository.Discussion == nil {
		return nil, types.Tag(types.ErrKindUnavailable,
			fmt.Errorf("%w: discussion #%d", ErrNotFound, number))
	}

	c.cacheDiscussionID(number, data.Repository.Discussion.ID)
	out := make([]RemoteComment, 0, len(data.Repository.Discussion.Comments.Nodes))
	for _, node := range data.Repository.Discussion.Comments.Nodes {
		out = append(out, RemoteComment{
			ID:        node.ID,
			Author:    node.Author.Login,
			Body:      node.Body,
			CreatedAt: node.CreatedAt,
		})
	}
	return out, nil
}

// CreateDiscussion posts a new discussion as the given persona. The
// persona byline is prepended to the body. A throttled attempt is
// retried once; any other failure is terminal, since a duplicate post
// is worse than a missed one.
func (c *Client) CreateDiscussion(ctx context.Context, agentID, categorySlug, title, body string) (*types.PostMirror, error) {
	if err := c.ResolveRepo(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	category, ok := c.categories[categorySlug]
	repoID := c.repoID
	c.mu.Unlock()
	if !ok {
		return nil, types.Tag(types.ErrKindUnavailable,
			fmt.Errorf("%w: category %q", ErrNotFound, categorySlug))
	}

	var data createDiscussionData
	err := c.withThrottleRetry(ctx, "create_discussion", func(ctx context.Context) error {
		return c.doGraphQL(ctx, mutationCreateDiscussion, map[string]interface{}{
			"repoId": repoID,
			"catId":  category.ID,
			"title":  title,
			"body":   Byline(agentID, body),
		}, &data)
	})
	if err != nil {
		return nil, err
	}

	node := data.CreateDiscussion.Discussion
	c.cacheDiscussionID(node.Number, node.ID)

	postType, meta := types.DetectPostType(title)
	mirror := &types.PostMirror{
		ID:        node.ID,
		Number:    node.Number,
		Title:     node.Title,
		Author:    agentID,
		Channel:   categorySlug,
		CreatedAt: node.CreatedAt.UTC(),
		Type:      postType,
		Meta:      meta,
	}
	c.logger.Info("discussion created",
		zap.Int("number", node.Number),
		zap.String("agent", agentID),
		zap.String("channel", categorySlug))
	return mirror, nil
}

// AddComment comments on a discussion as the given persona.
func (c *Client) AddComment(ctx context.Context, agentID string, number int, body string) (*types.CommentRef, error) {
	discussionID, err := c.resolveDiscussionID(ctx, number)
	if err != nil {
		return nil, err
	}

	var data addCommentData
	err = c.withThrottleRetry(ctx, "add_comment", func(ctx context.Context) error {
		return c.doGraphQL(ctx, mutationAddComment, map[string]interface{}{
			"discussionId": discussionID,
			"body":         Byline(agentID, body),
		}, &data)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("comment added",
		zap.Int("number", number),
		zap.String("agent", agentID))
	return &types.CommentRef{
		ID:        data.AddDiscussionComment.Comment.ID,
		CreatedAt: data.AddDiscussionComment.Comment.CreatedAt.UTC(),
	}, nil
}

// AddReaction reacts to a discussion. The reaction kind must be one of
// the forge's supported contents.
func (c *Client) AddReaction(ctx context.Context, number int, reaction types.ReactionKind) error {
	if !types.ValidReaction(reaction) {
		return types.Tagf(types.ErrKindSchema, "unsupported reaction %q", reaction)
	}

	discussionID, err := c.resolveDiscussionID(ctx, number)
	if err != nil {
		return err
	}

	err = c.withThrottleRetry(ctx, "add_reaction", func(ctx context.Context) error {
		return c.doGraphQL(ctx, mutationAddReaction, map[string]interface{}{
			"subjectId": discussionID,
			"content":   string(reaction),
		}, nil)
	})
	if err != nil {
		return err
	}

	c.logger.Info("reaction added",
		zap.Int("number", number),
		zap.String("reaction", string(reaction)))
	return nil
}

// EmitIssue opens an issue on the repository, used for the action
// side-channel that external tooling watches.
func (c *Client) EmitIssue(ctx context.Context, title, body string, labels []string) (*types.IssueRef, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues", c.owner, c.repo)
	req := issueRequest{Title: title, Body: body, Labels: labels}

	var resp issueResponse
	err := c.withThrottleRetry(ctx, "emit_issue", func(ctx context.Context) error {
		return c.doREST(ctx, http.MethodPost, path, req, &resp, http.StatusCreated)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("issue emitted",
		zap.Int("number", resp.Number),
		zap.Strings("labels", labels))
	return &types.IssueRef{Number: resp.Number, URL: resp.HTMLURL}, nil
}

// resolveDiscussionID maps a discussion number to its node ID, reading
// the discussion when the cache misses.
func (c *Client) resolveDiscussionID(ctx context.Context, number int) (string, error) {
	c.mu.Lock()
	id, ok := c.discussionIDs[number]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	if _, err := c.ReadDiscussion(ctx, number); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok = c.discussionIDs[number]
	if !ok {
		return "", types.Tag(types.ErrKindUnavailable,
			fmt.Errorf("%w: discussion #%d", ErrNotFound, number))
	}
	return id, nil
}

func (c *Client) cacheDiscussionID(number int, id string) {
	c.mu.Lock()
	c.discussionIDs[number] = id
	c.mu.Unlock()
}

// withThrottleRetry runs a mutation, retrying it exactly once when the
// forge throttled it. A throttled write was rejected before it could
// land, so the retry cannot duplicate; timeouts and 5xx responses stay
// single-attempt since the mutation may have gone through.
func (c *Client) withThrottleRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || types.KindOf(err) != types.ErrKindRateLimited {
		return err
	}
	c.logger.Warn("forge throttled write, retrying once",
		zap.String("op", op),
		zap.Duration("backoff", c.readBackoff),
		zap.Error(err))
	timer := time.NewTimer(c.readBackoff)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}
	return fn(ctx)
}

// withReadRetries retries a read with doubling backoff while the error
// stays retryable.
func (c *Client) withReadRetries(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := c.readBackoff
	var lastErr error
	for attempt := 1; attempt <= c.readRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !types.KindOf(lastErr).Retryable() || attempt == c.readRetries {
			return lastErr
		}
		c.logger.Debug("retrying forge read",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return lastErr
}

// doGraphQL posts one GraphQL request and decodes data into out.
func (c *Client) doGraphQL(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return tagTransport(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return types.Tagf(types.ErrKindTransient, "failed to read response: %v", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return tagStatus(httpResp.StatusCode, string(respBody))
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return types.Tagf(types.ErrKindTransient, "failed to unmarshal response: %v", err)
	}
	if len(envelope.Errors) > 0 {
		return classifyGraphQLErrors(envelope.Errors)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return types.Tagf(types.ErrKindTransient, "failed to decode data: %v", err)
		}
	}
	return nil
}

// doREST performs one REST call and decodes the response into out.
func (c *Client) doREST(ctx context.Context, method, path string, body, out interface{}, wantStatus int) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return tagTransport(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return types.Tagf(types.ErrKindTransient, "failed to read response: %v", err)
	}
	if httpResp.StatusCode != wantStatus {
		return tagStatus(httpResp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return types.Tagf(types.ErrKindTransient, "failed to decode response: %v", err)
		}
	}
	return nil
}

// tagStatus maps a forge HTTP status onto the failure taxonomy. The
// forge reports secondary throttling as 403 with a rate-limit body, so
// the body is inspected before 403 is treated as auth.
func tagStatus(status int, body string) error {
	err := fmt.Errorf("forge error (status %d): %s", status, body)
	low := strings.ToLower(body)
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden && (strings.Contains(low, "rate limit") || strings.Contains(low, "secondary rate")):
		return types.Tag(types.ErrKindRateLimited, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.Tag(types.ErrKindAuth, err)
	case status == http.StatusNotFound:
		return types.Tag(types.ErrKindUnavailable, fmt.Errorf("%w: %v", ErrNotFound, err))
	case status == http.StatusRequestTimeout || status >= 500:
		return types.Tag(types.ErrKindTransient, err)
	default:
		return types.Tag(types.ErrKindUnavailable, err)
	}
}

// tagTransport maps an http.Client.Do failure onto the taxonomy.
func tagTransport(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.Tag(types.ErrKindTransient, fmt.Errorf("forge request failed: %w", err))
}

// classifyGraphQLErrors folds the error list into one tagged error.
// GraphQL errors arrive under status 200.
func classifyGraphQLErrors(errs []graphQLError) error {
	messages := make([]string, len(errs))
	notFound := len(errs) > 0
	for i, e := range errs {
		messages[i] = e.Message
		if e.Type != "NOT_FOUND" {
			notFound = false
		}
	}
	joined := strings.Join(messages, "; ")
	low := strings.ToLower(joined)

	for _, e := range errs {
		if e.Type == "RATE_LIMITED" {
			return types.Tagf(types.ErrKindRateLimited, "forge GraphQL: %s", joined)
		}
	}
	switch {
	case strings.Contains(low, "rate limit"):
		return types.Tagf(types.ErrKindRateLimited, "forge GraphQL: %s", joined)
	case notFound:
		return types.Tag(types.ErrKindUnavailable, fmt.Errorf("%w: %s", ErrNotFound, joined))
	default:
		return types.Tagf(types.ErrKindTransient, "forge GraphQL: %s", joined)
	}
}

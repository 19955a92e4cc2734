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
package forge

import (
	"encoding/json"
	"time"

	"github.com/teradata-labs/tapestry/pkg/types"
)

// Category is a discussion category on the forge.
type Category struct {
	ID   string
	Name string
	Slug string
}

// RemoteDiscussion is a discussion as the forge reports it.
type RemoteDiscussion struct {
	ID           string
	Number       int
	Title        string
	Body         string
	Author       string
	Category     string
	CreatedAt    time.Time
	URL          string
	Upvotes      int
	Downvotes    int
	CommentCount int
}

// EffectiveAuthor returns the persona that wrote the discussion. All
// writes go through one bot account, so the acting persona is carried
// in the body byline; the account login is the fallback.
func (d *RemoteDiscussion) EffectiveAuthor() string {
	if agentID, _, ok := ParseByline(d.Body); ok {
		return agentID
	}
	return d.Author
}

// Mirror converts the remote discussion to its local mirror form.
func (d *RemoteDiscussion) Mirror() types.PostMirror {
	postType, meta := types.DetectPostType(d.Title)
	return types.PostMirror{
		ID:        d.ID,
		Number:    d.Number,
		Title:     d.Title,
		Author:    d.EffectiveAuthor(),
		Channel:   d.Category,
		CreatedAt: d.CreatedAt.UTC(),
		Upvotes:   d.Upvotes,
		Downvotes: d.Downvotes,
		Comments:  d.CommentCount,
		Type:      postType,
		Meta:      meta,
	}
}

// RemoteComment is a discussion comment as the forge reports it.
type RemoteComment struct {
	ID        string
	Author    string
	Body      string
	CreatedAt time.Time
}

// EffectiveAuthor returns the persona that wrote the comment.
func (c *RemoteComment) EffectiveAuthor() string {
	if agentID, _, ok := ParseByline(c.Body); ok {
		return agentID
	}
	return c.Author
}

// graphQLRequest is the POST body for the GraphQL endpoint.
type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// graphQLResponse is the GraphQL envelope. Errors arrive with status
// 200, so they are surfaced separately from transport failures.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

type graphQLError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// Wire shapes for query responses.

type authorNode struct {
	Login string `json:"login"`
}

type categoryNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type reactionGroupNode struct {
	Content  string `json:"content"`
	Reactors struct {
		TotalCount int `json:"totalCount"`
	} `json:"reactors"`
}

type discussionNode struct {
	ID          string     `json:"id"`
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	CreatedAt   time.Time  `json:"createdAt"`
	URL         string     `json:"url"`
	UpvoteCount int        `json:"upvoteCount"`
	Author      authorNode `json:"author"`
	Category    struct {
		Slug string `json:"slug"`
	} `json:"category"`
	Comments struct {
		TotalCount int `json:"totalCount"`
	} `json:"comments"`
	ReactionGroups []reactionGroupNode `json:"reactionGroups"`
}

// remote converts a wire node to the exported form.
func (n *discussionNode) remote() RemoteDiscussion {
	downvotes := 0
	for _, g := range n.ReactionGroups {
		if g.Content == string(types.ReactionThumbsDown) {
			downvotes = g.Reactors.TotalCount
		}
	}
	return RemoteDiscussion{
		ID:           n.ID,
		Number:       n.Number,
		Title:        n.Title,
		Body:         n.Body,
		Author:       n.Author.Login,
		Category:     n.Category.Slug,
		CreatedAt:    n.CreatedAt,
		URL:          n.URL,
		Upvotes:      n.UpvoteCount,
		Downvotes:    downvotes,
		CommentCount: n.Comments.TotalCount,
	}
}

type commentNode struct {
	ID        string     `json:"id"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"createdAt"`
	Author    authorNode `json:"author"`
}

type repoQueryData struct {
	Repository struct {
		ID                   string `json:"id"`
		DiscussionCategories struct {
			Nodes []categoryNode `json:"nodes"`
		} `json:"discussionCategories"`
	} `json:"repository"`
}

type discussionsQueryData struct {
	Repository struct {
		Discussions struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []discussionNode `json:"nodes"`
		} `json:"discussions"`
	} `json:"repository"`
}

type discussionQueryData struct {
	Repository struct {
		Discussion *discussionNode `json:"discussion"`
	} `json:"repository"`
}

type commentsQueryData struct {
	Repository struct {
		Discussion *struct {
			ID       string `json:"id"`
			Comments struct {
				Nodes []commentNode `json:"nodes"`
			} `json:"comments"`
		} `json:"discussion"`
	} `json:"repository"`
}

type createDiscussionData struct {
	CreateDiscussion struct {
		Discussion discussionNode `json:"discussion"`
	} `json:"createDiscussion"`
}

type addCommentData struct {
	AddDiscussionComment struct {
		Comment struct {
			ID        string    `json:"id"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"comment"`
	} `json:"addDiscussionComment"`
}

// issueRequest is the REST body for issue creation.
type issueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

// issueResponse is the REST response for issue creation.
type issueResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

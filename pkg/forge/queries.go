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

// discussionFields is the selection set shared by every query that
// returns full discussions.
const discussionFields = `
        id
        number
        title
        body
        createdAt
        url
        upvoteCount
        author { login }
        category { slug }
        comments { totalCount }
        reactionGroups { content reactors { totalCount } }`

const queryRepo = `
query($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    id
    discussionCategories(first: 50) {
      nodes { id name slug }
    }
  }
}`

const queryDiscussions = `
query($owner: String!, $name: String!, $first: Int!, $after: String) {
  repository(owner: $owner, name: $name) {
    discussions(first: $first, after: $after, orderBy: {field: CREATED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {` + discussionFields + `
      }
    }
  }
}`

const queryDiscussion = `
query($owner: String!, $name: String!, $number: Int!) {
  repository(owner: $owner, name: $name) {
    discussion(number: $number) {` + discussionFields + `
    }
  }
}`

const queryComments = `
query($owner: String!, $name: String!, $number: Int!, $last: Int!) {
  repository(owner: $owner, name: $name) {
    discussion(number: $number) {
      id
      comments(last: $last) {
        nodes {
          id
          author { login }
          body
          createdAt
        }
      }
    }
  }
}`

const mutationCreateDiscussion = `
mutation($repoId: ID!, $catId: ID!, $title: String!, $body: String!) {
  createDiscussion(input: {repositoryId: $repoId, categoryId: $catId, title: $title, body: $body}) {
    discussion {
      id
      number
      title
      createdAt
      url
    }
  }
}`

const mutationAddComment = `
mutation($discussionId: ID!, $body: String!) {
  addDiscussionComment(input: {discussionId: $discussionId, body: $body}) {
    comment { id createdAt }
  }
}`

const mutationAddReaction = `
mutation($subjectId: ID!, $content: ReactionContent!) {
  addReaction(input: {subjectId: $subjectId, content: $content}) {
    reaction { content }
  }
}`

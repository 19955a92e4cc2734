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
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PostType is detected from a bracketed title prefix such as
// "[DEBATE] Should ..." or "[CIPHER:7] Uryyb". Titles without a
// recognized prefix are PostDefault.
type PostType string

const (
	PostDefault      PostType = "default"
	PostSpace        PostType = "space"
	PostPrivateSpace PostType = "private-space"
	PostDebate       PostType = "debate"
	PostPrediction   PostType = "prediction"
	PostReflection   PostType = "reflection"
	PostTimeCapsule  PostType = "time-capsule"
	PostArchaeology  PostType = "archaeology"
	PostFork         PostType = "fork"
	PostAmendment    PostType = "amendment"
	PostProposal     PostType = "proposal"
	PostSummon       PostType = "summon"
	PostTournament   PostType = "tournament"
	PostCipher       PostType = "cipher"
	PostPublicPlace  PostType = "public-place"
)

// PostMeta is the structured subset of metadata parsed from a title
// prefix. Only the fields the detected type defines are populated.
type PostMeta struct {
	// ShiftKey is the cipher shift for PostCipher titles.
	ShiftKey int `json:"shift_key,omitempty"`

	// ResolveBy is the resolution date for PostPrediction titles.
	ResolveBy *time.Time `json:"resolve_by,omitempty"`

	// OpensAt is the opening date for PostTimeCapsule titles.
	OpensAt *time.Time `json:"opens_at,omitempty"`

	// Subject is the summoned agent id for PostSummon titles.
	Subject string `json:"subject,omitempty"`

	// SourcePost is the referenced post number for fork and amendment
	// titles.
	SourcePost int `json:"source_post,omitempty"`
}

// titleTagRe matches a leading "[TAG]" or "[TAG:arg]" prefix.
var titleTagRe = regexp.MustCompile(`^\[([A-Z][A-Z-]*)(?::([^\]]+))?\]\s*`)

var tagToType = map[string]PostType{
	"SPACE":         PostSpace,
	"PRIVATE-SPACE": PostPrivateSpace,
	"DEBATE":        PostDebate,
	"PREDICTION":    PostPrediction,
	"REFLECTION":    PostReflection,
	"TIME-CAPSULE":  PostTimeCapsule,
	"ARCHAEOLOGY":   PostArchaeology,
	"FORK":          PostFork,
	"AMENDMENT":     PostAmendment,
	"PROPOSAL":      PostProposal,
	"SUMMON":        PostSummon,
	"TOURNAMENT":    PostTournament,
	"CIPHER":        PostCipher,
	"PUBLIC-PLACE":  PostPublicPlace,
}

// DetectPostType classifies a title by its prefix tag and parses the
// tag's argument when the type defines one. Unrecognized tags and bare
// titles are PostDefault with nil meta. Detection is purely syntactic:
// a recognized tag with an unparseable argument still yields the type,
// with the corresponding meta field left zero.
func DetectPostType(title string) (PostType, *PostMeta) {
	m := titleTagRe.FindStringSubmatch(title)
	if m == nil {
		return PostDefault, nil
	}
	pt, ok := tagToType[m[1]]
	if !ok {
		return PostDefault, nil
	}

	arg := m[2]
	switch pt {
	case PostCipher:
		meta := &PostMeta{}
		if shift, err := strconv.Atoi(arg); err == nil {
			meta.ShiftKey = shift
		}
		return pt, meta
	case PostPrediction:
		meta := &PostMeta{}
		if ts, err := time.Parse("2006-01-02", arg); err == nil {
			meta.ResolveBy = &ts
		}
		return pt, meta
	case PostTimeCapsule:
		meta := &PostMeta{}
		if ts, err := time.Parse("2006-01-02", arg); err == nil {
			meta.OpensAt = &ts
		}
		return pt, meta
	case PostSummon:
		return pt, &PostMeta{Subject: strings.TrimSpace(arg)}
	case PostFork, PostAmendment:
		meta := &PostMeta{}
		if n, err := strconv.Atoi(strings.TrimPrefix(arg, "#")); err == nil {
			meta.SourcePost = n
		}
		return pt, meta
	default:
		return pt, nil
	}
}

// BareTitle strips a recognized prefix tag, returning the plain title.
// Used for similarity comparison so that two "[DEBATE]" posts do not
// look alike merely because of the tag.
func BareTitle(title string) string {
	m := titleTagRe.FindStringSubmatch(title)
	if m == nil {
		return title
	}
	if _, ok := tagToType[m[1]]; !ok {
		return title
	}
	return title[len(m[0]):]
}

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
	"fmt"
	"strings"
)

const (
	bylineOpen  = "**["
	bylineClose = "]** ·\n\n"
)

// Byline prefixes content with the acting persona's marker. Every write
// goes through one bot account, so the marker is how readers (and the
// reconciler) attribute a post or comment to a persona.
func Byline(agentID, body string) string {
	return fmt.Sprintf("%s%s%s%s", bylineOpen, agentID, bylineClose, body)
}

// ParseByline splits a body into the acting persona and the original
// content. The content comes back byte-identical to what Byline was
// given. ok is false when no marker is present.
func ParseByline(body string) (agentID, rest string, ok bool) {
	if !strings.HasPrefix(body, bylineOpen) {
		return "", body, false
	}
	end := strings.Index(body, bylineClose)
	if end < 0 {
		return "", body, false
	}
	agentID = body[len(bylineOpen):end]
	if agentID == "" || strings.ContainsAny(agentID, "[]\n") {
		return "", body, false
	}
	return agentID, body[end+len(bylineClose):], true
}

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

package state

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// metaSchema is the fragment every state file must satisfy.
const metaSchema = `{
	"type": "object",
	"required": ["last_updated", "count"],
	"properties": {
		"last_updated": {"type": "string"},
		"count": {"type": "integer", "minimum": 0}
	}
}`

// statsSchema covers the flattened counters file.
const statsSchema = `{
	"type": "object",
	"required": ["_meta"],
	"properties": {
		"_meta": ` + metaSchema + `,
		"total_posts": {"type": "integer", "minimum": 0},
		"total_comments": {"type": "integer", "minimum": 0},
		"total_pokes": {"type": "integer", "minimum": 0}
	}
}`

// mapSchema builds the schema for a file whose primary collection is an
// object keyed by id.
func mapSchema(prop string) string {
	return fmt.Sprintf(`{
	"type": "object",
	"required": ["_meta", %q],
	"properties": {
		"_meta": %s,
		%q: {"type": "object"}
	}
}`, prop, metaSchema, prop)
}

// listSchema builds the schema for a file whose primary collection is an
// ordered array.
func listSchema(prop string) string {
	return fmt.Sprintf(`{
	"type": "object",
	"required": ["_meta", %q],
	"properties": {
		"_meta": %s,
		%q: {"type": ["array", "null"]}
	}
}`, prop, metaSchema, prop)
}

// validateSchema checks raw file bytes against the document's schema.
func validateSchema(doc document, raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(doc.schema())
	dataLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			errs[i] = e.String()
		}
		return fmt.Errorf("invalid document: %v", errs)
	}

	return nil
}

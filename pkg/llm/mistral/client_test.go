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
package mistral

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/teradata-labs/tapestry/pkg/llm"
)

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(Config{APIKey: "test-key"})

	if client.Name() != "mistral" {
		t.Errorf("Expected name 'mistral', got %s", client.Name())
	}

	if client.Model() != DefaultModel {
		t.Errorf("Expected default model, got %s", client.Model())
	}
}

func TestClient_Complete_RelabelsProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %s", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"model": "mistral-large-latest",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Bonjour."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: server.URL})

	resp, err := client.Complete(context.Background(), &llm.Request{Prompt: "Hello"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if resp.Provider != "mistral" {
		t.Errorf("Expected provider mistral, got %s", resp.Provider)
	}

	if resp.Content != "Bonjour." {
		t.Errorf("Expected response content, got %s", resp.Content)
	}
}

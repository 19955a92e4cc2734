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
package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/types"
)

func TestNewClient(t *testing.T) {
	client := NewClient(Config{
		APIKey: "test-key",
	})

	if client == nil {
		t.Fatal("Expected non-nil client")
	}

	if client.Name() != "gemini" {
		t.Errorf("Expected name 'gemini', got %s", client.Name())
	}

	if client.Model() != DefaultModel {
		t.Errorf("Expected default model, got %s", client.Model())
	}
}

func TestClient_Complete_SimpleText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "generateContent") {
			t.Errorf("Expected generateContent path, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("Expected key query param, got %s", r.URL.Query().Get("key"))
		}

		var req GenerateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.SystemInstruction == nil || len(req.SystemInstruction.Parts) == 0 {
			t.Error("Expected system instruction")
		}
		if len(req.Contents) != 1 || req.Contents[0].Role != "user" {
			t.Errorf("Expected a single user turn, got %+v", req.Contents)
		}

		resp := GenerateContentResponse{
			Candidates: []Candidate{
				{
					Content:      Content{Role: "model", Parts: []Part{{Text: "Hello there."}}},
					FinishReason: "STOP",
				},
			},
			UsageMetadata: UsageMetadata{PromptTokenCount: 8, CandidatesTokenCount: 3, TotalTokenCount: 11},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: server.URL})

	resp, err := client.Complete(context.Background(), &llm.Request{
		System: "be brief",
		Prompt: "Hello",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if resp.Content != "Hello there." {
		t.Errorf("Expected response content, got %s", resp.Content)
	}

	if resp.Usage.TotalTokens != 11 {
		t.Errorf("Expected 11 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestClient_Complete_ResourceExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: server.URL})

	_, err := client.Complete(context.Background(), &llm.Request{Prompt: "Hello"})
	if err == nil {
		t.Fatal("Expected error for 429 response")
	}

	if types.KindOf(err) != types.ErrKindRateLimited {
		t.Errorf("Expected rate_limited kind, got %s", types.KindOf(err))
	}
}

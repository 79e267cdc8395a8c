package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func geminiTestServer(t *testing.T, text string) (*httptest.Server, *http.Request) {
	t.Helper()
	var got http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = *r
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{
					"parts": []map[string]any{{"text": text}},
				}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestGemini_GenerateFencedWrapper(t *testing.T) {
	srv, got := geminiTestServer(t, "```json\n{\"groups\":[{\"group_name\":\"Docs\",\"ids\":[7,8]}]}\n```")

	p := NewGemini("key", "gemini-2.5-flash")
	p.baseURL = srv.URL

	out, err := p.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var entries []PlanEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("output is not a plan array: %v\n%s", err, out)
	}
	if entries[0].GroupName != "Docs" || len(entries[0].IDs) != 2 {
		t.Errorf("unexpected entries: %+v", entries)
	}

	if !strings.Contains(got.URL.Path, "gemini-2.5-flash:generateContent") {
		t.Errorf("unexpected path %q", got.URL.Path)
	}
	if got.Header.Get("x-goog-api-key") != "key" {
		t.Error("missing api key header")
	}
}

func TestGemini_GenerateBareArray(t *testing.T) {
	srv, _ := geminiTestServer(t, `[{"group_name":"Mail","ids":[1,2,3]}]`)

	p := NewGemini("key", "")
	p.baseURL = srv.URL

	out, err := p.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var entries []PlanEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("output is not a plan array: %v", err)
	}
	if len(entries) != 1 || entries[0].GroupName != "Mail" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestGemini_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))
	defer srv.Close()

	p := NewGemini("key", "gemini-2.5-flash")
	p.baseURL = srv.URL

	_, err := p.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("want ErrEmptyResponse, got %v", err)
	}
}

func TestGemini_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewGemini("key", "gemini-2.5-flash")
	p.baseURL = srv.URL

	_, err := p.Generate(context.Background(), "prompt")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want StatusError, got %v", err)
	}
	if statusErr.Backend != "gemini" || statusErr.Code != http.StatusTooManyRequests {
		t.Errorf("unexpected status error: %+v", statusErr)
	}
}

func TestGemini_ThinkingBudget(t *testing.T) {
	var body geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "[]"}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewGemini("key", "gemini-2.5-pro")
	p.baseURL = srv.URL
	if _, err := p.Generate(context.Background(), "prompt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.GenerationConfig.ThinkingConfig.ThinkingBudget != 8192 {
		t.Errorf("pro model budget = %d, want 8192", body.GenerationConfig.ThinkingConfig.ThinkingBudget)
	}

	p = NewGemini("key", "gemini-2.5-flash")
	p.baseURL = srv.URL
	if _, err := p.Generate(context.Background(), "prompt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.GenerationConfig.ThinkingConfig.ThinkingBudget != 0 {
		t.Errorf("flash model budget = %d, want 0", body.GenerationConfig.ThinkingConfig.ThinkingBudget)
	}
}

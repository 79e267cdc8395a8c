package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func openAITestServer(t *testing.T, content string) (*httptest.Server, *chatRequest) {
	t.Helper()
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestOpenAI_GenerateUnwrapsGroupsWrapper(t *testing.T) {
	srv, got := openAITestServer(t, `{"groups":[{"group_name":"Dev","ids":[1,2]}]}`)

	p := NewOpenAI("test-token", "gpt-4o")
	p.baseURL = srv.URL

	out, err := p.Generate(context.Background(), "group these tabs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entries []PlanEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("output is not a plan array: %v", err)
	}
	if len(entries) != 1 || entries[0].GroupName != "Dev" {
		t.Errorf("unexpected entries: %+v", entries)
	}

	if got.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", got.Model)
	}
	if got.ResponseFormat == nil {
		t.Error("expected a structured response_format in the request")
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "group these tabs" {
		t.Errorf("unexpected messages: %+v", got.Messages)
	}
}

func TestOpenAI_GenerateStripsFences(t *testing.T) {
	srv, _ := openAITestServer(t, "```json\n[{\"group_name\":\"News\",\"ids\":[3,4]}]\n```")

	p := NewOpenAI("tok", "")
	p.baseURL = srv.URL

	out, err := p.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var entries []PlanEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("output is not a plan array: %v\n%s", err, out)
	}
	if entries[0].GroupName != "News" {
		t.Errorf("group name = %q, want News", entries[0].GroupName)
	}
}

func TestOpenAI_GenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAI("bad-token", "gpt-4o")
	p.baseURL = srv.URL

	_, err := p.Generate(context.Background(), "prompt")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", statusErr.Code)
	}
}

func TestOpenAI_GenerateEmptyContent(t *testing.T) {
	srv, _ := openAITestServer(t, "")

	p := NewOpenAI("tok", "gpt-4o")
	p.baseURL = srv.URL

	_, err := p.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("want ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAI_GenerateJSONReturnsDocument(t *testing.T) {
	srv, got := openAITestServer(t, "```json\n{\"insights\":[]}\n```")

	p := NewOpenAI("tok", "gpt-4o")
	p.baseURL = srv.URL

	out, err := p.GenerateJSON(context.Background(), "analyze")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"insights":[]}` {
		t.Errorf("output = %q", out)
	}

	// Free-form JSON calls must not carry the plan schema, which would
	// force a groups-shaped answer.
	format, _ := got.ResponseFormat.(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("response_format type = %v, want json_object", format["type"])
	}
}

func TestOpenAI_GenerateCancelled(t *testing.T) {
	srv, _ := openAITestServer(t, `{"groups":[]}`)

	p := NewOpenAI("tok", "gpt-4o")
	p.baseURL = srv.URL

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Generate(ctx, "prompt")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

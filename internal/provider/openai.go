package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const openAIDefaultURL = "https://api.openai.com/v1/chat/completions"

// OpenAI calls the chat-completions endpoint with a strict JSON schema so
// the model can only answer with a {"groups": [...]} object. Generate
// unwraps that object and returns the inner array as JSON text.
type OpenAI struct {
	token   string
	model   string
	baseURL string
}

func NewOpenAI(token, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAI{token: token, model: model, baseURL: openAIDefaultURL}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat any           `json:"response_format,omitempty"`
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// planResponseFormat constrains the answer to {"groups": [{group_name, ids}]}.
// OpenAI requires the schema root to be an object, hence the wrapper.
var planResponseFormat = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "TabGroupResponse",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"groups": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"group_name": map[string]any{"type": "string"},
							"ids": map[string]any{
								"type":  "array",
								"items": map[string]any{"type": "number"},
							},
						},
						"required":             []string{"group_name", "ids"},
						"additionalProperties": false,
					},
				},
			},
			"required":             []string{"groups"},
			"additionalProperties": false,
		},
	},
}

func (p *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	content, err := p.complete(ctx, prompt, planResponseFormat,
		"You are an assistant that groups browser tabs based on their content. Respond ONLY with a valid JSON object matching the specified schema, containing a 'groups' property which is an array of tab groups.")
	if err != nil {
		return "", err
	}
	return normalizePlanJSON(content)
}

func (p *OpenAI) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	content, err := p.complete(ctx, prompt, map[string]any{"type": "json_object"},
		"You are a precise assistant. Respond ONLY with the valid JSON document the user asks for, with no surrounding text.")
	if err != nil {
		return "", err
	}
	return stripFences(content), nil
}

func (p *OpenAI) complete(ctx context.Context, prompt string, format any, system string) (string, error) {
	reqBody := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: format,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Backend: "openai", Code: resp.StatusCode, Status: resp.Status}
	}

	var completion chatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: %w", ErrEmptyResponse)
	}

	return completion.Choices[0].Message.Content, nil
}

// normalizePlanJSON reduces a backend's content text to the innermost JSON
// the caller should parse. The content may be the plan array itself, a
// {"groups": [...]} wrapper, or some other JSON object.
func normalizePlanJSON(content string) (string, error) {
	content = stripFences(content)

	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", fmt.Errorf("parse provider content: %w", err)
	}

	if obj, ok := parsed.(map[string]any); ok {
		if groups, ok := obj["groups"]; ok {
			out, err := json.Marshal(groups)
			if err != nil {
				return "", err
			}
			return string(out), nil
		}
	}

	out, err := json.Marshal(parsed)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

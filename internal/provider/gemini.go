package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const geminiDefaultURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini calls the generateContent endpoint. The model answers with free
// text that may be wrapped in code fences and may carry the plan array
// either directly or inside a {"groups": [...]} wrapper; Generate
// normalizes all of that to the bare array.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
}

func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{apiKey: apiKey, model: model, baseURL: geminiDefaultURL}
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig *geminiGenCfg   `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenCfg struct {
	ThinkingConfig geminiThinking `json:"thinkingConfig"`
}

type geminiThinking struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (p *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	content, err := p.generateContent(ctx, prompt)
	if err != nil {
		return "", err
	}
	return normalizePlanJSON(content)
}

func (p *Gemini) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	content, err := p.generateContent(ctx, prompt)
	if err != nil {
		return "", err
	}
	return stripFences(content), nil
}

func (p *Gemini) generateContent(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)

	// Pro models require a thinking budget; flash models answer faster
	// with thinking disabled.
	budget := 0
	if strings.Contains(p.model, "pro") {
		budget = 8192
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: &geminiGenCfg{
			ThinkingConfig: geminiThinking{ThinkingBudget: budget},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Backend: "gemini", Code: resp.StatusCode, Status: resp.Status}
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	text := result.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	return text, nil
}

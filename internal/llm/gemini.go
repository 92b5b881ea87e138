package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient is a direct HTTP client for the Google Gemini API.
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithGeminiBaseURL overrides the API endpoint. Empty keeps the default.
func WithGeminiBaseURL(u string) GeminiOption {
	return func(g *GeminiClient) {
		if u != "" {
			g.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithGeminiHTTPClient replaces the HTTP client.
func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(g *GeminiClient) { g.client = c }
}

// NewGeminiClient creates a new Gemini API client.
func NewGeminiClient(apiKey, model string, opts ...GeminiOption) *GeminiClient {
	g := &GeminiClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultGeminiBaseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the provider name.
func (g *GeminiClient) Name() string { return "gemini" }

// Complete sends a generateContent request.
func (g *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := g.post(ctx, req, "generateContent", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Provider: g.Name(), Message: fmt.Sprintf("failed to parse response: %v", err)}
	}
	if result.PromptFeedback.BlockReason != "" {
		return nil, &ProviderError{Provider: g.Name(), Message: "prompt blocked: " + result.PromptFeedback.BlockReason, Code: http.StatusBadRequest}
	}

	return g.toCompletion(&result, time.Since(start)), nil
}

// Stream sends a streamGenerateContent request and relays text deltas.
func (g *GeminiClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	resp, err := g.post(ctx, req, "streamGenerateContent", url.Values{"alt": {"sse"}})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		start := time.Now()
		var full strings.Builder
		var usage Usage
		var stop string

		err := eachSSEData(resp.Body, func(data []byte) {
			var event geminiResponse
			if json.Unmarshal(data, &event) != nil {
				return
			}
			for _, cand := range event.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						full.WriteString(part.Text)
						ch <- StreamEvent{Type: EventDelta, Content: part.Text}
					}
				}
				if cand.FinishReason != "" {
					stop = cand.FinishReason
				}
			}
			if event.UsageMetadata.PromptTokenCount > 0 {
				usage = Usage{
					InputTokens:  event.UsageMetadata.PromptTokenCount,
					OutputTokens: event.UsageMetadata.CandidatesTokenCount,
				}
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			ch <- StreamEvent{Type: EventError, Error: fmt.Sprintf("reading stream: %v", err)}
			return
		}

		ch <- StreamEvent{Type: EventDone, Response: &CompletionResponse{
			Content:    full.String(),
			StopReason: stop,
			Usage:      usage,
			Model:      g.model,
			Duration:   time.Since(start),
		}}
	}()
	return ch, nil
}

// post issues the request and maps non-200 answers to a ProviderError. The
// caller closes the body.
func (g *GeminiClient) post(ctx context.Context, req CompletionRequest, method string, query url.Values) (*http.Response, error) {
	payload, err := json.Marshal(g.buildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	model := req.Model
	if model == "" {
		model = g.model
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", g.apiKey)
	endpoint := fmt.Sprintf("%s/models/%s:%s?%s", g.baseURL, url.PathEscape(model), method, query.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: g.Name(), Message: fmt.Sprintf("request failed: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{Provider: g.Name(), Message: strings.TrimSpace(string(body)), Code: resp.StatusCode}
	}
	return resp, nil
}

func (g *GeminiClient) buildRequestBody(req CompletionRequest) map[string]interface{} {
	contents := make([]map[string]interface{}, 0, len(req.Messages))
	for _, m := range mergeTurns(req.Messages) {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]interface{}{
			"role":  role,
			"parts": []map[string]string{{"text": m.Content}},
		})
	}

	genConfig := map[string]interface{}{}
	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}

	body := map[string]interface{}{
		"contents":         contents,
		"generationConfig": genConfig,
	}
	if req.System != "" {
		body["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]string{{"text": req.System}},
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]map[string]interface{}, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = map[string]interface{}{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  parseJSONSchema(t.InputSchema),
			}
		}
		body["tools"] = []map[string]interface{}{{"functionDeclarations": decls}}
	}

	return body
}

func (g *GeminiClient) toCompletion(resp *geminiResponse, duration time.Duration) *CompletionResponse {
	out := &CompletionResponse{
		Model:    g.model,
		Duration: duration,
		Usage: Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	cand := resp.Candidates[0]
	out.StopReason = cand.FinishReason
	var content strings.Builder
	for i, part := range cand.Content.Parts {
		content.WriteString(part.Text)
		if part.FunctionCall != nil {
			input, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:    fmt.Sprintf("gemini_call_%d", i),
				Name:  part.FunctionCall.Name,
				Input: string(input),
			})
		}
	}
	out.Content = content.String()
	return out
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content struct {
		Parts []geminiPart `json:"parts"`
		Role  string       `json:"role"`
	} `json:"content"`
	FinishReason string `json:"finishReason"`
}

type geminiPart struct {
	Text         string `json:"text,omitempty"`
	FunctionCall *struct {
		Name string                 `json:"name"`
		Args map[string]interface{} `json:"args"`
	} `json:"functionCall,omitempty"`
}

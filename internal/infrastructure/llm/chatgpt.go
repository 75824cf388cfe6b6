package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"RecipeAcquisition/internal/config"
	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/ports"
)

// suggestionConfidence sits below every extraction strategy.
const suggestionConfidence = 0.3

const sourceName = "chatgpt"

// ChatGPTClient implements ports.Enricher backed by OpenAI-compatible chat APIs.
type ChatGPTClient struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Enricher = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.ChatGPTConfig) *ChatGPTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ChatGPTClient{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type draftPayload struct {
	SourceURL       string              `json:"sourceUrl"`
	Fields          domain.RecipeFields `json:"fields"`
	IngredientLines []string            `json:"ingredientLines"`
	MissingFields   []domain.Field      `json:"missingFields"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type suggestionList struct {
	Suggestions []struct {
		Field string `json:"field"`
		Value string `json:"value"`
	} `json:"suggestions"`
	Ingredients []struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
	} `json:"ingredients"`
}

// Suggest asks the model for corrections to the draft. Suggestions are returned with low
// confidence and never applied by the pipeline.
func (c *ChatGPTClient) Suggest(ctx context.Context, draft domain.RecipeDraft) ([]domain.Suggestion, error) {
	if c == nil {
		return nil, fmt.Errorf("chatgpt client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return nil, fmt.Errorf("chatgpt client misconfigured")
	}

	payload, err := json.Marshal(draftPayload{
		SourceURL:       draft.SourceURL,
		Fields:          draft.Fields,
		IngredientLines: draft.RawIngredientLines,
		MissingFields:   missingFields(draft.Fields),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal draft: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(c.systemPrompt)},
			{"role": "user", "content": string(payload)},
		},
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chatgpt payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request suggestions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var chat chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode chatgpt response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, nil
	}

	var list suggestionList
	if err := json.Unmarshal([]byte(stripFence(chat.Choices[0].Message.Content)), &list); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}

	known := make(map[domain.Field]bool, len(domain.AllFields))
	for _, f := range domain.AllFields {
		known[f] = true
	}
	var out []domain.Suggestion
	for _, s := range list.Suggestions {
		field := domain.Field(strings.TrimSpace(s.Field))
		value := strings.TrimSpace(s.Value)
		if !known[field] || value == "" {
			continue
		}
		out = append(out, domain.Suggestion{Field: field, Value: value, Source: sourceName, Confidence: suggestionConfidence})
	}
	for _, s := range list.Ingredients {
		name := strings.TrimSpace(s.Name)
		if s.Index < 0 || s.Index >= len(draft.RawIngredientLines) || name == "" {
			continue
		}
		line := s.Index
		out = append(out, domain.Suggestion{Field: domain.FieldIngredients, Line: &line, Value: name, Source: sourceName, Confidence: suggestionConfidence})
	}
	return out, nil
}

func missingFields(f domain.RecipeFields) []domain.Field {
	var missing []domain.Field
	for _, field := range domain.AllFields {
		if field != domain.FieldIngredients && f.Empty(field) {
			missing = append(missing, field)
		}
	}
	return missing
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return `You review scraped recipes. Reply with JSON {"suggestions":[{"field":"...","value":"..."}],"ingredients":[{"index":0,"name":"..."}]} proposing values for missing or suspicious fields and clean ingredient names for ingredientLines by index.`
	}
	return prompt
}

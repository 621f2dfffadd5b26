// Package vision calls the external vision model that classifies pole
// condition from inspection photos. The model is an OpenAI-compatible
// chat-completions endpoint and is treated as a black box.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultModel is the vision-capable model used for classification
const DefaultModel = "meta-llama/llama-4-scout-17b-16e-instruct"

const classifyPrompt = `Você é um especialista em infraestrutura de rede de distribuição elétrica.
Analise a imagem fornecida de um poste ou rede elétrica.
Identifique:
1. O tipo de poste (concreto, madeira, aço).
2. As estruturas presentes (transformadores, isoladores, para-raios, tipos de braçadeiras).
3. A condição (boa, danificada, inclinado).

Responda em formato JSON com os seguintes campos (em Português):
{
  "pole_type": String,
  "structures": [String],
  "condition": String,
  "confidence": Number (0-1),
  "analysis_summary": String
}
Importante: Todos os valores de texto devem estar em Português do Brasil (PT-BR).`

// Result is the structured classification returned by the vision model.
// Condition is free text; downstream consumers match it against keyword
// sets rather than treating it as an enum.
type Result struct {
	PoleType   string   `json:"pole_type"`
	Structures []string `json:"structures"`
	Condition  string   `json:"condition"`
	Confidence float64  `json:"confidence"`
	Summary    string   `json:"analysis_summary"`
}

// Config holds vision client configuration
type Config struct {
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// DefaultConfig returns default vision client configuration
func DefaultConfig() Config {
	return Config{
		APIURL:  "https://api.groq.com/openai/v1/chat/completions",
		Model:   DefaultModel,
		Timeout: 60 * time.Second,
	}
}

// Client calls the vision model API
type Client struct {
	config     Config
	httpClient *http.Client
}

// New creates a new vision client
func New(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// AnalyzeImage submits a base64-encoded JPEG to the vision model and parses
// the structured classification out of the completion.
func (c *Client) AnalyzeImage(ctx context.Context, imageBase64 string) (*Result, error) {
	if c.config.APIKey == "" {
		return nil, fmt.Errorf("vision API key is not configured")
	}

	reqBody := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: classifyPrompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:image/jpeg;base64," + imageBase64,
				}},
			},
		}},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vision API error %d: %s", resp.StatusCode, string(body))
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("vision API returned no choices")
	}

	var result Result
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}
	return &result, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// =============================================================================
// OpenAI Wire Types
// =============================================================================

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1/chat/completions"
	DefaultOpenAIModel   = "gpt-4o"
	defaultOpenAITimeout = 120 * time.Second

	// maxResponseBytes bounds how much of a provider response is read.
	maxResponseBytes = 4 << 20
)

type openaiRequest struct {
	Model               string                `json:"model"`
	Messages            []openaiMessage       `json:"messages"`
	Temperature         *float32              `json:"temperature,omitempty"`
	MaxCompletionTokens *int                  `json:"max_completion_tokens,omitempty"`
	TopP                *float32              `json:"top_p,omitempty"`
	Stop                []string              `json:"stop,omitempty"`
	ResponseFormat      *openaiResponseFormat `json:"response_format,omitempty"`
}

type openaiResponseFormat struct {
	Type string `json:"type"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OpenAIConfig configures an OpenAIClient.
//
// Fields:
//   - APIKey: Bearer credential. Empty disables the Authorization header,
//     which suits local OpenAI-compatible servers.
//   - Model: Default model name. Empty means DefaultOpenAIModel.
//   - BaseURL: Full chat-completions URL. Empty means DefaultOpenAIBaseURL.
//   - Timeout: HTTP client timeout. Zero means 120s.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIClient implements ChatClient against the OpenAI Chat Completions
// REST API using raw net/http.
//
// Description:
//
//	The API key is sealed in a memguard enclave at construction and only
//	decrypted for the duration of a request. Error bodies are passed
//	through SafeLogString before they reach logs or error values.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	httpClient *http.Client
	apiKey     *memguard.Enclave
	model      string
	baseURL    string
}

// NewOpenAIClient creates an OpenAIClient with explicit configuration.
//
// Inputs:
//   - cfg: Client configuration. Zero fields take defaults.
//
// Outputs:
//   - *OpenAIClient: The configured client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOpenAITimeout
	}

	var key *memguard.Enclave
	if cfg.APIKey != "" {
		// NewEnclave wipes the source slice.
		key = memguard.NewEnclave([]byte(cfg.APIKey))
	}

	return &OpenAIClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiKey:     key,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
	}
}

// NewOpenAIClientFromEnv creates an OpenAIClient from the environment.
//
// Description:
//
//	Reads the key from the variable named by keyEnv (OPENAI_API_KEY when
//	empty) plus OPENAI_MODEL and OPENAI_BASE_URL.
//
// Outputs:
//   - *OpenAIClient: The configured client.
//   - error: Non-nil if the key variable is unset.
func NewOpenAIClientFromEnv(keyEnv string) (*OpenAIClient, error) {
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is missing (%s)", keyEnv)
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		slog.Warn("OPENAI_MODEL not set, using default", slog.String("model", DefaultOpenAIModel))
	}
	return NewOpenAIClient(OpenAIConfig{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
	}), nil
}

// Model returns the default model name.
func (o *OpenAIClient) Model() string {
	return o.model
}

// Chat implements ChatClient using the chat completions API.
//
// Description:
//
//	Sends messages with the given params. Unknown roles are mapped to
//	"user". With params.JSONMode the request carries
//	response_format {"type":"json_object"}.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation to send, system prompt first.
//   - params: Generation parameters.
//
// Outputs:
//   - string: The assistant's reply text.
//   - error: Non-nil on transport failure, non-200 status, provider error,
//     or an empty reply (*EmptyResponseError).
//
// Thread Safety: This method is safe for concurrent use.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (_ string, err error) {
	model := o.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "llm.OpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(messages)),
		attribute.Bool("llm.json_mode", params.JSONMode),
	)

	start := time.Now()
	var usage openaiUsage
	defer func() {
		recordCall(model, time.Since(start), usage.PromptTokens, usage.CompletionTokens, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, classifyError(err))
		}
	}()

	oaiMessages := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case "system", "user", "assistant":
		default:
			slog.Warn("openai: unknown message role, mapping to user",
				slog.String("unknown_role", role),
				slog.String("model", model),
			)
			role = "user"
		}
		oaiMessages = append(oaiMessages, openaiMessage{Role: role, Content: msg.Content})
	}

	reqPayload := openaiRequest{
		Model:               model,
		Messages:            oaiMessages,
		Temperature:         params.Temperature,
		MaxCompletionTokens: params.MaxTokens,
		TopP:                params.TopP,
	}
	if len(params.Stop) > 0 {
		reqPayload.Stop = params.Stop
	}
	if params.JSONMode {
		reqPayload.ResponseFormat = &openaiResponseFormat{Type: "json_object"}
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("openai: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("openai: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := o.authorize(httpReq); err != nil {
		return "", err
	}

	slog.Debug("Sending request to OpenAI", slog.String("model", model), slog.Int("messages", len(messages)))

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("openai: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("openai: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("openai: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}
	if len(apiResp.Choices) == 0 {
		return "", &EmptyResponseError{Provider: "openai", FinishReason: "no_choices"}
	}
	if apiResp.Usage != nil {
		usage = *apiResp.Usage
	}

	choice := apiResp.Choices[0]
	if choice.Message.Content == "" {
		return "", &EmptyResponseError{Provider: "openai", FinishReason: choice.FinishReason}
	}

	slog.Debug("Received OpenAI chat response",
		slog.String("finish_reason", choice.FinishReason),
		slog.Int("response_len", len(choice.Message.Content)),
	)
	span.SetAttributes(attribute.Int("llm.response_len", len(choice.Message.Content)))

	return choice.Message.Content, nil
}

// authorize sets the bearer header, opening the enclave only for the copy.
func (o *OpenAIClient) authorize(req *http.Request) error {
	if o.apiKey == nil {
		return nil
	}
	buf, err := o.apiKey.Open()
	if err != nil {
		return fmt.Errorf("openai: opening API key enclave: %w", err)
	}
	defer buf.Destroy()
	req.Header.Set("Authorization", "Bearer "+buf.String())
	return nil
}

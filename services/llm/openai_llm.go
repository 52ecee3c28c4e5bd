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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/ReqPipeline/pkg/logging"
)

const defaultModel = "gpt-4o-mini"

// OpenAIClient implements CompletionClient over the OpenAI chat API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	log    *logging.Logger
}

// NewOpenAIClient builds a client with an explicit key, model, and base
// URL. An empty model falls back to the default; an empty baseURL uses
// the public API endpoint.
func NewOpenAIClient(apiKey, model, baseURL string, logger *logging.Logger) *OpenAIClient {
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = logging.Default()
	}
	conf := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		conf.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(conf), model: model, log: logger}
}

// NewOpenAIClientFromEnv resolves the API key from OPENAI_API_KEY,
// falling back to the container secret mount when the env var is absent.
func NewOpenAIClientFromEnv(model, baseURL string, logger *logging.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = logging.Default()
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		data, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, errors.New("OPENAI_API_KEY not set and no secret mounted")
		}
		apiKey = strings.TrimSpace(string(data))
		logger.Info("read OpenAI API key from secret mount", "path", secretPath)
	}
	if model == "" {
		logger.Warn("completion model not configured, using default", "model", defaultModel)
	}
	return NewOpenAIClient(apiKey, model, baseURL, logger), nil
}

// Model returns the configured model name, for tokenizer selection.
func (o *OpenAIClient) Model() string { return o.model }

func (o *OpenAIClient) request(prompt string, opts Options) openai.ChatCompletionRequest {
	system := opts.System
	if system == "" {
		system = "You are a helpful assistant."
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if opts.Temperature != 0 {
		req.Temperature = opts.Temperature
	}
	if opts.MaxTokens != 0 {
		req.MaxCompletionTokens = opts.MaxTokens
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

// Complete implements CompletionClient.
func (o *OpenAIClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	o.log.Debug("completion request", "model", o.model, "json_mode", opts.JSONMode)

	resp, err := o.client.CreateChatCompletion(ctx, o.request(prompt, opts))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &ServiceError{Err: errors.New("response contained no choices")}
	}

	o.log.Debug("completion response", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// CompleteStream implements CompletionClient using the chat streaming API.
func (o *OpenAIClient) CompleteStream(ctx context.Context, prompt string, opts Options, onToken TokenHandler) (string, error) {
	req := o.request(prompt, opts)
	req.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", classify(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if onToken != nil {
			onToken(delta)
		}
	}
	return b.String(), nil
}

// classify maps transport errors to the package's retryable error types.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &RateLimitError{}
		case apiErr.HTTPStatusCode >= 500:
			return &ServiceError{Err: err}
		default:
			return fmt.Errorf("completion request rejected: %w", err)
		}
	}
	return &ServiceError{Err: err}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

// Config is the pipeline server's configuration tree.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Backend   BackendConfig   `yaml:"model_backend"`
	Streaming StreamingConfig `yaml:"streaming"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"gt=0,lte=65535"`
}

type DataConfig struct {
	// Dir is the root for the metadata store and content blobs.
	Dir string `yaml:"dir" validate:"required"`
}

type ChunkingConfig struct {
	MaxTokens     int `yaml:"max_tokens" validate:"gt=0"`
	OverlapTokens int `yaml:"overlap_tokens" validate:"gte=0,ltfield=MaxTokens"`
}

type AnalysisConfig struct {
	// Concurrency bounds simultaneous chunk completions.
	Concurrency int `yaml:"concurrency" validate:"gt=0"`

	// MaxAttempts and PerCallTimeoutSeconds bound each completion call.
	MaxAttempts           int `yaml:"max_attempts" validate:"gt=0"`
	PerCallTimeoutSeconds int `yaml:"per_call_timeout_seconds" validate:"gt=0"`

	// MergeOverlapThreshold is the span-overlap fraction at which
	// same-category findings from different chunks are deduplicated.
	MergeOverlapThreshold float64 `yaml:"merge_overlap_threshold" validate:"gt=0,lte=1"`
}

type BackendConfig struct {
	// Type selects the completion backend; only "openai" is wired today.
	Type string `yaml:"type" validate:"oneof=openai"`

	// Model is the completion model, also used for exact token counting.
	Model string `yaml:"model"`

	BaseURL string `yaml:"base_url,omitempty"`

	// RequestsPerSecond throttles outgoing completion calls.
	// Zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

type StreamingConfig struct {
	// EventBuffer is the per-stream backlog before data events are
	// dropped for a slow consumer.
	EventBuffer int `yaml:"event_buffer" validate:"gt=0"`

	// HeartbeatSeconds is the SSE keepalive interval.
	HeartbeatSeconds int `yaml:"heartbeat_seconds" validate:"gt=0"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8090},
		Data:     DataConfig{Dir: "data"},
		Chunking: ChunkingConfig{MaxTokens: 3000, OverlapTokens: 200},
		Analysis: AnalysisConfig{
			Concurrency:           4,
			MaxAttempts:           3,
			PerCallTimeoutSeconds: 120,
			MergeOverlapThreshold: 0.5,
		},
		Backend: BackendConfig{
			Type:  "openai",
			Model: "gpt-4o-mini",
		},
		Streaming: StreamingConfig{EventBuffer: 64, HeartbeatSeconds: 15},
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm abstracts the completion backend used by the document
// pipeline.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Options tunes a single completion call.
type Options struct {
	// System sets the system prompt. Empty means the backend default.
	System string

	// Temperature of 0 leaves the backend default in place.
	Temperature float32

	// MaxTokens caps the completion length. 0 means no explicit cap.
	MaxTokens int

	// JSONMode asks the backend to constrain output to a JSON object.
	// Callers still validate the payload; this only reduces drift.
	JSONMode bool
}

// TokenHandler receives incremental output during a streaming call. It is
// invoked from the client's receive loop, so it must not block.
type TokenHandler func(token string)

// CompletionClient is the interface every completion backend implements.
type CompletionClient interface {
	// Complete runs a single prompt to completion.
	Complete(ctx context.Context, prompt string, opts Options) (string, error)

	// CompleteStream runs a prompt, invoking onToken for each output
	// fragment as it arrives, and returns the full accumulated text.
	CompleteStream(ctx context.Context, prompt string, opts Options, onToken TokenHandler) (string, error)
}

// RateLimitError reports a backend throttle. RetryAfter is zero when the
// backend gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// ServiceError reports a backend-side failure (5xx, malformed response).
// These are retryable; request-shape errors (4xx other than 429) are not
// wrapped and should not be retried.
type ServiceError struct {
	Err error
}

func (e *ServiceError) Error() string { return "completion service error: " + e.Err.Error() }
func (e *ServiceError) Unwrap() error { return e.Err }

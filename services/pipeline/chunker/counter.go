// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter reports how many completion-service tokens a piece of text
// consumes. Implementations must be safe for concurrent use.
type TokenCounter interface {
	Count(text string) int
}

// CountFunc adapts a plain function to TokenCounter.
type CountFunc func(text string) int

func (f CountFunc) Count(text string) int { return f(text) }

// EstimateCounter approximates one token per four characters, the
// conservative fallback used when no exact tokenizer is available.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return max(1, len(text)/4)
}

// TiktokenCounter counts tokens with the BPE encoding of a specific model.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter resolves the encoding for model (e.g. "gpt-4o-mini").
// Callers should fall back to EstimateCounter when this fails; the chunker
// behaves identically either way except for boundary positions.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("resolve encoding for model %q: %w", model, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

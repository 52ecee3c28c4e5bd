// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"strings"
)

// ParseMode records how a model payload was recovered. Callers log it so
// drifting model output is visible without failing the operation.
type ParseMode string

const (
	// ParseStrict means the payload was valid JSON as-is.
	ParseStrict ParseMode = "strict"
	// ParseFenced means the payload was inside a markdown code fence.
	ParseFenced ParseMode = "fenced"
	// ParseEmbedded means the payload was the outermost brace-delimited
	// region of otherwise free-form text.
	ParseEmbedded ParseMode = "embedded"
)

// ExtractJSON recovers a JSON value from model output. Models asked for
// strict JSON still occasionally wrap it in prose or a code fence, so the
// extraction gets progressively more tolerant. Returns false when nothing
// in the text parses.
func ExtractJSON(text string) ([]byte, ParseMode, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, "", false
	}

	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), ParseStrict, true
	}

	if inner, ok := fencedBlock(trimmed); ok && json.Valid([]byte(inner)) {
		return []byte(inner), ParseFenced, true
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		lo := strings.Index(trimmed, pair[0])
		hi := strings.LastIndex(trimmed, pair[1])
		if lo >= 0 && hi > lo {
			candidate := trimmed[lo : hi+1]
			if json.Valid([]byte(candidate)) {
				return []byte(candidate), ParseEmbedded, true
			}
		}
	}
	return nil, "", false
}

// fencedBlock returns the contents of the first ``` fence, tolerating a
// language tag on the opening line.
func fencedBlock(text string) (string, bool) {
	lo := strings.Index(text, "```")
	if lo < 0 {
		return "", false
	}
	rest := text[lo+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		first := strings.TrimSpace(rest[:nl])
		// Opening line like ```json carries no payload.
		if !strings.ContainsAny(first, "{[") {
			rest = rest[nl+1:]
		}
	}
	hi := strings.Index(rest, "```")
	if hi < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:hi]), true
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract normalizes uploaded document bytes into analyzable
// text. Rich formats (pdf, docx) plug in behind the Extractor interface;
// the built-in implementation covers plain text and JSON uploads.
package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Extractor turns raw upload bytes into text. extension is the lowercase
// file extension including the dot.
type Extractor interface {
	ExtractText(content []byte, extension string) (string, error)
}

// UnsupportedFormatError reports an extension no extractor handles.
type UnsupportedFormatError struct {
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported document format %q", e.Extension)
}

// ExtractionError reports a format that should have worked but did not.
type ExtractionError struct {
	Extension string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s content: %v", e.Extension, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TextExtractor handles .txt, .md and .json uploads. JSON documents are
// flattened to "path: value" lines so the analyzer sees prose-like input.
type TextExtractor struct{}

// ExtractText implements Extractor.
func (TextExtractor) ExtractText(content []byte, extension string) (string, error) {
	switch strings.ToLower(extension) {
	case ".txt", ".md", "":
		if !utf8.Valid(content) {
			return "", &ExtractionError{Extension: extension, Err: fmt.Errorf("content is not valid UTF-8")}
		}
		return string(content), nil
	case ".json":
		var obj any
		if err := json.Unmarshal(content, &obj); err != nil {
			return "", &ExtractionError{Extension: extension, Err: err}
		}
		var b strings.Builder
		flatten(&b, "", obj)
		return b.String(), nil
	default:
		return "", &UnsupportedFormatError{Extension: extension}
	}
}

func flatten(b *strings.Builder, prefix string, obj any) {
	switch v := obj.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(b, joinPath(prefix, k), v[k])
		}
	case []any:
		for i, item := range v {
			flatten(b, fmt.Sprintf("%s[%d]", prefix, i), item)
		}
	default:
		fmt.Fprintf(b, "%s: %v\n", prefix, v)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

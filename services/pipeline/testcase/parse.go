// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testcase

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
)

var (
	numberedLine = regexp.MustCompile(`^\d+\.\s*(.+)`)
	labeledLine  = regexp.MustCompile(`(?i)^(?:Test Case|TC)\s*[:\-]?\s*(.+)`)
)

// parseTestcases recovers a test-case list from model output. JSON is
// tried first (directly, fenced, or embedded in prose); failing that, a
// line heuristic captures numbered or "Test Case:" entries with their
// following lines as steps. Returns false only when nothing at all could
// be recovered.
func parseTestcases(text string) ([]datatypes.TestCase, datatypes.ParseMode, bool) {
	if payload, mode, ok := datatypes.ExtractJSON(text); ok {
		if cases, ok := decodeCases(payload); ok {
			return cases, mode, true
		}
	}

	cases := heuristicCases(text)
	if len(cases) == 0 {
		return nil, "", false
	}
	return cases, "heuristic", true
}

func decodeCases(payload []byte) ([]datatypes.TestCase, bool) {
	var set datatypes.TestcaseSet
	if err := json.Unmarshal(payload, &set); err == nil && set.Cases != nil {
		return set.Cases, true
	}
	var list []datatypes.TestCase
	if err := json.Unmarshal(payload, &list); err == nil && list != nil {
		return list, true
	}
	return nil, false
}

// heuristicCases splits free-form text into titled entries. Lines that
// open a new entry become titles; everything until the next opener
// becomes that entry's steps.
func heuristicCases(text string) []datatypes.TestCase {
	var cases []datatypes.TestCase
	var cur *datatypes.TestCase

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		var title string
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			title = strings.TrimSpace(m[1])
		} else if m := labeledLine.FindStringSubmatch(line); m != nil {
			title = strings.TrimSpace(m[1])
		}

		if title != "" {
			if cur != nil {
				cases = append(cases, *cur)
			}
			cur = &datatypes.TestCase{Title: title}
			continue
		}
		if cur != nil {
			cur.Steps = append(cur.Steps, line)
		}
	}
	if cur != nil {
		cases = append(cases, *cur)
	}
	return cases
}

// reduceCases concatenates per-chunk case lists in chunk order, dropping
// later entries whose title repeats an earlier one, then assigns dense
// ids to entries that arrived without one.
func reduceCases(perChunk [][]datatypes.TestCase) []datatypes.TestCase {
	seen := make(map[string]bool)
	var out []datatypes.TestCase
	for _, cases := range perChunk {
		for _, tc := range cases {
			key := strings.ToLower(strings.TrimSpace(tc.Title))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, tc)
		}
	}
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = fmt.Sprintf("TC-%03d", i+1)
		}
	}
	return out
}

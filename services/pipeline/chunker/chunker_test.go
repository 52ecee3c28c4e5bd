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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oneTokenPerWord makes boundary arithmetic deterministic in tests: every
// non-empty segment costs exactly one token.
var oneTokenPerWord = CountFunc(func(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 1
})

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%03d", i)
	}
	return strings.Join(parts, " ")
}

// reassemble concatenates each chunk's unique span.
func reassemble(chunks []Chunk, original string) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(original[c.UniqueStart:c.Span.End])
	}
	return b.String()
}

// TestNewRejectsBadConfig verifies overlap >= max fails fast.
func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(100, 100, oneTokenPerWord)
	assert.Error(t, err)

	_, err = New(100, 150, oneTokenPerWord)
	assert.Error(t, err)

	_, err = New(0, 0, oneTokenPerWord)
	assert.Error(t, err)

	_, err = New(100, -1, oneTokenPerWord)
	assert.Error(t, err)
}

// TestSingleChunkWhenInputFits verifies a 50-token input under a 100-token
// budget yields exactly one chunk with no overlap.
func TestSingleChunkWhenInputFits(t *testing.T) {
	c, err := New(100, 20, oneTokenPerWord)
	require.NoError(t, err)

	text := words(50)
	chunks := c.Split(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Span.Start)
	assert.Equal(t, len(text), chunks[0].Span.End)
	assert.Equal(t, chunks[0].Span.Start, chunks[0].UniqueStart)
}

// TestThreeChunkScenario covers the 250-token / max 100 / overlap 20 case:
// three chunks, each consecutive pair overlapping by the configured amount.
func TestThreeChunkScenario(t *testing.T) {
	c, err := New(100, 20, oneTokenPerWord)
	require.NoError(t, err)

	text := words(250)
	chunks := c.Split(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, text, reassemble(chunks, text))

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		assert.Greater(t, prev.Span.End, cur.Span.Start,
			"chunk %d must start inside chunk %d", i, i-1)
		overlap := text[cur.Span.Start:prev.Span.End]
		assert.Equal(t, 20, len(strings.Fields(overlap)),
			"chunk %d overlap should cover 20 one-token words", i)
	}
}

// TestCoverageInvariant verifies reassembly for a variety of shapes,
// including irregular whitespace and trailing newlines.
func TestCoverageInvariant(t *testing.T) {
	inputs := []string{
		words(1),
		words(250),
		"  leading space " + words(90),
		words(33) + "\n\n" + words(120) + "\n",
		"one\ttwo\nthree   four",
		"",
	}

	c, err := New(40, 10, oneTokenPerWord)
	require.NoError(t, err)

	for i, text := range inputs {
		chunks := c.Split(text)
		assert.Equal(t, text, reassemble(chunks, text), "input %d", i)
		for j, ch := range chunks {
			assert.Equal(t, text[ch.Span.Start:ch.Span.End], ch.Text, "input %d chunk %d", i, j)
			assert.Equal(t, j, ch.Index)
		}
	}
}

// TestEstimateCounterBehavesLikeInjected verifies the invariants hold with
// the character-based fallback; boundaries differ, the contract does not.
func TestEstimateCounterBehavesLikeInjected(t *testing.T) {
	c, err := New(60, 12, EstimateCounter{})
	require.NoError(t, err)

	text := words(400)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, text, reassemble(chunks, text))
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i-1].Span.End, chunks[i].Span.Start)
	}
}

// TestScannerIsRestartable verifies two scans of the same input agree.
func TestScannerIsRestartable(t *testing.T) {
	c, err := New(30, 5, oneTokenPerWord)
	require.NoError(t, err)

	text := words(100)
	first := c.Split(text)
	second := c.Split(text)
	assert.Equal(t, first, second)
}

// TestOversizedWordStillMakesProgress verifies a single segment larger than
// the whole budget is emitted alone instead of looping.
func TestOversizedWordStillMakesProgress(t *testing.T) {
	huge := CountFunc(func(string) int { return 1000 })
	c, err := New(100, 10, huge)
	require.NoError(t, err)

	text := "alpha beta gamma"
	chunks := c.Split(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, text, reassemble(chunks, text))
}

func TestEstimateCounter(t *testing.T) {
	assert.Equal(t, 0, EstimateCounter{}.Count(""))
	assert.Equal(t, 1, EstimateCounter{}.Count("abc"))
	assert.Equal(t, 3, EstimateCounter{}.Count(strings.Repeat("a", 12)))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunker splits document text into token-bounded, overlapping
// chunks sized for a completion service's context window.
//
// Chunks are contiguous substrings of the input, broken on word boundaries.
// Consecutive chunks share an overlap of at least the configured token count
// so findings near a boundary stay visible to both sides. Two invariants
// hold regardless of the token counter in use:
//
//   - Coverage: concatenating every chunk's unique span (the part after the
//     overlap with its predecessor) reproduces the input exactly.
//   - Overlap: each chunk after the first starts inside its predecessor.
//
// Token counting is pluggable: TiktokenCounter gives exact counts for a
// given model, EstimateCounter approximates one token per four characters
// when the tokenizer data is unavailable. Boundary positions differ between
// counters; the invariants do not.
package chunker

import (
	"unicode"

	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
)

// Chunk is one slice of the input.
type Chunk struct {
	// Index is the chunk's 0-based position in dispatch order.
	Index int

	// Text is the chunk content, a contiguous substring of the input.
	Text string

	// Span is the chunk's byte range in the input.
	Span datatypes.Span

	// UniqueStart is the byte offset where this chunk stops overlapping
	// its predecessor. Equal to Span.Start for the first chunk.
	UniqueStart int
}

// Chunker produces chunk sequences for a fixed (max, overlap) configuration.
type Chunker struct {
	maxTokens     int
	overlapTokens int
	counter       TokenCounter
}

// New creates a Chunker.
//
// maxTokens must be positive and overlapTokens must be non-negative and
// strictly smaller than maxTokens; anything else is a configuration error
// surfaced immediately, not at scan time.
func New(maxTokens, overlapTokens int, counter TokenCounter) (*Chunker, error) {
	if maxTokens <= 0 {
		return nil, datatypes.Validationf("chunker: max_tokens must be positive, got %d", maxTokens)
	}
	if overlapTokens < 0 {
		return nil, datatypes.Validationf("chunker: overlap_tokens must be non-negative, got %d", overlapTokens)
	}
	if overlapTokens >= maxTokens {
		return nil, datatypes.Validationf(
			"chunker: overlap_tokens (%d) must be smaller than max_tokens (%d)",
			overlapTokens, maxTokens)
	}
	if counter == nil {
		counter = EstimateCounter{}
	}
	return &Chunker{maxTokens: maxTokens, overlapTokens: overlapTokens, counter: counter}, nil
}

// Split scans the whole input and returns every chunk. If the input fits in
// maxTokens the result is a single chunk with no overlap.
func (c *Chunker) Split(text string) []Chunk {
	s := c.Scan(text)
	var chunks []Chunk
	for s.Next() {
		chunks = append(chunks, s.Chunk())
	}
	return chunks
}

// Scan returns a lazy scanner over the input's chunks. The scanner is
// single-use; call Scan again to restart.
func (c *Chunker) Scan(text string) *Scanner {
	return &Scanner{
		chunker:  c,
		text:     text,
		segments: segment(text),
		index:    -1,
	}
}

// segmentSpan is a run of leading whitespace plus the word that follows it.
// Splitting the input into these runs means any sequence of consecutive
// segments is a contiguous substring, which is what keeps chunk
// concatenation lossless.
type segmentSpan struct {
	start, end int
	tokens     int // lazily filled by the scanner
}

func segment(text string) []segmentSpan {
	var segs []segmentSpan
	i := 0
	n := len(text)
	for i < n {
		start := i
		for i < n && unicode.IsSpace(rune(text[i])) {
			i++
		}
		for i < n && !unicode.IsSpace(rune(text[i])) {
			i++
		}
		segs = append(segs, segmentSpan{start: start, end: i, tokens: -1})
	}
	return segs
}

// Scanner iterates chunks one at a time.
type Scanner struct {
	chunker  *Chunker
	text     string
	segments []segmentSpan

	// cursor is the index of the first segment not yet consumed by a
	// completed chunk's unique span.
	cursor int

	// prevStart is the segment index where the previous chunk began; the
	// overlap never reaches past it, so chunks always advance.
	prevStart int

	index int
	cur   Chunk
	done  bool
}

// Next advances to the next chunk. It returns false when the input is
// exhausted.
func (s *Scanner) Next() bool {
	if s.done || s.cursor >= len(s.segments) {
		s.done = true
		return false
	}

	c := s.chunker
	start := s.cursor

	// Reach back for the overlap: include trailing segments of the
	// previous chunk until their token total covers overlapTokens. The
	// first chunk has nothing to reach back into.
	overlapStart := start
	if s.index >= 0 && c.overlapTokens > 0 {
		need := c.overlapTokens
		for overlapStart > s.prevStart && need > 0 {
			overlapStart--
			need -= s.tokensOf(overlapStart)
		}
	}

	budget := c.maxTokens
	for i := overlapStart; i < start; i++ {
		budget -= s.tokensOf(i)
	}

	// Fill forward. The first new segment is always taken even if it
	// blows the budget on its own; a chunk must make progress.
	end := start
	for end < len(s.segments) {
		t := s.tokensOf(end)
		if end > start && t > budget {
			break
		}
		budget -= t
		end++
	}

	s.index++
	s.cur = Chunk{
		Index: s.index,
		Text:  s.text[s.segments[overlapStart].start:s.segments[end-1].end],
		Span: datatypes.Span{
			Start: s.segments[overlapStart].start,
			End:   s.segments[end-1].end,
		},
		UniqueStart: s.segments[start].start,
	}
	s.prevStart = overlapStart
	s.cursor = end
	return true
}

// Chunk returns the current chunk. Valid after a true Next.
func (s *Scanner) Chunk() Chunk { return s.cur }

func (s *Scanner) tokensOf(i int) int {
	seg := &s.segments[i]
	if seg.tokens < 0 {
		seg.tokens = s.chunker.counter.Count(s.text[seg.start:seg.end])
	}
	return seg.tokens
}

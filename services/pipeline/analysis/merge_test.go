// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
)

func anomaly(chunk int, category string, start, end int, sev datatypes.Severity, issue string) datatypes.Anomaly {
	return datatypes.Anomaly{
		ChunkIndex: chunk,
		Category:   category,
		Issue:      issue,
		Severity:   sev,
		Location:   datatypes.Span{Start: start, End: end},
	}
}

// permutations returns every ordering of rs (inputs are small).
func permutations(rs []ChunkResult) [][]ChunkResult {
	if len(rs) <= 1 {
		return [][]ChunkResult{append([]ChunkResult(nil), rs...)}
	}
	var out [][]ChunkResult
	for i := range rs {
		rest := make([]ChunkResult, 0, len(rs)-1)
		rest = append(rest, rs[:i]...)
		rest = append(rest, rs[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]ChunkResult{rs[i]}, p...))
		}
	}
	return out
}

// TestReduce_OrderIndependent verifies every permutation of chunk results
// reduces to the identical AnomalySet.
func TestReduce_OrderIndependent(t *testing.T) {
	results := []ChunkResult{
		{Index: 0, Anomalies: []datatypes.Anomaly{
			anomaly(0, "ambiguity", 10, 50, datatypes.SeverityLow, "vague retry wording"),
			anomaly(0, "omission", 80, 120, datatypes.SeverityMedium, "no timeout given"),
		}},
		{Index: 1, Anomalies: []datatypes.Anomaly{
			// Same finding seen again through the overlap region.
			anomaly(1, "omission", 85, 120, datatypes.SeverityHigh, "timeout unspecified"),
			anomaly(1, "contradiction", 200, 240, datatypes.SeverityHigh, "conflicts with section 2"),
		}},
		{Index: 2, Err: errors.New("deadline exceeded"), Location: datatypes.Span{Start: 180, End: 300}},
	}

	want := Reduce(results, DefaultMergePolicy())
	for i, perm := range permutations(results) {
		assert.Equal(t, want, Reduce(perm, DefaultMergePolicy()), "permutation %d", i)
	}

	// The overlapping omission pair collapsed to the high-severity record.
	require.Len(t, want.Anomalies, 3)
	assert.True(t, want.Partial)
	require.Len(t, want.Failures, 1)
	assert.Equal(t, 2, want.Failures[0].ChunkIndex)
}

// TestReduce_AssignsSequentialIDs verifies ids are dense, 1-based, and
// ordered by document position.
func TestReduce_AssignsSequentialIDs(t *testing.T) {
	results := []ChunkResult{
		{Index: 1, Anomalies: []datatypes.Anomaly{
			anomaly(1, "omission", 300, 320, datatypes.SeverityLow, "c"),
		}},
		{Index: 0, Anomalies: []datatypes.Anomaly{
			anomaly(0, "ambiguity", 10, 20, datatypes.SeverityLow, "a"),
			anomaly(0, "omission", 100, 140, datatypes.SeverityLow, "b"),
		}},
	}

	set := Reduce(results, DefaultMergePolicy())
	require.Len(t, set.Anomalies, 3)
	for i, a := range set.Anomalies {
		assert.Equal(t, i+1, a.ID)
	}
	assert.Equal(t, "a", set.Anomalies[0].Issue)
	assert.Equal(t, "b", set.Anomalies[1].Issue)
	assert.Equal(t, "c", set.Anomalies[2].Issue)
}

// TestReduce_SeverityTieBreaksToEarlierChunk verifies equal-severity
// duplicates keep the earlier chunk's record.
func TestReduce_SeverityTieBreaksToEarlierChunk(t *testing.T) {
	results := []ChunkResult{
		{Index: 0, Anomalies: []datatypes.Anomaly{
			anomaly(0, "ambiguity", 100, 150, datatypes.SeverityMedium, "first sighting"),
		}},
		{Index: 1, Anomalies: []datatypes.Anomaly{
			anomaly(1, "ambiguity", 100, 150, datatypes.SeverityMedium, "second sighting"),
		}},
	}

	set := Reduce(results, DefaultMergePolicy())
	require.Len(t, set.Anomalies, 1)
	assert.Equal(t, "first sighting", set.Anomalies[0].Issue)
	assert.Equal(t, 0, set.Anomalies[0].ChunkIndex)
}

// TestReduce_BelowThresholdKeepsBoth verifies barely-touching spans are
// not merged.
func TestReduce_BelowThresholdKeepsBoth(t *testing.T) {
	results := []ChunkResult{
		{Index: 0, Anomalies: []datatypes.Anomaly{
			anomaly(0, "ambiguity", 100, 200, datatypes.SeverityLow, "x"),
			anomaly(0, "ambiguity", 190, 290, datatypes.SeverityLow, "y"),
		}},
	}

	// 10 of 100 bytes overlap; the default policy needs 50.
	set := Reduce(results, DefaultMergePolicy())
	assert.Len(t, set.Anomalies, 2)

	// A permissive policy merges them.
	set = Reduce(results, MergePolicy{OverlapThreshold: 0.05})
	assert.Len(t, set.Anomalies, 1)
}

// TestReduce_DifferentCategoriesNeverMerge verifies category is a hard
// boundary regardless of span overlap.
func TestReduce_DifferentCategoriesNeverMerge(t *testing.T) {
	results := []ChunkResult{
		{Index: 0, Anomalies: []datatypes.Anomaly{
			anomaly(0, "ambiguity", 100, 200, datatypes.SeverityHigh, "x"),
			anomaly(0, "omission", 100, 200, datatypes.SeverityHigh, "y"),
		}},
	}

	set := Reduce(results, DefaultMergePolicy())
	assert.Len(t, set.Anomalies, 2)
}

// TestReduce_MissingSpansFallBackToTextIdentity verifies findings without
// usable locations dedupe on section plus issue text.
func TestReduce_MissingSpansFallBackToTextIdentity(t *testing.T) {
	a := datatypes.Anomaly{ChunkIndex: 0, Section: "3.1", Category: "omission", Issue: "no error path", Severity: datatypes.SeverityLow}
	b := datatypes.Anomaly{ChunkIndex: 1, Section: "3.1", Category: "omission", Issue: "no error path", Severity: datatypes.SeverityHigh}
	c := datatypes.Anomaly{ChunkIndex: 1, Section: "3.1", Category: "omission", Issue: "different issue", Severity: datatypes.SeverityLow}

	set := Reduce([]ChunkResult{
		{Index: 0, Anomalies: []datatypes.Anomaly{a}},
		{Index: 1, Anomalies: []datatypes.Anomaly{b, c}},
	}, DefaultMergePolicy())

	require.Len(t, set.Anomalies, 2)
	// The duplicate pair kept the high-severity record.
	assert.Equal(t, datatypes.SeverityHigh, set.Anomalies[0].Severity)
}

// TestReduce_Empty verifies the zero cases.
func TestReduce_Empty(t *testing.T) {
	set := Reduce(nil, DefaultMergePolicy())
	assert.Empty(t, set.Anomalies)
	assert.False(t, set.Partial)

	set = Reduce([]ChunkResult{{Index: 0}}, DefaultMergePolicy())
	assert.Empty(t, set.Anomalies)
	assert.False(t, set.Partial)
}

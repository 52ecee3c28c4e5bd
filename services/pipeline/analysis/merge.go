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
	"sort"
	"strings"

	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
)

// MergePolicy controls how the reduce step deduplicates findings that
// appear in more than one chunk (overlap regions are analyzed twice).
type MergePolicy struct {
	// OverlapThreshold is the minimum fraction of the smaller span that
	// must overlap for two same-category findings to count as duplicates.
	OverlapThreshold float64
}

// DefaultMergePolicy requires half the smaller span to overlap.
func DefaultMergePolicy() MergePolicy {
	return MergePolicy{OverlapThreshold: 0.5}
}

// ChunkResult is one map step's outcome. Exactly one of Anomalies or Err
// is meaningful. Anomaly locations are already document-global.
type ChunkResult struct {
	Index     int
	Location  datatypes.Span
	Anomalies []datatypes.Anomaly
	Err       error
}

// Reduce merges per-chunk findings into one AnomalySet. The result is
// independent of the order results arrive in: everything is sorted into a
// canonical order before ids are assigned or duplicates resolved.
//
// Two findings are duplicates when their categories match and either
// their global spans overlap beyond the policy threshold, or both lack a
// usable span and agree on section and issue text. The higher-severity
// record wins a duplicate pair; ties go to the earlier chunk.
func Reduce(results []ChunkResult, policy MergePolicy) *datatypes.AnomalySet {
	sorted := append([]ChunkResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	set := &datatypes.AnomalySet{}
	var candidates []datatypes.Anomaly
	for _, r := range sorted {
		if r.Err != nil {
			set.Partial = true
			set.Failures = append(set.Failures, datatypes.ChunkFailure{
				ChunkIndex: r.Index,
				Location:   r.Location,
				Error:      r.Err.Error(),
			})
			continue
		}
		candidates = append(candidates, r.Anomalies...)
	}

	// Canonical candidate order: chunk, then position, then issue text.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		if a.Location.Start != b.Location.Start {
			return a.Location.Start < b.Location.Start
		}
		return a.Issue < b.Issue
	})

	var kept []datatypes.Anomaly
	for _, cand := range candidates {
		replaced := false
		dup := false
		for i := range kept {
			if !duplicate(kept[i], cand, policy) {
				continue
			}
			dup = true
			if wins(cand, kept[i]) {
				kept[i] = cand
				replaced = true
			}
			break
		}
		if !dup && !replaced {
			kept = append(kept, cand)
		}
	}

	// Final order is document position; ids are assigned after dedupe so
	// they are dense and stable for a given input set.
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Location.Start != kept[j].Location.Start {
			return kept[i].Location.Start < kept[j].Location.Start
		}
		return kept[i].ChunkIndex < kept[j].ChunkIndex
	})
	for i := range kept {
		kept[i].ID = i + 1
	}
	set.Anomalies = kept
	return set
}

func duplicate(a, b datatypes.Anomaly, policy MergePolicy) bool {
	if !strings.EqualFold(a.Category, b.Category) {
		return false
	}
	if a.Location.Len() == 0 || b.Location.Len() == 0 {
		return strings.EqualFold(a.Section, b.Section) && a.Issue == b.Issue
	}
	smaller := min(a.Location.Len(), b.Location.Len())
	return float64(a.Location.Overlap(b.Location)) >= policy.OverlapThreshold*float64(smaller)
}

// wins reports whether a should replace b in a duplicate pair.
func wins(a, b datatypes.Anomaly) bool {
	ra, rb := datatypes.SeverityRank(a.Severity), datatypes.SeverityRank(b.Severity)
	if ra != rb {
		return ra > rb
	}
	return a.ChunkIndex < b.ChunkIndex
}

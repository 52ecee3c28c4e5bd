// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis runs anomaly detection over a document version.
//
// The document is split into token-bounded chunks, each chunk is analyzed
// by the completion service independently (map), and the findings are
// merged into one deduplicated AnomalySet (reduce). A chunk whose
// completion calls fail does not abort the run; it is recorded as a
// failure marker and the committed version is flagged partial. Only when
// every chunk fails is the operation abandoned with nothing committed.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ReqPipeline/pkg/logging"
	"github.com/AleutianAI/ReqPipeline/services/llm"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/chunker"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/observability"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/store"
)

// EmitFunc receives progress events during an analysis. Emitters must not
// block; the stream coordinator's publisher satisfies this. A nil
// EmitFunc runs the analysis silently.
type EmitFunc func(datatypes.StreamEvent)

// Config tunes the analyzer.
type Config struct {
	// MaxTokens and OverlapTokens are the chunker parameters.
	MaxTokens     int
	OverlapTokens int

	// Concurrency bounds simultaneous chunk completions.
	Concurrency int

	// Merge controls reduce-time deduplication.
	Merge MergePolicy
}

// DefaultConfig mirrors the chunking parameters the pipeline has always
// used for long documents.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     3000,
		OverlapTokens: 200,
		Concurrency:   4,
		Merge:         DefaultMergePolicy(),
	}
}

// Analyzer is the map-reduce anomaly detector.
type Analyzer struct {
	store   *store.Store
	client  llm.CompletionClient
	counter chunker.TokenCounter
	cfg     Config
	metrics *observability.Metrics
	log     *logging.Logger
	tracer  trace.Tracer
}

// New creates an Analyzer. metrics and logger may be nil.
func New(s *store.Store, client llm.CompletionClient, counter chunker.TokenCounter, cfg Config, metrics *observability.Metrics, logger *logging.Logger) (*Analyzer, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.Merge.OverlapThreshold <= 0 {
		cfg.Merge = DefaultMergePolicy()
	}
	if counter == nil {
		counter = chunker.EstimateCounter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	// Validate chunk parameters up front so a bad config fails at
	// construction, not mid-request.
	if _, err := chunker.New(cfg.MaxTokens, cfg.OverlapTokens, counter); err != nil {
		return nil, err
	}
	return &Analyzer{
		store:   s,
		client:  client,
		counter: counter,
		cfg:     cfg,
		metrics: metrics,
		log:     logger,
		tracer:  otel.Tracer("reqpipeline/analysis"),
	}, nil
}

const analysisSystemPrompt = "You are a senior QA analyst. Extract anomalies from this requirements document chunk."

func analysisPrompt(chunkText string) string {
	return `Return strict JSON: { "anomalies": [ {"section": str, "category": str, "issue": str, ` +
		`"severity": "low|medium|high", "suggestion": str, "start": int, "end": int } ] }` + "\n" +
		"start and end are byte offsets of the affected text within this chunk; omit them if unsure.\n\n" +
		chunkText
}

// wireAnomaly is the chunk-local JSON shape the model returns.
type wireAnomaly struct {
	Section    string `json:"section"`
	Category   string `json:"category"`
	Issue      string `json:"issue"`
	Severity   string `json:"severity"`
	Suggestion string `json:"suggestion"`
	Start      *int   `json:"start"`
	End        *int   `json:"end"`
}

// Analyze runs map-reduce anomaly detection over documentID's head
// version and commits a new version with status "analyzed". The new
// version carries the head's content unchanged plus the merged
// AnomalySet. emit may be nil.
//
// The commit happens before the done event is emitted, so a consumer that
// sees done can rely on the version being persisted.
func (a *Analyzer) Analyze(ctx context.Context, documentID string, emit EmitFunc) (*datatypes.Version, error) {
	ctx, span := a.tracer.Start(ctx, "pipeline.analyze",
		trace.WithAttributes(attribute.String("document_id", documentID)))
	defer span.End()

	if emit == nil {
		emit = func(datatypes.StreamEvent) {}
	}

	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Kind == datatypes.KindTestcases {
		return nil, datatypes.Validationf("testcase documents are generated, not analyzed")
	}

	head, err := a.store.Head(ctx, documentID)
	if err != nil {
		return nil, err
	}
	content, err := a.store.Content(ctx, head)
	if err != nil {
		return nil, err
	}

	chunkStart := time.Now()
	ch, err := chunker.New(a.cfg.MaxTokens, a.cfg.OverlapTokens, a.counter)
	if err != nil {
		return nil, err
	}
	chunks := ch.Split(string(content))
	a.metrics.ObserveStage("chunk", time.Since(chunkStart))

	emit(datatypes.NewStreamEvent(datatypes.EventStatus).
		WithMessage(fmt.Sprintf("analyzing %d chunks", len(chunks))))

	mapStart := time.Now()
	results, err := a.mapChunks(ctx, chunks, emit)
	if err != nil {
		return nil, err
	}
	a.metrics.ObserveStage("map", time.Since(mapStart))

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if len(chunks) > 0 && failed == len(chunks) {
		a.metrics.RecordOperation("analyze", "error")
		return nil, &datatypes.ExternalServiceError{
			Op:  "analyze",
			Err: fmt.Errorf("all %d chunks failed", len(chunks)),
		}
	}

	reduceStart := time.Now()
	set := Reduce(results, a.cfg.Merge)
	a.metrics.ObserveStage("reduce", time.Since(reduceStart))

	commitStart := time.Now()
	version, err := a.store.AppendVersion(ctx, documentID, head.ID, content, datatypes.StatusAnalyzed, set)
	if err != nil {
		a.metrics.RecordOperation("analyze", opStatus(err))
		return nil, err
	}
	a.metrics.ObserveStage("commit", time.Since(commitStart))

	status := "success"
	if set.Partial {
		status = "partial"
	}
	a.metrics.RecordOperation("analyze", status)
	a.log.Info("analysis committed",
		"document_id", documentID, "version_id", version.ID,
		"anomalies", len(set.Anomalies), "failed_chunks", failed,
		"partial", set.Partial)

	ev := datatypes.NewStreamEvent(datatypes.EventDone).WithVersion(version)
	ev.Partial = set.Partial
	emit(ev)
	return version, nil
}

// mapChunks fans the chunks out over a bounded worker pool. A chunk's
// completion failure lands in its result slot; only context cancellation
// aborts the pool.
func (a *Analyzer) mapChunks(ctx context.Context, chunks []chunker.Chunk, emit EmitFunc) ([]ChunkResult, error) {
	results := make([]ChunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			res := a.analyzeChunk(gctx, c)
			results[i] = res

			if res.Err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.metrics.RecordChunk("failed")
				emit(datatypes.NewStreamEvent(datatypes.EventChunkFailed).
					WithChunk(c.Index, nil).
					WithMessage(res.Err.Error()))
				return nil
			}
			a.metrics.RecordChunk("ok")
			emit(datatypes.NewStreamEvent(datatypes.EventChunkDone).
				WithChunk(c.Index, res.Anomalies))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Analyzer) analyzeChunk(ctx context.Context, c chunker.Chunk) ChunkResult {
	ctx, span := a.tracer.Start(ctx, "analyze.chunk",
		trace.WithAttributes(attribute.Int("chunk_index", c.Index)))
	defer span.End()

	res := ChunkResult{Index: c.Index, Location: c.Span}

	out, err := a.client.Complete(ctx, analysisPrompt(c.Text), llm.Options{
		System:   analysisSystemPrompt,
		JSONMode: true,
	})
	if err != nil {
		res.Err = err
		return res
	}

	res.Anomalies = a.parseChunkAnomalies(out, c)
	return res
}

// parseChunkAnomalies decodes a chunk's findings and translates their
// locations to document-global offsets. Unusable output yields an empty
// finding list rather than a chunk failure; the completion succeeded,
// the payload just drifted.
func (a *Analyzer) parseChunkAnomalies(out string, c chunker.Chunk) []datatypes.Anomaly {
	payload, mode, ok := datatypes.ExtractJSON(out)
	if !ok {
		a.log.Warn("chunk produced no parseable findings", "chunk_index", c.Index)
		return nil
	}
	if mode != datatypes.ParseStrict {
		a.log.Warn("chunk findings recovered non-strictly",
			"chunk_index", c.Index, "mode", string(mode))
	}

	var wire struct {
		Anomalies []wireAnomaly `json:"anomalies"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		a.log.Warn("chunk findings did not match contract",
			"chunk_index", c.Index, "error", err.Error())
		return nil
	}

	anomalies := make([]datatypes.Anomaly, 0, len(wire.Anomalies))
	for _, w := range wire.Anomalies {
		if w.Issue == "" {
			continue
		}
		anomalies = append(anomalies, datatypes.Anomaly{
			ChunkIndex: c.Index,
			Section:    w.Section,
			Category:   w.Category,
			Issue:      w.Issue,
			Suggestion: w.Suggestion,
			Severity:   datatypes.Severity(w.Severity),
			Location:   globalSpan(w, c),
		})
	}
	return anomalies
}

// globalSpan translates a chunk-local range to document offsets, clamped
// to the chunk. Missing or inverted ranges produce the empty span; the
// reducer falls back to text identity for those.
func globalSpan(w wireAnomaly, c chunker.Chunk) datatypes.Span {
	if w.Start == nil || w.End == nil || *w.Start < 0 || *w.End <= *w.Start || *w.Start >= len(c.Text) {
		return datatypes.Span{}
	}
	end := min(*w.End, len(c.Text))
	return datatypes.Span{
		Start: c.Span.Start + *w.Start,
		End:   c.Span.Start + end,
	}
}

func opStatus(err error) string {
	if datatypes.IsConflict(err) {
		return "conflict"
	}
	return "error"
}

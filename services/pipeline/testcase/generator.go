// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package testcase derives structured test-case sets from a functional
// document and manages their own version chain.
//
// Generation reads the source document's latest applicable version (the
// newest version with fixes applied, else the newest analyzed one, else
// the head), chunks long content, and merges per-chunk output by plain
// concatenation with duplicate-title suppression. The resulting set is
// committed as a version of a separate TESTCASES document linked back to
// its source, so test cases revert and audit exactly like documents.
package testcase

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

// EmitFunc receives progress events during generation. May be nil.
type EmitFunc func(datatypes.StreamEvent)

// Config tunes the generator.
type Config struct {
	// MaxTokens and OverlapTokens are the chunker parameters for long
	// source documents.
	MaxTokens     int
	OverlapTokens int

	// Concurrency bounds simultaneous chunk completions.
	Concurrency int
}

// DefaultConfig matches the analyzer's chunking defaults.
func DefaultConfig() Config {
	return Config{MaxTokens: 3000, OverlapTokens: 200, Concurrency: 4}
}

// Generator produces and revises test-case sets.
type Generator struct {
	store   *store.Store
	client  llm.CompletionClient
	counter chunker.TokenCounter
	cfg     Config
	metrics *observability.Metrics
	log     *logging.Logger
	tracer  trace.Tracer
}

// New creates a Generator. metrics and logger may be nil.
func New(s *store.Store, client llm.CompletionClient, counter chunker.TokenCounter, cfg Config, metrics *observability.Metrics, logger *logging.Logger) (*Generator, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if counter == nil {
		counter = chunker.EstimateCounter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if _, err := chunker.New(cfg.MaxTokens, cfg.OverlapTokens, counter); err != nil {
		return nil, err
	}
	return &Generator{
		store:   s,
		client:  client,
		counter: counter,
		cfg:     cfg,
		metrics: metrics,
		log:     logger,
		tracer:  otel.Tracer("reqpipeline/testcase"),
	}, nil
}

const generateSystemPrompt = "You are a QA automation lead. Generate thorough test cases."

func generatePrompt(chunkText string) string {
	return `Generate JSON testcases for this functional requirements content. Output strictly JSON: ` +
		`{ "testcases": [ {"id": str, "title": str, "preconditions": [str], "steps": [str], ` +
		`"expected": str, "priority": "P0|P1|P2"} ] }` + "\n\n" + chunkText
}

const chatSystemPrompt = "You are a QA copilot. Update testcases according to the user request. " +
	"Preserve all existing testcases, add new ones if necessary, and modify only requested parts. " +
	`Output strictly valid JSON with { "testcases": [...] }.`

// latestApplicable picks the version test cases should be generated from:
// the newest version with fixes applied, else the newest analyzed one,
// else the chain head.
func latestApplicable(chain []datatypes.Version) *datatypes.Version {
	if len(chain) == 0 {
		return nil
	}
	for _, status := range []datatypes.VersionStatus{datatypes.StatusApplied, datatypes.StatusAnalyzed} {
		for i := len(chain) - 1; i >= 0; i-- {
			if chain[i].Status == status {
				return &chain[i]
			}
		}
	}
	return &chain[len(chain)-1]
}

// Generate derives a TestcaseSet from documentID's latest applicable
// version and commits it on the document's TESTCASES chain, creating that
// chain on first use. emit may be nil.
func (g *Generator) Generate(ctx context.Context, documentID string, emit EmitFunc) (*datatypes.Version, *datatypes.TestcaseSet, error) {
	ctx, span := g.tracer.Start(ctx, "pipeline.generate_testcases",
		trace.WithAttributes(attribute.String("document_id", documentID)))
	defer span.End()

	if emit == nil {
		emit = func(datatypes.StreamEvent) {}
	}

	doc, err := g.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	if doc.Kind == datatypes.KindTestcases {
		return nil, nil, datatypes.Validationf("document %s is already a testcase chain", documentID)
	}

	chain, err := g.store.Chain(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	source := latestApplicable(chain)
	if source == nil {
		return nil, nil, &datatypes.NotFoundError{Resource: "version", ID: documentID + "/head"}
	}
	content, err := g.store.Content(ctx, source)
	if err != nil {
		return nil, nil, err
	}

	ch, err := chunker.New(g.cfg.MaxTokens, g.cfg.OverlapTokens, g.counter)
	if err != nil {
		return nil, nil, err
	}
	chunks := ch.Split(string(content))
	emit(datatypes.NewStreamEvent(datatypes.EventStatus).
		WithMessage(fmt.Sprintf("generating test cases from %d chunks of version %d", len(chunks), source.Seq)))

	mapStart := time.Now()
	perChunk := make([][]datatypes.TestCase, len(chunks))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i, c := range chunks {
		i, c := i, c
		eg.Go(func() error {
			cases, err := g.generateChunk(gctx, c)
			if err != nil {
				return err
			}
			perChunk[i] = cases
			emit(datatypes.NewStreamEvent(datatypes.EventChunkDone).
				WithChunk(c.Index, nil).
				WithMessage(fmt.Sprintf("%d cases", len(cases))))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		g.metrics.RecordOperation("testcases", "error")
		return nil, nil, err
	}
	g.metrics.ObserveStage("map", time.Since(mapStart))

	set := &datatypes.TestcaseSet{Cases: reduceCases(perChunk)}
	version, err := g.commitSet(ctx, doc, set)
	if err != nil {
		g.metrics.RecordOperation("testcases", opStatus(err))
		return nil, nil, err
	}

	g.metrics.RecordOperation("testcases", "success")
	g.log.Info("testcases generated",
		"document_id", documentID, "source_version", source.ID,
		"version_id", version.ID, "cases", len(set.Cases))

	ev := datatypes.NewStreamEvent(datatypes.EventDone).WithVersion(version)
	emit(ev)
	return version, set, nil
}

func (g *Generator) generateChunk(ctx context.Context, c chunker.Chunk) ([]datatypes.TestCase, error) {
	ctx, span := g.tracer.Start(ctx, "testcase.chunk",
		trace.WithAttributes(attribute.Int("chunk_index", c.Index)))
	defer span.End()

	out, err := g.client.Complete(ctx, generatePrompt(c.Text), llm.Options{
		System:   generateSystemPrompt,
		JSONMode: true,
	})
	if err != nil {
		g.metrics.RecordChunk("failed")
		return nil, &datatypes.ExternalServiceError{Op: "generate_testcases", Err: err}
	}
	g.metrics.RecordChunk("ok")

	cases, mode, ok := parseTestcases(out)
	if !ok {
		g.log.Warn("chunk produced no parseable test cases", "chunk_index", c.Index)
		return nil, nil
	}
	if mode != datatypes.ParseStrict {
		g.log.Warn("test cases recovered non-strictly",
			"chunk_index", c.Index, "mode", string(mode))
	}
	return cases, nil
}

// commitSet appends a pretty-printed TestcaseSet blob on the document's
// TESTCASES chain, creating the chain if this is the first generation.
func (g *Generator) commitSet(ctx context.Context, source *datatypes.Document, set *datatypes.TestcaseSet) (*datatypes.Version, error) {
	tcDoc, err := g.store.FindTestcaseDocument(ctx, source.ID)
	if datatypes.IsNotFound(err) {
		tcDoc, err = g.store.CreateDocument(ctx, source.ProjectID, datatypes.KindTestcases,
			store.CreateDocumentOptions{SourceDocumentID: source.ID})
	}
	if err != nil {
		return nil, err
	}

	payload, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode testcase set: %w", err)
	}

	parentID := tcDoc.HeadID
	return g.store.AppendVersion(ctx, tcDoc.ID, parentID, payload, datatypes.StatusDraft, nil)
}

// ChatUpdate revises the current test-case set from a natural-language
// instruction. With commit=false the candidate set is returned without
// writing a version (preview); with commit=true it is appended to the
// TESTCASES chain exactly like a generation.
func (g *Generator) ChatUpdate(ctx context.Context, documentID, message string, commit bool) (*datatypes.Version, *datatypes.TestcaseSet, error) {
	ctx, span := g.tracer.Start(ctx, "pipeline.testcase_chat",
		trace.WithAttributes(attribute.String("document_id", documentID), attribute.Bool("commit", commit)))
	defer span.End()

	if message == "" {
		return nil, nil, datatypes.Validationf("chat message must not be empty")
	}

	doc, err := g.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	tcDoc, err := g.store.FindTestcaseDocument(ctx, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	head, err := g.store.Head(ctx, tcDoc.ID)
	if err != nil {
		return nil, nil, err
	}
	current, err := g.store.Content(ctx, head)
	if err != nil {
		return nil, nil, err
	}

	prompt := fmt.Sprintf("User request: %s\n\nCurrent JSON:\n%s", message, current)
	out, err := g.client.Complete(ctx, prompt, llm.Options{System: chatSystemPrompt, JSONMode: true})
	if err != nil {
		g.metrics.RecordOperation("chat", "error")
		return nil, nil, &datatypes.ExternalServiceError{Op: "testcase_chat", Err: err}
	}

	cases, mode, ok := parseTestcases(out)
	if !ok {
		g.metrics.RecordOperation("chat", "error")
		return nil, nil, &datatypes.ExternalServiceError{
			Op:  "testcase_chat",
			Err: fmt.Errorf("model returned no parseable test cases"),
		}
	}
	if mode != datatypes.ParseStrict {
		g.log.Warn("chat update recovered non-strictly", "mode", string(mode))
	}
	set := &datatypes.TestcaseSet{Cases: reduceCases([][]datatypes.TestCase{cases})}

	if !commit {
		g.metrics.RecordOperation("chat", "success")
		return nil, set, nil
	}

	payload, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode testcase set: %w", err)
	}
	version, err := g.store.AppendVersion(ctx, tcDoc.ID, head.ID, payload, datatypes.StatusApplied, nil)
	if err != nil {
		g.metrics.RecordOperation("chat", opStatus(err))
		return nil, nil, err
	}

	g.metrics.RecordOperation("chat", "success")
	g.log.Info("testcases revised via chat",
		"document_id", documentID, "version_id", version.ID, "cases", len(set.Cases))
	return version, set, nil
}

// Revert rolls the document's TESTCASES chain back to toSeq by appending
// a copy, via the store's generic revert.
func (g *Generator) Revert(ctx context.Context, documentID string, toSeq int) (*datatypes.Version, error) {
	doc, err := g.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	tcDoc, err := g.store.FindTestcaseDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return g.store.Revert(ctx, tcDoc.ID, toSeq)
}

// Set reads the TestcaseSet stored on a version.
func (g *Generator) Set(ctx context.Context, v *datatypes.Version) (*datatypes.TestcaseSet, error) {
	content, err := g.store.Content(ctx, v)
	if err != nil {
		return nil, err
	}
	var set datatypes.TestcaseSet
	if err := json.Unmarshal(content, &set); err != nil {
		return nil, fmt.Errorf("decode testcase set: %w", err)
	}
	return &set, nil
}

func opStatus(err error) string {
	if datatypes.IsConflict(err) {
		return "conflict"
	}
	return "error"
}

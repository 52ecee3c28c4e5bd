// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fix turns selected analysis findings into a revised document.
//
// Propose generates candidate content without touching the version chain;
// Apply commits it through the store's append operation with the
// proposal's base version as the expected parent. A chain that moved
// between the two calls surfaces as a conflict and the proposal stays
// open for a re-propose.
package fix

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ReqPipeline/pkg/logging"
	"github.com/AleutianAI/ReqPipeline/services/llm"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/blob"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/observability"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/store"
)

// Engine is the fix proposal/apply workflow.
type Engine struct {
	store   *store.Store
	blobs   blob.Store
	client  llm.CompletionClient
	metrics *observability.Metrics
	log     *logging.Logger
	tracer  trace.Tracer
	clock   func() time.Time
}

// New creates an Engine. metrics and logger may be nil.
func New(s *store.Store, blobs blob.Store, client llm.CompletionClient, metrics *observability.Metrics, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:   s,
		blobs:   blobs,
		client:  client,
		metrics: metrics,
		log:     logger,
		tracer:  otel.Tracer("reqpipeline/fix"),
		clock:   time.Now,
	}
}

const proposeSystemPrompt = "You are a senior business analyst. Suggest precise fixes for the selected issues."

func proposePrompt(content []byte, selected []datatypes.Anomaly) string {
	selectedJSON, _ := json.MarshalIndent(selected, "", "  ")
	return `Given the document and the selected issues, return a strict JSON object with two fields: ` +
		`"fixes", a list where each entry maps to one issue and contains "anomaly_id", "section", "issue" and "fix"; ` +
		`and "revised_document", the full document text with every fix applied.` + "\n\n" +
		"Document:\n" + string(content) + "\n\n" +
		"Selected issues:\n" + string(selectedJSON)
}

// wireProposal is the JSON shape the model returns for a propose call.
type wireProposal struct {
	Fixes []struct {
		AnomalyID int    `json:"anomaly_id"`
		Section   string `json:"section"`
		Issue     string `json:"issue"`
		Fix       string `json:"fix"`
	} `json:"fixes"`
	RevisedDocument string `json:"revised_document"`
}

// Propose validates the selection against versionID's AnomalySet and
// generates a FixProposal with candidate replacement content. The version
// chain is not mutated.
func (e *Engine) Propose(ctx context.Context, versionID string, selectedIDs []int) (*datatypes.FixProposal, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline.propose_fix",
		trace.WithAttributes(attribute.String("version_id", versionID)))
	defer span.End()

	if len(selectedIDs) == 0 {
		return nil, datatypes.Validationf("no anomalies selected")
	}

	v, err := e.store.VersionByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Anomalies == nil {
		return nil, datatypes.Validationf("version %s has no analysis to fix", versionID)
	}

	selected := make([]datatypes.Anomaly, 0, len(selectedIDs))
	for _, id := range selectedIDs {
		a := v.Anomalies.FindAnomaly(id)
		if a == nil {
			e.metrics.RecordOperation("propose_fix", "error")
			return nil, datatypes.Validationf("anomaly id %d not present in version %s", id, versionID)
		}
		selected = append(selected, *a)
	}

	content, err := e.store.Content(ctx, v)
	if err != nil {
		return nil, err
	}

	out, err := e.client.Complete(ctx, proposePrompt(content, selected), llm.Options{
		System:   proposeSystemPrompt,
		JSONMode: true,
	})
	if err != nil {
		e.metrics.RecordOperation("propose_fix", "error")
		return nil, &datatypes.ExternalServiceError{Op: "propose_fix", Err: err}
	}

	proposal, err := e.buildProposal(v, selectedIDs, out)
	if err != nil {
		e.metrics.RecordOperation("propose_fix", "error")
		return nil, err
	}
	if err := e.store.PutProposal(ctx, proposal); err != nil {
		return nil, err
	}

	e.metrics.RecordOperation("propose_fix", "success")
	e.log.Info("fix proposal created",
		"proposal_id", proposal.ID, "document_id", proposal.DocumentID,
		"version_id", versionID, "fixes", len(proposal.Fixes))
	return proposal, nil
}

func (e *Engine) buildProposal(v *datatypes.Version, selectedIDs []int, out string) (*datatypes.FixProposal, error) {
	payload, mode, ok := datatypes.ExtractJSON(out)
	if !ok {
		return nil, &datatypes.ExternalServiceError{
			Op:  "propose_fix",
			Err: fmt.Errorf("model returned no parseable proposal"),
		}
	}
	if mode != datatypes.ParseStrict {
		e.log.Warn("proposal recovered non-strictly", "mode", string(mode))
	}

	var wire wireProposal
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, &datatypes.ExternalServiceError{
			Op:  "propose_fix",
			Err: fmt.Errorf("proposal did not match contract: %w", err),
		}
	}
	if wire.RevisedDocument == "" {
		return nil, &datatypes.ExternalServiceError{
			Op:  "propose_fix",
			Err: fmt.Errorf("proposal missing revised document"),
		}
	}

	p := &datatypes.FixProposal{
		ID:          uuid.NewString(),
		DocumentID:  v.DocumentID,
		VersionID:   v.ID,
		SelectedIDs: append([]int(nil), selectedIDs...),
		Status:      datatypes.ProposalProposed,
		CreatedAt:   e.clock().UTC(),
	}
	for _, f := range wire.Fixes {
		p.Fixes = append(p.Fixes, datatypes.Fix{
			AnomalyID: f.AnomalyID,
			Section:   f.Section,
			Issue:     f.Issue,
			Fix:       f.Fix,
		})
	}

	path, err := e.blobs.Write(fmt.Sprintf("fixes/%s_%s.txt", v.DocumentID, p.ID), []byte(wire.RevisedDocument))
	if err != nil {
		return nil, fmt.Errorf("write proposal content: %w", err)
	}
	p.ContentPath = path
	return p, nil
}

// Apply commits a proposal's content as a new version whose parent is the
// version the proposal was raised against. If the chain head moved since
// Propose, the append conflicts, the proposal stays "proposed", and the
// caller must re-propose against the new head.
func (e *Engine) Apply(ctx context.Context, proposalID string) (*datatypes.Version, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline.apply_fix",
		trace.WithAttributes(attribute.String("proposal_id", proposalID)))
	defer span.End()

	p, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != datatypes.ProposalProposed {
		return nil, datatypes.Validationf("proposal %s is %s, not proposed", proposalID, p.Status)
	}

	content, err := e.blobs.Read(p.ContentPath)
	if err != nil {
		return nil, fmt.Errorf("read proposal content: %w", err)
	}

	v, err := e.store.AppendVersion(ctx, p.DocumentID, p.VersionID, content, datatypes.StatusApplied, nil)
	if err != nil {
		if datatypes.IsConflict(err) {
			e.metrics.RecordOperation("apply_fix", "conflict")
		} else {
			e.metrics.RecordOperation("apply_fix", "error")
		}
		return nil, err
	}

	now := e.clock().UTC()
	p.Status = datatypes.ProposalApplied
	p.AppliedAt = &now
	if err := e.store.PutProposal(ctx, p); err != nil {
		// The version is committed; the stale proposal status is
		// recoverable and must not fail the apply.
		e.log.Warn("proposal status update failed after apply",
			"proposal_id", proposalID, "error", err.Error())
	}

	e.metrics.RecordOperation("apply_fix", "success")
	e.log.Info("fix proposal applied",
		"proposal_id", proposalID, "document_id", p.DocumentID, "version_id", v.ID)
	return v, nil
}

// Discard closes a proposal without applying it.
func (e *Engine) Discard(ctx context.Context, proposalID string) error {
	p, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if p.Status != datatypes.ProposalProposed {
		return datatypes.Validationf("proposal %s is %s, not proposed", proposalID, p.Status)
	}
	p.Status = datatypes.ProposalDiscarded
	return e.store.PutProposal(ctx, p)
}

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
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline. Every error a caller can act on is one of
// these types; handlers map them to HTTP statuses and the CLI maps them to
// exit codes. All types support errors.As and wrap causes with %w.

// NotFoundError reports a missing project, document, version, or proposal.
type NotFoundError struct {
	Resource string // "project", "document", "version", "proposal"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError reports a lost-update race on a version chain: the expected
// parent was no longer the document's head when the append was attempted.
// Callers must re-read the head and retry.
type ConflictError struct {
	DocumentID     string
	ExpectedParent string
	Head           string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %s head moved: expected parent %q, head is %q",
		e.DocumentID, e.ExpectedParent, e.Head)
}

// ValidationError reports bad caller input. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PartialFailureError reports an analysis that committed with degraded
// coverage: some chunks failed after their retry budget. It is a warning
// carried alongside a successful result, never a failed operation.
type PartialFailureError struct {
	FailedChunks []int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("analysis committed with %d failed chunk(s): %v",
		len(e.FailedChunks), e.FailedChunks)
}

// ExternalServiceError reports a collaborator (completion or extraction
// service) that stayed unavailable after retries. The operation commits
// nothing.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service failed during %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

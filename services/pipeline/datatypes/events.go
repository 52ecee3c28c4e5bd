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

// StreamEventType enumerates the events a streamed operation can emit.
// Data events (status, token, chunk_done, chunk_failed) may arrive in any
// number; every stream ends with exactly one terminal event (done or error).
type StreamEventType string

const (
	EventStatus      StreamEventType = "status"
	EventToken       StreamEventType = "token"
	EventChunkDone   StreamEventType = "chunk_done"
	EventChunkFailed StreamEventType = "chunk_failed"
	EventDone        StreamEventType = "done"
	EventError       StreamEventType = "error"
)

// StreamEvent is the wire unit of a streamed operation.
//
// Id, CreatedAt, Hash, and PrevHash are populated by the SSE writer at
// delivery time: each event's Hash covers its content and PrevHash links to
// the previous event, giving the consumer an integrity chain over the
// stream.
type StreamEvent struct {
	Id        string          `json:"id,omitempty"`
	Type      StreamEventType `json:"type"`
	CreatedAt int64           `json:"created_at,omitempty"` // unix millis
	Hash      string          `json:"hash,omitempty"`
	PrevHash  string          `json:"prev_hash,omitempty"`

	// Message carries human-readable status or error text.
	Message string `json:"message,omitempty"`

	// Content carries partial model output for token events.
	Content string `json:"content,omitempty"`

	// ChunkIndex identifies the chunk for chunk_done/chunk_failed events.
	ChunkIndex int `json:"chunk_index,omitempty"`

	// Anomalies carries a chunk's findings on chunk_done events.
	Anomalies []Anomaly `json:"anomalies,omitempty"`

	// Version carries the committed version's metadata on the done event.
	// The commit has already been persisted when this is emitted.
	Version *Version `json:"version,omitempty"`

	// Partial mirrors AnomalySet.Partial on the done event.
	Partial bool `json:"partial,omitempty"`
}

// NewStreamEvent creates an event of the given type. Builder methods return
// the event for chaining.
func NewStreamEvent(t StreamEventType) StreamEvent {
	return StreamEvent{Type: t}
}

func (e StreamEvent) WithMessage(msg string) StreamEvent {
	e.Message = msg
	return e
}

func (e StreamEvent) WithContent(content string) StreamEvent {
	e.Content = content
	return e
}

func (e StreamEvent) WithChunk(index int, anomalies []Anomaly) StreamEvent {
	e.ChunkIndex = index
	e.Anomalies = anomalies
	return e
}

func (e StreamEvent) WithVersion(v *Version) StreamEvent {
	e.Version = v
	return e
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
)

// SSEWriter writes pipeline stream events to an HTTP response in SSE wire
// format (event: type\ndata: json\n\n).
//
// Each event is stamped at delivery time:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: unix timestamp in milliseconds
//   - Hash: SHA-256 over the event content
//   - PrevHash: hash of the previous event
//
// The Hash/PrevHash pair gives the consumer an integrity chain over the
// whole stream, covering chunk findings and the committed version id.
//
// Implementations must be safe for concurrent use; the heartbeat ticker
// and the event loop write from different select arms.
type SSEWriter interface {
	// WriteEvent stamps the event (Id, CreatedAt, Hash, PrevHash),
	// serializes it and flushes it to the client.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteKeepAlive sends an SSE comment (": ping") to keep the TCP
	// connection alive through load-balancer idle timeouts. Comments are
	// ignored by SSE clients and do not advance the hash chain.
	WriteKeepAlive() error
}

// sseWriter implements SSEWriter over an http.ResponseWriter.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter wraps w for SSE output. The caller must set the SSE
// headers via SetSSEHeaders before the first write. Fails if w does not
// support http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// computeEventHash hashes the event's content fields. Anomalies and the
// version are JSON-serialized so the chain covers findings and the
// committed version id, not just the envelope. Called before event.Hash
// is set.
func computeEventHash(event datatypes.StreamEvent) string {
	anomaliesJSON := ""
	if len(event.Anomalies) > 0 {
		if data, err := json.Marshal(event.Anomalies); err == nil {
			anomaliesJSON = string(data)
		}
	}
	versionID := ""
	if event.Version != nil {
		versionID = event.Version.ID
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%d|%s|%s|%t",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Message,
		event.Content,
		event.ChunkIndex,
		anomaliesJSON,
		versionID,
		event.Partial,
	)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// SetSSEHeaders configures the response headers for SSE streaming. Must
// be called before any response body is written.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)

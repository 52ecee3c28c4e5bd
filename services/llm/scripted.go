// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ScriptedClient is a CompletionClient test double. Responses are served
// in script order; a Respond hook can override per-prompt. Safe for
// concurrent use so worker-pool tests can share one instance.
type ScriptedClient struct {
	mu      sync.Mutex
	script  []ScriptedReply
	next    int
	prompts []string

	// Respond, when set, bypasses the script entirely.
	Respond func(prompt string) (string, error)
}

// ScriptedReply is one scripted turn.
type ScriptedReply struct {
	Text string
	Err  error
}

// NewScriptedClient scripts the given replies in order.
func NewScriptedClient(replies ...ScriptedReply) *ScriptedClient {
	return &ScriptedClient{script: replies}
}

// Prompts returns every prompt seen so far.
func (c *ScriptedClient) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// Calls returns how many completions were requested.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func (c *ScriptedClient) reply(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)

	if c.Respond != nil {
		return c.Respond(prompt)
	}
	if c.next >= len(c.script) {
		return "", errors.New("scripted client exhausted")
	}
	r := c.script[c.next]
	c.next++
	return r.Text, r.Err
}

// Complete implements CompletionClient.
func (c *ScriptedClient) Complete(ctx context.Context, prompt string, _ Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.reply(prompt)
}

// CompleteStream implements CompletionClient, emitting the scripted reply
// word by word.
func (c *ScriptedClient) CompleteStream(ctx context.Context, prompt string, _ Options, onToken TokenHandler) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := c.reply(prompt)
	if err != nil {
		return "", err
	}
	if onToken != nil {
		for _, w := range strings.SplitAfter(text, " ") {
			onToken(w)
		}
	}
	return text, nil
}

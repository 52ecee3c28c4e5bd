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
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/ReqPipeline/pkg/logging"
)

// RetryConfig bounds the retry wrapper. Zero values take the defaults.
type RetryConfig struct {
	// MaxAttempts counts the initial call plus retries.
	MaxAttempts int

	// PerCallTimeout bounds each individual attempt.
	PerCallTimeout time.Duration

	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration

	// RequestsPerSecond throttles outgoing calls across all goroutines.
	// Zero disables throttling.
	RequestsPerSecond float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = 2 * time.Minute
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	return c
}

// RetryingClient wraps a CompletionClient with bounded retries, a
// per-attempt timeout and a shared rate limiter. Retries fire only on
// RateLimitError, ServiceError and attempt timeouts; request-shape
// errors and caller cancellation pass through immediately.
type RetryingClient struct {
	inner   CompletionClient
	cfg     RetryConfig
	limiter *rate.Limiter
	log     *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetryingClient wraps inner. logger may be nil.
func NewRetryingClient(inner CompletionClient, cfg RetryConfig, logger *logging.Logger) *RetryingClient {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &RetryingClient{
		inner:   inner,
		cfg:     cfg,
		limiter: limiter,
		log:     logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryable(err error) bool {
	var rl *RateLimitError
	var svc *ServiceError
	return errors.As(err, &rl) || errors.As(err, &svc) || errors.Is(err, context.DeadlineExceeded)
}

func (r *RetryingClient) do(ctx context.Context, call func(ctx context.Context) (string, error)) (string, error) {
	backoff := r.cfg.Backoff
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.PerCallTimeout)
		out, err := call(attemptCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err

		// Caller gave up; the deadline check below only covers the
		// per-attempt timeout.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !retryable(err) {
			return "", err
		}

		if attempt < r.cfg.MaxAttempts {
			wait := backoff
			var rl *RateLimitError
			if errors.As(err, &rl) && rl.RetryAfter > wait {
				wait = rl.RetryAfter
			}
			r.log.Warn("completion attempt failed, retrying",
				"attempt", attempt, "wait", wait.String(), "error", err.Error())
			if serr := r.sleep(ctx, wait); serr != nil {
				return "", serr
			}
			backoff *= 2
		}
	}
	return "", lastErr
}

// Complete implements CompletionClient.
func (r *RetryingClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	return r.do(ctx, func(ctx context.Context) (string, error) {
		return r.inner.Complete(ctx, prompt, opts)
	})
}

// CompleteStream implements CompletionClient. Once any token has reached
// onToken the call is not retried; replaying a half-delivered stream
// would hand the consumer duplicate output.
func (r *RetryingClient) CompleteStream(ctx context.Context, prompt string, opts Options, onToken TokenHandler) (string, error) {
	delivered := false
	guarded := func(token string) {
		delivered = true
		if onToken != nil {
			onToken(token)
		}
	}

	out, err := r.do(ctx, func(ctx context.Context) (string, error) {
		s, serr := r.inner.CompleteStream(ctx, prompt, opts, guarded)
		if serr != nil && delivered {
			return "", &abortedStreamError{err: serr}
		}
		return s, serr
	})
	var aborted *abortedStreamError
	if errors.As(err, &aborted) {
		return "", aborted.err
	}
	return out, err
}

// abortedStreamError marks a mid-stream failure as non-retryable.
type abortedStreamError struct {
	err error
}

func (e *abortedStreamError) Error() string { return "stream aborted: " + e.err.Error() }

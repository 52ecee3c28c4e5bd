// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/AleutianAI/ReqPipeline/pkg/logging"
	"github.com/AleutianAI/ReqPipeline/services/llm"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/analysis"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/blob"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/chunker"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/config"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/extract"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/fix"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/handlers"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/observability"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/routes"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/storage"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/store"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/stream"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/testcase"
)

// initTracer installs a span-per-line stdout tracer. Traces go to stderr
// only when REQPIPE_TRACE=1; otherwise the provider is installed with a
// never-sampler so span creation stays cheap.
func initTracer(logger *logging.Logger) (func(context.Context), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.NeverSample()
	if os.Getenv("REQPIPE_TRACE") == "1" {
		sampler = sdktrace.AlwaysSample()
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String("reqpipe")))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down the tracer", "error", err.Error())
		}
	}, nil
}

func main() {
	configPath := os.Getenv("REQPIPE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config{Service: "reqpipe", JSON: true})
	defer logger.Close()

	cleanup, err := initTracer(logger)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	db, err := storage.Open(storage.DefaultConfig(filepath.Join(cfg.Data.Dir, "db")))
	if err != nil {
		log.Fatalf("failed to open the metadata store: %v", err)
	}
	defer db.Close()

	blobs, err := blob.NewFSStore(filepath.Join(cfg.Data.Dir, "blobs"))
	if err != nil {
		log.Fatalf("failed to open the blob store: %v", err)
	}

	st := store.New(db, blobs, logger)

	base, err := llm.NewOpenAIClientFromEnv(cfg.Backend.Model, cfg.Backend.BaseURL, logger)
	if err != nil {
		log.Fatalf("failed to configure the completion backend: %v", err)
	}
	client := llm.NewRetryingClient(base, llm.RetryConfig{
		MaxAttempts:       cfg.Analysis.MaxAttempts,
		PerCallTimeout:    time.Duration(cfg.Analysis.PerCallTimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.Backend.RequestsPerSecond,
	}, logger)

	// Exact token counts when the model's tokenizer is known; a
	// byte-length estimate otherwise.
	var counter chunker.TokenCounter
	if tc, err := chunker.NewTiktokenCounter(base.Model()); err != nil {
		logger.Warn("no tokenizer for model, falling back to estimates",
			"model", base.Model(), "error", err.Error())
		counter = chunker.EstimateCounter{}
	} else {
		counter = tc
	}

	analyzer, err := analysis.New(st, client, counter, analysis.Config{
		MaxTokens:     cfg.Chunking.MaxTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
		Concurrency:   cfg.Analysis.Concurrency,
		Merge:         analysis.MergePolicy{OverlapThreshold: cfg.Analysis.MergeOverlapThreshold},
	}, metrics, logger)
	if err != nil {
		log.Fatalf("failed to build the analyzer: %v", err)
	}

	generator, err := testcase.New(st, client, counter, testcase.Config{
		MaxTokens:     cfg.Chunking.MaxTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
		Concurrency:   cfg.Analysis.Concurrency,
	}, metrics, logger)
	if err != nil {
		log.Fatalf("failed to build the testcase generator: %v", err)
	}

	h := handlers.New(
		st,
		analyzer,
		fix.New(st, blobs, client, metrics, logger),
		generator,
		stream.New(cfg.Streaming.EventBuffer, metrics, logger),
		extract.TextExtractor{},
		metrics,
		logger,
		time.Duration(cfg.Streaming.HeartbeatSeconds)*time.Second,
	)

	router := gin.Default()
	routes.SetupRoutes(router, h)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("starting the pipeline server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// Streamed operations survive client disconnects; give in-flight
	// commits a window before the process exits.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err.Error())
	}
}

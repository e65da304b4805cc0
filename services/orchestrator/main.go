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
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/bicqa/bicqa/pkg/logging"
	"github.com/bicqa/bicqa/services/knowledge"
	"github.com/bicqa/bicqa/services/llm"
	"github.com/bicqa/bicqa/services/orchestrator/config"
	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
	"github.com/bicqa/bicqa/services/orchestrator/engine"
	"github.com/bicqa/bicqa/services/orchestrator/observability"
	"github.com/bicqa/bicqa/services/orchestrator/routes"
	"github.com/bicqa/bicqa/services/translate"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "bicqa-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("answer-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// chatEngine adapts a model client into the translation engine interface.
type chatEngine struct {
	client llm.ModelClient
	model  string
}

func (e *chatEngine) Complete(ctx context.Context, prompt string) (string, error) {
	return e.client.Chat(ctx, llm.ChatRequest{
		Model:    e.model,
		Messages: []datatypes.Message{{Role: "user", Content: prompt}},
	})
}

func main() {
	port := os.Getenv("ANSWER_SERVICE_PORT")
	if port == "" {
		port = "12310"
	}

	logger := logging.New(logging.Config{
		Level:   logging.LevelFromEnv(),
		Service: "answer-service",
		LogDir:  os.Getenv("BICQA_LOG_DIR"),
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	configPath := os.Getenv("BICQA_CONFIG")
	if configPath == "" {
		configPath = "config.toml"
	}
	store, err := config.LoadFile(configPath)
	if err != nil {
		log.Fatalf("FATAL: could not load configuration: %v", err)
	}
	slog.Info("Configuration loaded",
		"providers", len(store.Providers()),
		"models", len(store.Models()),
		"knowledge_bases", len(store.KnowledgeBases()),
		"rules", len(store.ParameterRules()),
	)

	retriever := knowledge.NewHTTPRetriever(store.KnowledgeEndpoint())

	var translationEngine translate.Engine
	if sel := store.TranslationModel(); sel.Provider != "" && sel.Model != "" {
		provider, ok := store.ProviderByName(sel.Provider)
		if !ok {
			log.Fatalf("FATAL: translation provider %q is not configured", sel.Provider)
		}
		translationEngine = &chatEngine{
			client: llm.NewTransport(provider),
			model:  sel.Model,
		}
	} else {
		slog.Warn("No translation model configured, answers stay in the model's output language")
	}
	translator := translate.NewTranslator(translationEngine)

	orch := engine.NewOrchestrator(store, retriever, translator, nil, metrics, nil)

	router := gin.Default()
	router.Use(otelgin.Middleware("answer-service"))

	routes.SetupRoutes(router, orch, store)

	log.Println("Starting the answer service on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

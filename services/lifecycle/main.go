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
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/modelcycle/pkg/logging"
	"github.com/AleutianAI/modelcycle/services/lifecycle/clients"
	"github.com/AleutianAI/modelcycle/services/lifecycle/config"
	"github.com/AleutianAI/modelcycle/services/lifecycle/controller"
	"github.com/AleutianAI/modelcycle/services/lifecycle/observability"
	"github.com/AleutianAI/modelcycle/services/lifecycle/routes"
	"github.com/AleutianAI/modelcycle/services/lifecycle/schedule"
	"github.com/AleutianAI/modelcycle/services/lifecycle/statestore"

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
		otelEndpoint = "modelcycle-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("lifecycle-service")))
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

func main() {
	logger, closeLogs, err := logging.Setup(logging.FromEnv("lifecycle"))
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closeLogs()

	cfg, err := config.Load(os.Getenv("MODELCYCLE_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	store, err := statestore.Open(statestore.DefaultConfig(cfg.State.Path))
	if err != nil {
		log.Fatalf("failed to open state store at %s: %v", cfg.State.Path, err)
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: cfg.Services.Timeout.Std()}
	ctrl := controller.NewController(controller.Deps{
		Store: store,
		// Training jobs outlive any sane request timeout, so the trainer
		// client gets its own unbounded HTTP client.
		Trainer:  clients.NewHTTPTrainer(cfg.Services.TrainerURL, &http.Client{}),
		Tracker:  clients.NewHTTPTracker(cfg.Services.TrackerURL, httpClient),
		Deployer: clients.NewHTTPDeployer(cfg.Services.DeployerURL, httpClient),
		Monitor:  clients.NewHTTPMonitor(cfg.Services.MonitorURL, httpClient),
		Metrics:  metrics,
		Logger:   logger,
	}, controller.Config{
		TrackedMetrics:        cfg.Evaluation.TrackedMetrics,
		SignificanceThreshold: cfg.Evaluation.SignificanceThreshold,
		ShadowDuration:        cfg.Shadow.Duration.Std(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Cycle.Enabled {
		scheduler := schedule.NewScheduler(ctrl, schedule.Config{
			Interval: cfg.Cycle.Interval.Std(),
			DataPath: os.Getenv("MODELCYCLE_DATA_PATH"),
		}, logger)
		if err := scheduler.Start(ctx); err != nil {
			log.Fatalf("failed to start scheduler: %v", err)
		}
		defer scheduler.Stop()
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("lifecycle-service"))
	routes.SetupRoutes(router, ctrl)

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: router,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("lifecycle service starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("lifecycle service exited with error: %v", err)
	}
	logger.Info("lifecycle service stopped")
}

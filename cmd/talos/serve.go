package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/internal/nats"
	"github.com/wehubfusion/Talos/internal/tracing"
	"github.com/wehubfusion/Talos/pkg/bulk"
	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/service"
	"github.com/wehubfusion/Talos/pkg/storage"
)

func serveCommand(ctx context.Context, args []string, logger *zap.Logger) error {
	natsCfg := nats.LoadConnectionConfig()
	svcCfg := service.LoadConfig()

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&natsCfg.URL, "nats", natsCfg.URL, "NATS server URL")
	fs.StringVar(&svcCfg.Subject, "subject", svcCfg.Subject, "request subject")
	fs.StringVar(&svcCfg.Queue, "queue", svcCfg.Queue, "queue group, empty for none")
	if err := fs.Parse(args); err != nil {
		return usagef("serve: %v", err)
	}
	if fs.NArg() > 0 {
		return usagef("serve: unexpected arguments %q", fs.Args())
	}

	traceCfg := tracing.LoadConfig("talos")
	traceCfg.ServiceVersion = version
	if traceCfg.Enabled() {
		shutdown, err := tracing.SetupTracing(ctx, traceCfg, logger)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() { _ = tracing.ShutdownTracing(shutdown, logger) }()
	}

	concCfg := concurrency.LoadConfig()
	logger.Info("Concurrency configuration",
		zap.Int("max_jobs", concCfg.MaxJobs),
		zap.Int("auto_jobs_min", concCfg.AutoJobsMin),
		zap.Int("max_batches", concCfg.MaxBatches),
		zap.Bool("kubernetes", concCfg.IsKubernetes),
		zap.String("source", string(concCfg.Source)))
	runner, err := bulk.NewFromConfig(concCfg, logger)
	if err != nil {
		return err
	}

	store, err := blobStoreFromEnv(logger)
	if err != nil {
		return err
	}
	svc, err := service.New(runner, svcCfg, store, logger)
	if err != nil {
		return usagef("serve: %v", err)
	}
	svc.SetFaultReporter(func(requestID string, err error) {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("request_id", requestID)
			sentry.CaptureException(err)
		})
	})

	conn, err := nats.Connect(ctx, natsCfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = nats.Close(conn) }()

	if err := svc.Start(ctx, service.WrapNATSConn(conn)); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("Shutting down")
	return svc.Stop()
}

// blobStoreFromEnv builds the reply offload store from
// TALOS_BLOB_CONNECTION_STRING and TALOS_BLOB_CONTAINER. Without a
// connection string large replies are sent inline.
func blobStoreFromEnv(logger *zap.Logger) (storage.BlobStore, error) {
	conn := os.Getenv("TALOS_BLOB_CONNECTION_STRING")
	if conn == "" {
		return nil, nil
	}
	container := os.Getenv("TALOS_BLOB_CONTAINER")
	if container == "" {
		container = "talos-replies"
	}
	client, err := storage.NewAzureBlobClient(conn, container, logger)
	if err != nil {
		return nil, fmt.Errorf("blob storage: %w", err)
	}
	return client, nil
}

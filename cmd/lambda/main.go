package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/app"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/config"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/logging"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/transport/lambdatransport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, false)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	// Built once per cold start and reused across invocations.
	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to build service", zap.Error(err))
	}
	lambda.Start(lambdatransport.NewHandler(a.Handler()).Handle)
}

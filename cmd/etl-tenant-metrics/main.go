package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"

	"tenantdash/internal/etl"
	"tenantdash/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	h := etl.NewTenantMetricsETL(cfg, logging.New("etl-tenant-metrics"))
	lambda.Start(h.Handle)
}

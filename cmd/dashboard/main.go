package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"

	"tenantdash/internal/db"
	"tenantdash/internal/handlers"
	"tenantdash/internal/logging"
	"tenantdash/internal/tenancy"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	store := tenancy.NewStore(db.NewDynamoClient(cfg))
	h := handlers.NewDashboardHandler(store, logging.New("dashboard"))

	lambda.Start(h.Handle)
}

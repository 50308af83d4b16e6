package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return healthResponse(time.Now().UTC()), nil
}

func healthResponse(now time.Time) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(HealthResponse{
		Status:    "ok",
		Service:   "tenantdash-backend",
		Timestamp: now.Format(time.RFC3339),
	})

	return events.APIGatewayV2HTTPResponse{
		StatusCode: 200,
		Headers: map[string]string{
			"content-type":                "application/json",
			"access-control-allow-origin": "*",
		},
		Body: string(body),
	}
}

func main() {
	lambda.Start(handler)
}

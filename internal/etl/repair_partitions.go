package etl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
)

type AthenaClient interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
}

type RepairResp struct {
	Ok        bool   `json:"ok"`
	QueryID   string `json:"query_id,omitempty"`
	State     string `json:"state,omitempty"`
	Database  string `json:"database,omitempty"`
	Table     string `json:"table,omitempty"`
	Workgroup string `json:"workgroup,omitempty"`
	Output    string `json:"output,omitempty"`
}

// PartitionRepairer registers new dt=/shop_id= partitions written by the
// tenant metrics ETL so Athena can query them.
type PartitionRepairer struct {
	ath          AthenaClient
	log          *slog.Logger
	maxWait      time.Duration
	pollInterval time.Duration
}

func NewPartitionRepairer(cfg aws.Config, log *slog.Logger) *PartitionRepairer {
	return &PartitionRepairer{
		ath:          athena.NewFromConfig(cfg),
		log:          log,
		maxWait:      60 * time.Second,
		pollInterval: 2 * time.Second,
	}
}

type repairTarget struct {
	database, table, workgroup, output string
}

// repairTargetFromEnv reads the Athena settings. The table and the query
// output default to the locations the tenant metrics ETL writes to, so both
// functions can share one environment.
//
// Env:
// - ATHENA_DATABASE (required)
// - ATHENA_TABLE (default: last segment of TENANT_METRICS_PREFIX)
// - ATHENA_OUTPUT (default s3://$ANALYTICS_BUCKET/athena-results/)
// - ATHENA_WORKGROUP (default "primary")
func repairTargetFromEnv() (repairTarget, error) {
	t := repairTarget{
		database:  strings.TrimSpace(os.Getenv("ATHENA_DATABASE")),
		table:     strings.TrimSpace(os.Getenv("ATHENA_TABLE")),
		workgroup: strings.TrimSpace(os.Getenv("ATHENA_WORKGROUP")),
		output:    strings.TrimSpace(os.Getenv("ATHENA_OUTPUT")),
	}
	if t.table == "" {
		t.table = metricsTable(metricsPrefix())
	}
	if t.output == "" {
		if bucket := strings.TrimSpace(os.Getenv("ANALYTICS_BUCKET")); bucket != "" {
			t.output = "s3://" + bucket + "/athena-results/"
		}
	}
	if t.workgroup == "" {
		t.workgroup = "primary"
	}

	if t.database == "" || t.table == "" || t.output == "" {
		return t, fmt.Errorf("missing env: ATHENA_DATABASE and ATHENA_OUTPUT (or ANALYTICS_BUCKET) are required")
	}
	if !strings.HasPrefix(t.output, "s3://") {
		return t, fmt.Errorf("ATHENA_OUTPUT must start with s3://")
	}
	return t, nil
}

// Handle runs MSCK REPAIR TABLE over the tenant metrics table and waits for it.
func (p *PartitionRepairer) Handle(ctx context.Context) (RepairResp, error) {
	target, err := repairTargetFromEnv()
	if err != nil {
		return RepairResp{Ok: false}, err
	}

	startOut, err := p.ath.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(fmt.Sprintf("MSCK REPAIR TABLE %s;", target.table)),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(target.database),
		},
		WorkGroup: aws.String(target.workgroup),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(target.output),
		},
	})
	if err != nil {
		return RepairResp{Ok: false}, fmt.Errorf("StartQueryExecution: %w", err)
	}

	qid := aws.ToString(startOut.QueryExecutionId)
	p.log.InfoContext(ctx, "repair started",
		"qid", qid, "db", target.database, "table", target.table, "workgroup", target.workgroup)

	resp := RepairResp{
		QueryID:   qid,
		Database:  target.database,
		Table:     target.table,
		Workgroup: target.workgroup,
		Output:    target.output,
	}

	state, err := p.waitForQuery(ctx, qid)
	resp.State = state
	if err != nil {
		return resp, err
	}

	p.log.InfoContext(ctx, "repair succeeded", "qid", qid, "table", target.table)
	resp.Ok = true
	return resp, nil
}

// waitForQuery polls qid until it reaches a terminal state or maxWait passes.
// It returns the last observed state; "TIMEOUT" when the wait ran out.
func (p *PartitionRepairer) waitForQuery(ctx context.Context, qid string) (string, error) {
	deadline := time.Now().Add(p.maxWait)
	for time.Now().Before(deadline) {
		st, err := p.ath.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			return "", fmt.Errorf("GetQueryExecution: %w", err)
		}

		status := st.QueryExecution.Status
		switch status.State {
		case athenatypes.QueryExecutionStateSucceeded:
			return string(status.State), nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return string(status.State), fmt.Errorf("repair %s: %s", status.State, aws.ToString(status.StateChangeReason))
		}

		select {
		case <-ctx.Done():
			return string(status.State), ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
	return "TIMEOUT", fmt.Errorf("repair timed out waiting for qid=%s", qid)
}

package etl

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tenantdash/internal/db"
	"tenantdash/internal/insights"
	"tenantdash/internal/tenancy"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
)

// TenantMetricsRow matches the Glue table columns of tenant_metrics.
type TenantMetricsRow struct {
	MerchantID        string  `parquet:"name=merchant_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	MetricDate        string  `parquet:"name=metric_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"` // YYYY-MM-DD
	Currency          string  `parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TotalRevenue      float64 `parquet:"name=total_revenue, type=DOUBLE"`
	AverageOrderValue float64 `parquet:"name=average_order_value, type=DOUBLE"`
	OrderCount        int64   `parquet:"name=order_count, type=INT64"`
	CustomerCount     int64   `parquet:"name=customer_count, type=INT64"`
	NoOrderCustomers  int64   `parquet:"name=no_order_customers, type=INT64"`
	OneTimeCustomers  int64   `parquet:"name=one_time_customers, type=INT64"`
	RepeatCustomers   int64   `parquet:"name=repeat_customers, type=INT64"`
	TopCustomerID     string  `parquet:"name=top_customer_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TopCustomerSpend  float64 `parquet:"name=top_customer_spend, type=DOUBLE"`
}

const defaultMetricsPrefix = "tenant_metrics/"

// metricsPrefix is the S3 key prefix the ETL writes under. The partition
// repair job derives its default Athena table name from the same value.
func metricsPrefix() string {
	if p := strings.TrimSpace(os.Getenv("TENANT_METRICS_PREFIX")); p != "" {
		return p
	}
	return defaultMetricsPrefix
}

// metricsTable maps a key prefix such as "analytics/tenant_metrics/" to the
// Glue table registered over it ("tenant_metrics").
func metricsTable(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		prefix = prefix[i+1:]
	}
	return prefix
}

type ShopSource interface {
	ListShops(ctx context.Context) ([]string, error)
	LoadSnapshot(ctx context.Context, shop string) (*insights.Tenant, error)
}

type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type TenantMetricsETL struct {
	shops ShopSource
	s3    ObjectPutter
	sns   Publisher
	log   *slog.Logger
	now   func() time.Time
}

func NewTenantMetricsETL(cfg aws.Config, log *slog.Logger) *TenantMetricsETL {
	return &TenantMetricsETL{
		shops: tenancy.NewStore(db.NewDynamoClient(cfg)),
		s3:    s3.NewFromConfig(cfg),
		sns:   sns.NewFromConfig(cfg),
		log:   log,
		now:   time.Now,
	}
}

// Handle is triggered by EventBridge schedule.
//
// For every shop in SHOP_TO_USER_TABLE it loads the tenant snapshot, computes
// the dashboard totals and writes one Parquet row under:
//     tenant_metrics/dt=YYYY-MM-DD/shop_id=<shop>/part-<uuid>.parquet
//
// Env:
// - ANALYTICS_BUCKET (required)
// - TENANT_METRICS_PREFIX (default "tenant_metrics/")
// - ETL_TIMEZONE (default "Asia/Ho_Chi_Minh")
// - METRICS_DIGEST_TOPIC_ARN (optional; publishes a per-shop digest)
func (h *TenantMetricsETL) Handle(ctx context.Context, _ events.CloudWatchEvent) (map[string]any, error) {
	bucket := strings.TrimSpace(os.Getenv("ANALYTICS_BUCKET"))
	prefix := metricsPrefix()

	tzName := strings.TrimSpace(os.Getenv("ETL_TIMEZONE"))
	if tzName == "" {
		tzName = "Asia/Ho_Chi_Minh"
	}

	topicArn := strings.TrimSpace(os.Getenv("METRICS_DIGEST_TOPIC_ARN"))

	if bucket == "" {
		return nil, fmt.Errorf("missing env ANALYTICS_BUCKET")
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", tzName, err)
	}

	shops, err := h.shops.ListShops(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	if len(shops) == 0 {
		return map[string]any{"ok": true, "written": 0, "reason": "no shops found"}, nil
	}

	dtStr := h.now().In(loc).Format("2006-01-02")
	written := 0
	failed := 0
	published := 0

	for _, shop := range shops {
		snap, err := h.shops.LoadSnapshot(ctx, shop)
		if err != nil {
			h.log.ErrorContext(ctx, "load snapshot failed", "shop", shop, "error", err)
			failed++
			continue
		}

		totals := insights.ComputeTotals(snap.Customers, snap.Orders, 1)
		row := buildRow(snap, totals, dtStr)

		key := fmt.Sprintf("%sdt=%s/shop_id=%s/part-%s.parquet",
			ensureTrailingSlash(prefix),
			dtStr,
			snap.Shop,
			uuid.NewString(),
		)

		if err := h.writeOneParquetRowToS3(ctx, bucket, key, row); err != nil {
			h.log.ErrorContext(ctx, "write parquet failed", "shop", shop, "key", key, "error", err)
			failed++
			continue
		}
		written++

		if topicArn != "" {
			subject, message := buildDigest(row)
			if _, err := h.sns.Publish(ctx, &sns.PublishInput{
				TopicArn: aws.String(topicArn),
				Subject:  aws.String(subject),
				Message:  aws.String(message),
			}); err != nil {
				// digest is best effort, the parquet row is already stored
				h.log.WarnContext(ctx, "publish digest failed", "shop", shop, "error", err)
			} else {
				published++
			}
		}
	}

	h.log.InfoContext(ctx, "tenant metrics etl done",
		"shops", len(shops), "written", written, "failed", failed, "dt", dtStr)

	return map[string]any{
		"ok":        failed == 0,
		"shops":     len(shops),
		"written":   written,
		"failed":    failed,
		"published": published,
		"dt":        dtStr,
		"bucket":    bucket,
		"prefix":    prefix,
	}, nil
}

func buildRow(snap *insights.Tenant, t insights.Totals, dt string) TenantMetricsRow {
	row := TenantMetricsRow{
		MerchantID:        snap.Shop, // MVP: merchant_id = shop
		MetricDate:        dt,
		Currency:          snap.Currency(),
		TotalRevenue:      cents(t.TotalRevenue),
		AverageOrderValue: cents(t.AverageOrderValue),
		OrderCount:        int64(t.OrderCount),
		CustomerCount:     int64(t.CustomerCount),
		NoOrderCustomers:  int64(t.Segments.NoOrders),
		OneTimeCustomers:  int64(t.Segments.OneTime),
		RepeatCustomers:   int64(t.Segments.Repeat),
	}
	if len(t.TopCustomers) > 0 {
		row.TopCustomerID = t.TopCustomers[0].ID
		row.TopCustomerSpend = cents(t.TopCustomers[0].TotalSpend)
	}
	return row
}

func buildDigest(row TenantMetricsRow) (subject string, body string) {
	subject = fmt.Sprintf("Store metrics: %s (%s)", row.MerchantID, row.MetricDate)

	lines := []string{
		"Store Metrics Digest",
		"",
		fmt.Sprintf("Shop: %s", row.MerchantID),
		fmt.Sprintf("Date: %s", row.MetricDate),
		fmt.Sprintf("Revenue: %.2f %s", row.TotalRevenue, row.Currency),
		fmt.Sprintf("Orders: %d", row.OrderCount),
		fmt.Sprintf("AOV: %.2f %s", row.AverageOrderValue, row.Currency),
		fmt.Sprintf("Customers: %d (repeat %d, one-time %d, no orders %d)",
			row.CustomerCount, row.RepeatCustomers, row.OneTimeCustomers, row.NoOrderCustomers),
	}
	if row.TopCustomerID != "" {
		lines = append(lines, fmt.Sprintf("Top customer: %s (%.2f %s)", row.TopCustomerID, row.TopCustomerSpend, row.Currency))
	}
	return subject, strings.Join(lines, "\n")
}

func (h *TenantMetricsETL) writeOneParquetRowToS3(ctx context.Context, bucket, key string, row TenantMetricsRow) error {
	localPath := filepath.Join(os.TempDir(), "tenant_metrics_"+uuid.NewString()+".parquet")
	defer func() { _ = os.Remove(localPath) }()

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(TenantMetricsRow), 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = 0 // no snappy

	if err := pw.Write(row); err != nil {
		_ = pw.WriteStop()
		_ = fw.Close()
		return fmt.Errorf("parquet write row: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read parquet tmp: %w", err)
	}

	_, err = h.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("s3 putobject failed: %w", err)
	}
	return nil
}

func cents(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func ensureTrailingSlash(s string) string {
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

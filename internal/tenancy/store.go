package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenantdash/internal/db"
	"tenantdash/internal/insights"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyUserSub  = errors.New("empty userSub")
	ErrEmptyShop     = errors.New("empty shop")
	ErrMissingTable  = errors.New("table not configured")
	ErrInvalidRecord = errors.New("invalid tenant record")
)

const (
	entityCustomer = "customer"
	entityOrder    = "order"
)

// Store reads tenant snapshots from DynamoDB.
//
// Tenant data layout (TENANT_DATA_TABLE):
//   PK = SHOP#<domain>
//   SK = CUSTOMER#<id> | ORDER#<id>
//
// Shop membership (SHOP_TO_USER_TABLE):
//   PK = SHOP#<domain>, SK = USER#<sub>, Shop, UserSub; GSI on UserSub
type Store struct {
	ddb       db.Client
	dataTable string
	mapTable  string
	userIndex string
}

func NewStore(ddb db.Client) *Store {
	return &Store{
		ddb:       ddb,
		dataTable: db.TenantDataTableName(),
		mapTable:  db.ShopToUserTableName(),
		userIndex: db.ShopToUserIndexName(),
	}
}

// record mirrors one TENANT_DATA_TABLE item. TotalPrice is read separately
// because it may be stored as N or S.
type record struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Entity     string `dynamodbav:"Entity"`
	FirstName  string `dynamodbav:"FirstName"`
	LastName   string `dynamodbav:"LastName"`
	Email      string `dynamodbav:"Email"`
	Currency   string `dynamodbav:"Currency"`
	CustomerID string `dynamodbav:"CustomerId,omitempty"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
}

// AllowedShops returns the shops a user is mapped to, deduplicated case-insensitively.
func (s *Store) AllowedShops(ctx context.Context, userSub string) ([]string, error) {
	userSub = strings.TrimSpace(userSub)
	if userSub == "" {
		return nil, ErrEmptyUserSub
	}
	if s.mapTable == "" {
		return nil, fmt.Errorf("SHOP_TO_USER_TABLE: %w", ErrMissingTable)
	}

	var shops []string
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.mapTable),
			IndexName:              aws.String(s.userIndex),
			KeyConditionExpression: aws.String("#u = :u"),
			ExpressionAttributeNames: map[string]string{
				"#u": "UserSub",
				"#s": "Shop",
			},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":u": &ddbtypes.AttributeValueMemberS{Value: userSub},
			},
			ProjectionExpression: aws.String("#s"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb query %s failed: %w", s.userIndex, err)
		}

		shops = append(shops, shopValues(out.Items)...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return uniqueStrings(shops), nil
}

// ListShops scans SHOP_TO_USER_TABLE for every distinct shop.
func (s *Store) ListShops(ctx context.Context) ([]string, error) {
	if s.mapTable == "" {
		return nil, fmt.Errorf("SHOP_TO_USER_TABLE: %w", ErrMissingTable)
	}

	var shops []string
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := s.ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.mapTable),
			ExclusiveStartKey:    startKey,
			ProjectionExpression: aws.String("#shop"),
			ExpressionAttributeNames: map[string]string{
				"#shop": "Shop",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan %s: %w", s.mapTable, err)
		}

		shops = append(shops, shopValues(out.Items)...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return uniqueStrings(shops), nil
}

// LoadSnapshot reads every customer and order for a shop. Records that fail
// validation abort the load with ErrInvalidRecord.
func (s *Store) LoadSnapshot(ctx context.Context, shop string) (*insights.Tenant, error) {
	shop = strings.ToLower(strings.TrimSpace(shop))
	if shop == "" {
		return nil, ErrEmptyShop
	}
	if s.dataTable == "" {
		return nil, fmt.Errorf("TENANT_DATA_TABLE: %w", ErrMissingTable)
	}

	t := &insights.Tenant{
		Shop:      shop,
		Customers: []insights.Customer{},
		Orders:    []insights.Order{},
	}

	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.dataTable),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: "SHOP#" + shop},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query tenant data for %s: %w", shop, err)
		}

		for _, it := range out.Items {
			if err := appendItem(t, it); err != nil {
				return nil, err
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return t, nil
}

func appendItem(t *insights.Tenant, it map[string]ddbtypes.AttributeValue) error {
	var r record
	if err := attributevalue.UnmarshalMap(it, &r); err != nil {
		return fmt.Errorf("unmarshal tenant item: %w", err)
	}

	switch entityOf(r) {
	case entityCustomer:
		c, err := toCustomer(r)
		if err != nil {
			return err
		}
		t.Customers = append(t.Customers, c)
	case entityOrder:
		o, err := toOrder(r, it["TotalPrice"])
		if err != nil {
			return err
		}
		t.Orders = append(t.Orders, o)
	default:
		// other entity kinds (sync cursors etc.) live in the same partition
	}
	return nil
}

func entityOf(r record) string {
	if e := strings.ToLower(strings.TrimSpace(r.Entity)); e != "" {
		return e
	}
	switch {
	case strings.HasPrefix(r.SK, "CUSTOMER#"):
		return entityCustomer
	case strings.HasPrefix(r.SK, "ORDER#"):
		return entityOrder
	}
	return ""
}

func idFromSK(sk string) string {
	if i := strings.Index(sk, "#"); i >= 0 {
		return strings.TrimSpace(sk[i+1:])
	}
	return ""
}

func toCustomer(r record) (insights.Customer, error) {
	id := idFromSK(r.SK)
	if id == "" {
		return insights.Customer{}, fmt.Errorf("%w: customer %q has no id", ErrInvalidRecord, r.SK)
	}
	return insights.Customer{
		ID:        id,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Email:     r.Email,
		CreatedAt: parseTime(r.CreatedAt),
	}, nil
}

func toOrder(r record, priceAttr ddbtypes.AttributeValue) (insights.Order, error) {
	id := idFromSK(r.SK)
	if id == "" {
		return insights.Order{}, fmt.Errorf("%w: order %q has no id", ErrInvalidRecord, r.SK)
	}

	price, err := parsePrice(priceAttr)
	if err != nil {
		return insights.Order{}, fmt.Errorf("%w: order %s: %v", ErrInvalidRecord, id, err)
	}

	o := insights.Order{
		ID:         id,
		TotalPrice: price,
		Currency:   strings.ToUpper(strings.TrimSpace(r.Currency)),
		CreatedAt:  parseTime(r.CreatedAt),
	}
	if cid := strings.TrimSpace(r.CustomerID); cid != "" {
		o.CustomerID = &cid
	}
	return o, nil
}

func parsePrice(av ddbtypes.AttributeValue) (decimal.Decimal, error) {
	var raw string
	switch v := av.(type) {
	case *ddbtypes.AttributeValueMemberN:
		raw = v.Value
	case *ddbtypes.AttributeValueMemberS:
		raw = v.Value
	case nil:
		return decimal.Zero, errors.New("missing TotalPrice")
	default:
		return decimal.Zero, fmt.Errorf("unsupported TotalPrice type %T", av)
	}

	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("TotalPrice %q: %w", raw, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative TotalPrice %s", raw)
	}
	return d, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func shopValues(items []map[string]ddbtypes.AttributeValue) []string {
	shops := make([]string, 0, len(items))
	for _, it := range items {
		if v, ok := it["Shop"]; ok {
			if sv, ok2 := v.(*ddbtypes.AttributeValueMemberS); ok2 {
				val := strings.TrimSpace(sv.Value)
				if val != "" {
					shops = append(shops, val)
				}
			}
		}
	}
	return shops
}

func uniqueStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		k := strings.ToLower(strings.TrimSpace(v))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

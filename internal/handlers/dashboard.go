package handlers

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"tenantdash/internal/insights"

	"github.com/aws/aws-lambda-go/events"
	"github.com/shopspring/decimal"
)

const maxTopCustomers = 50

// TenantSource is the tenant data service the dashboard reads from.
type TenantSource interface {
	AllowedShops(ctx context.Context, userSub string) ([]string, error)
	LoadSnapshot(ctx context.Context, shop string) (*insights.Tenant, error)
}

type DashboardHandler struct {
	tenants  TenantSource
	log      *slog.Logger
	topLimit int
}

func NewDashboardHandler(tenants TenantSource, log *slog.Logger) *DashboardHandler {
	topLimit := insights.DefaultTopCustomers
	if v := strings.TrimSpace(os.Getenv("TOP_CUSTOMERS_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxTopCustomers {
			topLimit = n
		}
	}
	return &DashboardHandler{tenants: tenants, log: log, topLimit: topLimit}
}

type TenantSummary struct {
	Shop          string `json:"shop"`
	CustomerCount int    `json:"customerCount"`
	OrderCount    int    `json:"orderCount"`
}

type TopCustomer struct {
	ID         string  `json:"id"`
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	Email      string  `json:"email"`
	TotalSpend float64 `json:"totalSpend"`
	OrderCount int     `json:"orderCount"`
}

type DashboardResponse struct {
	State             string                    `json:"state"`
	Shop              string                    `json:"shop,omitempty"`
	Currency          string                    `json:"currency,omitempty"`
	TotalRevenue      float64                   `json:"totalRevenue"`
	AverageOrderValue float64                   `json:"averageOrderValue"`
	OrderCount        int                       `json:"orderCount"`
	CustomerCount     int                       `json:"customerCount"`
	Segments          insights.CustomerSegments `json:"segments"`
	TopCustomers      []TopCustomer             `json:"topCustomers"`
	GeneratedAt       string                    `json:"generatedAt,omitempty"`
}

type EmptyDashboard struct {
	State   string `json:"state"`
	Message string `json:"message"`
}

func (h *DashboardHandler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	switch req.RawPath {
	case "/tenants":
		if req.RequestContext.HTTP.Method == "GET" {
			return h.listTenants(ctx, req)
		}
		return errResp(405, "method not allowed")
	case "/tenants/dashboard":
		if req.RequestContext.HTTP.Method == "GET" {
			return h.dashboard(ctx, req)
		}
		return errResp(405, "method not allowed")
	default:
		return errResp(404, "not found")
	}
}

func (h *DashboardHandler) listTenants(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	shops, err := h.tenants.AllowedShops(ctx, sub)
	if err != nil {
		h.log.ErrorContext(ctx, "allowed shops lookup failed", "sub", sub, "error", err)
		return errResp(500, "shop lookup failed")
	}

	items := make([]TenantSummary, 0, len(shops))
	for _, shop := range shops {
		snap, err := h.tenants.LoadSnapshot(ctx, shop)
		if err != nil {
			h.log.WarnContext(ctx, "skipping shop in tenant list", "shop", shop, "error", err)
			continue
		}
		items = append(items, TenantSummary{
			Shop:          snap.Shop,
			CustomerCount: len(snap.Customers),
			OrderCount:    len(snap.Orders),
		})
	}

	return jsonResp(200, map[string]any{"items": items})
}

func (h *DashboardHandler) dashboard(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	limit := h.topLimit
	if s := strings.TrimSpace(req.QueryStringParameters["limit"]); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxTopCustomers {
			return errResp(400, "limit must be between 1 and 50")
		}
		limit = n
	}

	allowed, err := h.tenants.AllowedShops(ctx, sub)
	if err != nil {
		h.log.ErrorContext(ctx, "allowed shops lookup failed", "sub", sub, "error", err)
		return errResp(500, "shop lookup failed")
	}

	shop := strings.ToLower(strings.TrimSpace(req.QueryStringParameters["shop"]))
	switch {
	case shop == "" && len(allowed) == 0:
		// nothing connected yet: the dashboard shows its placeholder
		return jsonResp(200, EmptyDashboard{
			State:   "empty",
			Message: "no store selected; connect a Shopify store to see analytics",
		})
	case shop == "":
		shop = strings.ToLower(allowed[0])
	case !containsFold(allowed, shop):
		return errResp(403, "shop not allowed")
	}

	snap, err := h.tenants.LoadSnapshot(ctx, shop)
	if err != nil {
		h.log.ErrorContext(ctx, "load tenant snapshot failed", "shop", shop, "error", err)
		return errResp(500, "tenant data unavailable")
	}

	totals := insights.ComputeTotals(snap.Customers, snap.Orders, limit)
	h.log.DebugContext(ctx, "dashboard computed",
		"shop", shop,
		"orders", totals.OrderCount,
		"customers", totals.CustomerCount,
	)

	return jsonResp(200, toDashboardResponse(snap, totals))
}

func toDashboardResponse(snap *insights.Tenant, t insights.Totals) DashboardResponse {
	top := make([]TopCustomer, 0, len(t.TopCustomers))
	for _, c := range t.TopCustomers {
		top = append(top, TopCustomer{
			ID:         c.ID,
			FirstName:  c.FirstName,
			LastName:   c.LastName,
			Email:      c.Email,
			TotalSpend: money(c.TotalSpend),
			OrderCount: c.OrderCount,
		})
	}

	return DashboardResponse{
		State:             "ready",
		Shop:              snap.Shop,
		Currency:          snap.Currency(),
		TotalRevenue:      money(t.TotalRevenue),
		AverageOrderValue: money(t.AverageOrderValue),
		OrderCount:        t.OrderCount,
		CustomerCount:     t.CustomerCount,
		Segments:          t.Segments,
		TopCustomers:      top,
		GeneratedAt:       time.Now().UTC().Format(time.RFC3339),
	}
}

// money rounds to cents at the JSON boundary; sums stay exact until here.
func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}

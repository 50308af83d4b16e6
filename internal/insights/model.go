package insights

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a tenant's customer as supplied by the tenant data store.
type Customer struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Order is a tenant's order. CustomerID is nil when the order is not
// attributed to any customer (guest checkout, deleted customer).
type Order struct {
	ID         string          `json:"id"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Currency   string          `json:"currency"`
	CustomerID *string         `json:"customerId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Tenant is a read-only snapshot of one shop's customers and orders.
type Tenant struct {
	Shop      string
	Customers []Customer
	Orders    []Order
}

// Currency returns the shop currency, taken from the first order that carries
// one. Shops without priced orders default to USD.
func (t *Tenant) Currency() string {
	for _, o := range t.Orders {
		if o.Currency != "" {
			return o.Currency
		}
	}
	return "USD"
}

// CustomerWithSpend is a view-model copy of a Customer with derived figures attached.
type CustomerWithSpend struct {
	Customer
	TotalSpend decimal.Decimal `json:"totalSpend"`
	OrderCount int             `json:"orderCount"`
}

type RevenueMetrics struct {
	TotalRevenue      decimal.Decimal
	AverageOrderValue decimal.Decimal
	OrderCount        int
}

// CustomerSegments buckets customers by how many attributed orders they placed.
type CustomerSegments struct {
	NoOrders int `json:"noOrders"`
	OneTime  int `json:"oneTime"`
	Repeat   int `json:"repeat"`
}

// Total is the number of customers across all segments.
func (s CustomerSegments) Total() int {
	return s.NoOrders + s.OneTime + s.Repeat
}

// Totals is the full dashboard payload for one tenant.
type Totals struct {
	TotalRevenue      decimal.Decimal
	AverageOrderValue decimal.Decimal
	OrderCount        int
	CustomerCount     int
	Segments          CustomerSegments
	TopCustomers      []CustomerWithSpend
}

package insights

import (
	"slices"

	"github.com/shopspring/decimal"
)

// DefaultTopCustomers is the ranking size used when the caller passes limit <= 0.
const DefaultTopCustomers = 5

// ComputeRevenueMetrics sums order totals. An empty order list yields zeros.
func ComputeRevenueMetrics(orders []Order) RevenueMetrics {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.TotalPrice)
	}

	aov := decimal.Zero
	if len(orders) > 0 {
		aov = total.Div(decimal.NewFromInt(int64(len(orders))))
	}

	return RevenueMetrics{
		TotalRevenue:      total,
		AverageOrderValue: aov,
		OrderCount:        len(orders),
	}
}

// AttributeSpendToCustomers returns a copy of customers with TotalSpend and
// OrderCount filled from the orders referencing each customer by ID.
// Orders without a matching customer are ignored here.
func AttributeSpendToCustomers(customers []Customer, orders []Order) []CustomerWithSpend {
	type acc struct {
		spend decimal.Decimal
		count int
	}

	byCustomer := make(map[string]acc, len(customers))
	for _, o := range orders {
		if o.CustomerID == nil {
			continue
		}
		a := byCustomer[*o.CustomerID]
		a.spend = a.spend.Add(o.TotalPrice)
		a.count++
		byCustomer[*o.CustomerID] = a
	}

	out := make([]CustomerWithSpend, 0, len(customers))
	for _, c := range customers {
		a := byCustomer[c.ID]
		out = append(out, CustomerWithSpend{
			Customer:   c,
			TotalSpend: a.spend,
			OrderCount: a.count,
		})
	}
	return out
}

// RankTopCustomers orders customers by TotalSpend, highest first, and keeps the
// first limit entries. Equal spends keep their input order. The input slice is
// left untouched.
func RankTopCustomers(customers []CustomerWithSpend, limit int) []CustomerWithSpend {
	if limit <= 0 {
		limit = DefaultTopCustomers
	}

	ranked := slices.Clone(customers)
	if ranked == nil {
		ranked = []CustomerWithSpend{}
	}
	slices.SortStableFunc(ranked, func(a, b CustomerWithSpend) int {
		return b.TotalSpend.Cmp(a.TotalSpend)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// SegmentCustomers counts customers with no orders, exactly one order, and
// two or more orders.
func SegmentCustomers(customers []CustomerWithSpend) CustomerSegments {
	var seg CustomerSegments
	for _, c := range customers {
		switch {
		case c.OrderCount <= 0:
			seg.NoOrders++
		case c.OrderCount == 1:
			seg.OneTime++
		default:
			seg.Repeat++
		}
	}
	return seg
}

// ComputeTotals builds the dashboard payload for one tenant snapshot.
func ComputeTotals(customers []Customer, orders []Order, limit int) Totals {
	rev := ComputeRevenueMetrics(orders)
	withSpend := AttributeSpendToCustomers(customers, orders)

	return Totals{
		TotalRevenue:      rev.TotalRevenue,
		AverageOrderValue: rev.AverageOrderValue,
		OrderCount:        rev.OrderCount,
		CustomerCount:     len(customers),
		Segments:          SegmentCustomers(withSpend),
		TopCustomers:      RankTopCustomers(withSpend, limit),
	}
}

package insights

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type AggregateSuite struct {
	suite.Suite
}

func TestAggregateSuite(t *testing.T) {
	suite.Run(t, new(AggregateSuite))
}

func ref(id string) *string { return &id }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func order(id, price string, customerID *string) Order {
	return Order{ID: id, TotalPrice: dec(price), Currency: "USD", CustomerID: customerID}
}

func (s *AggregateSuite) sampleTenant() ([]Customer, []Order) {
	customers := []Customer{
		{ID: "A", FirstName: "Ada"},
		{ID: "B", FirstName: "Ben"},
		{ID: "C", FirstName: "Cy"},
	}
	orders := []Order{
		order("1", "100", ref("A")),
		order("2", "50", ref("B")),
		order("3", "25", ref("A")),
	}
	return customers, orders
}

func (s *AggregateSuite) TestComputeRevenueMetrics() {
	s.Run("sums prices and averages", func() {
		_, orders := s.sampleTenant()

		m := ComputeRevenueMetrics(orders)
		s.True(dec("175").Equal(m.TotalRevenue), "got %s", m.TotalRevenue)
		s.Equal(3, m.OrderCount)
		s.True(dec("175").Div(decimal.NewFromInt(3)).Equal(m.AverageOrderValue))
		s.Equal("58.33", m.AverageOrderValue.StringFixed(2))
	})

	s.Run("empty input yields zeros", func() {
		m := ComputeRevenueMetrics(nil)
		s.True(m.TotalRevenue.IsZero())
		s.True(m.AverageOrderValue.IsZero())
		s.Zero(m.OrderCount)
	})

	s.Run("no drift across many small amounts", func() {
		orders := make([]Order, 0, 1000)
		for i := 0; i < 1000; i++ {
			orders = append(orders, order("o", "0.10", nil))
		}

		m := ComputeRevenueMetrics(orders)
		s.True(dec("100").Equal(m.TotalRevenue), "got %s", m.TotalRevenue)
		s.True(dec("0.1").Equal(m.AverageOrderValue), "got %s", m.AverageOrderValue)
	})
}

func (s *AggregateSuite) TestAttributeSpendToCustomers() {
	s.Run("attributes by customer id", func() {
		customers, orders := s.sampleTenant()

		out := AttributeSpendToCustomers(customers, orders)
		s.Require().Len(out, 3)
		s.True(dec("125").Equal(out[0].TotalSpend))
		s.Equal(2, out[0].OrderCount)
		s.True(dec("50").Equal(out[1].TotalSpend))
		s.Equal(1, out[1].OrderCount)
		s.True(out[2].TotalSpend.IsZero())
		s.Zero(out[2].OrderCount)
		s.Equal("Ada", out[0].FirstName)
	})

	s.Run("orders without a matching customer only count toward revenue", func() {
		customers, orders := s.sampleTenant()
		orders = append(orders, order("4", "40", nil), order("5", "10", ref("ghost")))

		out := AttributeSpendToCustomers(customers, orders)
		attributed := decimal.Zero
		for _, c := range out {
			attributed = attributed.Add(c.TotalSpend)
		}
		revenue := ComputeRevenueMetrics(orders).TotalRevenue

		s.True(dec("175").Equal(attributed))
		s.True(attributed.LessThan(revenue))
	})

	s.Run("attributed spend equals revenue when every order matches", func() {
		customers, orders := s.sampleTenant()

		out := AttributeSpendToCustomers(customers, orders)
		attributed := decimal.Zero
		for _, c := range out {
			attributed = attributed.Add(c.TotalSpend)
		}
		s.True(attributed.Equal(ComputeRevenueMetrics(orders).TotalRevenue))
	})

	s.Run("inputs are not modified", func() {
		customers, orders := s.sampleTenant()
		before := append([]Customer(nil), customers...)

		out := AttributeSpendToCustomers(customers, orders)
		out[0].FirstName = "changed"

		s.Equal(before, customers)
		s.Equal("A", *orders[0].CustomerID)
	})

	s.Run("empty inputs", func() {
		s.Empty(AttributeSpendToCustomers(nil, nil))
		out := AttributeSpendToCustomers([]Customer{{ID: "A"}}, nil)
		s.Require().Len(out, 1)
		s.True(out[0].TotalSpend.IsZero())
	})
}

func (s *AggregateSuite) TestRankTopCustomers() {
	spend := func(id, amount string) CustomerWithSpend {
		return CustomerWithSpend{Customer: Customer{ID: id}, TotalSpend: dec(amount)}
	}
	ids := func(in []CustomerWithSpend) []string {
		out := make([]string, 0, len(in))
		for _, c := range in {
			out = append(out, c.ID)
		}
		return out
	}

	s.Run("sorts descending and truncates", func() {
		in := []CustomerWithSpend{spend("c", "0"), spend("a", "125"), spend("b", "50")}
		s.Equal([]string{"a", "b"}, ids(RankTopCustomers(in, 2)))
	})

	s.Run("ties keep input order", func() {
		in := []CustomerWithSpend{
			spend("x", "10"), spend("y", "20"), spend("z", "10"), spend("w", "20"), spend("v", "10"),
		}
		s.Equal([]string{"y", "w", "x", "z", "v"}, ids(RankTopCustomers(in, 5)))
	})

	s.Run("tie at the boundary is cut at limit", func() {
		in := []CustomerWithSpend{spend("a", "5"), spend("b", "5"), spend("c", "5")}
		s.Equal([]string{"a", "b"}, ids(RankTopCustomers(in, 2)))
	})

	s.Run("unset spend ranks as zero", func() {
		in := []CustomerWithSpend{{Customer: Customer{ID: "none"}}, spend("neg", "-1"), spend("one", "1")}
		s.Equal([]string{"one", "none", "neg"}, ids(RankTopCustomers(in, 5)))
	})

	s.Run("fewer customers than limit are not padded", func() {
		in := []CustomerWithSpend{spend("a", "1"), spend("b", "2")}
		s.Len(RankTopCustomers(in, 5), 2)
	})

	s.Run("non-positive limit falls back to default", func() {
		in := make([]CustomerWithSpend, 0, 8)
		for i := 0; i < 8; i++ {
			in = append(in, spend(string(rune('a'+i)), "1"))
		}
		s.Len(RankTopCustomers(in, 0), DefaultTopCustomers)
	})

	s.Run("empty input returns empty slice", func() {
		out := RankTopCustomers(nil, 5)
		s.NotNil(out)
		s.Empty(out)
	})

	s.Run("input order is preserved", func() {
		in := []CustomerWithSpend{spend("a", "1"), spend("b", "2")}
		RankTopCustomers(in, 5)
		s.Equal([]string{"a", "b"}, ids(in))
	})
}

func (s *AggregateSuite) TestComputeTotals() {
	s.Run("worked example", func() {
		customers, orders := s.sampleTenant()

		t := ComputeTotals(customers, orders, 2)
		s.True(dec("175").Equal(t.TotalRevenue))
		s.Equal("58.33", t.AverageOrderValue.StringFixed(2))
		s.Equal(3, t.OrderCount)
		s.Equal(3, t.CustomerCount)
		s.Require().Len(t.TopCustomers, 2)
		s.Equal("A", t.TopCustomers[0].ID)
		s.True(dec("125").Equal(t.TopCustomers[0].TotalSpend))
		s.Equal("B", t.TopCustomers[1].ID)
		s.True(dec("50").Equal(t.TopCustomers[1].TotalSpend))
	})

	s.Run("empty tenant", func() {
		t := ComputeTotals(nil, nil, 5)
		s.True(t.TotalRevenue.IsZero())
		s.True(t.AverageOrderValue.IsZero())
		s.Zero(t.OrderCount)
		s.Zero(t.CustomerCount)
		s.Empty(t.TopCustomers)
	})

	s.Run("repeated calls give identical results", func() {
		customers, orders := s.sampleTenant()

		first := ComputeTotals(customers, orders, DefaultTopCustomers)
		second := ComputeTotals(customers, orders, DefaultTopCustomers)
		s.Equal(first, second)
	})
}

func (s *AggregateSuite) TestSegmentCustomers() {
	withOrders := func(id string, n int) CustomerWithSpend {
		return CustomerWithSpend{Customer: Customer{ID: id}, OrderCount: n}
	}

	s.Run("empty input", func() {
		seg := SegmentCustomers(nil)
		s.Equal(CustomerSegments{}, seg)
		s.Zero(seg.Total())
	})

	s.Run("all customers in one bucket", func() {
		in := []CustomerWithSpend{withOrders("a", 3), withOrders("b", 2), withOrders("c", 7)}
		s.Equal(CustomerSegments{Repeat: 3}, SegmentCustomers(in))

		in = []CustomerWithSpend{withOrders("a", 0), withOrders("b", 0)}
		s.Equal(CustomerSegments{NoOrders: 2}, SegmentCustomers(in))
	})

	s.Run("mixed buckets", func() {
		in := []CustomerWithSpend{withOrders("a", 0), withOrders("b", 1), withOrders("c", 2), withOrders("d", 1)}
		s.Equal(CustomerSegments{NoOrders: 1, OneTime: 2, Repeat: 1}, SegmentCustomers(in))
	})

	s.Run("bucket counts sum to customer count", func() {
		customers, orders := s.sampleTenant()
		orders = append(orders, order("4", "5", ref("ghost")), order("5", "5", nil))

		t := ComputeTotals(customers, orders, 1)
		s.Equal(CustomerSegments{NoOrders: 1, OneTime: 1, Repeat: 1}, t.Segments)
		s.Equal(t.CustomerCount, t.Segments.Total())
	})
}

func (s *AggregateSuite) TestTenantCurrency() {
	s.Equal("USD", (&Tenant{}).Currency())
	s.Equal("EUR", (&Tenant{Orders: []Order{{ID: "1"}, {ID: "2", Currency: "EUR"}, {ID: "3", Currency: "GBP"}}}).Currency())
}

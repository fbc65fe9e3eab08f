// Package calculator maps a plan tier and coverage type to the flat
// commission owed to the enrolling agent.
package calculator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/enrollment/internal/commission/domain"
	"github.com/smallbiznis/enrollment/internal/config"
)

type key struct {
	tier     string
	coverage string
}

// Calculator is immutable once built and safe for concurrent use.
type Calculator struct {
	currency string
	rates    map[key]int64
	table    []config.CommissionRate
}

func New(table config.CommissionTable) (*Calculator, error) {
	currency := strings.ToUpper(strings.TrimSpace(table.Currency))
	if currency == "" || len(table.Rates) == 0 {
		return nil, domain.ErrInvalidTable
	}

	c := &Calculator{
		currency: currency,
		rates:    make(map[key]int64, len(table.Rates)),
		table:    make([]config.CommissionRate, 0, len(table.Rates)),
	}
	for _, rate := range table.Rates {
		k := key{tier: normalize(rate.Tier), coverage: normalize(rate.Coverage)}
		if k.tier == "" || k.coverage == "" || rate.Amount <= 0 {
			return nil, fmt.Errorf("%w: %q/%q", domain.ErrInvalidTable, rate.Tier, rate.Coverage)
		}
		if _, exists := c.rates[k]; exists {
			return nil, fmt.Errorf("%w: duplicate %q/%q", domain.ErrInvalidTable, rate.Tier, rate.Coverage)
		}
		c.rates[k] = rate.Amount
		c.table = append(c.table, rate)
	}
	sort.SliceStable(c.table, func(i, j int) bool {
		if c.table[i].Tier != c.table[j].Tier {
			return c.table[i].Tier < c.table[j].Tier
		}
		return c.table[i].Coverage < c.table[j].Coverage
	})
	return c, nil
}

// Calculate returns ErrRateNotFound for a pair missing from the table. It
// never falls back to zero.
func (c *Calculator) Calculate(tier, coverage string) (domain.Amount, error) {
	amount, ok := c.rates[key{tier: normalize(tier), coverage: normalize(coverage)}]
	if !ok {
		return domain.Amount{}, fmt.Errorf("%w: tier=%q coverage=%q", domain.ErrRateNotFound, tier, coverage)
	}
	return domain.Amount{Value: amount, Currency: c.currency}, nil
}

func (c *Calculator) Currency() string { return c.currency }

// Rates returns a copy of the table ordered by tier then coverage.
func (c *Calculator) Rates() []config.CommissionRate {
	out := make([]config.CommissionRate, len(c.table))
	copy(out, c.table)
	return out
}

func normalize(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

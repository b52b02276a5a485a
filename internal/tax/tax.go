// Package tax selects the items redirected to the platform from a settled pot.
package tax

import (
	"sort"

	"github.com/shopspring/decimal"

	"coinflip-backend/internal/models"
)

// Policy holds the target and ceiling tax rates as fractions of the pot.
type Policy struct {
	Target decimal.Decimal
	Max    decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		Target: decimal.RequireFromString("0.10"),
		Max:    decimal.RequireFromString("0.15"),
	}
}

// Limits returns the target and cap in minor units for a pot. The target
// rounds up so a fractional target still has to be reached in full; the cap
// rounds down so it is never exceeded.
func (p Policy) Limits(potValue int64) (target, max int64) {
	pot := decimal.NewFromInt(potValue)
	return pot.Mul(p.Target).Ceil().IntPart(), pot.Mul(p.Max).Floor().IntPart()
}

// Allocate picks items from candidates, most valuable first, until the
// running total reaches the target. An item is only taken when it keeps the
// total at or below the cap; items that would overshoot are skipped and the
// walk continues with smaller ones. The candidates slice is not modified.
func (p Policy) Allocate(potValue int64, candidates []models.Item) models.TaxOutcome {
	if len(candidates) == 0 || potValue <= 0 {
		return models.TaxOutcome{}
	}

	target, max := p.Limits(potValue)

	ordered := append([]models.Item(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Value > ordered[j].Value })

	if ordered[len(ordered)-1].Value > max {
		return models.TaxOutcome{}
	}

	var out models.TaxOutcome
	for _, it := range ordered {
		if out.Total >= target {
			break
		}
		if out.Total+it.Value > max {
			continue
		}
		out.Items = append(out.Items, it)
		out.Total += it.Value
	}
	return out
}

package commission

import (
	"sort"

	"github.com/shopspring/decimal"

	"tokomitra/backend/internal/domain"
)

// ComputeBreakdown runs a cumulative sales total through a tier schedule and
// returns the per-tier breakdown, the total commission earned, and the
// qualified-sales figure (the highest threshold fully reached).
//
// The input schedule may be unordered and may contain inactive tiers; both are
// normalized here. A tier is earned iff totalSales >= its threshold
// (inclusive). Once a tier is missed no later tier can be earned, but the
// remaining tiers still appear in the breakdown as unearned entries with zero
// sales-in-tier so callers can render the full schedule.
//
// Negative sales totals are clamped to zero; the function never errors for
// numeric input.
func ComputeBreakdown(totalSales decimal.Decimal, tiers []domain.CommissionTier) domain.Breakdown {
	if totalSales.IsNegative() {
		totalSales = decimal.Zero
	}

	active := activeAscending(tiers)
	breakdown := domain.Breakdown{
		Entries:         make([]domain.BreakdownEntry, 0, len(active)),
		TotalCommission: decimal.Zero,
		QualifiedSales:  decimal.Zero,
	}

	consumed := decimal.Zero
	for _, tier := range active {
		entry := domain.BreakdownEntry{
			TierThreshold:  tier.SalesThreshold,
			TierCommission: tier.CommissionAmount,
			SalesInTier:    decimal.Zero,
		}

		if totalSales.GreaterThanOrEqual(tier.SalesThreshold) {
			entry.Earned = true
			entry.SalesInTier = tier.SalesThreshold.Sub(consumed)
			if entry.SalesInTier.IsNegative() {
				entry.SalesInTier = decimal.Zero
			}
			consumed = tier.SalesThreshold
			breakdown.TotalCommission = breakdown.TotalCommission.Add(tier.CommissionAmount)
		}

		breakdown.Entries = append(breakdown.Entries, entry)
	}

	breakdown.QualifiedSales = consumed
	return breakdown
}

// CarryForward returns the portion of the sales total not yet consumed by any
// earned tier: progress toward the next milestone, or unattributed excess when
// the manager is already past the top tier.
func CarryForward(totalSales decimal.Decimal, tiers []domain.CommissionTier) decimal.Decimal {
	if totalSales.IsNegative() {
		totalSales = decimal.Zero
	}
	return totalSales.Sub(ComputeBreakdown(totalSales, tiers).QualifiedSales)
}

// NextMilestone returns the additional sales needed to reach the smallest
// active threshold strictly above totalSales. The second return value is false
// when the manager has reached or passed the top tier.
func NextMilestone(totalSales decimal.Decimal, tiers []domain.CommissionTier) (decimal.Decimal, bool) {
	if totalSales.IsNegative() {
		totalSales = decimal.Zero
	}
	for _, tier := range activeAscending(tiers) {
		if tier.SalesThreshold.GreaterThan(totalSales) {
			return tier.SalesThreshold.Sub(totalSales), true
		}
	}
	return decimal.Zero, false
}

func activeAscending(tiers []domain.CommissionTier) []domain.CommissionTier {
	active := make([]domain.CommissionTier, 0, len(tiers))
	for _, tier := range tiers {
		if tier.Active {
			active = append(active, tier)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].SalesThreshold.LessThan(active[j].SalesThreshold)
	})
	return active
}

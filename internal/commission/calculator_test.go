package commission

import (
	"testing"

	"github.com/shopspring/decimal"

	"tokomitra/backend/internal/domain"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func standardTiers() []domain.CommissionTier {
	return []domain.CommissionTier{
		{ID: "tier-1", SalesThreshold: dec(1000), CommissionAmount: dec(50), Active: true},
		{ID: "tier-2", SalesThreshold: dec(5000), CommissionAmount: dec(200), Active: true},
		{ID: "tier-3", SalesThreshold: dec(10000), CommissionAmount: dec(500), Active: true},
	}
}

func TestComputeBreakdownAtExactThreshold(t *testing.T) {
	breakdown := ComputeBreakdown(dec(5000), standardTiers())

	if !breakdown.TotalCommission.Equal(dec(250)) {
		t.Fatalf("expected total commission 250, got %s", breakdown.TotalCommission)
	}
	if !breakdown.QualifiedSales.Equal(dec(5000)) {
		t.Fatalf("expected qualified sales 5000, got %s", breakdown.QualifiedSales)
	}
	if carry := CarryForward(dec(5000), standardTiers()); !carry.IsZero() {
		t.Fatalf("expected zero carry-forward, got %s", carry)
	}
	next, ok := NextMilestone(dec(5000), standardTiers())
	if !ok || !next.Equal(dec(5000)) {
		t.Fatalf("expected next milestone 5000, got %s (ok=%t)", next, ok)
	}
}

func TestComputeBreakdownBetweenThresholds(t *testing.T) {
	breakdown := ComputeBreakdown(dec(7500), standardTiers())

	if !breakdown.TotalCommission.Equal(dec(250)) {
		t.Fatalf("expected total commission 250, got %s", breakdown.TotalCommission)
	}
	if !breakdown.QualifiedSales.Equal(dec(5000)) {
		t.Fatalf("expected qualified sales 5000, got %s", breakdown.QualifiedSales)
	}
	if carry := CarryForward(dec(7500), standardTiers()); !carry.Equal(dec(2500)) {
		t.Fatalf("expected carry-forward 2500, got %s", carry)
	}
	next, ok := NextMilestone(dec(7500), standardTiers())
	if !ok || !next.Equal(dec(2500)) {
		t.Fatalf("expected next milestone 2500, got %s (ok=%t)", next, ok)
	}

	if len(breakdown.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(breakdown.Entries))
	}
	top := breakdown.Entries[2]
	if top.Earned {
		t.Fatalf("expected top tier unearned at 7500")
	}
	if !top.SalesInTier.IsZero() {
		t.Fatalf("expected zero sales-in-tier for unearned tier, got %s", top.SalesInTier)
	}
}

func TestComputeBreakdownSalesInTierSlices(t *testing.T) {
	breakdown := ComputeBreakdown(dec(10000), standardTiers())

	if !breakdown.TotalCommission.Equal(dec(750)) {
		t.Fatalf("expected total commission 750, got %s", breakdown.TotalCommission)
	}
	wantSlices := []int64{1000, 4000, 5000}
	for i, want := range wantSlices {
		if !breakdown.Entries[i].SalesInTier.Equal(dec(want)) {
			t.Fatalf("entry %d: expected sales-in-tier %d, got %s", i, want, breakdown.Entries[i].SalesInTier)
		}
	}
}

func TestComputeBreakdownEmptySchedule(t *testing.T) {
	breakdown := ComputeBreakdown(dec(999999), nil)

	if !breakdown.TotalCommission.IsZero() || !breakdown.QualifiedSales.IsZero() {
		t.Fatalf("expected zero breakdown for empty schedule, got commission=%s qualified=%s",
			breakdown.TotalCommission, breakdown.QualifiedSales)
	}
	if len(breakdown.Entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(breakdown.Entries))
	}
	if _, ok := NextMilestone(dec(0), nil); ok {
		t.Fatalf("expected no next milestone for empty schedule")
	}
}

func TestComputeBreakdownIgnoresInactiveAndUnordered(t *testing.T) {
	tiers := []domain.CommissionTier{
		{ID: "tier-3", SalesThreshold: dec(10000), CommissionAmount: dec(500), Active: true},
		{ID: "tier-ghost", SalesThreshold: dec(2000), CommissionAmount: dec(999), Active: false},
		{ID: "tier-1", SalesThreshold: dec(1000), CommissionAmount: dec(50), Active: true},
		{ID: "tier-2", SalesThreshold: dec(5000), CommissionAmount: dec(200), Active: true},
	}

	breakdown := ComputeBreakdown(dec(6000), tiers)
	if !breakdown.TotalCommission.Equal(dec(250)) {
		t.Fatalf("expected inactive tier excluded, got commission %s", breakdown.TotalCommission)
	}
	if !breakdown.Entries[0].TierThreshold.Equal(dec(1000)) {
		t.Fatalf("expected entries sorted ascending, first threshold %s", breakdown.Entries[0].TierThreshold)
	}
}

func TestComputeBreakdownClampsNegativeSales(t *testing.T) {
	breakdown := ComputeBreakdown(dec(-500), standardTiers())

	if !breakdown.TotalCommission.IsZero() {
		t.Fatalf("expected zero commission for negative sales, got %s", breakdown.TotalCommission)
	}
	if carry := CarryForward(dec(-500), standardTiers()); !carry.IsZero() {
		t.Fatalf("expected zero carry-forward for negative sales, got %s", carry)
	}
}

func TestCommissionIsMonotonicInSales(t *testing.T) {
	tiers := standardTiers()
	previous := decimal.Zero
	for sales := int64(0); sales <= 12000; sales += 250 {
		total := ComputeBreakdown(dec(sales), tiers).TotalCommission
		if total.LessThan(previous) {
			t.Fatalf("commission decreased at sales=%d: %s < %s", sales, total, previous)
		}
		previous = total
	}
}

func TestNextMilestonePastTopTier(t *testing.T) {
	if _, ok := NextMilestone(dec(10000), standardTiers()); ok {
		t.Fatalf("expected no milestone at the top threshold")
	}
	if _, ok := NextMilestone(dec(25000), standardTiers()); ok {
		t.Fatalf("expected no milestone past the top threshold")
	}
}

func TestFractionalAmountsStayExact(t *testing.T) {
	tiers := []domain.CommissionTier{
		{ID: "t1", SalesThreshold: decimal.RequireFromString("1000.10"), CommissionAmount: decimal.RequireFromString("50.05"), Active: true},
		{ID: "t2", SalesThreshold: decimal.RequireFromString("2000.20"), CommissionAmount: decimal.RequireFromString("75.15"), Active: true},
	}

	breakdown := ComputeBreakdown(decimal.RequireFromString("2000.20"), tiers)
	if !breakdown.TotalCommission.Equal(decimal.RequireFromString("125.20")) {
		t.Fatalf("expected exact decimal 125.20, got %s", breakdown.TotalCommission)
	}
	if !breakdown.Entries[1].SalesInTier.Equal(decimal.RequireFromString("1000.10")) {
		t.Fatalf("expected exact tier slice 1000.10, got %s", breakdown.Entries[1].SalesInTier)
	}
}

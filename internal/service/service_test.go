package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"tokomitra/backend/internal/domain"
	"tokomitra/backend/internal/store"
	"tokomitra/backend/internal/store/memory"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func managerCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: domain.RoleManager})
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()

	repo := memory.New()
	svc := New(repo, nil, 0)

	ctx := context.Background()
	for _, tier := range []domain.CommissionTier{
		{ID: "tier-1", SalesThreshold: dec(1000), CommissionAmount: dec(50), Active: true},
		{ID: "tier-2", SalesThreshold: dec(5000), CommissionAmount: dec(200), Active: true},
		{ID: "tier-3", SalesThreshold: dec(10000), CommissionAmount: dec(500), Active: true},
	} {
		if _, err := repo.CreateTier(ctx, tier); err != nil {
			t.Fatalf("seed tier: %v", err)
		}
	}

	return svc, repo
}

func recordSale(t *testing.T, svc *Service, managerID string, amount int64) {
	t.Helper()
	_, err := svc.RecordSale(adminCtx(), domain.SaleCreateRequest{
		ManagerID: managerID,
		Amount:    dec(amount),
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
}

func TestRecordSaleAccruesCommission(t *testing.T) {
	svc, _ := newTestService(t)

	recordSale(t, svc, "andi", 5000)

	overview, err := svc.WalletOverview(adminCtx(), "andi")
	if err != nil {
		t.Fatalf("wallet overview: %v", err)
	}
	if !overview.Wallet.TotalEarned.Equal(dec(250)) {
		t.Fatalf("expected total earned 250, got %s", overview.Wallet.TotalEarned)
	}
	if !overview.Wallet.Balance.Equal(dec(250)) {
		t.Fatalf("expected balance 250, got %s", overview.Wallet.Balance)
	}
	if !overview.TotalSales.Equal(dec(5000)) {
		t.Fatalf("expected total sales 5000, got %s", overview.TotalSales)
	}
	if overview.NextMilestone == nil || !overview.NextMilestone.Equal(dec(5000)) {
		t.Fatalf("expected next milestone 5000, got %v", overview.NextMilestone)
	}
}

func TestManagerRecordsSaleAgainstSelf(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.RecordSale(managerCtx("budi"), domain.SaleCreateRequest{
		ManagerID: "someone-else",
		Amount:    dec(1200),
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if sale.ManagerID != "budi" {
		t.Fatalf("expected sale credited to calling manager, got %s", sale.ManagerID)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)

	recordSale(t, svc, "andi", 7500)

	first, err := svc.WalletOverview(adminCtx(), "andi")
	if err != nil {
		t.Fatalf("wallet overview: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := svc.WalletOverview(adminCtx(), "andi")
		if err != nil {
			t.Fatalf("wallet overview (repeat %d): %v", i, err)
		}
		if !again.Wallet.TotalEarned.Equal(first.Wallet.TotalEarned) {
			t.Fatalf("total earned drifted on repeat reconcile: %s vs %s", again.Wallet.TotalEarned, first.Wallet.TotalEarned)
		}
		if !again.Wallet.Balance.Equal(first.Wallet.Balance) {
			t.Fatalf("balance drifted on repeat reconcile: %s vs %s", again.Wallet.Balance, first.Wallet.Balance)
		}
	}
}

func TestConservationAcrossSalesAndPayouts(t *testing.T) {
	svc, _ := newTestService(t)

	checkInvariant := func(step string) domain.Wallet {
		overview, err := svc.WalletOverview(adminCtx(), "andi")
		if err != nil {
			t.Fatalf("%s: wallet overview: %v", step, err)
		}
		wallet := overview.Wallet
		if !wallet.Balance.Equal(wallet.TotalEarned.Sub(wallet.TotalPaidOut)) {
			t.Fatalf("%s: balance %s != earned %s - paid %s", step, wallet.Balance, wallet.TotalEarned, wallet.TotalPaidOut)
		}
		return wallet
	}

	recordSale(t, svc, "andi", 1000)
	checkInvariant("after first sale")

	recordSale(t, svc, "andi", 4000)
	checkInvariant("after second sale")

	if _, err := svc.ProcessPayout(adminCtx(), domain.PayoutRequest{ManagerID: "andi", Amount: dec(100)}); err != nil {
		t.Fatalf("payout: %v", err)
	}
	wallet := checkInvariant("after payout")

	if !wallet.TotalPaidOut.Equal(dec(100)) {
		t.Fatalf("expected total paid out 100, got %s", wallet.TotalPaidOut)
	}
	if !wallet.Balance.Equal(dec(150)) {
		t.Fatalf("expected balance 150, got %s", wallet.Balance)
	}
}

func TestPayoutInsufficientBalance(t *testing.T) {
	svc, _ := newTestService(t)

	recordSale(t, svc, "andi", 5000)

	resp, err := svc.ProcessPayout(adminCtx(), domain.PayoutRequest{ManagerID: "andi", Amount: dec(200)})
	if err != nil {
		t.Fatalf("first payout: %v", err)
	}
	if !resp.Wallet.Balance.Equal(dec(50)) {
		t.Fatalf("expected balance 50 after payout, got %s", resp.Wallet.Balance)
	}

	_, err = svc.ProcessPayout(adminCtx(), domain.PayoutRequest{ManagerID: "andi", Amount: dec(100)})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// The failed attempt must leave the wallet untouched.
	overview, err := svc.WalletOverview(adminCtx(), "andi")
	if err != nil {
		t.Fatalf("wallet overview: %v", err)
	}
	if !overview.Wallet.Balance.Equal(dec(50)) {
		t.Fatalf("expected balance still 50, got %s", overview.Wallet.Balance)
	}
	if !overview.Wallet.TotalPaidOut.Equal(dec(200)) {
		t.Fatalf("expected total paid out still 200, got %s", overview.Wallet.TotalPaidOut)
	}
}

func TestConcurrentPayoutsSingleWinner(t *testing.T) {
	svc, _ := newTestService(t)

	recordSale(t, svc, "andi", 5000)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessPayout(adminCtx(), domain.PayoutRequest{ManagerID: "andi", Amount: dec(200)})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, insufficient := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected payout error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one winner, got succeeded=%d insufficient=%d", succeeded, insufficient)
	}

	overview, err := svc.WalletOverview(adminCtx(), "andi")
	if err != nil {
		t.Fatalf("wallet overview: %v", err)
	}
	if overview.Wallet.Balance.IsNegative() {
		t.Fatalf("wallet overdrafted: %s", overview.Wallet.Balance)
	}
	if !overview.Wallet.Balance.Equal(dec(50)) {
		t.Fatalf("expected balance 50 after one payout, got %s", overview.Wallet.Balance)
	}
}

func TestTierDeactivationGrandfathersEarnings(t *testing.T) {
	svc, _ := newTestService(t)

	recordSale(t, svc, "andi", 5000)

	before, err := svc.WalletOverview(adminCtx(), "andi")
	if err != nil {
		t.Fatalf("wallet overview: %v", err)
	}
	if !before.Wallet.TotalEarned.Equal(dec(250)) {
		t.Fatalf("expected total earned 250, got %s", before.Wallet.TotalEarned)
	}

	inactive := false
	if _, err := svc.UpdateTier(adminCtx(), "tier-2", domain.TierUpdateRequest{Active: &inactive}); err != nil {
		t.Fatalf("deactivate tier: %v", err)
	}

	after, err := svc.WalletOverview(adminCtx(), "andi")
	if err != nil {
		t.Fatalf("wallet overview: %v", err)
	}
	if !after.Wallet.TotalEarned.Equal(dec(250)) {
		t.Fatalf("expected earned commission grandfathered at 250, got %s", after.Wallet.TotalEarned)
	}
	if !after.Wallet.Balance.Equal(dec(250)) {
		t.Fatalf("expected balance unchanged at 250, got %s", after.Wallet.Balance)
	}
	// The recomputed breakdown reflects the new schedule even though the
	// stored wallet does not shrink.
	if !after.Breakdown.TotalCommission.Equal(dec(50)) {
		t.Fatalf("expected recomputed commission 50 with tier-2 inactive, got %s", after.Breakdown.TotalCommission)
	}
}

func TestVoidedSaleDoesNotClawBack(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.RecordSale(adminCtx(), domain.SaleCreateRequest{ManagerID: "andi", Amount: dec(5000)})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	if _, err := svc.WalletOverview(adminCtx(), "andi"); err != nil {
		t.Fatalf("wallet overview: %v", err)
	}

	voided, err := svc.VoidSale(adminCtx(), sale.ID, domain.SaleVoidRequest{Reason: "entry error"})
	if err != nil {
		t.Fatalf("void sale: %v", err)
	}
	if voided.Status != domain.SaleStatusVoided {
		t.Fatalf("expected voided status, got %s", voided.Status)
	}

	overview, err := svc.WalletOverview(adminCtx(), "andi")
	if err != nil {
		t.Fatalf("wallet overview: %v", err)
	}
	if !overview.Wallet.TotalEarned.Equal(dec(250)) {
		t.Fatalf("expected earned commission kept at 250 after void, got %s", overview.Wallet.TotalEarned)
	}
	if !overview.TotalSales.IsZero() {
		t.Fatalf("expected total sales zero after void, got %s", overview.TotalSales)
	}
}

func TestVoidSaleTwiceRejected(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.RecordSale(adminCtx(), domain.SaleCreateRequest{ManagerID: "andi", Amount: dec(100)})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if _, err := svc.VoidSale(adminCtx(), sale.ID, domain.SaleVoidRequest{Reason: "dup"}); err != nil {
		t.Fatalf("first void: %v", err)
	}
	if _, err := svc.VoidSale(adminCtx(), sale.ID, domain.SaleVoidRequest{Reason: "dup"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation on double void, got %v", err)
	}
}

func TestLazyWalletCreation(t *testing.T) {
	svc, _ := newTestService(t)

	overview, err := svc.WalletOverview(adminCtx(), "fresh-manager")
	if err != nil {
		t.Fatalf("wallet overview: %v", err)
	}
	if !overview.Wallet.Balance.IsZero() || !overview.Wallet.TotalEarned.IsZero() || !overview.Wallet.TotalPaidOut.IsZero() {
		t.Fatalf("expected zero wallet, got %+v", overview.Wallet)
	}
}

func TestTierAdminRequiresAdminRole(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateTier(managerCtx("budi"), domain.TierCreateRequest{
		SalesThreshold:   dec(2000),
		CommissionAmount: dec(80),
	})
	if err == nil {
		t.Fatalf("expected manager tier creation to be rejected")
	}

	if err := svc.DeleteTier(managerCtx("budi"), "tier-1"); err == nil {
		t.Fatalf("expected manager tier deletion to be rejected")
	}
}

func TestPayoutValidation(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.ProcessPayout(managerCtx("budi"), domain.PayoutRequest{ManagerID: "budi", Amount: dec(10)}); err == nil {
		t.Fatalf("expected manager payout to be rejected")
	}
	if _, err := svc.ProcessPayout(adminCtx(), domain.PayoutRequest{ManagerID: "andi", Amount: dec(0)}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero amount, got %v", err)
	}
	if _, err := svc.ProcessPayout(adminCtx(), domain.PayoutRequest{ManagerID: "", Amount: dec(10)}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing manager, got %v", err)
	}
}

func TestManagerListsOnlyOwnPayouts(t *testing.T) {
	svc, _ := newTestService(t)

	recordSale(t, svc, "andi", 5000)
	recordSale(t, svc, "budi", 5000)

	if _, err := svc.ProcessPayout(adminCtx(), domain.PayoutRequest{ManagerID: "andi", Amount: dec(100)}); err != nil {
		t.Fatalf("payout andi: %v", err)
	}
	if _, err := svc.ProcessPayout(adminCtx(), domain.PayoutRequest{ManagerID: "budi", Amount: dec(50)}); err != nil {
		t.Fatalf("payout budi: %v", err)
	}

	mine, err := svc.ListPayouts(managerCtx("andi"), "budi", 50)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(mine.Payouts) != 1 || mine.Payouts[0].ManagerID != "andi" {
		t.Fatalf("expected only andi's payouts, got %+v", mine.Payouts)
	}

	all, err := svc.ListPayouts(adminCtx(), "", 50)
	if err != nil {
		t.Fatalf("list payouts (admin): %v", err)
	}
	if len(all.Payouts) != 2 {
		t.Fatalf("expected 2 payouts for admin, got %d", len(all.Payouts))
	}
}

func TestFractionalMoneyStaysExact(t *testing.T) {
	svc, repo := newTestService(t)

	ctx := context.Background()
	if _, err := repo.CreateTier(ctx, domain.CommissionTier{
		ID:               "tier-frac",
		SalesThreshold:   decimal.RequireFromString("0.30"),
		CommissionAmount: decimal.RequireFromString("0.10"),
		Active:           true,
	}); err != nil {
		t.Fatalf("seed tier: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, err := svc.RecordSale(adminCtx(), domain.SaleCreateRequest{
			ManagerID: "andi",
			Amount:    decimal.RequireFromString("0.10"),
		})
		if err != nil {
			t.Fatalf("record sale: %v", err)
		}
	}

	overview, err := svc.WalletOverview(adminCtx(), "andi")
	if err != nil {
		t.Fatalf("wallet overview: %v", err)
	}
	if !overview.TotalSales.Equal(decimal.RequireFromString("0.30")) {
		t.Fatalf("expected total sales exactly 0.30, got %s", overview.TotalSales)
	}
	if !overview.Wallet.TotalEarned.Equal(decimal.RequireFromString("0.10")) {
		t.Fatalf("expected earned exactly 0.10, got %s", overview.Wallet.TotalEarned)
	}
}

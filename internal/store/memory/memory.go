package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tokomitra/backend/internal/domain"
	"tokomitra/backend/internal/store"
	"tokomitra/backend/internal/xid"
)

// Store is an in-memory Repository used in dev mode and tests. The single
// mutex serializes all money movement, which gives the same per-wallet
// payout ordering guarantee as the postgres row lock.
type Store struct {
	mu              sync.RWMutex
	tiersByID       map[string]domain.CommissionTier
	salesByID       map[string]domain.Sale
	walletsByMgr    map[string]domain.Wallet
	payouts         []domain.Payout
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		tiersByID:       make(map[string]domain.CommissionTier),
		salesByID:       make(map[string]domain.Sale),
		walletsByMgr:    make(map[string]domain.Wallet),
		payouts:         make([]domain.Payout, 0, 64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with a demo commission schedule and
// dev accounts, mirroring what a fresh deployment would configure.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, tier := range []domain.CommissionTier{
		{ID: "tier-bronze", SalesThreshold: decimal.NewFromInt(1000), CommissionAmount: decimal.NewFromInt(50), Active: true, Description: "Bronze milestone"},
		{ID: "tier-silver", SalesThreshold: decimal.NewFromInt(5000), CommissionAmount: decimal.NewFromInt(200), Active: true, Description: "Silver milestone"},
		{ID: "tier-gold", SalesThreshold: decimal.NewFromInt(10000), CommissionAmount: decimal.NewFromInt(500), Active: true, Description: "Gold milestone"},
	} {
		tier.CreatedAt = now
		tier.UpdatedAt = now
		s.tiersByID[tier.ID] = tier
	}

	for username, account := range seedUsers() {
		s.usersByUsername[username] = account
	}

	return s
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_MANAGER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. Production
// deployments use PostgreSQL (DATABASE_URL set) and never hit this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_MANAGER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListTiers(_ context.Context) ([]domain.CommissionTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tiers := make([]domain.CommissionTier, 0, len(s.tiersByID))
	for _, tier := range s.tiersByID {
		tiers = append(tiers, tier)
	}
	sortTiers(tiers)
	return tiers, nil
}

func (s *Store) ListActiveTiers(_ context.Context) ([]domain.CommissionTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tiers := make([]domain.CommissionTier, 0, len(s.tiersByID))
	for _, tier := range s.tiersByID {
		if tier.Active {
			tiers = append(tiers, tier)
		}
	}
	sortTiers(tiers)
	return tiers, nil
}

func (s *Store) CreateTier(_ context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error) {
	if !tier.SalesThreshold.IsPositive() || !tier.CommissionAmount.IsPositive() {
		return nil, store.ErrValidation
	}
	if tier.ID == "" {
		tier.ID = xid.New("tier")
	}
	now := time.Now().UTC()
	if tier.CreatedAt.IsZero() {
		tier.CreatedAt = now
	}
	tier.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tiersByID[tier.ID]; exists {
		return nil, store.ErrValidation
	}
	s.tiersByID[tier.ID] = tier
	created := tier
	return &created, nil
}

func (s *Store) GetTierByID(_ context.Context, id string) (*domain.CommissionTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tier, ok := s.tiersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := tier
	return &found, nil
}

func (s *Store) UpdateTier(_ context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error) {
	if !tier.SalesThreshold.IsPositive() || !tier.CommissionAmount.IsPositive() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tiersByID[tier.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	tier.CreatedAt = existing.CreatedAt
	tier.UpdatedAt = time.Now().UTC()
	s.tiersByID[tier.ID] = tier
	updated := tier
	return &updated, nil
}

func (s *Store) DeleteTier(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tiersByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tiersByID, id)
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ManagerID == "" || !sale.Amount.IsPositive() {
		return nil, store.ErrValidation
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrValidation
	}
	s.salesByID[sale.ID] = sale
	created := sale
	return &created, nil
}

func (s *Store) VoidSale(_ context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleStatusVoided {
		return nil, store.ErrValidation
	}
	voidedAt := at.UTC()
	sale.Status = domain.SaleStatusVoided
	sale.VoidReason = reason
	sale.VoidedAt = &voidedAt
	s.salesByID[id] = sale
	voided := sale
	return &voided, nil
}

func (s *Store) ListSales(_ context.Context, managerID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, limit)
	for _, sale := range s.salesByID {
		if managerID != "" && sale.ManagerID != managerID {
			continue
		}
		sales = append(sales, sale)
	}
	sort.Slice(sales, func(i, j int) bool {
		return sales[i].CreatedAt.After(sales[j].CreatedAt)
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) GetTotalSalesForManager(_ context.Context, managerID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, sale := range s.salesByID {
		if sale.ManagerID == managerID && sale.Status == domain.SaleStatusCompleted {
			total = total.Add(sale.Amount)
		}
	}
	return total, nil
}

func (s *Store) GetWallet(_ context.Context, managerID string) (*domain.Wallet, error) {
	if managerID == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	wallet := s.walletLocked(managerID)
	found := wallet
	return &found, nil
}

func (s *Store) ReconcileWallet(_ context.Context, managerID string, qualifiedCommission decimal.Decimal) (*domain.Wallet, error) {
	if managerID == "" {
		return nil, store.ErrValidation
	}
	if qualifiedCommission.IsNegative() {
		qualifiedCommission = decimal.Zero
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wallet := s.walletLocked(managerID)
	if qualifiedCommission.GreaterThan(wallet.TotalEarned) {
		wallet.TotalEarned = qualifiedCommission
	}
	wallet.Balance = wallet.TotalEarned.Sub(wallet.TotalPaidOut)
	wallet.UpdatedAt = time.Now().UTC()
	s.walletsByMgr[managerID] = wallet

	updated := wallet
	return &updated, nil
}

func (s *Store) ProcessPayout(_ context.Context, payout domain.Payout, totalSalesNow decimal.Decimal) (*domain.Payout, *domain.Wallet, error) {
	if payout.ManagerID == "" || !payout.Amount.IsPositive() {
		return nil, nil, store.ErrValidation
	}
	if payout.ID == "" {
		payout.ID = xid.New("payout")
	}
	if payout.Status == "" {
		payout.Status = domain.PayoutStatusCompleted
	}
	if payout.ProcessedAt.IsZero() {
		payout.ProcessedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wallet := s.walletLocked(payout.ManagerID)
	if wallet.Balance.LessThan(payout.Amount) {
		return nil, nil, store.ErrInsufficientBalance
	}

	wallet.Balance = wallet.Balance.Sub(payout.Amount)
	wallet.TotalPaidOut = wallet.TotalPaidOut.Add(payout.Amount)
	wallet.PaidSales = totalSalesNow
	wallet.UpdatedAt = payout.ProcessedAt
	s.walletsByMgr[payout.ManagerID] = wallet
	s.payouts = append(s.payouts, payout)

	createdPayout := payout
	updatedWallet := wallet
	return &createdPayout, &updatedWallet, nil
}

func (s *Store) ListPayouts(_ context.Context, managerID string, limit int) ([]domain.Payout, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	payouts := make([]domain.Payout, 0, limit)
	for i := len(s.payouts) - 1; i >= 0 && len(payouts) < limit; i-- {
		if managerID != "" && s.payouts[i].ManagerID != managerID {
			continue
		}
		payouts = append(payouts, s.payouts[i])
	}
	return payouts, nil
}

// walletLocked returns the wallet for managerID, lazily creating a
// zero-valued one. Caller must hold s.mu.
func (s *Store) walletLocked(managerID string) domain.Wallet {
	wallet, ok := s.walletsByMgr[managerID]
	if !ok {
		wallet = domain.Wallet{
			ManagerID:    managerID,
			Balance:      decimal.Zero,
			TotalEarned:  decimal.Zero,
			TotalPaidOut: decimal.Zero,
			PaidSales:    decimal.Zero,
			UpdatedAt:    time.Now().UTC(),
		}
		s.walletsByMgr[managerID] = wallet
	}
	return wallet
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func sortTiers(tiers []domain.CommissionTier) {
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].SalesThreshold.LessThan(tiers[j].SalesThreshold)
	})
}

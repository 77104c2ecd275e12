package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"tokomitra/backend/internal/cache"
	"tokomitra/backend/internal/commission"
	"tokomitra/backend/internal/domain"
	"tokomitra/backend/internal/store"
	"tokomitra/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const scheduleCacheKey = "commission:active-tiers"

type Service struct {
	repo        store.Repository
	schedules   cache.ScheduleCache
	scheduleTTL time.Duration
}

func New(repo store.Repository, schedules cache.ScheduleCache, scheduleTTL time.Duration) *Service {
	if schedules == nil {
		schedules = cache.NoopScheduleCache{}
	}
	if scheduleTTL < 1 {
		scheduleTTL = 5 * time.Minute
	}

	return &Service{
		repo:        repo,
		schedules:   schedules,
		scheduleTTL: scheduleTTL,
	}
}

func (s *Service) ListTiers(ctx context.Context) ([]domain.CommissionTier, error) {
	return s.repo.ListTiers(ctx)
}

func (s *Service) CreateTier(ctx context.Context, req domain.TierCreateRequest) (domain.CommissionTier, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.CommissionTier{}, fmt.Errorf("admin role required")
	}

	if !req.SalesThreshold.IsPositive() || !req.CommissionAmount.IsPositive() {
		return domain.CommissionTier{}, store.ErrValidation
	}

	tier := domain.CommissionTier{
		ID:               xid.New("tier"),
		SalesThreshold:   req.SalesThreshold,
		CommissionAmount: req.CommissionAmount,
		Description:      strings.TrimSpace(req.Description),
		Active:           true,
	}

	created, err := s.repo.CreateTier(ctx, tier)
	if err != nil {
		return domain.CommissionTier{}, err
	}

	s.invalidateSchedule(ctx)
	s.logAudit(ctx, "tier_create", "commission_tier", created.ID,
		fmt.Sprintf("threshold=%s,commission=%s", created.SalesThreshold, created.CommissionAmount))

	return *created, nil
}

func (s *Service) UpdateTier(ctx context.Context, id string, req domain.TierUpdateRequest) (domain.CommissionTier, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.CommissionTier{}, fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.CommissionTier{}, store.ErrValidation
	}

	existing, err := s.repo.GetTierByID(ctx, id)
	if err != nil {
		return domain.CommissionTier{}, err
	}

	updated := *existing
	if req.SalesThreshold != nil {
		if !req.SalesThreshold.IsPositive() {
			return domain.CommissionTier{}, store.ErrValidation
		}
		updated.SalesThreshold = *req.SalesThreshold
	}
	if req.CommissionAmount != nil {
		if !req.CommissionAmount.IsPositive() {
			return domain.CommissionTier{}, store.ErrValidation
		}
		updated.CommissionAmount = *req.CommissionAmount
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateTier(ctx, updated)
	if err != nil {
		return domain.CommissionTier{}, err
	}

	s.invalidateSchedule(ctx)
	s.logAudit(ctx, "tier_update", "commission_tier", saved.ID,
		fmt.Sprintf("threshold=%s,commission=%s,active=%t", saved.SalesThreshold, saved.CommissionAmount, saved.Active))

	return *saved, nil
}

func (s *Service) DeleteTier(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrValidation
	}

	if err := s.repo.DeleteTier(ctx, id); err != nil {
		return err
	}

	s.invalidateSchedule(ctx)
	s.logAudit(ctx, "tier_delete", "commission_tier", id, "")
	return nil
}

func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("authentication required")
	}

	managerID := strings.TrimSpace(req.ManagerID)
	switch actor.Role {
	case domain.RoleManager:
		// Managers only record sales against themselves.
		managerID = actor.Username
	case domain.RoleAdmin:
		if managerID == "" {
			return domain.Sale{}, store.ErrValidation
		}
	default:
		return domain.Sale{}, fmt.Errorf("admin or manager role required")
	}

	if !req.Amount.IsPositive() {
		return domain.Sale{}, store.ErrValidation
	}

	sale := domain.Sale{
		ID:        xid.New("sale"),
		ManagerID: managerID,
		Amount:    req.Amount,
		Reference: strings.TrimSpace(req.Reference),
		Status:    domain.SaleStatusCompleted,
		CreatedAt: time.Now().UTC(),
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	if _, err := s.reconcileWallet(ctx, managerID); err != nil {
		log.Printf("[service] WARN: failed to reconcile wallet manager=%s after sale %s: %v", managerID, created.ID, err)
	}

	s.logAudit(ctx, "sale_record", "sale", created.ID,
		fmt.Sprintf("manager=%s,amount=%s", created.ManagerID, created.Amount))

	return *created, nil
}

func (s *Service) VoidSale(ctx context.Context, saleID string, req domain.SaleVoidRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Sale{}, fmt.Errorf("admin role required")
	}

	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, store.ErrValidation
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}

	voided, err := s.repo.VoidSale(ctx, saleID, reason, time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}

	// Earned commission is grandfathered, so a void never claws anything
	// back; reconciliation after a void is a deliberate no-op.
	s.logAudit(ctx, "sale_void", "sale", voided.ID,
		fmt.Sprintf("manager=%s,amount=%s,reason=%s", voided.ManagerID, voided.Amount, reason))

	return *voided, nil
}

func (s *Service) ListSales(ctx context.Context, managerID string, limit int) (domain.SaleListResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleListResponse{}, fmt.Errorf("authentication required")
	}
	if actor.Role == domain.RoleManager {
		managerID = actor.Username
	}
	if limit < 1 {
		limit = 100
	}

	sales, err := s.repo.ListSales(ctx, strings.TrimSpace(managerID), limit)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales}, nil
}

// WalletOverview reconciles the wallet against the current sales total and
// returns the stored wallet together with a freshly computed breakdown.
func (s *Service) WalletOverview(ctx context.Context, managerID string) (domain.WalletOverview, error) {
	managerID = strings.TrimSpace(managerID)
	if managerID == "" {
		return domain.WalletOverview{}, store.ErrValidation
	}

	wallet, err := s.reconcileWallet(ctx, managerID)
	if err != nil {
		return domain.WalletOverview{}, err
	}

	totalSales, err := s.repo.GetTotalSalesForManager(ctx, managerID)
	if err != nil {
		return domain.WalletOverview{}, err
	}
	tiers, err := s.activeSchedule(ctx)
	if err != nil {
		return domain.WalletOverview{}, err
	}

	overview := domain.WalletOverview{
		Wallet:       *wallet,
		TotalSales:   totalSales,
		Breakdown:    commission.ComputeBreakdown(totalSales, tiers),
		CarryForward: commission.CarryForward(totalSales, tiers),
	}
	if next, ok := commission.NextMilestone(totalSales, tiers); ok {
		overview.NextMilestone = &next
	}
	return overview, nil
}

// MyWalletOverview resolves the calling manager's own wallet.
func (s *Service) MyWalletOverview(ctx context.Context) (domain.WalletOverview, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.WalletOverview{}, fmt.Errorf("authentication required")
	}
	return s.WalletOverview(ctx, actor.Username)
}

func (s *Service) ListWalletOverviews(ctx context.Context) (domain.WalletSummaryResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.WalletSummaryResponse{}, fmt.Errorf("admin role required")
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.WalletSummaryResponse{}, err
	}

	overviews := make([]domain.WalletOverview, 0, len(users))
	for _, user := range users {
		if user.Role != domain.RoleManager || !user.Active {
			continue
		}
		overview, err := s.WalletOverview(ctx, user.Username)
		if err != nil {
			return domain.WalletSummaryResponse{}, err
		}
		overviews = append(overviews, overview)
	}
	return domain.WalletSummaryResponse{Wallets: overviews}, nil
}

func (s *Service) ProcessPayout(ctx context.Context, req domain.PayoutRequest) (domain.PayoutResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.PayoutResponse{}, fmt.Errorf("admin role required")
	}

	managerID := strings.TrimSpace(req.ManagerID)
	if managerID == "" || !req.Amount.IsPositive() {
		return domain.PayoutResponse{}, store.ErrValidation
	}

	// Bring the wallet up to date before the balance check so a payout
	// immediately after new sales sees the accrued commission.
	if _, err := s.reconcileWallet(ctx, managerID); err != nil {
		return domain.PayoutResponse{}, err
	}

	totalSales, err := s.repo.GetTotalSalesForManager(ctx, managerID)
	if err != nil {
		return domain.PayoutResponse{}, err
	}

	payout := domain.Payout{
		ID:          xid.New("payout"),
		ManagerID:   managerID,
		ProcessedBy: actor.Username,
		Amount:      req.Amount,
		Status:      domain.PayoutStatusCompleted,
		Notes:       strings.TrimSpace(req.Notes),
		ProcessedAt: time.Now().UTC(),
	}

	created, wallet, err := s.repo.ProcessPayout(ctx, payout, totalSales)
	if err != nil {
		return domain.PayoutResponse{}, err
	}

	s.logAudit(ctx, "payout_process", "payout", created.ID,
		fmt.Sprintf("manager=%s,amount=%s,balance=%s", created.ManagerID, created.Amount, wallet.Balance))

	return domain.PayoutResponse{Payout: *created, Wallet: *wallet}, nil
}

func (s *Service) ListPayouts(ctx context.Context, managerID string, limit int) (domain.PayoutListResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.PayoutListResponse{}, fmt.Errorf("authentication required")
	}
	if actor.Role == domain.RoleManager {
		managerID = actor.Username
	}
	if limit < 1 {
		limit = 100
	}

	payouts, err := s.repo.ListPayouts(ctx, strings.TrimSpace(managerID), limit)
	if err != nil {
		return domain.PayoutListResponse{}, err
	}
	return domain.PayoutListResponse{Payouts: payouts}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrValidation
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// reconcileWallet recomputes the qualified commission from the manager's
// current completed sales and raises the wallet's lifetime earned figure.
func (s *Service) reconcileWallet(ctx context.Context, managerID string) (*domain.Wallet, error) {
	totalSales, err := s.repo.GetTotalSalesForManager(ctx, managerID)
	if err != nil {
		return nil, err
	}
	tiers, err := s.activeSchedule(ctx)
	if err != nil {
		return nil, err
	}

	qualified := commission.ComputeBreakdown(totalSales, tiers).TotalCommission
	return s.repo.ReconcileWallet(ctx, managerID, qualified)
}

func (s *Service) activeSchedule(ctx context.Context) ([]domain.CommissionTier, error) {
	if tiers, hit, err := s.schedules.Get(ctx, scheduleCacheKey); err == nil && hit {
		return tiers, nil
	} else if err != nil {
		log.Printf("[service] WARN: schedule cache read failed: %v", err)
	}

	tiers, err := s.repo.ListActiveTiers(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.schedules.Set(ctx, scheduleCacheKey, tiers, s.scheduleTTL); err != nil {
		log.Printf("[service] WARN: schedule cache write failed: %v", err)
	}
	return tiers, nil
}

func (s *Service) invalidateSchedule(ctx context.Context) {
	if err := s.schedules.Invalidate(ctx, scheduleCacheKey); err != nil {
		log.Printf("[service] WARN: schedule cache invalidation failed: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

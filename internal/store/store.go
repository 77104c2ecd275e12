package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tokomitra/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrConflict            = errors.New("concurrent wallet update conflict")
)

type Repository interface {
	ListTiers(ctx context.Context) ([]domain.CommissionTier, error)
	ListActiveTiers(ctx context.Context) ([]domain.CommissionTier, error)
	CreateTier(ctx context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error)
	GetTierByID(ctx context.Context, id string) (*domain.CommissionTier, error)
	UpdateTier(ctx context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error)
	DeleteTier(ctx context.Context, id string) error

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	VoidSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error)
	ListSales(ctx context.Context, managerID string, limit int) ([]domain.Sale, error)
	GetTotalSalesForManager(ctx context.Context, managerID string) (decimal.Decimal, error)

	GetWallet(ctx context.Context, managerID string) (*domain.Wallet, error)
	// ReconcileWallet raises totalEarned to qualifiedCommission (never lowers
	// it) and rederives balance, atomically against concurrent payouts.
	ReconcileWallet(ctx context.Context, managerID string, qualifiedCommission decimal.Decimal) (*domain.Wallet, error)
	// ProcessPayout atomically re-checks the balance, appends the payout
	// record, debits the wallet, and advances the paid-sales watermark.
	// Returns ErrInsufficientBalance without mutating anything when the
	// balance does not cover the amount.
	ProcessPayout(ctx context.Context, payout domain.Payout, totalSalesNow decimal.Decimal) (*domain.Payout, *domain.Wallet, error)
	ListPayouts(ctx context.Context, managerID string, limit int) ([]domain.Payout, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionTier is a milestone in the global commission schedule. A manager
// whose cumulative completed sales reach SalesThreshold earns the flat
// CommissionAmount for that tier. Tiers are always evaluated in ascending
// threshold order regardless of how they are stored.
type CommissionTier struct {
	ID               string          `json:"id"`
	SalesThreshold   decimal.Decimal `json:"sales_threshold"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	Active           bool            `json:"active"`
	Description      string          `json:"description,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type TierCreateRequest struct {
	SalesThreshold   decimal.Decimal `json:"sales_threshold"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	Description      string          `json:"description"`
}

type TierUpdateRequest struct {
	SalesThreshold   *decimal.Decimal `json:"sales_threshold,omitempty"`
	CommissionAmount *decimal.Decimal `json:"commission_amount,omitempty"`
	Description      *string          `json:"description,omitempty"`
	Active           *bool            `json:"active,omitempty"`
}

// Wallet is the per-manager commission ledger aggregate. Invariant after any
// committed operation: Balance = TotalEarned - TotalPaidOut.
type Wallet struct {
	ManagerID    string          `json:"manager_id"`
	Balance      decimal.Decimal `json:"balance"`
	TotalEarned  decimal.Decimal `json:"total_earned"`
	TotalPaidOut decimal.Decimal `json:"total_paid_out"`
	// PaidSales is a reporting watermark: the manager's cumulative sales
	// total as of the last payout. It never feeds reconciliation.
	PaidSales decimal.Decimal `json:"paid_sales"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Payout is an immutable journal entry for money moved out of a wallet.
type Payout struct {
	ID          string          `json:"id"`
	ManagerID   string          `json:"manager_id"`
	ProcessedBy string          `json:"processed_by"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	ProcessedAt time.Time       `json:"processed_at"`
}

type PayoutRequest struct {
	ManagerID string          `json:"manager_id"`
	Amount    decimal.Decimal `json:"amount"`
	Notes     string          `json:"notes"`
}

type PayoutResponse struct {
	Payout Payout `json:"payout"`
	Wallet Wallet `json:"wallet"`
}

type PayoutListResponse struct {
	Payouts []Payout `json:"payouts"`
}

// Sale is a completed sale credited to a manager. Only completed sales count
// toward the manager's cumulative sales total.
type Sale struct {
	ID         string          `json:"id"`
	ManagerID  string          `json:"manager_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference,omitempty"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	VoidedAt   *time.Time      `json:"voided_at,omitempty"`
	VoidReason string          `json:"void_reason,omitempty"`
}

type SaleCreateRequest struct {
	ManagerID string          `json:"manager_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type SaleVoidRequest struct {
	Reason string `json:"reason"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

// BreakdownEntry is the per-tier slice of a commission breakdown. SalesInTier
// is the portion of the sales total consumed by this tier; unearned tiers
// carry zero.
type BreakdownEntry struct {
	TierThreshold  decimal.Decimal `json:"tier_threshold"`
	TierCommission decimal.Decimal `json:"tier_commission"`
	SalesInTier    decimal.Decimal `json:"sales_in_tier"`
	Earned         bool            `json:"earned"`
}

// Breakdown is the derived result of running a sales total through the
// active schedule. QualifiedSales is the highest threshold fully reached;
// sales beyond it do not qualify until a higher tier exists.
type Breakdown struct {
	Entries         []BreakdownEntry `json:"entries"`
	TotalCommission decimal.Decimal  `json:"total_commission"`
	QualifiedSales  decimal.Decimal  `json:"qualified_sales"`
}

// WalletOverview is the dashboard projection: stored wallet fields combined
// with a breakdown freshly recomputed from the current sales total, so the UI
// never renders stale numbers.
type WalletOverview struct {
	Wallet        Wallet           `json:"wallet"`
	TotalSales    decimal.Decimal  `json:"total_sales"`
	Breakdown     Breakdown        `json:"breakdown"`
	CarryForward  decimal.Decimal  `json:"carry_forward"`
	NextMilestone *decimal.Decimal `json:"next_milestone,omitempty"`
}

type WalletSummaryResponse struct {
	Wallets []WalletOverview `json:"wallets"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type ManagerCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ManagerUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
)

const (
	SaleStatusCompleted = "completed"
	SaleStatusVoided    = "voided"
)

const (
	PayoutStatusCompleted = "completed"
)

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tokomitra/backend/internal/domain"
	"tokomitra/backend/internal/store"
	"tokomitra/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListTiers(ctx context.Context) ([]domain.CommissionTier, error) {
	return s.listTiers(ctx, false)
}

func (s *Store) ListActiveTiers(ctx context.Context) ([]domain.CommissionTier, error) {
	return s.listTiers(ctx, true)
}

func (s *Store) listTiers(ctx context.Context, activeOnly bool) ([]domain.CommissionTier, error) {
	query := `
		SELECT id, sales_threshold, commission_amount, active, description, created_at, updated_at
		FROM commission_tiers
	`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY sales_threshold ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tiers := make([]domain.CommissionTier, 0, 16)
	for rows.Next() {
		var tier domain.CommissionTier
		var description sql.NullString
		if err := rows.Scan(&tier.ID, &tier.SalesThreshold, &tier.CommissionAmount, &tier.Active, &description, &tier.CreatedAt, &tier.UpdatedAt); err != nil {
			return nil, err
		}
		tier.Description = description.String
		tier.CreatedAt = tier.CreatedAt.UTC()
		tier.UpdatedAt = tier.UpdatedAt.UTC()
		tiers = append(tiers, tier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tiers, nil
}

func (s *Store) CreateTier(ctx context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error) {
	if !tier.SalesThreshold.IsPositive() || !tier.CommissionAmount.IsPositive() {
		return nil, store.ErrValidation
	}
	if tier.ID == "" {
		tier.ID = xid.New("tier")
	}
	now := time.Now().UTC()
	tier.CreatedAt = now
	tier.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commission_tiers (id, sales_threshold, commission_amount, active, description, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tier.ID, tier.SalesThreshold, tier.CommissionAmount, tier.Active, nullIfEmpty(tier.Description), tier.CreatedAt, tier.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := tier
	return &created, nil
}

func (s *Store) GetTierByID(ctx context.Context, id string) (*domain.CommissionTier, error) {
	var tier domain.CommissionTier
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sales_threshold, commission_amount, active, description, created_at, updated_at
		FROM commission_tiers
		WHERE id = $1
	`, id).Scan(&tier.ID, &tier.SalesThreshold, &tier.CommissionAmount, &tier.Active, &description, &tier.CreatedAt, &tier.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tier.Description = description.String
	tier.CreatedAt = tier.CreatedAt.UTC()
	tier.UpdatedAt = tier.UpdatedAt.UTC()
	return &tier, nil
}

func (s *Store) UpdateTier(ctx context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error) {
	if !tier.SalesThreshold.IsPositive() || !tier.CommissionAmount.IsPositive() {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE commission_tiers
		SET sales_threshold = $2, commission_amount = $3, active = $4, description = $5, updated_at = now()
		WHERE id = $1
	`, tier.ID, tier.SalesThreshold, tier.CommissionAmount, tier.Active, nullIfEmpty(tier.Description))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetTierByID(ctx, tier.ID)
}

func (s *Store) DeleteTier(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM commission_tiers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (id, manager_id, amount, reference, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, sale.ID, sale.ManagerID, sale.Amount, nullIfEmpty(sale.Reference), sale.Status, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) VoidSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, void_reason = $3, voided_at = $4
		WHERE id = $1 AND status = $5
	`, id, domain.SaleStatusVoided, reason, at.UTC(), domain.SaleStatusCompleted)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish "missing" from "already voided".
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM sales WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, store.ErrValidation
	}

	return s.getSale(ctx, id)
}

func (s *Store) getSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var reference, voidReason sql.NullString
	var voidedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, manager_id, amount, reference, status, created_at, voided_at, void_reason
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.ManagerID, &sale.Amount, &reference, &sale.Status, &sale.CreatedAt, &voidedAt, &voidReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.Reference = reference.String
	sale.VoidReason = voidReason.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	if voidedAt.Valid {
		v := voidedAt.Time.UTC()
		sale.VoidedAt = &v
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, managerID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, manager_id, amount, reference, status, created_at, voided_at, void_reason
		FROM sales
		WHERE ($1 = '' OR manager_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, managerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var reference, voidReason sql.NullString
		var voidedAt sql.NullTime
		if err := rows.Scan(&sale.ID, &sale.ManagerID, &sale.Amount, &reference, &sale.Status, &sale.CreatedAt, &voidedAt, &voidReason); err != nil {
			return nil, err
		}
		sale.Reference = reference.String
		sale.VoidReason = voidReason.String
		sale.CreatedAt = sale.CreatedAt.UTC()
		if voidedAt.Valid {
			v := voidedAt.Time.UTC()
			sale.VoidedAt = &v
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetTotalSalesForManager(ctx context.Context, managerID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM sales
		WHERE manager_id = $1 AND status = $2
	`, managerID, domain.SaleStatusCompleted).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *Store) GetWallet(ctx context.Context, managerID string) (*domain.Wallet, error) {
	if managerID == "" {
		return nil, store.ErrValidation
	}

	if err := s.ensureWallet(ctx, s.db, managerID); err != nil {
		return nil, err
	}

	var wallet domain.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT manager_id, balance, total_earned, total_paid_out, paid_sales, updated_at
		FROM wallets
		WHERE manager_id = $1
	`, managerID).Scan(&wallet.ManagerID, &wallet.Balance, &wallet.TotalEarned, &wallet.TotalPaidOut, &wallet.PaidSales, &wallet.UpdatedAt)
	if err != nil {
		return nil, err
	}
	wallet.UpdatedAt = wallet.UpdatedAt.UTC()
	return &wallet, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ensureWallet lazily creates the zero-valued wallet row for a manager.
func (s *Store) ensureWallet(ctx context.Context, db execer, managerID string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO wallets (manager_id, balance, total_earned, total_paid_out, paid_sales, updated_at)
		VALUES ($1, 0, 0, 0, 0, now())
		ON CONFLICT (manager_id) DO NOTHING
	`, managerID)
	return err
}

func (s *Store) ReconcileWallet(ctx context.Context, managerID string, qualifiedCommission decimal.Decimal) (*domain.Wallet, error) {
	if managerID == "" {
		return nil, store.ErrValidation
	}
	if qualifiedCommission.IsNegative() {
		qualifiedCommission = decimal.Zero
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureWallet(ctx, tx, managerID); err != nil {
		return nil, err
	}

	var wallet domain.Wallet
	err = tx.QueryRowContext(ctx, `
		SELECT manager_id, balance, total_earned, total_paid_out, paid_sales, updated_at
		FROM wallets
		WHERE manager_id = $1
		FOR UPDATE
	`, managerID).Scan(&wallet.ManagerID, &wallet.Balance, &wallet.TotalEarned, &wallet.TotalPaidOut, &wallet.PaidSales, &wallet.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// Lifetime earned never decreases; schedule edits that would lower the
	// recomputed figure leave prior accruals grandfathered.
	if qualifiedCommission.GreaterThan(wallet.TotalEarned) {
		wallet.TotalEarned = qualifiedCommission
	}
	wallet.Balance = wallet.TotalEarned.Sub(wallet.TotalPaidOut)
	wallet.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $2, total_earned = $3, updated_at = $4
		WHERE manager_id = $1
	`, wallet.ManagerID, wallet.Balance, wallet.TotalEarned, wallet.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	updated := wallet
	return &updated, nil
}

func (s *Store) ProcessPayout(ctx context.Context, payout domain.Payout, totalSalesNow decimal.Decimal) (*domain.Payout, *domain.Wallet, error) {
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureWallet(ctx, tx, payout.ManagerID); err != nil {
		return nil, nil, err
	}

	// Row lock serializes payouts per wallet: a concurrent payout for the
	// same manager waits here and re-checks against the debited balance.
	var wallet domain.Wallet
	err = tx.QueryRowContext(ctx, `
		SELECT manager_id, balance, total_earned, total_paid_out, paid_sales, updated_at
		FROM wallets
		WHERE manager_id = $1
		FOR UPDATE
	`, payout.ManagerID).Scan(&wallet.ManagerID, &wallet.Balance, &wallet.TotalEarned, &wallet.TotalPaidOut, &wallet.PaidSales, &wallet.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}

	if wallet.Balance.LessThan(payout.Amount) {
		return nil, nil, store.ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payouts (id, manager_id, processed_by, amount, status, notes, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, payout.ID, payout.ManagerID, payout.ProcessedBy, payout.Amount, payout.Status, nullIfEmpty(payout.Notes), payout.ProcessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, store.ErrValidation
		}
		return nil, nil, err
	}

	wallet.Balance = wallet.Balance.Sub(payout.Amount)
	wallet.TotalPaidOut = wallet.TotalPaidOut.Add(payout.Amount)
	wallet.PaidSales = totalSalesNow
	wallet.UpdatedAt = payout.ProcessedAt

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $2, total_paid_out = $3, paid_sales = $4, updated_at = $5
		WHERE manager_id = $1
	`, wallet.ManagerID, wallet.Balance, wallet.TotalPaidOut, wallet.PaidSales, wallet.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, nil, store.ErrConflict
		}
		return nil, nil, err
	}

	createdPayout := payout
	updatedWallet := wallet
	return &createdPayout, &updatedWallet, nil
}

func (s *Store) ListPayouts(ctx context.Context, managerID string, limit int) ([]domain.Payout, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, manager_id, processed_by, amount, status, notes, processed_at
		FROM payouts
		WHERE ($1 = '' OR manager_id = $1)
		ORDER BY processed_at DESC
		LIMIT $2
	`, managerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payouts := make([]domain.Payout, 0, limit)
	for rows.Next() {
		var payout domain.Payout
		var notes sql.NullString
		if err := rows.Scan(&payout.ID, &payout.ManagerID, &payout.ProcessedBy, &payout.Amount, &payout.Status, &notes, &payout.ProcessedAt); err != nil {
			return nil, err
		}
		payout.Notes = notes.String
		payout.ProcessedAt = payout.ProcessedAt.UTC()
		payouts = append(payouts, payout)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payouts, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

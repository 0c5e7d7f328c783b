package paymentplans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/covenant-clm/covenant/internal/platform/db"
	"github.com/covenant-clm/covenant/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for payment plans.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx so queries can run
// inside or outside the per-contract critical section.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const planColumns = "id, contract_id, amount, planned_date, actual_payment_date, status, created_at"

func scanPlan(row pgx.Row) (*PaymentPlan, error) {
	var p PaymentPlan
	var actual pgtype.Date
	err := row.Scan(&p.ID, &p.ContractID, &p.Amount, &p.PlannedDate, &actual, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if actual.Valid {
		t := actual.Time
		p.ActualPaymentDate = &t
	}
	return &p, nil
}

// ListByContract returns the contract's plans ordered by planned date
// ascending. A contract without plans yields an empty slice.
func (r *Repository) ListByContract(ctx context.Context, contractID int64) ([]PaymentPlan, error) {
	return listPlans(ctx, r.pool,
		"SELECT "+planColumns+" FROM payment_plans WHERE contract_id = $1 ORDER BY planned_date ASC, id ASC",
		contractID)
}

// Get retrieves a plan by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*PaymentPlan, error) {
	return getPlan(ctx, r.pool, id)
}

// SumAmount sums the non-cancelled plan amounts for a contract, optionally
// excluding one plan (pass 0 to exclude none).
func (r *Repository) SumAmount(ctx context.Context, contractID, excludeID int64) (float64, error) {
	return sumAmount(ctx, r.pool, contractID, excludeID)
}

// Delete removes a plan permanently.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM payment_plans WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete payment plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment plan %d: %w", id, httpx.ErrNotFound)
	}
	return nil
}

// ListDueBetween returns unpaid, non-cancelled plans planned within [from, to]
// across all contracts.
func (r *Repository) ListDueBetween(ctx context.Context, from, to time.Time) ([]PaymentPlan, error) {
	return listPlans(ctx, r.pool,
		`SELECT `+planColumns+` FROM payment_plans
		 WHERE actual_payment_date IS NULL
		   AND status <> 'cancelled'
		   AND planned_date >= $1 AND planned_date <= $2
		 ORDER BY planned_date ASC, id ASC`,
		from, to)
}

// WithContractTx runs fn inside a transaction that holds a row lock on the
// contract, serializing concurrent check-then-write sequences for the same
// contract. It runs at ReadCommitted: statements after the contract lock take
// fresh snapshots, so the sum re-check sees anything the previous lock holder
// committed while this transaction waited. The transaction commits only if fn
// returns nil, so a failed write is never partially visible.
func (r *Repository) WithContractTx(ctx context.Context, contractID int64, fn func(TxPort) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(&txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

// ContractAmount reads the contract amount under FOR UPDATE, pinning the
// contract row for the remainder of the critical section.
func (t *txRepository) ContractAmount(ctx context.Context, contractID int64) (float64, error) {
	var amount float64
	err := t.tx.QueryRow(ctx, "SELECT amount FROM contracts WHERE id = $1 FOR UPDATE", contractID).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("contract %d: %w", contractID, httpx.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("lock contract: %w", err)
	}
	return amount, nil
}

func (t *txRepository) SumAmount(ctx context.Context, contractID, excludeID int64) (float64, error) {
	return sumAmount(ctx, t.tx, contractID, excludeID)
}

func (t *txRepository) Insert(ctx context.Context, input CreatePlanInput) (*PaymentPlan, error) {
	query := `
		INSERT INTO payment_plans (contract_id, amount, planned_date, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at`

	plan := PaymentPlan{
		ContractID:  input.ContractID,
		Amount:      input.Amount,
		PlannedDate: input.PlannedDate,
		Status:      input.Status,
	}
	err := t.tx.QueryRow(ctx, query,
		input.ContractID,
		input.Amount,
		input.PlannedDate,
		input.Status,
	).Scan(&plan.ID, &plan.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert payment plan: %w", err)
	}
	return &plan, nil
}

// Update re-reads the plan under FOR UPDATE, applies the mutation, and writes
// every mutable column back. An error from apply aborts the transaction, so
// checks against the locked row's current state are race free.
func (t *txRepository) Update(ctx context.Context, id int64, apply func(*PaymentPlan) error) (*PaymentPlan, error) {
	row := t.tx.QueryRow(ctx,
		"SELECT "+planColumns+" FROM payment_plans WHERE id = $1 FOR UPDATE", id)
	plan, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment plan %d: %w", id, httpx.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment plan: %w", err)
	}

	if err := apply(plan); err != nil {
		return nil, err
	}

	var actual pgtype.Date
	if plan.ActualPaymentDate != nil {
		actual = pgtype.Date{Time: *plan.ActualPaymentDate, Valid: true}
	}
	_, err = t.tx.Exec(ctx,
		`UPDATE payment_plans
		 SET amount = $2, planned_date = $3, actual_payment_date = $4, status = $5
		 WHERE id = $1`,
		id, plan.Amount, plan.PlannedDate, actual, plan.Status)
	if err != nil {
		return nil, fmt.Errorf("update payment plan: %w", err)
	}
	return plan, nil
}

func getPlan(ctx context.Context, q dbtx, id int64) (*PaymentPlan, error) {
	row := q.QueryRow(ctx, "SELECT "+planColumns+" FROM payment_plans WHERE id = $1", id)
	plan, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment plan %d: %w", id, httpx.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment plan: %w", err)
	}
	return plan, nil
}

func sumAmount(ctx context.Context, q dbtx, contractID, excludeID int64) (float64, error) {
	var total float64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM payment_plans
		 WHERE contract_id = $1
		   AND status <> 'cancelled'
		   AND ($2 = 0 OR id <> $2)`,
		contractID, excludeID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum payment plans: %w", err)
	}
	return total, nil
}

func listPlans(ctx context.Context, q dbtx, query string, args ...any) ([]PaymentPlan, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payment plans: %w", err)
	}
	defer rows.Close()

	plans := make([]PaymentPlan, 0)
	for rows.Next() {
		var p PaymentPlan
		var actual pgtype.Date
		if err := rows.Scan(&p.ID, &p.ContractID, &p.Amount, &p.PlannedDate, &actual, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment plan: %w", err)
		}
		if actual.Valid {
			t := actual.Time
			p.ActualPaymentDate = &t
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list payment plans: %w", err)
	}
	return plans, nil
}

package contracts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/covenant-clm/covenant/internal/platform/httpx"
)

// Repository provides PostgreSQL access for contracts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository instance.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const contractColumns = `id, contract_name, client_name, amount, sign_date, approval_status,
	payment_cycle, milestone_status, owner_user_id, responsible_email, created_at, updated_at`

func scanContract(row pgx.Row) (*Contract, error) {
	var c Contract
	var signDate pgtype.Date
	err := row.Scan(
		&c.ID, &c.Name, &c.ClientName, &c.Amount, &signDate, &c.ApprovalStatus,
		&c.PaymentCycle, &c.MilestoneStatus, &c.OwnerUserID, &c.ResponsibleEmail,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if signDate.Valid {
		d := signDate.Time
		c.SignDate = &d
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts a contract in draft state.
func (r *Repository) Create(ctx context.Context, input CreateContractInput) (*Contract, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO contracts (contract_name, client_name, amount, sign_date, approval_status,
			payment_cycle, milestone_status, owner_user_id, responsible_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING %s
	`, contractColumns),
		input.Name, input.ClientName, input.Amount, input.SignDate, ApprovalDraft,
		input.PaymentCycle, input.MilestoneStatus, input.OwnerUserID, input.ResponsibleEmail,
	)
	c, err := scanContract(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("contract name %q already exists: %w", input.Name, httpx.ErrDuplicate)
		}
		return nil, fmt.Errorf("insert contract: %w", err)
	}
	return c, nil
}

// Get fetches a contract by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Contract, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM contracts WHERE id = $1`, contractColumns), id)
	c, err := scanContract(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("contract %d: %w", id, httpx.ErrNotFound)
		}
		return nil, fmt.Errorf("get contract: %w", err)
	}
	return c, nil
}

// List returns a filtered page of contracts plus the unpaged total.
func (r *Repository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]Contract, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if filter.ApprovalStatus != nil {
		conditions = append(conditions, fmt.Sprintf("approval_status = $%d", argPos))
		args = append(args, *filter.ApprovalStatus)
		argPos++
	}
	if filter.Search != nil && *filter.Search != "" {
		pattern := "%" + *filter.Search + "%"
		conditions = append(conditions, fmt.Sprintf("(contract_name ILIKE $%d OR client_name ILIKE $%d)", argPos, argPos))
		args = append(args, pattern)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + conditions[0]
		for i := 1; i < len(conditions); i++ {
			whereClause += " AND " + conditions[i]
		}
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM contracts %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contracts: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM contracts
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, contractColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	contractsList := make([]Contract, 0)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan contract: %w", err)
		}
		contractsList = append(contractsList, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate contracts: %w", err)
	}
	return contractsList, total, nil
}

// Update persists the mutable columns of the given contract.
func (r *Repository) Update(ctx context.Context, c *Contract) (*Contract, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE contracts
		SET contract_name = $1, client_name = $2, amount = $3, sign_date = $4,
			approval_status = $5, payment_cycle = $6, milestone_status = $7,
			responsible_email = $8, updated_at = $9
		WHERE id = $10
		RETURNING %s
	`, contractColumns),
		c.Name, c.ClientName, c.Amount, c.SignDate,
		c.ApprovalStatus, c.PaymentCycle, c.MilestoneStatus,
		c.ResponsibleEmail, time.Now(), c.ID,
	)
	updated, err := scanContract(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("contract %d: %w", c.ID, httpx.ErrNotFound)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("contract name %q already exists: %w", c.Name, httpx.ErrDuplicate)
		}
		return nil, fmt.Errorf("update contract: %w", err)
	}
	return updated, nil
}

// Delete removes a contract and, via ON DELETE CASCADE, its payment plans.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM contracts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete contract: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contract %d: %w", id, httpx.ErrNotFound)
	}
	return nil
}

// ReminderContacts resolves notification routing for a set of contracts.
func (r *Repository) ReminderContacts(ctx context.Context, contractIDs []int64) (map[int64]ReminderContact, error) {
	out := make(map[int64]ReminderContact, len(contractIDs))
	if len(contractIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, contract_name, owner_user_id, responsible_email
		FROM contracts
		WHERE id = ANY($1)
	`, contractIDs)
	if err != nil {
		return nil, fmt.Errorf("query reminder contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c ReminderContact
		if err := rows.Scan(&c.ContractID, &c.ContractName, &c.OwnerUserID, &c.Email); err != nil {
			return nil, fmt.Errorf("scan reminder contact: %w", err)
		}
		out[c.ContractID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminder contacts: %w", err)
	}
	return out, nil
}

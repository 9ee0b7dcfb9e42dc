// Package repository provides the account and session history stores.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
)

// Common errors for repository operations.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrDuplicatePhone  = errors.New("phone number already registered")
)

const uniqueViolation = "23505"

const accountColumns = `id, surname, given_name, phone, password, balance, status`

// AccountRepository stores accounts and their session history in PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository instance.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		a      model.Account
		status string
	)
	if err := row.Scan(&a.ID, &a.Surname, &a.GivenName, &a.Phone, &a.Password, &a.Balance, &status); err != nil {
		return nil, err
	}
	a.Status = model.AccountStatus(status)
	return &a, nil
}

// Create inserts a new account and returns it with its assigned id.
func (r *AccountRepository) Create(ctx context.Context, a *model.Account) (*model.Account, error) {
	const query = `
		INSERT INTO accounts (surname, given_name, phone, password, balance, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + accountColumns

	created, err := scanAccount(r.pool.QueryRow(ctx, query,
		a.Surname, a.GivenName, a.Phone, a.Password, a.Balance, string(a.Status)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicatePhone
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// GetByID retrieves an account by id.
// Returns ErrAccountNotFound if the account does not exist.
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	a, err := scanAccount(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetByCredentials retrieves the account matching phone and password exactly.
// Returns ErrAccountNotFound if there is no match.
func (r *AccountRepository) GetByCredentials(ctx context.Context, phone, password string) (*model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE phone = $1 AND password = $2`

	a, err := scanAccount(r.pool.QueryRow(ctx, query, phone, password))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by credentials: %w", err)
	}
	return a, nil
}

// UpdateBalance persists an exact balance and returns the updated account.
func (r *AccountRepository) UpdateBalance(ctx context.Context, id int64, balance int64) (*model.Account, error) {
	const query = `UPDATE accounts SET balance = $2 WHERE id = $1 RETURNING ` + accountColumns

	a, err := scanAccount(r.pool.QueryRow(ctx, query, id, balance))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	return a, nil
}

// UpdateStatus persists the account status.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id int64, status model.AccountStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// List returns every account ordered by id.
func (r *AccountRepository) List(ctx context.Context) ([]*model.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// Count returns the number of accounts.
func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// AppendSessionRecord inserts a completed session and sets its id.
func (r *AccountRepository) AppendSessionRecord(ctx context.Context, rec *model.SessionRecord) error {
	const query = `
		INSERT INTO session_records
			(account_id, surname, given_name, phone, balance_consumed, start_time, end_time, elapsed_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		rec.AccountID, rec.Surname, rec.GivenName, rec.Phone,
		rec.BalanceConsumed, rec.StartTime, rec.EndTime, rec.ElapsedMinutes,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to append session record: %w", err)
	}
	return nil
}

// ListSessionRecords returns an account's session history, newest first.
func (r *AccountRepository) ListSessionRecords(ctx context.Context, accountID int64) ([]*model.SessionRecord, error) {
	const query = `
		SELECT id, account_id, surname, given_name, phone, balance_consumed, start_time, end_time, elapsed_minutes
		FROM session_records
		WHERE account_id = $1
		ORDER BY start_time DESC, id DESC
	`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	var records []*model.SessionRecord
	for rows.Next() {
		var rec model.SessionRecord
		if err := rows.Scan(
			&rec.ID, &rec.AccountID, &rec.Surname, &rec.GivenName, &rec.Phone,
			&rec.BalanceConsumed, &rec.StartTime, &rec.EndTime, &rec.ElapsedMinutes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session records: %w", err)
	}
	return records, nil
}

/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. Row-level exclusive locks (`SELECT ... FOR UPDATE`) back the
 * transfer engine's mutual exclusion, and WithinTx maps one atomic unit onto
 * one pgx transaction.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * Expected schema:
 *
 *   CREATE TABLE accounts (
 *       id             UUID PRIMARY KEY,
 *       email          TEXT NOT NULL UNIQUE,
 *       password_hash  TEXT NOT NULL,
 *       first_name_enc TEXT,
 *       last_name_enc  TEXT,
 *       phone_enc      TEXT,
 *       balance_enc    TEXT,
 *       iban           VARCHAR(34) UNIQUE,
 *       created_at     TIMESTAMPTZ NOT NULL
 *   );
 *
 *   CREATE TABLE transfers (
 *       id              UUID PRIMARY KEY,
 *       from_account_id UUID NOT NULL REFERENCES accounts(id),
 *       to_account_id   UUID REFERENCES accounts(id),
 *       from_iban       VARCHAR(34) NOT NULL,
 *       to_iban         VARCHAR(34) NOT NULL,
 *       causal          VARCHAR(140) NOT NULL,
 *       amount          NUMERIC(19, 2) NOT NULL,
 *       created_at      TIMESTAMPTZ NOT NULL
 *   );
 *   CREATE INDEX ix_transfers_from_account ON transfers (from_account_id, created_at DESC);
 *   CREATE INDEX ix_transfers_to_account ON transfers (to_account_id, created_at DESC);
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/vaultbank/ledger-service/internal/domain"
)

const accountColumns = `id, lower(email), password_hash, first_name_enc, last_name_enc, phone_enc, balance_enc, iban, created_at`

const transferColumns = `id, from_account_id, to_account_id, from_iban, to_iban, causal, amount, created_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting the ledger
// queries run either standalone or inside an atomic unit.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository is the production Repository backed by a pgx pool.
type PostgresRepository struct {
	db *pgxpool.Pool
	pgLedger
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db, pgLedger: pgLedger{q: db}}
}

// WithinTx runs fn inside one database transaction. The ledger handed to fn is
// bound to that transaction, so its row locks live until commit or rollback.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(Ledger) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(pgLedger{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateAccount inserts a new account row.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, email, password_hash, first_name_enc, last_name_enc, phone_enc, balance_enc, iban, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.FirstNameEnc,
		account.LastNameEnc,
		account.PhoneEnc,
		account.BalanceEnc,
		account.IBAN,
		account.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// FindAccountByID loads an account without locking it.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// FindAccountByEmail loads an account by case-insensitive email.
func (r *PostgresRepository) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower(btrim($1))`, email)
	return scanAccount(row)
}

// pgLedger implements the Ledger surface over either the pool or a transaction.
type pgLedger struct {
	q querier
}

// GetAccountForUpdate locks the account row for the rest of the enclosing
// transaction. Postgres lets the same transaction re-lock a row it already
// holds, which the engine relies on for canonical-order re-acquisition.
func (l pgLedger) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := l.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

// FindAccountByIBAN returns nil when no internal account holds the IBAN.
func (l pgLedger) FindAccountByIBAN(ctx context.Context, iban string) (*domain.Account, error) {
	row := l.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE upper(iban) = upper(btrim($1))`, iban)
	account, err := scanAccount(row)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, nil
	}
	return account, err
}

// UpdateAccountBalance persists a new encrypted balance.
func (l pgLedger) UpdateAccountBalance(ctx context.Context, id uuid.UUID, balanceEnc string) error {
	tag, err := l.q.Exec(ctx, `UPDATE accounts SET balance_enc = $1 WHERE id = $2`, balanceEnc, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// AppendTransfer inserts one immutable transfer audit row.
func (l pgLedger) AppendTransfer(ctx context.Context, transfer *domain.Transfer) error {
	query := `
		INSERT INTO transfers (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := l.q.Exec(ctx, query,
		transfer.ID,
		transfer.FromAccountID,
		transfer.ToAccountID,
		transfer.FromIBAN,
		transfer.ToIBAN,
		transfer.Causal,
		transfer.Amount,
		transfer.CreatedAt,
	)
	return err
}

// RecentMovements returns transfers touching the account in either direction,
// newest first.
func (l pgLedger) RecentMovements(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := l.q.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		var amount decimal.Decimal
		if err := rows.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.FromIBAN, &t.ToIBAN, &t.Causal, &amount, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount = amount
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// FindAccountsByIDs batch-resolves counterparties in one query.
func (l pgLedger) FindAccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	result := make(map[uuid.UUID]*domain.Account, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := l.q.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		account, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		result[account.ID] = account
	}
	return result, rows.Err()
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.FirstNameEnc,
		&account.LastNameEnc,
		&account.PhoneEnc,
		&account.BalanceEnc,
		&account.IBAN,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func scanAccountRow(rows pgx.Rows) (*domain.Account, error) {
	var account domain.Account
	err := rows.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.FirstNameEnc,
		&account.LastNameEnc,
		&account.PhoneEnc,
		&account.BalanceEnc,
		&account.IBAN,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

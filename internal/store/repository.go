/**
 * @description
 * This file defines the persistence contract for the ledger-service. The
 * transfer engine depends only on these interfaces, so the backing store can be
 * swapped between PostgreSQL (production) and the in-memory implementation
 * (tests) without touching the engine.
 *
 * @notes
 * - Ledger is the transaction-scoped surface: every call made through the value
 *   handed to WithinTx participates in one atomic unit that commits or rolls
 *   back as a whole. GetAccountForUpdate must hold an exclusive row lock for
 *   the remainder of that unit.
 * - Transfer rows are append-only; there is no update or delete operation.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vaultbank/ledger-service/internal/domain"
)

var (
	// ErrAccountNotFound is returned when a lookup by id resolves to no row.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateEmail is returned when account creation violates the unique
	// email constraint.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Ledger is the transaction-scoped data access surface used by the transfer
// engine and the movement query.
type Ledger interface {
	// GetAccountForUpdate loads an account under an exclusive row lock held
	// until the enclosing atomic unit commits or aborts. Re-acquiring the same
	// row's lock inside one unit is a no-op.
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// FindAccountByIBAN returns the account holding the given IBAN, or nil when
	// no internal account matches.
	FindAccountByIBAN(ctx context.Context, iban string) (*domain.Account, error)

	// UpdateAccountBalance persists a new encrypted balance for an account.
	UpdateAccountBalance(ctx context.Context, id uuid.UUID, balanceEnc string) error

	// AppendTransfer inserts one immutable transfer audit row.
	AppendTransfer(ctx context.Context, transfer *domain.Transfer) error

	// RecentMovements returns up to limit transfers touching the account in
	// either direction, newest first.
	RecentMovements(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transfer, error)

	// FindAccountsByIDs batch-resolves accounts for counterparty display,
	// keyed by id. Missing ids are simply absent from the result.
	FindAccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Account, error)
}

// Repository is the full persistence contract: the ledger surface plus account
// provisioning, lookups, and the atomic-unit runner.
type Repository interface {
	Ledger

	// CreateAccount inserts a new account row.
	CreateAccount(ctx context.Context, account *domain.Account) error

	// FindAccountByID loads an account without locking it.
	FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// FindAccountByEmail loads an account by case-insensitive email.
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)

	// WithinTx runs fn inside one atomic unit. The Ledger passed to fn is bound
	// to that unit; a nil return commits, any error rolls everything back.
	WithinTx(ctx context.Context, fn func(Ledger) error) error
}

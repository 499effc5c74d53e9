/**
 * @description
 * This file provides the in-memory implementation of the `Repository`
 * interface, used by tests and local development. A single store-wide mutex
 * serializes every atomic unit, which trivially satisfies the row-lock contract
 * (no two units ever interleave) and makes deadlock impossible.
 *
 * @notes
 * - WithinTx snapshots the account map before running fn and restores it on
 *   error, so failed units leave no partial writes, matching the transactional
 *   guarantee of the PostgreSQL implementation.
 * - Accounts are copied on read and write so callers never share pointers into
 *   store state.
 */

package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/vaultbank/ledger-service/internal/domain"
)

// MemoryRepository keeps the whole ledger in process memory.
type MemoryRepository struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]domain.Account
	transfers []domain.Transfer
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[uuid.UUID]domain.Account)}
}

// WithinTx serializes the unit under the store mutex and rolls back all
// account and transfer writes when fn fails.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(Ledger) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[uuid.UUID]domain.Account, len(r.accounts))
	for id, account := range r.accounts {
		snapshot[id] = account
	}
	transferCount := len(r.transfers)

	if err := fn(memLedger{r: r}); err != nil {
		r.accounts = snapshot
		r.transfers = r.transfers[:transferCount]
		return err
	}
	return nil
}

// CreateAccount inserts a new account, enforcing email uniqueness.
func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if strings.EqualFold(existing.Email, account.Email) {
			return ErrDuplicateEmail
		}
	}
	r.accounts[account.ID] = *account
	return nil
}

// FindAccountByID loads an account copy without locking semantics.
func (r *MemoryRepository) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memLedger{r: r}.getAccount(id)
}

// FindAccountByEmail loads an account by case-insensitive email.
func (r *MemoryRepository) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, account := range r.accounts {
		if strings.EqualFold(account.Email, strings.TrimSpace(email)) {
			cp := account
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

// GetAccountForUpdate outside an atomic unit takes the store mutex briefly;
// inside WithinTx the mutex is already held by the unit.
func (r *MemoryRepository) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.FindAccountByID(ctx, id)
}

func (r *MemoryRepository) FindAccountByIBAN(ctx context.Context, iban string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memLedger{r: r}.findByIBAN(iban)
}

func (r *MemoryRepository) UpdateAccountBalance(ctx context.Context, id uuid.UUID, balanceEnc string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memLedger{r: r}.updateBalance(id, balanceEnc)
}

func (r *MemoryRepository) AppendTransfer(ctx context.Context, transfer *domain.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, *transfer)
	return nil
}

func (r *MemoryRepository) RecentMovements(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memLedger{r: r}.recentMovements(accountID, limit)
}

func (r *MemoryRepository) FindAccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memLedger{r: r}.accountsByIDs(ids)
}

// memLedger is the Ledger bound to an atomic unit: the store mutex is already
// held, so methods touch state directly.
type memLedger struct {
	r *MemoryRepository
}

func (l memLedger) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return l.getAccount(id)
}

func (l memLedger) FindAccountByIBAN(ctx context.Context, iban string) (*domain.Account, error) {
	return l.findByIBAN(iban)
}

func (l memLedger) UpdateAccountBalance(ctx context.Context, id uuid.UUID, balanceEnc string) error {
	return l.updateBalance(id, balanceEnc)
}

func (l memLedger) AppendTransfer(ctx context.Context, transfer *domain.Transfer) error {
	l.r.transfers = append(l.r.transfers, *transfer)
	return nil
}

func (l memLedger) RecentMovements(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transfer, error) {
	return l.recentMovements(accountID, limit)
}

func (l memLedger) FindAccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	return l.accountsByIDs(ids)
}

func (l memLedger) getAccount(id uuid.UUID) (*domain.Account, error) {
	account, ok := l.r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := account
	return &cp, nil
}

func (l memLedger) findByIBAN(iban string) (*domain.Account, error) {
	needle := strings.ToUpper(strings.TrimSpace(iban))
	for _, account := range l.r.accounts {
		if account.IBAN != nil && strings.ToUpper(*account.IBAN) == needle {
			cp := account
			return &cp, nil
		}
	}
	return nil, nil
}

func (l memLedger) updateBalance(id uuid.UUID, balanceEnc string) error {
	account, ok := l.r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	enc := balanceEnc
	account.BalanceEnc = &enc
	l.r.accounts[id] = account
	return nil
}

func (l memLedger) recentMovements(accountID uuid.UUID, limit int) ([]domain.Transfer, error) {
	var matches []domain.Transfer
	for _, t := range l.r.transfers {
		if t.FromAccountID == accountID || (t.ToAccountID != nil && *t.ToAccountID == accountID) {
			matches = append(matches, t)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (l memLedger) accountsByIDs(ids []uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	result := make(map[uuid.UUID]*domain.Account, len(ids))
	for _, id := range ids {
		if account, ok := l.r.accounts[id]; ok {
			cp := account
			result[id] = &cp
		}
	}
	return result, nil
}

/**
 * @description
 * This file implements the movement feed: the most recent transfers touching
 * an account, decorated with decrypted counterparty display names. The feed is
 * read-only and runs outside any atomic unit.
 */

package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/store"
)

// MovementLimit caps the feed at the ten most recent transfers.
const MovementLimit = 10

// RecentMovements returns the account's latest transfers, newest first, with
// sender and recipient resolved to displayable names.
func (s *Service) RecentMovements(ctx context.Context, accountID uuid.UUID) ([]domain.MovementView, error) {
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}

	transfers, err := s.repo.RecentMovements(ctx, accountID, MovementLimit)
	if err != nil {
		return nil, err
	}

	counterparties, err := s.resolveCounterparties(ctx, transfers)
	if err != nil {
		return nil, err
	}

	views := make([]domain.MovementView, 0, len(transfers))
	for _, t := range transfers {
		senderName, err := s.displayName(counterparties[t.FromAccountID])
		if err != nil {
			return nil, err
		}
		view := domain.MovementView{
			TransferID:    t.ID,
			Amount:        t.Amount,
			Causal:        t.Causal,
			CreatedAt:     t.CreatedAt,
			SenderIBAN:    t.FromIBAN,
			RecipientIBAN: t.ToIBAN,
			SenderName:    senderName,
		}
		if t.FromAccountID == accountID {
			view.Direction = domain.MovementOut
		} else {
			view.Direction = domain.MovementIn
		}
		if t.ToAccountID != nil {
			if view.RecipientName, err = s.displayName(counterparties[*t.ToAccountID]); err != nil {
				return nil, err
			}
		} else {
			view.RecipientName = "External"
		}
		views = append(views, view)
	}
	return views, nil
}

// resolveCounterparties batch-loads every account referenced by the feed page
// in one query.
func (s *Service) resolveCounterparties(ctx context.Context, transfers []domain.Transfer) (map[uuid.UUID]*domain.Account, error) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, t := range transfers {
		if !seen[t.FromAccountID] {
			seen[t.FromAccountID] = true
			ids = append(ids, t.FromAccountID)
		}
		if t.ToAccountID != nil && !seen[*t.ToAccountID] {
			seen[*t.ToAccountID] = true
			ids = append(ids, *t.ToAccountID)
		}
	}
	if len(ids) == 0 {
		return map[uuid.UUID]*domain.Account{}, nil
	}
	return s.repo.FindAccountsByIDs(ctx, ids)
}

// displayName composes the decrypted name from whichever parts are present,
// falling back to the email only when no name is stored at all. A decryption
// failure is never masked: it can mean tampering or a wrong key and must
// surface to the caller.
func (s *Service) displayName(account *domain.Account) (string, error) {
	if account == nil {
		return "Unknown", nil
	}
	first, err := s.codec.DecryptField(account.FirstNameEnc)
	if err != nil {
		return "", err
	}
	last, err := s.codec.DecryptField(account.LastNameEnc)
	if err != nil {
		return "", err
	}

	name := strings.TrimSpace(deref(first) + " " + deref(last))
	if name != "" {
		return name, nil
	}
	if account.Email != "" {
		return account.Email, nil
	}
	return "Unknown", nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

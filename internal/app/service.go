/**
 * @description
 * This file contains the transfer engine, the core business logic of the
 * ledger-service. A transfer moves money from a sender to either another
 * internal account (resolved by IBAN) or an external IBAN, as one atomic unit:
 * validate, lock, decrypt balances, mutate, re-encrypt, append the audit row.
 *
 * Key invariants:
 * - All request validation happens before any row lock is taken, so malformed
 *   requests never touch the store.
 * - For internal transfers both account locks are acquired in ascending-UUID
 *   order, which prevents circular wait between two opposite-direction
 *   transfers on the same account pair.
 * - Any error aborts the whole unit; there is no partial-transfer state.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Exact money arithmetic; no binary floats.
 * - internal/crypto, internal/iban, internal/store: Codec, identifiers, persistence.
 * - pkg/rabbitmq: Post-commit transfer event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vaultbank/ledger-service/internal/crypto"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/iban"
	"github.com/vaultbank/ledger-service/internal/store"
	"github.com/vaultbank/ledger-service/pkg/rabbitmq"
)

const (
	// DefaultCausal is stored when the caller leaves the memo blank.
	DefaultCausal = "Bonifico"

	maxCausalLength = 140

	// EventExchange and transfer routing key for post-commit notifications.
	EventExchange       = "vaultbank.events"
	transferCompletedRK = "transfer.completed"
)

var (
	minAmount = decimal.NewFromFloat(0.01)
	// Amounts at or beyond 18 integer digits are rejected as overflow guards.
	maxAmount = decimal.New(1, 17)
)

// Service provides the core business logic of the ledger: transfers, the
// movement feed, and account provisioning.
type Service struct {
	repo          store.Repository
	codec         *crypto.Codec
	eventProducer rabbitmq.Publisher
	logger        *slog.Logger

	auth        authConfig
	rateLimiter LoginRateLimiter
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, codec *crypto.Codec, producer rabbitmq.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:          repo,
		codec:         codec,
		eventProducer: producer,
		logger:        logger,
	}
}

// Transfer executes one money movement as a single atomic unit and returns the
// receipt with the sender's authoritative new balance.
func (s *Service) Transfer(ctx context.Context, fromAccountID uuid.UUID, toIBAN string, amount decimal.Decimal, causal string) (*domain.TransferReceipt, error) {
	normalizedAmount, err := normalizeAmount(amount)
	if err != nil {
		return nil, err
	}
	normalizedCausal, err := normalizeCausal(causal)
	if err != nil {
		return nil, err
	}
	if err := iban.Validate(toIBAN); err != nil {
		return nil, err
	}
	destIBAN := strings.ToUpper(strings.TrimSpace(toIBAN))

	var receipt *domain.TransferReceipt
	err = s.repo.WithinTx(ctx, func(ledger store.Ledger) error {
		sender, err := ledger.GetAccountForUpdate(ctx, fromAccountID)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}

		if sender.IBAN != nil && strings.EqualFold(*sender.IBAN, destIBAN) {
			return domain.ErrOwnIBAN
		}

		recipient, err := ledger.FindAccountByIBAN(ctx, destIBAN)
		if err != nil {
			return err
		}

		if recipient != nil {
			receipt, err = s.internalTransfer(ctx, ledger, sender, recipient, destIBAN, normalizedAmount, normalizedCausal)
		} else {
			receipt, err = s.externalTransfer(ctx, ledger, sender, destIBAN, normalizedAmount, normalizedCausal)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer committed",
		"transfer_id", receipt.TransferID,
		"from_account_id", fromAccountID,
		"amount", normalizedAmount.StringFixed(2),
	)
	s.publishTransferCompleted(ctx, fromAccountID, destIBAN, normalizedAmount, receipt)
	return receipt, nil
}

// internalTransfer moves money between two ledger accounts. Both rows are
// locked in ascending-UUID order; re-locking the sender is a no-op inside the
// same atomic unit.
func (s *Service) internalTransfer(ctx context.Context, ledger store.Ledger, sender, recipient *domain.Account, destIBAN string, amount decimal.Decimal, causal string) (*domain.TransferReceipt, error) {
	firstID, secondID := sender.ID, recipient.ID
	if lockOrder(recipient.ID, sender.ID) {
		firstID, secondID = recipient.ID, sender.ID
	}

	first, err := ledger.GetAccountForUpdate(ctx, firstID)
	if err != nil {
		return nil, lockedLookupErr(err)
	}
	second, err := ledger.GetAccountForUpdate(ctx, secondID)
	if err != nil {
		return nil, lockedLookupErr(err)
	}

	lockedSender, lockedRecipient := first, second
	if first.ID != sender.ID {
		lockedSender, lockedRecipient = second, first
	}

	senderBalance, err := s.requireBalance(lockedSender)
	if err != nil {
		return nil, err
	}
	if senderBalance.LessThan(amount) {
		return nil, domain.ErrInsufficientFunds
	}
	recipientBalance, err := s.requireBalance(lockedRecipient)
	if err != nil {
		return nil, err
	}

	newSenderBalance := senderBalance.Sub(amount).Round(2)
	newRecipientBalance := recipientBalance.Add(amount).Round(2)

	senderEnc, err := s.codec.EncryptAmount(newSenderBalance)
	if err != nil {
		return nil, err
	}
	recipientEnc, err := s.codec.EncryptAmount(newRecipientBalance)
	if err != nil {
		return nil, err
	}
	if err := ledger.UpdateAccountBalance(ctx, lockedSender.ID, senderEnc); err != nil {
		return nil, err
	}
	if err := ledger.UpdateAccountBalance(ctx, lockedRecipient.ID, recipientEnc); err != nil {
		return nil, err
	}

	recipientID := lockedRecipient.ID
	transfer := domain.NewTransfer(lockedSender.ID, &recipientID, senderIBAN(lockedSender), destIBAN, causal, amount)
	if err := ledger.AppendTransfer(ctx, transfer); err != nil {
		return nil, err
	}

	return &domain.TransferReceipt{
		TransferID: transfer.ID,
		CreatedAt:  transfer.CreatedAt,
		NewBalance: newSenderBalance,
	}, nil
}

// externalTransfer debits the sender only; the destination is an IBAN unknown
// to this ledger and is recorded on the audit row without an account id.
func (s *Service) externalTransfer(ctx context.Context, ledger store.Ledger, sender *domain.Account, destIBAN string, amount decimal.Decimal, causal string) (*domain.TransferReceipt, error) {
	senderBalance, err := s.requireBalance(sender)
	if err != nil {
		return nil, err
	}
	if senderBalance.LessThan(amount) {
		return nil, domain.ErrInsufficientFunds
	}

	newSenderBalance := senderBalance.Sub(amount).Round(2)
	senderEnc, err := s.codec.EncryptAmount(newSenderBalance)
	if err != nil {
		return nil, err
	}
	if err := ledger.UpdateAccountBalance(ctx, sender.ID, senderEnc); err != nil {
		return nil, err
	}

	transfer := domain.NewTransfer(sender.ID, nil, senderIBAN(sender), destIBAN, causal, amount)
	if err := ledger.AppendTransfer(ctx, transfer); err != nil {
		return nil, err
	}

	return &domain.TransferReceipt{
		TransferID: transfer.ID,
		CreatedAt:  transfer.CreatedAt,
		NewBalance: newSenderBalance,
	}, nil
}

// requireBalance decrypts an account's balance. An unset balance on an account
// that reached the transfer path is a provisioning bug, not an empty wallet.
func (s *Service) requireBalance(account *domain.Account) (decimal.Decimal, error) {
	if account.BalanceEnc == nil {
		return decimal.Decimal{}, fmt.Errorf("account %s: %w", account.ID, domain.ErrBalanceNotInitialized)
	}
	balance, err := s.codec.DecryptAmount(*account.BalanceEnc)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return balance, nil
}

func (s *Service) publishTransferCompleted(ctx context.Context, fromAccountID uuid.UUID, destIBAN string, amount decimal.Decimal, receipt *domain.TransferReceipt) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.TransferCompletedEvent{
		TransferID:    receipt.TransferID,
		FromAccountID: fromAccountID,
		ToIBAN:        destIBAN,
		Amount:        amount.StringFixed(2),
		CreatedAt:     receipt.CreatedAt,
	}
	if err := s.eventProducer.Publish(ctx, EventExchange, transferCompletedRK, event); err != nil {
		s.logger.Warn("transfer event publish failed", "transfer_id", receipt.TransferID, "err", err)
	}
}

// lockOrder reports whether a must be locked before b.
func lockOrder(a, b uuid.UUID) bool {
	return strings.Compare(a.String(), b.String()) < 0
}

func lockedLookupErr(err error) error {
	if errors.Is(err, store.ErrAccountNotFound) {
		return domain.ErrAccountNotFound
	}
	return err
}

func senderIBAN(account *domain.Account) string {
	if account.IBAN == nil {
		return ""
	}
	return *account.IBAN
}

// normalizeAmount rounds to two decimals half-up, then enforces the minimum
// transferable amount and the integer-digit overflow guard.
func normalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	normalized := amount.Round(2)
	if normalized.LessThan(minAmount) {
		return decimal.Decimal{}, domain.NewValidationError("amount", "must be >= 0.01")
	}
	if normalized.GreaterThanOrEqual(maxAmount) {
		return decimal.Decimal{}, domain.NewValidationError("amount", "exceeds 17 integer digits")
	}
	return normalized, nil
}

// normalizeCausal trims the memo, substitutes the default for blank input, and
// enforces the 140-character cap.
func normalizeCausal(causal string) (string, error) {
	trimmed := strings.TrimSpace(causal)
	if trimmed == "" {
		return DefaultCausal, nil
	}
	if len([]rune(trimmed)) > maxCausalLength {
		return "", domain.NewValidationError("causal", "must be at most 140 characters")
	}
	return trimmed, nil
}

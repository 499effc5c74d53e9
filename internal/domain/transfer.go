/**
 * @description
 * This file defines the transfer domain models: the immutable audit record the
 * engine appends for every committed money movement, the receipt returned to the
 * caller, and the movement view assembled by the read path.
 *
 * @notes
 * - Amounts use shopspring/decimal so cent arithmetic is exact; no value in the
 *   money path ever passes through a binary float.
 * - ToAccountID is nil for external transfers, where only the destination IBAN
 *   is known to the ledger. Transfer rows are never updated or deleted.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transfer maps to one row of the `transfers` table.
type Transfer struct {
	ID            uuid.UUID       `json:"id"`
	FromAccountID uuid.UUID       `json:"from_account_id"`
	ToAccountID   *uuid.UUID      `json:"to_account_id,omitempty"`
	FromIBAN      string          `json:"from_iban"`
	ToIBAN        string          `json:"to_iban"`
	Causal        string          `json:"causal"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewTransfer builds the audit record for a committed movement.
func NewTransfer(fromAccountID uuid.UUID, toAccountID *uuid.UUID, fromIBAN, toIBAN, causal string, amount decimal.Decimal) *Transfer {
	return &Transfer{
		ID:            uuid.New(),
		FromAccountID: fromAccountID,
		ToAccountID:   toAccountID,
		FromIBAN:      fromIBAN,
		ToIBAN:        toIBAN,
		Causal:        causal,
		Amount:        amount,
		CreatedAt:     time.Now().UTC(),
	}
}

// TransferReceipt is returned to the sender after a transfer commits.
type TransferReceipt struct {
	TransferID uuid.UUID       `json:"transfer_id"`
	CreatedAt  time.Time       `json:"created_at"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// Movement direction constants as seen from the queried account.
const (
	MovementOut = "OUT"
	MovementIn  = "IN"
)

// MovementView is one entry of an account's recent-movements feed, with
// counterparty names already resolved.
type MovementView struct {
	TransferID    uuid.UUID       `json:"transfer_id"`
	Direction     string          `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	Causal        string          `json:"causal"`
	CreatedAt     time.Time       `json:"created_at"`
	SenderName    string          `json:"sender_name"`
	SenderIBAN    string          `json:"sender_iban"`
	RecipientName string          `json:"recipient_name"`
	RecipientIBAN string          `json:"recipient_iban"`
}

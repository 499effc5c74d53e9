/**
 * @description
 * This file defines the account domain model for the ledger-service. An account
 * is one user's ledger row: credentials, encrypted personal data, the encrypted
 * balance, and the IBAN the transfer engine resolves destinations against.
 *
 * @notes
 * - PII fields (first name, last name, phone) and the balance are stored only in
 *   their encrypted form here; decryption happens at the edges, in the app layer.
 * - Accounts are value records built through NewAccount. Balance changes are
 *   persisted as a new encrypted value through the store, never by sharing and
 *   mutating a long-lived entity.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Account maps to one row of the `accounts` table.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstNameEnc *string   `json:"-"`
	LastNameEnc  *string   `json:"-"`
	PhoneEnc     *string   `json:"-"`
	BalanceEnc   *string   `json:"-"`
	IBAN         *string   `json:"iban,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewAccount builds a fresh account record with a random id and lowercased
// email. Encrypted fields and the IBAN are filled in by the provisioning flow.
func NewAccount(email, passwordHash string) *Account {
	return &Account{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
}

// Profile is the decrypted view of an account returned to its owner.
type Profile struct {
	Email     string  `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
	IBAN      *string `json:"iban"`
	Balance   string  `json:"balance"`
}

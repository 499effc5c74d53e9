package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vaultbank/ledger-service/internal/crypto"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/iban"
	"github.com/vaultbank/ledger-service/internal/store"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T) (*Service, *store.MemoryRepository, *crypto.Codec) {
	t.Helper()
	codec, err := crypto.NewCodec(testKey)
	if err != nil {
		t.Fatalf("NewCodec returned error: %v", err)
	}
	repo := store.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, codec, nil, logger)
	svc.ConfigureAuth([]byte("test-secret"), 30*time.Minute, decimal.RequireFromString("1000.00"))
	return svc, repo, codec
}

func seedAccount(t *testing.T, repo *store.MemoryRepository, codec *crypto.Codec, email, balance string) *domain.Account {
	t.Helper()
	account := domain.NewAccount(email, "not-a-real-hash")
	accIBAN, err := iban.Generate()
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	account.IBAN = &accIBAN

	balanceEnc, err := codec.EncryptAmount(decimal.RequireFromString(balance))
	if err != nil {
		t.Fatalf("EncryptAmount returned error: %v", err)
	}
	account.BalanceEnc = &balanceEnc

	if err := repo.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	return account
}

func accountBalance(t *testing.T, repo *store.MemoryRepository, codec *crypto.Codec, account *domain.Account) decimal.Decimal {
	t.Helper()
	loaded, err := repo.FindAccountByID(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("FindAccountByID returned error: %v", err)
	}
	if loaded.BalanceEnc == nil {
		t.Fatalf("account %s has no balance", account.ID)
	}
	balance, err := codec.DecryptAmount(*loaded.BalanceEnc)
	if err != nil {
		t.Fatalf("DecryptAmount returned error: %v", err)
	}
	return balance
}

func TestTransferBetweenInternalAccounts(t *testing.T) {
	svc, repo, codec := newTestService(t)
	sender := seedAccount(t, repo, codec, "alice@example.com", "150.00")
	recipient := seedAccount(t, repo, codec, "bob@example.com", "20.00")

	receipt, err := svc.Transfer(context.Background(), sender.ID, *recipient.IBAN, decimal.RequireFromString("50.25"), "Rent")
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}

	if got := accountBalance(t, repo, codec, sender); !got.Equal(decimal.RequireFromString("99.75")) {
		t.Fatalf("sender balance = %s, want 99.75", got)
	}
	if got := accountBalance(t, repo, codec, recipient); !got.Equal(decimal.RequireFromString("70.25")) {
		t.Fatalf("recipient balance = %s, want 70.25", got)
	}
	if !receipt.NewBalance.Equal(decimal.RequireFromString("99.75")) {
		t.Fatalf("receipt balance = %s, want 99.75", receipt.NewBalance)
	}

	movements, err := repo.RecentMovements(context.Background(), sender.ID, 10)
	if err != nil {
		t.Fatalf("RecentMovements returned error: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 transfer row, got %d", len(movements))
	}
	row := movements[0]
	if row.ToAccountID == nil || *row.ToAccountID != recipient.ID {
		t.Fatalf("transfer row should reference recipient account")
	}
	if row.Causal != "Rent" {
		t.Fatalf("causal = %q, want Rent", row.Causal)
	}
	if !row.Amount.Equal(decimal.RequireFromString("50.25")) {
		t.Fatalf("amount = %s, want 50.25", row.Amount)
	}
}

func TestTransferToExternalIBANDebitsSenderOnly(t *testing.T) {
	svc, repo, codec := newTestService(t)
	sender := seedAccount(t, repo, codec, "alice@example.com", "150.00")

	externalIBAN, err := iban.Generate()
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	receipt, err := svc.Transfer(context.Background(), sender.ID, externalIBAN, decimal.RequireFromString("30.00"), "")
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}
	if !receipt.NewBalance.Equal(decimal.RequireFromString("120.00")) {
		t.Fatalf("receipt balance = %s, want 120.00", receipt.NewBalance)
	}

	movements, err := repo.RecentMovements(context.Background(), sender.ID, 10)
	if err != nil {
		t.Fatalf("RecentMovements returned error: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 transfer row, got %d", len(movements))
	}
	if movements[0].ToAccountID != nil {
		t.Fatalf("external transfer must not carry an internal recipient id")
	}
	if movements[0].Causal != DefaultCausal {
		t.Fatalf("blank causal should default to %q, got %q", DefaultCausal, movements[0].Causal)
	}
}

func TestTransferInsufficientFundsLeavesBalancesUntouched(t *testing.T) {
	svc, repo, codec := newTestService(t)
	sender := seedAccount(t, repo, codec, "alice@example.com", "10.00")
	recipient := seedAccount(t, repo, codec, "bob@example.com", "20.00")

	_, err := svc.Transfer(context.Background(), sender.ID, *recipient.IBAN, decimal.RequireFromString("10.01"), "")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if got := accountBalance(t, repo, codec, sender); !got.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("sender balance changed after failed transfer: %s", got)
	}
	if got := accountBalance(t, repo, codec, recipient); !got.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("recipient balance changed after failed transfer: %s", got)
	}

	movements, err := repo.RecentMovements(context.Background(), sender.ID, 10)
	if err != nil {
		t.Fatalf("RecentMovements returned error: %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("failed transfer must not leave an audit row, got %d", len(movements))
	}
}

func TestTransferExactBalanceSucceeds(t *testing.T) {
	svc, repo, codec := newTestService(t)
	sender := seedAccount(t, repo, codec, "alice@example.com", "10.00")
	recipient := seedAccount(t, repo, codec, "bob@example.com", "0.00")

	receipt, err := svc.Transfer(context.Background(), sender.ID, *recipient.IBAN, decimal.RequireFromString("10.00"), "")
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}
	if !receipt.NewBalance.Equal(decimal.Zero) {
		t.Fatalf("receipt balance = %s, want 0", receipt.NewBalance)
	}
}

func TestTransferToOwnIBANRejected(t *testing.T) {
	svc, repo, codec := newTestService(t)
	sender := seedAccount(t, repo, codec, "alice@example.com", "150.00")

	// Case differences must not bypass the guard.
	_, err := svc.Transfer(context.Background(), sender.ID, "  "+*sender.IBAN+" ", decimal.RequireFromString("1.00"), "")
	if !errors.Is(err, domain.ErrOwnIBAN) {
		t.Fatalf("expected ErrOwnIBAN, got %v", err)
	}
}

func TestTransferUnknownSenderRejected(t *testing.T) {
	svc, repo, codec := newTestService(t)
	other := seedAccount(t, repo, codec, "bob@example.com", "20.00")

	ghost := domain.NewAccount("ghost@example.com", "hash")
	_, err := svc.Transfer(context.Background(), ghost.ID, *other.IBAN, decimal.RequireFromString("1.00"), "")
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestTransferAmountValidation(t *testing.T) {
	svc, repo, codec := newTestService(t)
	sender := seedAccount(t, repo, codec, "alice@example.com", "1000.00")
	recipient := seedAccount(t, repo, codec, "bob@example.com", "0.00")

	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"zero", "0", true},
		{"negative", "-5.00", true},
		{"sub-cent rounds down to zero", "0.004", true},
		{"sub-cent rounds up to one cent", "0.009", false},
		{"too many integer digits", "100000000000000000", true},
		{"plain amount", "12.34", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Transfer(context.Background(), sender.ID, *recipient.IBAN, decimal.RequireFromString(tt.amount), "")
			if tt.wantErr {
				var vErr *domain.ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("expected validation error for %s, got %v", tt.amount, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transfer(%s) returned error: %v", tt.amount, err)
			}
		})
	}
}

func TestTransferAmountRoundsHalfUp(t *testing.T) {
	svc, repo, codec := newTestService(t)
	sender := seedAccount(t, repo, codec, "alice@example.com", "100.00")
	recipient := seedAccount(t, repo, codec, "bob@example.com", "0.00")

	if _, err := svc.Transfer(context.Background(), sender.ID, *recipient.IBAN, decimal.RequireFromString("10.005"), ""); err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}
	if got := accountBalance(t, repo, codec, recipient); !got.Equal(decimal.RequireFromString("10.01")) {
		t.Fatalf("recipient balance = %s, want 10.01", got)
	}
}

func TestTransferCausalValidation(t *testing.T) {
	svc, repo, codec := newTestService(t)
	sender := seedAccount(t, repo, codec, "alice@example.com", "1000.00")
	recipient := seedAccount(t, repo, codec, "bob@example.com", "0.00")

	longCausal := ""
	for i := 0; i < 141; i++ {
		longCausal += "x"
	}
	_, err := svc.Transfer(context.Background(), sender.ID, *recipient.IBAN, decimal.RequireFromString("1.00"), longCausal)
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for long causal, got %v", err)
	}

	if _, err := svc.Transfer(context.Background(), sender.ID, *recipient.IBAN, decimal.RequireFromString("1.00"), "  Dinner  "); err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}
	movements, err := repo.RecentMovements(context.Background(), sender.ID, 10)
	if err != nil {
		t.Fatalf("RecentMovements returned error: %v", err)
	}
	if movements[0].Causal != "Dinner" {
		t.Fatalf("causal = %q, want trimmed Dinner", movements[0].Causal)
	}
}

func TestTransferInvalidDestinationIBAN(t *testing.T) {
	svc, repo, codec := newTestService(t)
	sender := seedAccount(t, repo, codec, "alice@example.com", "100.00")

	_, err := svc.Transfer(context.Background(), sender.ID, "IT00X000000000000000000000", decimal.RequireFromString("1.00"), "")
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for bad iban, got %v", err)
	}
}

func TestTransferUninitializedBalance(t *testing.T) {
	svc, repo, codec := newTestService(t)
	recipient := seedAccount(t, repo, codec, "bob@example.com", "0.00")

	sender := domain.NewAccount("alice@example.com", "hash")
	senderIBAN, err := iban.Generate()
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	sender.IBAN = &senderIBAN
	if err := repo.CreateAccount(context.Background(), sender); err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}

	_, err = svc.Transfer(context.Background(), sender.ID, *recipient.IBAN, decimal.RequireFromString("1.00"), "")
	if !errors.Is(err, domain.ErrBalanceNotInitialized) {
		t.Fatalf("expected ErrBalanceNotInitialized, got %v", err)
	}
}

func TestConcurrentOppositeTransfersConserveMoney(t *testing.T) {
	svc, repo, codec := newTestService(t)
	alice := seedAccount(t, repo, codec, "alice@example.com", "100.00")
	bob := seedAccount(t, repo, codec, "bob@example.com", "100.00")

	const rounds = 20
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if _, err := svc.Transfer(context.Background(), alice.ID, *bob.IBAN, decimal.RequireFromString("5.00"), ""); err != nil {
				t.Errorf("alice->bob transfer failed: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if _, err := svc.Transfer(context.Background(), bob.ID, *alice.IBAN, decimal.RequireFromString("5.00"), ""); err != nil {
				t.Errorf("bob->alice transfer failed: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	aliceBalance := accountBalance(t, repo, codec, alice)
	bobBalance := accountBalance(t, repo, codec, bob)
	if !aliceBalance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("alice balance = %s, want 100.00", aliceBalance)
	}
	if !bobBalance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("bob balance = %s, want 100.00", bobBalance)
	}
	if total := aliceBalance.Add(bobBalance); !total.Equal(decimal.RequireFromString("200.00")) {
		t.Fatalf("total balance = %s, want 200.00", total)
	}
}

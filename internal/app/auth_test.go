package app

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/iban"
)

func TestRegisterProvisionsAccount(t *testing.T) {
	svc, repo, codec := newTestService(t)

	profile, err := svc.Register(context.Background(), RegisterInput{
		Email:     "Alice@Example.com",
		Password:  "correct horse",
		FirstName: "Alice",
		LastName:  "Rossi",
		Phone:     "+39 333 1234567",
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if profile.Email != "alice@example.com" {
		t.Fatalf("email = %q, want lowercased", profile.Email)
	}
	if profile.FirstName == nil || *profile.FirstName != "Alice" {
		t.Fatalf("first name not round-tripped: %v", profile.FirstName)
	}
	if profile.Phone == nil || *profile.Phone != "+39 333 1234567" {
		t.Fatalf("phone not round-tripped: %v", profile.Phone)
	}
	if profile.Balance != "1000.00" {
		t.Fatalf("initial balance = %q, want 1000.00", profile.Balance)
	}
	if profile.IBAN == nil {
		t.Fatal("registration must assign an IBAN")
	}
	if err := iban.Validate(*profile.IBAN); err != nil {
		t.Fatalf("assigned iban invalid: %v", err)
	}

	// PII must not be stored in the clear.
	stored, err := repo.FindAccountByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindAccountByEmail returned error: %v", err)
	}
	if stored.FirstNameEnc == nil || *stored.FirstNameEnc == "Alice" {
		t.Fatal("first name stored in plaintext")
	}
	if stored.BalanceEnc == nil || *stored.BalanceEnc == "1000.00" {
		t.Fatal("balance stored in plaintext")
	}
	if stored.PasswordHash == "correct horse" {
		t.Fatal("password stored in plaintext")
	}
	if decrypted, err := codec.DecryptAmount(*stored.BalanceEnc); err != nil || !decrypted.Equal(decimal.RequireFromString("1000.00")) {
		t.Fatalf("stored balance does not decrypt to 1000.00: %v %v", decrypted, err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)

	input := RegisterInput{
		Email:     "alice@example.com",
		Password:  "correct horse",
		FirstName: "Alice",
		LastName:  "Rossi",
	}
	if _, err := svc.Register(context.Background(), input); err != nil {
		t.Fatalf("first Register returned error: %v", err)
	}
	_, err := svc.Register(context.Background(), input)
	if !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{"bad email", RegisterInput{Email: "not-an-email", Password: "longenough", FirstName: "A", LastName: "B"}},
		{"short password", RegisterInput{Email: "a@example.com", Password: "short", FirstName: "A", LastName: "B"}},
		{"blank first name", RegisterInput{Email: "a@example.com", Password: "longenough", FirstName: " ", LastName: "B"}},
		{"blank last name", RegisterInput{Email: "a@example.com", Password: "longenough", FirstName: "A", LastName: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.input)
			var vErr *domain.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Register(context.Background(), RegisterInput{
		Email:     "alice@example.com",
		Password:  "correct horse",
		FirstName: "Alice",
		LastName:  "Rossi",
	}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	tokenString, err := svc.Login(context.Background(), "ALICE@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(TokenIssuer))
	if err != nil {
		t.Fatalf("token failed verification: %v", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatal("unexpected claims type")
	}
	if claims["sub"] != "alice@example.com" {
		t.Fatalf("sub = %v, want alice@example.com", claims["sub"])
	}
	if claims["uid"] == nil || claims["uid"] == "" {
		t.Fatal("token missing uid claim")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Register(context.Background(), RegisterInput{
		Email:     "alice@example.com",
		Password:  "correct horse",
		FirstName: "Alice",
		LastName:  "Rossi",
	}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if _, err := svc.Login(context.Background(), "alice@example.com", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody@example.com", "whatever"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

type stubLimiter struct {
	remaining int
}

func (l *stubLimiter) Allow(ctx context.Context, email string) (bool, error) {
	if l.remaining <= 0 {
		return false, nil
	}
	l.remaining--
	return true, nil
}

func TestLoginRateLimited(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.SetLoginRateLimiter(&stubLimiter{remaining: 2})

	if _, err := svc.Register(context.Background(), RegisterInput{
		Email:     "alice@example.com",
		Password:  "correct horse",
		FirstName: "Alice",
		LastName:  "Rossi",
	}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.Login(context.Background(), "alice@example.com", "correct horse"); err != nil {
			t.Fatalf("login %d returned error: %v", i, err)
		}
	}
	if _, err := svc.Login(context.Background(), "alice@example.com", "correct horse"); !errors.Is(err, domain.ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
}

func TestProfileUnknownAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ghost := domain.NewAccount("ghost@example.com", "hash")

	_, err := svc.Profile(context.Background(), ghost.ID)
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

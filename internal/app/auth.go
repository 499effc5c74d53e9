/**
 * @description
 * This file implements account provisioning and authentication: registration
 * (bcrypt hash, PII encryption, IBAN assignment, initial balance), login with
 * rate limiting and JWT issuance, and the decrypted owner profile view.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: Password hashing.
 * - github.com/golang-jwt/jwt/v5: HS256 access token issuance.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/iban"
	"github.com/vaultbank/ledger-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenIssuer is stamped into every access token.
	TokenIssuer = "vaultbank"

	tokenScope        = "read write"
	minPasswordLength = 8
)

// LoginRateLimiter throttles login attempts per email. Allow returns false
// when the caller has exhausted the current window.
type LoginRateLimiter interface {
	Allow(ctx context.Context, email string) (bool, error)
}

type authConfig struct {
	jwtSecret      []byte
	tokenTTL       time.Duration
	initialBalance decimal.Decimal
}

// ConfigureAuth wires the authentication parameters: the HS256 signing secret,
// the access token lifetime, and the balance granted to new accounts.
func (s *Service) ConfigureAuth(jwtSecret []byte, tokenTTL time.Duration, initialBalance decimal.Decimal) {
	s.auth = authConfig{
		jwtSecret:      jwtSecret,
		tokenTTL:       tokenTTL,
		initialBalance: initialBalance,
	}
}

// SetLoginRateLimiter installs the login throttle. A nil limiter disables
// throttling, which is the local-development default.
func (s *Service) SetLoginRateLimiter(limiter LoginRateLimiter) {
	s.rateLimiter = limiter
}

// RegisterInput carries the plaintext registration fields. PII is encrypted
// before it reaches the store.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// Register provisions a new account: hashed credentials, encrypted PII, a
// freshly generated IBAN, and the encrypted initial balance.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.NewValidationError("email", "must be a valid email address")
	}
	if len(input.Password) < minPasswordLength {
		return nil, domain.NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	firstName := strings.TrimSpace(input.FirstName)
	lastName := strings.TrimSpace(input.LastName)
	if firstName == "" {
		return nil, domain.NewValidationError("first_name", "must not be blank")
	}
	if lastName == "" {
		return nil, domain.NewValidationError("last_name", "must not be blank")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := domain.NewAccount(email, string(hash))

	if account.FirstNameEnc, err = s.codec.EncryptField(&firstName); err != nil {
		return nil, err
	}
	if account.LastNameEnc, err = s.codec.EncryptField(&lastName); err != nil {
		return nil, err
	}
	phone := strings.TrimSpace(input.Phone)
	if phone != "" {
		if account.PhoneEnc, err = s.codec.EncryptField(&phone); err != nil {
			return nil, err
		}
	}

	newIBAN, err := iban.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate iban: %w", err)
	}
	account.IBAN = &newIBAN

	balanceEnc, err := s.codec.EncryptAmount(s.auth.initialBalance)
	if err != nil {
		return nil, err
	}
	account.BalanceEnc = &balanceEnc

	if err := s.repo.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, domain.ErrEmailTaken
		}
		return nil, err
	}

	s.logger.Info("account registered", "account_id", account.ID, "email", account.Email)
	return s.profileOf(account)
}

// Login verifies credentials and returns a signed access token. Both unknown
// emails and wrong passwords collapse into ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if s.rateLimiter != nil {
		allowed, err := s.rateLimiter.Allow(ctx, email)
		if err != nil {
			// Fail open on limiter backend errors; login safety does not depend
			// on the throttle being reachable.
			s.logger.Warn("login rate limiter unavailable", "err", err)
		} else if !allowed {
			return "", domain.ErrTooManyAttempts
		}
	}

	account, err := s.repo.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return "", domain.ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", domain.ErrInvalidCredentials
	}

	token, err := s.issueToken(account)
	if err != nil {
		return "", err
	}
	s.logger.Info("login succeeded", "account_id", account.ID)
	return token, nil
}

// Profile returns the decrypted owner view of an account, including the
// current balance.
func (s *Service) Profile(ctx context.Context, accountID uuid.UUID) (*domain.Profile, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return s.profileOf(account)
}

func (s *Service) profileOf(account *domain.Account) (*domain.Profile, error) {
	firstName, err := s.codec.DecryptField(account.FirstNameEnc)
	if err != nil {
		return nil, err
	}
	lastName, err := s.codec.DecryptField(account.LastNameEnc)
	if err != nil {
		return nil, err
	}
	phone, err := s.codec.DecryptField(account.PhoneEnc)
	if err != nil {
		return nil, err
	}

	balance := decimal.Zero
	if account.BalanceEnc != nil {
		if balance, err = s.codec.DecryptAmount(*account.BalanceEnc); err != nil {
			return nil, err
		}
	}

	return &domain.Profile{
		Email:     account.Email,
		FirstName: firstName,
		LastName:  lastName,
		Phone:     phone,
		IBAN:      account.IBAN,
		Balance:   balance.StringFixed(2),
	}, nil
}

func (s *Service) issueToken(account *domain.Account) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss":   TokenIssuer,
		"sub":   account.Email,
		"uid":   account.ID.String(),
		"scope": tokenScope,
		"iat":   now.Unix(),
		"exp":   now.Add(s.auth.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.auth.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

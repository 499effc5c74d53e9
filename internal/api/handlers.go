/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers parse incoming requests, call the application service, and write the
 * HTTP response. Error classification happens exclusively with errors.Is and
 * errors.As against the typed taxonomy; no handler inspects message text.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - internal/app, internal/crypto, internal/domain: Service logic, codec errors, models.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/vaultbank/ledger-service/internal/app"
	"github.com/vaultbank/ledger-service/internal/crypto"
	"github.com/vaultbank/ledger-service/internal/domain"
)

// BankingHandlers holds the application service that handlers will use.
type BankingHandlers struct {
	service *app.Service
	logger  *slog.Logger
}

// NewBankingHandlers creates a new instance of BankingHandlers.
func NewBankingHandlers(service *app.Service, logger *slog.Logger) *BankingHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &BankingHandlers{service: service, logger: logger}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type transferRequest struct {
	ToIBAN string `json:"to_iban"`
	Amount string `json:"amount"`
	Causal string `json:"causal"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// RegisterHandler provisions a new account and returns its decrypted profile.
func (h *BankingHandlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	profile, err := h.service.Register(r.Context(), app.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, profile)
}

// LoginHandler verifies credentials and returns an access token.
func (h *BankingHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loginResponse{AccessToken: token, TokenType: "Bearer"})
}

// ProfileHandler returns the authenticated account's decrypted profile.
func (h *BankingHandlers) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	profile, err := h.service.Profile(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

// TransferHandler executes a money transfer for the authenticated account.
func (h *BankingHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeFieldError(w, http.StatusBadRequest, "amount", "must be a decimal number")
		return
	}

	receipt, err := h.service.Transfer(r.Context(), accountID, req.ToIBAN, amount, req.Causal)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, receipt)
}

// MovementsHandler returns the authenticated account's recent transfers.
func (h *BankingHandlers) MovementsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	movements, err := h.service.RecentMovements(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if movements == nil {
		movements = []domain.MovementView{}
	}
	h.writeJSON(w, http.StatusOK, movements)
}

// writeServiceError maps the typed error taxonomy onto HTTP status codes.
func (h *BankingHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		h.writeFieldError(w, http.StatusBadRequest, vErr.Field, vErr.Reason)
	case errors.Is(err, domain.ErrOwnIBAN):
		h.writeError(w, http.StatusBadRequest, "Cannot transfer to your own IBAN")
	case errors.Is(err, domain.ErrInsufficientFunds):
		h.writeError(w, http.StatusBadRequest, "Insufficient funds")
	case errors.Is(err, domain.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, domain.ErrEmailTaken):
		h.writeError(w, http.StatusConflict, "Email already registered")
	case errors.Is(err, domain.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, domain.ErrTooManyAttempts):
		h.writeError(w, http.StatusTooManyRequests, "Too many attempts, try again later")
	case errors.Is(err, domain.ErrBalanceNotInitialized), errors.Is(err, crypto.ErrDecryptFailed):
		h.logger.Error("ledger integrity failure", "path", r.URL.Path, "err", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		h.logger.Error("unhandled service error", "path", r.URL.Path, "err", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *BankingHandlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("response encoding failed", "err", err)
	}
}

func (h *BankingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

func (h *BankingHandlers) writeFieldError(w http.ResponseWriter, status int, field, reason string) {
	h.writeJSON(w, status, errorResponse{Error: reason, Field: field})
}

package api

import (
	"net/http"

	"github.com/abkawan/banka-ledger/internal/auth"
	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/abkawan/banka-ledger/internal/service"
)

// account creation
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	account, err := h.accountService.CreateAccount(r.Context(), auth.FromContext(r.Context()), service.CreateAccountInput{
		Type:           models.AccountType(req.Type),
		OpeningBalance: req.Balance,
		AccountNumber:  req.AccountNumber,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, models.NewAccountResponse(account))
}

// handles account retrieval
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	number, err := accountNumberVar(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	account, err := h.accountService.GetAccount(r.Context(), auth.FromContext(r.Context()), number)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, models.NewAccountResponse(account))
}

// ListAccounts supports ?status= and, for staff, ?owner=
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	filter := models.AccountFilter{
		Status: models.AccountStatus(r.URL.Query().Get("status")),
		Owner:  r.URL.Query().Get("owner"),
	}

	accounts, err := h.accountService.ListAccounts(r.Context(), auth.FromContext(r.Context()), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}

	response := make([]models.AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		response = append(response, models.NewAccountResponse(a))
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) UpdateAccountStatus(w http.ResponseWriter, r *http.Request) {
	number, err := accountNumberVar(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req models.UpdateStatusRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	account, err := h.accountService.SetStatus(r.Context(), auth.FromContext(r.Context()), number, req.Status)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, models.NewAccountResponse(account))
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	number, err := accountNumberVar(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.accountService.DeleteAccount(r.Context(), auth.FromContext(r.Context()), number); err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Account successfully deleted"})
}

func (h *Handler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	number, err := accountNumberVar(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := h.transactionService.ReconcileAccount(r.Context(), auth.FromContext(r.Context()), number)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

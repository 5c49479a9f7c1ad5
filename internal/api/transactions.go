package api

import (
	"context"
	"net/http"

	"github.com/abkawan/banka-ledger/internal/auth"
	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type ledgerFunc func(ctx context.Context, actor *auth.Actor, accountNumber int64, amount decimal.Decimal) (*models.LedgerResult, error)

// handles credit requests
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	h.ledgerOperation(w, r, h.transactionService.Credit)
}

// handles debit requests
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	h.ledgerOperation(w, r, h.transactionService.Debit)
}

func (h *Handler) ledgerOperation(w http.ResponseWriter, r *http.Request, op ledgerFunc) {
	number, err := accountNumberVar(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req models.TransactionRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := op(r.Context(), auth.FromContext(r.Context()), number, req.Amount)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, models.NewTransactionResponse(res))
}

// GetTransaction handles transaction retrieval
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	tx, err := h.transactionService.GetTransaction(r.Context(), auth.FromContext(r.Context()), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, tx)
}

// GetTransactions handles transaction list retrieval, newest first
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	number, err := accountNumberVar(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	limit, offset := pagination(r)

	txs, err := h.transactionService.ListTransactions(r.Context(), auth.FromContext(r.Context()), number, limit, offset)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, txs)
}

// GetAuditLogs lists audit entries for admins
func (h *Handler) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	entries, err := h.auditService.List(r.Context(), auth.FromContext(r.Context()), limit, offset)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, entries)
}

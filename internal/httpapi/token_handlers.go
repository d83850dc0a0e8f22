package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"vestry.org/internal/addr"
	"vestry.org/internal/audit"
)

type mintRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// handleMint credits tokens to an account. Dev-only faucet: production
// deployments receive funding through the real token system, not here.
func (a *API) handleMint(w http.ResponseWriter, r *http.Request) {
	if !a.devTokens {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req mintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	to, err := addr.Parse(strings.TrimSpace(req.To))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "to must be a 64-char hex address")
		return
	}
	if err := a.tokens.Mint(r.Context(), to, req.Amount); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	_ = audit.LogEvent(r.Context(), "token.mint", map[string]string{
		"to":     to.String(),
		"amount": strconv.FormatUint(req.Amount, 10),
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"account": to.String(),
		"amount":  req.Amount,
	})
}

// handleTokenResource serves /v1/tokens/{addr}/balance. Gated with the
// other dev token endpoints: the escrow ledger is the source of truth for
// balances in production, this mirror exists for local flows only.
func (a *API) handleTokenResource(w http.ResponseWriter, r *http.Request) {
	if !a.devTokens {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/tokens/")
	hexAddr, ok := strings.CutSuffix(path, "/balance")
	if !ok || hexAddr == "" || strings.Contains(hexAddr, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	account, err := addr.Parse(hexAddr)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "account must be a 64-char hex address")
		return
	}
	amount, err := a.tokens.Balance(r.Context(), account)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "balance lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account.String(),
		"amount":  amount,
	})
}

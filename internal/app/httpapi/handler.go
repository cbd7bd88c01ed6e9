// Package httpapi exposes the treasury over REST. Members operate on their
// own balances and loans; admin endpoints require an admin-scoped token.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	app "github.com/selco13/treasury/internal/app"
	ledgerdomain "github.com/selco13/treasury/internal/app/domain/ledger"
	"github.com/selco13/treasury/internal/app/metrics"
	ledgersvc "github.com/selco13/treasury/internal/app/services/ledger"
	loansvc "github.com/selco13/treasury/internal/app/services/loans"
	"github.com/selco13/treasury/internal/app/storage"
	"github.com/selco13/treasury/pkg/logger"
)

// Config tunes the HTTP layer.
type Config struct {
	JWTSecret         string
	RequestsPerMinute int
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app       *app.Application
	jwtSecret []byte
	log       *logger.Logger
}

// NewHandler returns a router exposing the treasury REST API.
func NewHandler(application *app.Application, cfg Config, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{
		app:       application,
		jwtSecret: []byte(cfg.JWTSecret),
		log:       log,
	}

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(h.authMiddleware)
	api.Use(newCallerLimiter(cfg.RequestsPerMinute, log).middleware)

	api.HandleFunc("/balances/{userID}", h.getBalance).Methods(http.MethodGet)
	api.HandleFunc("/balances/{userID}/adjust", requireAdmin(h.adjustBalance)).Methods(http.MethodPost)
	api.HandleFunc("/transfers", h.transfer).Methods(http.MethodPost)
	api.HandleFunc("/transactions", h.listTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions/stats", h.transactionStats).Methods(http.MethodGet)

	api.HandleFunc("/loans", h.applyLoan).Methods(http.MethodPost)
	api.HandleFunc("/loans", h.listLoans).Methods(http.MethodGet)
	api.HandleFunc("/loans/{id}", h.getLoan).Methods(http.MethodGet)
	api.HandleFunc("/loans/{id}/approve", requireAdmin(h.approveLoan)).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/disburse", requireAdmin(h.disburseLoan)).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/reject", requireAdmin(h.rejectLoan)).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/repay", h.repayLoan).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/waive-interest", requireAdmin(h.waiveInterest)).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/waive-security-fee", requireAdmin(h.waiveSecurityFee)).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/extend", requireAdmin(h.extendLoan)).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/default", requireAdmin(h.defaultLoan)).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/incidents", h.reportIncident).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/incidents", h.listIncidents).Methods(http.MethodGet)
	api.HandleFunc("/incidents/{id}/review", requireAdmin(h.reviewIncident)).Methods(http.MethodPost)
	api.HandleFunc("/sweep", requireAdmin(h.runSweep)).Methods(http.MethodPost)

	return metrics.InstrumentHandler(r)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ledger endpoints ------------------------------------------------------------

func (h *handler) getBalance(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID != callerID(r.Context()) && !isAdmin(r.Context()) {
		writeErrorMessage(w, http.StatusForbidden, "cannot read another member's balance")
		return
	}

	balance, err := h.app.Ledger.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

func (h *handler) adjustBalance(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	var payload struct {
		Amount      decimal.Decimal `json:"amount"`
		Type        string          `json:"type"`
		Description string          `json:"description"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	balance, err := h.app.Ledger.UpdateBalance(r.Context(), userID, ledgersvc.Mutation{
		Delta:       payload.Amount,
		Type:        ledgerdomain.TransactionType(payload.Type),
		Description: payload.Description,
	})
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

func (h *handler) transfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ToUserID    string          `json:"to_user_id"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	from := callerID(r.Context())
	if err := h.app.Ledger.Transfer(r.Context(), from, payload.ToUserID, payload.Amount, payload.Description); err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := storage.TransactionQuery{
		UserID:   callerID(r.Context()),
		Type:     ledgerdomain.TransactionType(r.URL.Query().Get("type")),
		Category: ledgerdomain.Category(r.URL.Query().Get("category")),
	}
	if isAdmin(r.Context()) {
		if u := r.URL.Query().Get("user_id"); u != "" {
			q.UserID = u
		}
	}
	if t, ok := parseTime(r.URL.Query().Get("start")); ok {
		q.Start = t
	}
	if t, ok := parseTime(r.URL.Query().Get("end")); ok {
		q.End = t
	}

	txs, err := h.app.Recorder.Query(r.Context(), q)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *handler) transactionStats(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r.Context())
	if isAdmin(r.Context()) {
		if u := r.URL.Query().Get("user_id"); u != "" {
			userID = u
		}
	}
	start, _ := parseTime(r.URL.Query().Get("start"))
	end, _ := parseTime(r.URL.Query().Get("end"))

	stats, err := h.app.Recorder.Aggregate(r.Context(), userID, start, end)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Loan endpoints --------------------------------------------------------------

func (h *handler) applyLoan(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount       decimal.Decimal `json:"amount"`
		Purpose      string          `json:"purpose"`
		SecurityTeam []string        `json:"security_team"`
		DueDate      time.Time       `json:"due_date"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ln, err := h.app.Loans.Apply(r.Context(), callerID(r.Context()), payload.Amount, payload.Purpose, payload.SecurityTeam, payload.DueDate)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, ln)
}

func (h *handler) listLoans(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r.Context())
	if isAdmin(r.Context()) {
		if u := r.URL.Query().Get("user_id"); u != "" {
			userID = u
		}
	}

	loans, err := h.app.Loans.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (h *handler) getLoan(w http.ResponseWriter, r *http.Request) {
	ln, err := h.app.Loans.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	if ln.UserID != callerID(r.Context()) && !isAdmin(r.Context()) {
		writeErrorMessage(w, http.StatusForbidden, "cannot read another member's loan")
		return
	}
	writeJSON(w, http.StatusOK, ln)
}

func (h *handler) approveLoan(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisburseNow       bool   `json:"disburse_now"`
		TaxWaived         bool   `json:"tax_waived"`
		SecurityFeeWaived bool   `json:"security_fee_waived"`
		Notes             string `json:"notes"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ln, err := h.app.Loans.Approve(r.Context(), mux.Vars(r)["id"], callerID(r.Context()), loansvc.ApproveOptions{
		DisburseNow:       payload.DisburseNow,
		TaxWaived:         payload.TaxWaived,
		SecurityFeeWaived: payload.SecurityFeeWaived,
		Notes:             payload.Notes,
	})
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ln)
}

func (h *handler) disburseLoan(w http.ResponseWriter, r *http.Request) {
	ln, err := h.app.Loans.Disburse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ln)
}

func (h *handler) rejectLoan(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ln, err := h.app.Loans.Reject(r.Context(), mux.Vars(r)["id"], callerID(r.Context()), payload.Reason)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ln)
}

func (h *handler) repayLoan(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	loanID := mux.Vars(r)["id"]
	ln, err := h.app.Loans.Get(r.Context(), loanID)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	if ln.UserID != callerID(r.Context()) && !isAdmin(r.Context()) {
		writeErrorMessage(w, http.StatusForbidden, "cannot repay another member's loan")
		return
	}

	ln, err = h.app.Loans.Repay(r.Context(), loanID, payload.Amount)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ln)
}

func (h *handler) waiveInterest(w http.ResponseWriter, r *http.Request) {
	ln, err := h.app.Loans.WaiveInterest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ln)
}

func (h *handler) waiveSecurityFee(w http.ResponseWriter, r *http.Request) {
	ln, err := h.app.Loans.WaiveSecurityFee(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ln)
}

func (h *handler) extendLoan(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Days int `json:"days"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ln, err := h.app.Loans.ExtendDueDate(r.Context(), mux.Vars(r)["id"], payload.Days)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ln)
}

func (h *handler) defaultLoan(w http.ResponseWriter, r *http.Request) {
	ln, err := h.app.Loans.Default(r.Context(), mux.Vars(r)["id"], callerID(r.Context()))
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ln)
}

func (h *handler) reportIncident(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Description string          `json:"description"`
		Location    string          `json:"location"`
		AmountLost  decimal.Decimal `json:"amount_lost"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	inc, err := h.app.Loans.ReportIncident(r.Context(), mux.Vars(r)["id"], callerID(r.Context()), payload.Description, payload.Location, payload.AmountLost)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (h *handler) listIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.app.Loans.ListIncidents(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (h *handler) reviewIncident(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Approved bool `json:"approved"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	inc, err := h.app.Loans.ReviewIncident(r.Context(), mux.Vars(r)["id"], payload.Approved)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *handler) runSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.app.Loans.SweepOverdue(r.Context())
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Helpers ---------------------------------------------------------------------

func errStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, loansvc.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ledgersvc.ErrInsufficientFunds),
		errors.Is(err, loansvc.ErrOverpayment):
		return http.StatusConflict
	case errors.Is(err, ledgersvc.ErrInvalidAmount),
		errors.Is(err, ledgersvc.ErrSelfTransfer),
		errors.Is(err, ledgersvc.ErrUnknownTransactionType),
		errors.Is(err, loansvc.ErrInvalidAmount),
		errors.Is(err, loansvc.ErrEmptySecurityTeam),
		errors.Is(err, loansvc.ErrDueDateNotFuture),
		errors.Is(err, loansvc.ErrReasonRequired),
		errors.Is(err, loansvc.ErrNoDueDate),
		errors.Is(err, loansvc.ErrIncidentExceedsLoan):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

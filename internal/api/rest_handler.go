package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"bankledger/internal/domain"
	"bankledger/internal/ledger"
	"bankledger/internal/repository"
	"bankledger/internal/service"
	"bankledger/pkg/metrics"
	"bankledger/pkg/validator"
)

// APIHandler is the remote-procedure surface the wallet frontend
// calls. The invoking identity arrives in the URL path; the ledger
// trusts it, authentication is the transport's job.
type APIHandler struct {
	ledger         *ledger.Ledger
	metrics        *metrics.MetricsCollector
	events         *service.EventFeed
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewAPIHandler(
	ldg *ledger.Ledger,
	metricsCollector *metrics.MetricsCollector,
	events *service.EventFeed,
	logger *slog.Logger,
) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandler{
		ledger:         ldg,
		metrics:        metricsCollector,
		events:         events,
		logger:         logger,
		requestTimeout: 30 * time.Second,
	}
}

type InitializeReserveRequest struct {
	Caller domain.Identity `json:"caller"`
	Amount uint64          `json:"amount"`
}

type AmountRequest struct {
	Amount uint64 `json:"amount"`
}

type RequestLoanRequest struct {
	Amount              uint64 `json:"amount"`
	InterestRatePercent uint64 `json:"interest_rate_percent"`
	TermSeconds         int64  `json:"term_seconds"`
}

type ReserveResponse struct {
	TotalBalance uint64 `json:"total_balance"`
}

type LoanResponse struct {
	Owner               domain.Identity  `json:"owner"`
	LoanAmount          uint64           `json:"loan_amount"`
	InterestRatePercent uint64           `json:"interest_rate_percent"`
	StartTime           int64            `json:"start_time"`
	EndTime             int64            `json:"end_time"`
	Repaid              bool             `json:"repaid"`
	State               domain.LoanState `json:"state"`
	TotalDue            uint64           `json:"total_due,omitempty"`
}

type HistoryResponse struct {
	Transactions []domain.TransactionRecord `json:"transactions"`
	Total        int                        `json:"total"`
	Limit        int                        `json:"limit"`
	Offset       int                        `json:"offset"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *APIHandler) InitializeReserveHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req InitializeReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	h.runOperation(ctx, w, ledger.OpInitializeReserve, req.Caller, req.Amount, func() (ledger.Receipt, error) {
		return h.ledger.InitializeReserve(ctx, req.Caller, req.Amount)
	})
}

func (h *APIHandler) GetReserveHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	reserve, err := h.ledger.Reserve(ctx)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, ReserveResponse{TotalBalance: reserve.TotalBalance}, http.StatusOK)
}

func (h *APIHandler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	owner := domain.Identity(r.PathValue("identity"))
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	h.runOperation(ctx, w, ledger.OpDeposit, owner, req.Amount, func() (ledger.Receipt, error) {
		return h.ledger.Deposit(ctx, owner, req.Amount)
	})
}

func (h *APIHandler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	owner := domain.Identity(r.PathValue("identity"))
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	h.runOperation(ctx, w, ledger.OpWithdraw, owner, req.Amount, func() (ledger.Receipt, error) {
		return h.ledger.Withdraw(ctx, owner, req.Amount)
	})
}

func (h *APIHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	owner := domain.Identity(r.PathValue("identity"))
	user, err := h.ledger.User(ctx, owner)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, user, http.StatusOK)
}

func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	owner := domain.Identity(r.PathValue("identity"))
	filter, err := historyFilterFromQuery(r)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	transactions, total, err := h.ledger.History(ctx, owner, filter)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, HistoryResponse{
		Transactions: transactions,
		Total:        total,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	}, http.StatusOK)
}

func (h *APIHandler) OpenLoanRecordHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	owner := domain.Identity(r.PathValue("identity"))
	h.runOperation(ctx, w, ledger.OpOpenLoanRecord, owner, 0, func() (ledger.Receipt, error) {
		return h.ledger.OpenLoanRecord(ctx, owner)
	})
}

func (h *APIHandler) RequestLoanHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	owner := domain.Identity(r.PathValue("identity"))
	var req RequestLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	term := time.Duration(req.TermSeconds) * time.Second
	h.runOperation(ctx, w, ledger.OpRequestLoan, owner, req.Amount, func() (ledger.Receipt, error) {
		receipt, err := h.ledger.RequestLoan(ctx, owner, req.Amount, req.InterestRatePercent, term)
		if err == nil && h.metrics != nil {
			h.metrics.LoanOpened()
		}
		return receipt, err
	})
}

func (h *APIHandler) RepayLoanHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	owner := domain.Identity(r.PathValue("identity"))
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	h.runOperation(ctx, w, ledger.OpRepayLoan, owner, req.Amount, func() (ledger.Receipt, error) {
		receipt, err := h.ledger.RepayLoan(ctx, owner, req.Amount)
		if err == nil && h.metrics != nil {
			h.metrics.LoanRepaid()
		}
		return receipt, err
	})
}

func (h *APIHandler) GetLoanHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	owner := domain.Identity(r.PathValue("identity"))
	loan, err := h.ledger.Loan(ctx, owner)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	resp := LoanResponse{
		Owner:               loan.Owner,
		LoanAmount:          loan.LoanAmount,
		InterestRatePercent: loan.InterestRatePercent,
		StartTime:           loan.StartTime,
		EndTime:             loan.EndTime,
		Repaid:              loan.Repaid,
		State:               domain.LoanStateOf(loan),
	}
	if !loan.Repaid {
		if due, err := ledger.TotalDue(loan); err == nil {
			resp.TotalDue = due
		}
	}
	h.sendJSON(w, resp, http.StatusOK)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}
	h.sendJSON(w, response, http.StatusOK)
}

// runOperation applies one ledger operation, records its metrics,
// publishes the audit event, and writes the receipt or the error.
func (h *APIHandler) runOperation(ctx context.Context, w http.ResponseWriter, operation string, owner domain.Identity, amount uint64, apply func() (ledger.Receipt, error)) {
	startTime := time.Now()
	receipt, err := apply()
	duration := time.Since(startTime)

	if h.metrics != nil {
		h.metrics.RecordOperation(operation, duration, err == nil)
	}
	h.publishEvent(ctx, operation, owner, amount, receipt, err)

	if err != nil {
		h.logger.Warn("Ledger operation failed",
			slog.String("operation", operation),
			slog.String("owner", string(owner)),
			slog.String("error", err.Error()))
		h.sendLedgerError(w, err)
		return
	}

	h.updateGauges(ctx, operation, owner)
	h.sendJSON(w, receipt, http.StatusCreated)
}

func (h *APIHandler) publishEvent(ctx context.Context, operation string, owner domain.Identity, amount uint64, receipt ledger.Receipt, opErr error) {
	if h.events == nil {
		return
	}

	event := service.OperationEvent{
		Type:        EventTypeForError(opErr),
		Operation:   operation,
		OperationID: receipt.OperationID,
		Owner:       owner,
		Amount:      amount,
	}
	if opErr != nil {
		event.Reason = opErr.Error()
	}
	if err := h.events.Publish(ctx, event); err != nil {
		h.logger.Warn("Failed to publish operation event",
			slog.String("operation", operation),
			slog.String("error", err.Error()))
	}
}

func EventTypeForError(err error) service.EventType {
	if err != nil {
		return service.EventOperationFailed
	}
	return service.EventOperationCompleted
}

func (h *APIHandler) updateGauges(ctx context.Context, operation string, owner domain.Identity) {
	if h.metrics == nil {
		return
	}
	if reserve, err := h.ledger.Reserve(ctx); err == nil {
		h.metrics.SetReserveBalance(reserve.TotalBalance)
	}
	if operation == ledger.OpDeposit || operation == ledger.OpWithdraw {
		if user, err := h.ledger.User(ctx, owner); err == nil {
			h.metrics.SetUserBalance(string(owner), user.Balance)
		}
	}
}

func historyFilterFromQuery(r *http.Request) (ledger.HistoryFilter, error) {
	filter := ledger.HistoryFilter{}

	switch txnType := r.URL.Query().Get("type"); txnType {
	case "":
	case string(domain.TxnDeposit):
		filter.TxnType = domain.TxnDeposit
	case string(domain.TxnWithdraw):
		filter.TxnType = domain.TxnWithdraw
	default:
		return filter, fmt.Errorf("unknown transaction type %q", txnType)
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = limit
	}
	if filter.Limit == 0 || filter.Limit > maxHistoryPage {
		filter.Limit = maxHistoryPage
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset %q", raw)
		}
		filter.Offset = offset
	}

	return filter, nil
}

// History reads stay bounded even though stored history is unbounded.
const maxHistoryPage = 1000

func (h *APIHandler) sendLedgerError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
		h.logger.Error("Unexpected ledger error", slog.String("error", err.Error()))
	}
	h.sendError(w, message, status, code)
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, repository.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict, "INSUFFICIENT_FUNDS"
	case errors.Is(err, ledger.ErrInsufficientReserve):
		return http.StatusConflict, "INSUFFICIENT_RESERVE"
	case errors.Is(err, ledger.ErrActiveLoanExists):
		return http.StatusConflict, "ACTIVE_LOAN_EXISTS"
	case errors.Is(err, ledger.ErrNoActiveLoan):
		return http.StatusConflict, "NO_ACTIVE_LOAN"
	case errors.Is(err, ledger.ErrInsufficientRepayment):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_REPAYMENT"
	case errors.Is(err, ledger.ErrOverflow):
		return http.StatusBadRequest, "OVERFLOW"
	case errors.Is(err, ledger.ErrPolicyViolation):
		return http.StatusBadRequest, "POLICY_VIOLATION"
	case errors.Is(err, validator.ErrInvalidAmount):
		return http.StatusBadRequest, "INVALID_AMOUNT"
	case errors.Is(err, validator.ErrInvalidIdentity):
		return http.StatusBadRequest, "INVALID_IDENTITY"
	case errors.Is(err, validator.ErrInvalidTerm), errors.Is(err, validator.ErrInvalidRate):
		return http.StatusBadRequest, "INVALID_LOAN_TERMS"
	default:
		return http.StatusInternalServerError, "SERVER_ERROR"
	}
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string) {
	h.sendJSON(w, ErrorResponse{Error: message, Code: code}, statusCode)
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/reserve", h.InitializeReserveHandler)
	mux.HandleFunc("GET /api/v1/reserve", h.GetReserveHandler)
	mux.HandleFunc("GET /api/v1/users/{identity}", h.GetUserHandler)
	mux.HandleFunc("POST /api/v1/users/{identity}/deposits", h.DepositHandler)
	mux.HandleFunc("POST /api/v1/users/{identity}/withdrawals", h.WithdrawHandler)
	mux.HandleFunc("GET /api/v1/users/{identity}/transactions", h.HistoryHandler)
	mux.HandleFunc("POST /api/v1/users/{identity}/loan", h.OpenLoanRecordHandler)
	mux.HandleFunc("GET /api/v1/users/{identity}/loan", h.GetLoanHandler)
	mux.HandleFunc("POST /api/v1/users/{identity}/loan/requests", h.RequestLoanHandler)
	mux.HandleFunc("POST /api/v1/users/{identity}/loan/repayments", h.RepayLoanHandler)
	mux.HandleFunc("GET /api/health", h.HealthCheckHandler)
}

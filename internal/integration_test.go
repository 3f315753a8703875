package internal_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"bankledger/internal/api"
	"bankledger/internal/domain"
	"bankledger/internal/ledger"
	"bankledger/internal/repository/memory"
	"bankledger/internal/service"
	"bankledger/pkg/metrics"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ldg := ledger.New(memory.NewStore(), ledger.DefaultLoanPolicy(), nil, logger)
	metricsCollector := metrics.NewMetricsCollector(logger)
	eventFeed := service.NewEventFeed([]service.EventSink{}, 1, logger)
	handler := api.NewAPIHandler(ldg, metricsCollector, eventFeed, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func getJSON(t *testing.T, url string, dst any) *http.Response {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if dst != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) api.ErrorResponse {
	t.Helper()

	defer resp.Body.Close()
	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return errResp
}

func TestDepositWithdrawFlow(t *testing.T) {
	server := setupTestServer(t)

	resp := postJSON(t, server.URL+"/api/v1/reserve", api.InitializeReserveRequest{Caller: "bank", Amount: 100_000_000_000})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on reserve init, got %d", resp.StatusCode)
	}
	var receipt ledger.Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		t.Fatalf("failed to decode receipt: %v", err)
	}
	resp.Body.Close()
	if receipt.OperationID == "" || receipt.Signature == "" {
		t.Errorf("expected a populated receipt, got %+v", receipt)
	}

	resp = postJSON(t, server.URL+"/api/v1/users/alice/deposits", api.AmountRequest{Amount: 10_000_000})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on deposit, got %d", resp.StatusCode)
	}

	var user domain.UserRecord
	resp = getJSON(t, server.URL+"/api/v1/users/alice", &user)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on get user, got %d", resp.StatusCode)
	}
	if user.Balance != 10_000_000 {
		t.Errorf("expected balance 10_000_000, got %d", user.Balance)
	}

	var reserve api.ReserveResponse
	resp = getJSON(t, server.URL+"/api/v1/reserve", &reserve)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on get reserve, got %d", resp.StatusCode)
	}
	if reserve.TotalBalance != 100_010_000_000 {
		t.Errorf("expected reserve 100_010_000_000, got %d", reserve.TotalBalance)
	}

	resp = postJSON(t, server.URL+"/api/v1/users/alice/withdrawals", api.AmountRequest{Amount: 4_000_000})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on withdraw, got %d", resp.StatusCode)
	}

	getJSON(t, server.URL+"/api/v1/users/alice", &user)
	if user.Balance != 6_000_000 {
		t.Errorf("expected balance 6_000_000 after withdrawal, got %d", user.Balance)
	}
}

func TestWithdrawBeyondBalanceIsRejected(t *testing.T) {
	server := setupTestServer(t)

	postJSON(t, server.URL+"/api/v1/reserve", api.InitializeReserveRequest{Caller: "bank", Amount: 1_000_000}).Body.Close()
	postJSON(t, server.URL+"/api/v1/users/alice/deposits", api.AmountRequest{Amount: 100}).Body.Close()

	resp := postJSON(t, server.URL+"/api/v1/users/alice/withdrawals", api.AmountRequest{Amount: 500})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	errResp := decodeError(t, resp)
	if errResp.Code != "INSUFFICIENT_FUNDS" {
		t.Errorf("expected INSUFFICIENT_FUNDS, got %q", errResp.Code)
	}
}

func TestTransactionHistoryEndpoint(t *testing.T) {
	server := setupTestServer(t)

	postJSON(t, server.URL+"/api/v1/reserve", api.InitializeReserveRequest{Caller: "bank", Amount: 0}).Body.Close()
	postJSON(t, server.URL+"/api/v1/users/alice/deposits", api.AmountRequest{Amount: 100}).Body.Close()
	postJSON(t, server.URL+"/api/v1/users/alice/deposits", api.AmountRequest{Amount: 200}).Body.Close()
	postJSON(t, server.URL+"/api/v1/users/alice/withdrawals", api.AmountRequest{Amount: 50}).Body.Close()

	var history api.HistoryResponse
	resp := getJSON(t, server.URL+"/api/v1/users/alice/transactions", &history)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if history.Total != 3 || len(history.Transactions) != 3 {
		t.Fatalf("expected 3 transactions, got total=%d len=%d", history.Total, len(history.Transactions))
	}

	resp = getJSON(t, server.URL+"/api/v1/users/alice/transactions?type=deposit", &history)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if history.Total != 2 {
		t.Errorf("expected 2 deposits, got %d", history.Total)
	}

	resp = getJSON(t, server.URL+"/api/v1/users/alice/transactions?limit=1&offset=1", &history)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if history.Total != 3 || len(history.Transactions) != 1 || history.Transactions[0].Amount != 200 {
		t.Errorf("unexpected page: %+v", history)
	}

	resp = getJSON(t, server.URL+"/api/v1/users/alice/transactions?type=transfer", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown type, got %d", resp.StatusCode)
	}
}

func TestLoanLifecycle(t *testing.T) {
	server := setupTestServer(t)

	postJSON(t, server.URL+"/api/v1/reserve", api.InitializeReserveRequest{Caller: "bank", Amount: 100_000_000_000}).Body.Close()

	resp := postJSON(t, server.URL+"/api/v1/users/alice/loan", struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on loan record open, got %d", resp.StatusCode)
	}

	var loan api.LoanResponse
	resp = getJSON(t, server.URL+"/api/v1/users/alice/loan", &loan)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if loan.State != domain.LoanStateDormant {
		t.Errorf("expected dormant loan, got %s", loan.State)
	}

	resp = postJSON(t, server.URL+"/api/v1/users/alice/loan/requests", api.RequestLoanRequest{
		Amount:              5_000_000,
		InterestRatePercent: 5,
		TermSeconds:         15 * 24 * 3600,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on loan request, got %d", resp.StatusCode)
	}

	resp = getJSON(t, server.URL+"/api/v1/users/alice/loan", &loan)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if loan.State != domain.LoanStateActive || loan.TotalDue != 5_250_000 {
		t.Errorf("unexpected loan: %+v", loan)
	}

	// A second request during an active loan is refused.
	resp = postJSON(t, server.URL+"/api/v1/users/alice/loan/requests", api.RequestLoanRequest{
		Amount:              1_000,
		InterestRatePercent: 5,
		TermSeconds:         15 * 24 * 3600,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if errResp := decodeError(t, resp); errResp.Code != "ACTIVE_LOAN_EXISTS" {
		t.Errorf("expected ACTIVE_LOAN_EXISTS, got %q", errResp.Code)
	}

	// Short repayment is rejected without closing the loan.
	resp = postJSON(t, server.URL+"/api/v1/users/alice/loan/repayments", api.AmountRequest{Amount: 5_000_000})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if errResp := decodeError(t, resp); errResp.Code != "INSUFFICIENT_REPAYMENT" {
		t.Errorf("expected INSUFFICIENT_REPAYMENT, got %q", errResp.Code)
	}

	resp = postJSON(t, server.URL+"/api/v1/users/alice/loan/repayments", api.AmountRequest{Amount: 5_250_000})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on repayment, got %d", resp.StatusCode)
	}

	resp = getJSON(t, server.URL+"/api/v1/users/alice/loan", &loan)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if loan.State != domain.LoanStateDormant || !loan.Repaid {
		t.Errorf("expected repaid dormant loan, got %+v", loan)
	}
}

func TestUnknownUserReturns404(t *testing.T) {
	server := setupTestServer(t)

	resp := getJSON(t, server.URL+"/api/v1/users/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp = getJSON(t, server.URL+"/api/v1/users/ghost/loan", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestInvalidIdentityIsRejected(t *testing.T) {
	server := setupTestServer(t)

	postJSON(t, server.URL+"/api/v1/reserve", api.InitializeReserveRequest{Caller: "bank", Amount: 1_000}).Body.Close()

	resp := postJSON(t, server.URL+"/api/v1/users/bad%3Bname/deposits", api.AmountRequest{Amount: 100})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if errResp := decodeError(t, resp); errResp.Code != "INVALID_IDENTITY" {
		t.Errorf("expected INVALID_IDENTITY, got %q", errResp.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	server := setupTestServer(t)

	var health map[string]any
	resp := getJSON(t, server.URL+"/api/health", &health)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if health["status"] != "healthy" {
		t.Errorf("unexpected health payload: %v", health)
	}
}

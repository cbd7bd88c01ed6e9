package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/selco13/treasury/infra/rowstore"
	"github.com/selco13/treasury/internal/app/domain/ledger"
	"github.com/selco13/treasury/internal/app/domain/loan"
	"github.com/selco13/treasury/internal/app/storage"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := rowstore.New(rowstore.Config{
		BaseURL:           server.URL,
		MaxRetries:        1,
		RetryAfterDefault: time.Millisecond,
		BackoffBase:       time.Millisecond,
		RequestsPerSecond: 1000,
	}, nil)
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	return New(client, Tables{})
}

func TestStore_CreateAccountRoundTrip(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Write(append(append([]byte("["), body...), ']'))
	})

	acct, err := store.CreateAccount(context.Background(), ledger.Account{
		UserID:  "user1",
		Balance: decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if gotPath != "/accounts" {
		t.Fatalf("path: %s", gotPath)
	}
	if gotBody["user_id"] != "user1" {
		t.Fatalf("user_id in payload: %v", gotBody["user_id"])
	}
	if acct.ID == "" {
		t.Fatal("account ID not assigned")
	}
	if !acct.Balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("balance round trip: %s", acct.Balance)
	}
}

func TestStore_GetAccountByUserNotFound(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := store.GetAccountByUser(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_LoanDateHandling(t *testing.T) {
	var gotBody map[string]any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Write(append(append([]byte("["), body...), ']'))
	})

	// A pending loan has no disbursement date; the column must be absent,
	// not a zero time.
	ln, err := store.CreateLoan(context.Background(), loan.Loan{
		UserID:           "user1",
		Amount:           decimal.NewFromInt(1000),
		Status:           loan.StatusPending,
		RepaymentDueDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if _, present := gotBody["disbursement_date"]; present {
		t.Fatal("zero disbursement date serialized")
	}
	if _, present := gotBody["repayment_due_date"]; !present {
		t.Fatal("due date missing from payload")
	}
	if !ln.DisbursementDate.IsZero() {
		t.Fatalf("disbursement date round trip: %s", ln.DisbursementDate)
	}
	if !ln.RepaymentDueDate.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("due date round trip: %s", ln.RepaymentDueDate)
	}
}

func TestStore_ListTransactionsBuildsFilters(t *testing.T) {
	var gotQuery string
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	})

	_, err := store.ListTransactions(context.Background(), storage.TransactionQuery{
		UserID:   "user1",
		Type:     ledger.TypeDeposit,
		Category: ledger.CategoryBanking,
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := "user_id=eq.user1&type=eq.deposit&category=eq.banking&order=created_at.desc&limit=10"
	if gotQuery != want {
		t.Fatalf("query %q, want %q", gotQuery, want)
	}
}

func TestStore_UpdateLoanTargetsRow(t *testing.T) {
	var gotMethod, gotQuery string
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		w.Write(append(append([]byte("["), body...), ']'))
	})

	_, err := store.UpdateLoan(context.Background(), loan.Loan{
		ID:     "loan1",
		UserID: "user1",
		Amount: decimal.NewFromInt(100),
		Status: loan.StatusActive,
	})
	if err != nil {
		t.Fatalf("update loan: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Fatalf("method: %s", gotMethod)
	}
	if gotQuery != "id=eq.loan1" {
		t.Fatalf("query: %s", gotQuery)
	}
}

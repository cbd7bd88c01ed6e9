package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/selco13/treasury/internal/app/domain/ledger"
	"github.com/selco13/treasury/internal/app/domain/loan"
	"github.com/selco13/treasury/internal/app/storage"
)

func TestStore_Accounts(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetAccountByUser(ctx, "user1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	acct, err := store.CreateAccount(ctx, ledger.Account{UserID: "user1", Balance: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acct.ID == "" || acct.CreatedAt.IsZero() {
		t.Fatal("create did not stamp ID and timestamps")
	}

	if _, err := store.CreateAccount(ctx, ledger.Account{UserID: "user1"}); err == nil {
		t.Fatal("duplicate account allowed")
	}

	acct.Balance = decimal.NewFromInt(250)
	updated, err := store.UpdateAccount(ctx, acct)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Balance.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("balance: %s", updated.Balance)
	}
	if updated.ID != acct.ID {
		t.Fatal("update changed the account ID")
	}

	if _, err := store.UpdateAccount(ctx, ledger.Account{UserID: "ghost"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update missing account: %v", err)
	}
}

func TestStore_TransactionFilters(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := []ledger.Transaction{
		{UserID: "user1", Type: ledger.TypeDeposit, Category: ledger.CategoryBanking, Amount: decimal.NewFromInt(100), CreatedAt: base},
		{UserID: "user1", Type: ledger.TypeTradeProfit, Category: ledger.CategoryIncome, Amount: decimal.NewFromInt(50), CreatedAt: base.AddDate(0, 0, 1)},
		{UserID: "user2", Type: ledger.TypeDeposit, Category: ledger.CategoryBanking, Amount: decimal.NewFromInt(75), CreatedAt: base.AddDate(0, 0, 2)},
	}
	for _, tx := range seed {
		if _, err := store.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	byUser, err := store.ListTransactions(ctx, storage.TransactionQuery{UserID: "user1"})
	if err != nil || len(byUser) != 2 {
		t.Fatalf("by user: %v (%d)", err, len(byUser))
	}
	// Newest first.
	if byUser[0].Type != ledger.TypeTradeProfit {
		t.Fatalf("ordering: first is %s", byUser[0].Type)
	}

	byCategory, err := store.ListTransactions(ctx, storage.TransactionQuery{Category: ledger.CategoryBanking})
	if err != nil || len(byCategory) != 2 {
		t.Fatalf("by category: %v (%d)", err, len(byCategory))
	}

	windowed, err := store.ListTransactions(ctx, storage.TransactionQuery{Start: base.AddDate(0, 0, 1), End: base.AddDate(0, 0, 1)})
	if err != nil || len(windowed) != 1 {
		t.Fatalf("by window: %v (%d)", err, len(windowed))
	}

	limited, err := store.ListTransactions(ctx, storage.TransactionQuery{Limit: 1})
	if err != nil || len(limited) != 1 {
		t.Fatalf("limited: %v (%d)", err, len(limited))
	}
}

func TestStore_TransactionDuplicateID(t *testing.T) {
	store := New()
	ctx := context.Background()

	tx := ledger.Transaction{ID: "tx1", UserID: "user1", Type: ledger.TypeDeposit, Amount: decimal.NewFromInt(10)}
	if _, err := store.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateTransaction(ctx, tx); err == nil {
		t.Fatal("duplicate transaction ID allowed")
	}
}

func TestStore_Loans(t *testing.T) {
	store := New()
	ctx := context.Background()

	ln, err := store.CreateLoan(ctx, loan.Loan{
		UserID:       "user1",
		Amount:       decimal.NewFromInt(1000),
		Status:       loan.StatusPending,
		SecurityTeam: []string{"escort1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ln.Status = loan.StatusApproved
	if _, err := store.UpdateLoan(ctx, ln); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetLoan(ctx, ln.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != loan.StatusApproved {
		t.Fatalf("status: %s", got.Status)
	}

	pending, err := store.ListLoansByStatus(ctx, loan.StatusPending)
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending after approval: %v (%d)", err, len(pending))
	}
	byUser, err := store.ListLoansByUser(ctx, "user1")
	if err != nil || len(byUser) != 1 {
		t.Fatalf("by user: %v (%d)", err, len(byUser))
	}

	if _, err := store.GetLoan(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing loan: %v", err)
	}
}

func TestStore_Budget(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetBudget(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("empty budget: %v", err)
	}

	b, err := store.UpdateBudget(ctx, loan.OrgBudget{
		TotalFunds:     decimal.NewFromInt(100000),
		AllocatedFunds: decimal.NewFromInt(25000),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !b.AvailableFunds().Equal(decimal.NewFromInt(75000)) {
		t.Fatalf("available: %s", b.AvailableFunds())
	}

	got, err := store.GetBudget(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.TotalFunds.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("total: %s", got.TotalFunds)
	}
}

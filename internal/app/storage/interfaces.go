package storage

import (
	"context"
	"errors"
	"time"

	"github.com/selco13/treasury/internal/app/domain/ledger"
	"github.com/selco13/treasury/internal/app/domain/loan"
)

// ErrNotFound is returned when a requested row does not exist. Implementations
// must wrap it so callers can test with errors.Is.
var ErrNotFound = errors.New("not found")

// AccountStore persists member balance accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error)
	UpdateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error)
	GetAccountByUser(ctx context.Context, userID string) (ledger.Account, error)
}

// TransactionQuery filters the transaction log. Zero fields are ignored.
type TransactionQuery struct {
	UserID   string
	Start    time.Time
	End      time.Time
	Type     ledger.TransactionType
	Category ledger.Category
	Limit    int
}

// TransactionStore persists the append-only transaction log.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	// CreateTransactions writes a batch in one remote call. Implementations
	// return an error for the whole batch; callers fall back to per-item
	// writes.
	CreateTransactions(ctx context.Context, txs []ledger.Transaction) ([]ledger.Transaction, error)
	// ListTransactions returns matching transactions newest first.
	ListTransactions(ctx context.Context, q TransactionQuery) ([]ledger.Transaction, error)
}

// LoanStore persists loans.
type LoanStore interface {
	CreateLoan(ctx context.Context, ln loan.Loan) (loan.Loan, error)
	UpdateLoan(ctx context.Context, ln loan.Loan) (loan.Loan, error)
	GetLoan(ctx context.Context, id string) (loan.Loan, error)
	ListLoansByUser(ctx context.Context, userID string) ([]loan.Loan, error)
	ListLoansByStatus(ctx context.Context, status loan.Status) ([]loan.Loan, error)
}

// IncidentStore persists cargo incident reports.
type IncidentStore interface {
	CreateIncident(ctx context.Context, inc loan.CargoIncident) (loan.CargoIncident, error)
	UpdateIncident(ctx context.Context, inc loan.CargoIncident) (loan.CargoIncident, error)
	GetIncident(ctx context.Context, id string) (loan.CargoIncident, error)
	ListIncidentsByLoan(ctx context.Context, loanID string) ([]loan.CargoIncident, error)
}

// BudgetStore persists the singleton org budget row.
type BudgetStore interface {
	GetBudget(ctx context.Context) (loan.OrgBudget, error)
	UpdateBudget(ctx context.Context, b loan.OrgBudget) (loan.OrgBudget, error)
}

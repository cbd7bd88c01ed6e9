package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/selco13/treasury/internal/app/domain/ledger"
	"github.com/selco13/treasury/internal/app/domain/loan"
	"github.com/selco13/treasury/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu             sync.RWMutex
	accounts       map[string]ledger.Account // keyed by user ID
	transactions   []ledger.Transaction
	transactionIDs map[string]struct{}
	loans          map[string]loan.Loan
	incidents      map[string]loan.CargoIncident
	budget         *loan.OrgBudget
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.LoanStore = (*Store)(nil)
var _ storage.IncidentStore = (*Store)(nil)
var _ storage.BudgetStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:       make(map[string]ledger.Account),
		transactionIDs: make(map[string]struct{}),
		loans:          make(map[string]loan.Loan),
		incidents:      make(map[string]loan.CargoIncident),
	}
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.UserID == "" {
		return ledger.Account{}, fmt.Errorf("account user ID is required")
	}
	if _, exists := s.accounts[acct.UserID]; exists {
		return ledger.Account{}, fmt.Errorf("account for user %s already exists", acct.UserID)
	}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[acct.UserID] = acct
	return acct, nil
}

func (s *Store) UpdateAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.UserID]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account for user %s: %w", acct.UserID, storage.ErrNotFound)
	}

	acct.ID = original.ID
	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	s.accounts[acct.UserID] = acct
	return acct, nil
}

func (s *Store) GetAccountByUser(_ context.Context, userID string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account for user %s: %w", userID, storage.ErrNotFound)
	}
	return acct, nil
}

// TransactionStore implementation ---------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTransactionLocked(tx)
}

func (s *Store) CreateTransactions(_ context.Context, txs []ledger.Transaction) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := make([]ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		stored, err := s.createTransactionLocked(tx)
		if err != nil {
			return nil, err
		}
		created = append(created, stored)
	}
	return created, nil
}

func (s *Store) createTransactionLocked(tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if _, dup := s.transactionIDs[tx.ID]; dup {
		return ledger.Transaction{}, fmt.Errorf("transaction %s already exists", tx.ID)
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	s.transactionIDs[tx.ID] = struct{}{}
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, q storage.TransactionQuery) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Transaction, 0)
	for _, tx := range s.transactions {
		if q.UserID != "" && tx.UserID != q.UserID {
			continue
		}
		if !q.Start.IsZero() && tx.CreatedAt.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && tx.CreatedAt.After(q.End) {
			continue
		}
		if q.Type != "" && tx.Type != q.Type {
			continue
		}
		if q.Category != "" && tx.Category != q.Category {
			continue
		}
		result = append(result, tx)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// LoanStore implementation ----------------------------------------------------

func (s *Store) CreateLoan(_ context.Context, ln loan.Loan) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ln.ID == "" {
		ln.ID = uuid.NewString()
	} else if _, exists := s.loans[ln.ID]; exists {
		return loan.Loan{}, fmt.Errorf("loan %s already exists", ln.ID)
	}

	now := time.Now().UTC()
	ln.CreatedAt = now
	ln.UpdatedAt = now
	ln.SecurityTeam = append([]string(nil), ln.SecurityTeam...)

	s.loans[ln.ID] = ln
	return ln, nil
}

func (s *Store) UpdateLoan(_ context.Context, ln loan.Loan) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.loans[ln.ID]
	if !ok {
		return loan.Loan{}, fmt.Errorf("loan %s: %w", ln.ID, storage.ErrNotFound)
	}

	ln.CreatedAt = original.CreatedAt
	ln.UpdatedAt = time.Now().UTC()
	ln.SecurityTeam = append([]string(nil), ln.SecurityTeam...)

	s.loans[ln.ID] = ln
	return ln, nil
}

func (s *Store) GetLoan(_ context.Context, id string) (loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ln, ok := s.loans[id]
	if !ok {
		return loan.Loan{}, fmt.Errorf("loan %s: %w", id, storage.ErrNotFound)
	}
	return ln, nil
}

func (s *Store) ListLoansByUser(_ context.Context, userID string) ([]loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loan.Loan, 0)
	for _, ln := range s.loans {
		if ln.UserID == userID {
			result = append(result, ln)
		}
	}
	sortLoans(result)
	return result, nil
}

func (s *Store) ListLoansByStatus(_ context.Context, status loan.Status) ([]loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loan.Loan, 0)
	for _, ln := range s.loans {
		if ln.Status == status {
			result = append(result, ln)
		}
	}
	sortLoans(result)
	return result, nil
}

func sortLoans(loans []loan.Loan) {
	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].CreatedAt.Before(loans[j].CreatedAt)
	})
}

// IncidentStore implementation ------------------------------------------------

func (s *Store) CreateIncident(_ context.Context, inc loan.CargoIncident) (loan.CargoIncident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inc.ID == "" {
		inc.ID = uuid.NewString()
	} else if _, exists := s.incidents[inc.ID]; exists {
		return loan.CargoIncident{}, fmt.Errorf("incident %s already exists", inc.ID)
	}
	if inc.ReportDate.IsZero() {
		inc.ReportDate = time.Now().UTC()
	}

	s.incidents[inc.ID] = inc
	return inc, nil
}

func (s *Store) UpdateIncident(_ context.Context, inc loan.CargoIncident) (loan.CargoIncident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[inc.ID]; !ok {
		return loan.CargoIncident{}, fmt.Errorf("incident %s: %w", inc.ID, storage.ErrNotFound)
	}
	s.incidents[inc.ID] = inc
	return inc, nil
}

func (s *Store) GetIncident(_ context.Context, id string) (loan.CargoIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return loan.CargoIncident{}, fmt.Errorf("incident %s: %w", id, storage.ErrNotFound)
	}
	return inc, nil
}

func (s *Store) ListIncidentsByLoan(_ context.Context, loanID string) ([]loan.CargoIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loan.CargoIncident, 0)
	for _, inc := range s.incidents {
		if inc.LoanID == loanID {
			result = append(result, inc)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ReportDate.Before(result[j].ReportDate)
	})
	return result, nil
}

// BudgetStore implementation --------------------------------------------------

func (s *Store) GetBudget(_ context.Context) (loan.OrgBudget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.budget == nil {
		return loan.OrgBudget{}, fmt.Errorf("org budget: %w", storage.ErrNotFound)
	}
	return *s.budget, nil
}

func (s *Store) UpdateBudget(_ context.Context, b loan.OrgBudget) (loan.OrgBudget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.LastUpdated = time.Now().UTC()
	s.budget = &b
	return b, nil
}

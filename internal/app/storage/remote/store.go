// Package remote implements the storage interfaces on top of the remote
// tabular store. Table and column identity is configuration here, not part of
// the application's own format.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/selco13/treasury/infra/rowstore"
	"github.com/selco13/treasury/internal/app/domain/ledger"
	"github.com/selco13/treasury/internal/app/domain/loan"
	"github.com/selco13/treasury/internal/app/storage"
)

// Tables names the remote tables backing each entity.
type Tables struct {
	Accounts     string `yaml:"accounts"`
	Transactions string `yaml:"transactions"`
	Loans        string `yaml:"loans"`
	Incidents    string `yaml:"incidents"`
	Budget       string `yaml:"budget"`
}

// DefaultTables returns the conventional table layout.
func DefaultTables() Tables {
	return Tables{
		Accounts:     "accounts",
		Transactions: "transactions",
		Loans:        "loans",
		Incidents:    "incidents",
		Budget:       "org_budget",
	}
}

// Store implements the storage interfaces over the rowstore client.
type Store struct {
	client *rowstore.Client
	tables Tables
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.LoanStore = (*Store)(nil)
var _ storage.IncidentStore = (*Store)(nil)
var _ storage.BudgetStore = (*Store)(nil)

// New constructs a remote-backed store.
func New(client *rowstore.Client, tables Tables) *Store {
	if tables == (Tables{}) {
		tables = DefaultTables()
	}
	return &Store{client: client, tables: tables}
}

// Row DTOs --------------------------------------------------------------------

type accountRow struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (r accountRow) domain() ledger.Account {
	return ledger.Account{
		ID:        r.ID,
		UserID:    r.UserID,
		Balance:   r.Balance,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type transactionRow struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Type         string            `json:"type"`
	Amount       decimal.Decimal   `json:"amount"`
	TargetUserID string            `json:"target_user_id,omitempty"`
	Description  string            `json:"description,omitempty"`
	Status       string            `json:"status"`
	Category     string            `json:"category"`
	SessionID    string            `json:"session_id,omitempty"`
	GoalID       string            `json:"goal_id,omitempty"`
	LoanID       string            `json:"loan_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func transactionToRow(tx ledger.Transaction) transactionRow {
	return transactionRow{
		ID:           tx.ID,
		UserID:       tx.UserID,
		Type:         string(tx.Type),
		Amount:       tx.Amount,
		TargetUserID: tx.TargetUserID,
		Description:  tx.Description,
		Status:       string(tx.Status),
		Category:     string(tx.Category),
		SessionID:    tx.SessionID,
		GoalID:       tx.GoalID,
		LoanID:       tx.LoanID,
		CreatedAt:    tx.CreatedAt,
	}
}

func (r transactionRow) domain() ledger.Transaction {
	return ledger.Transaction{
		ID:           r.ID,
		UserID:       r.UserID,
		Type:         ledger.TransactionType(r.Type),
		Amount:       r.Amount,
		TargetUserID: r.TargetUserID,
		Description:  r.Description,
		Status:       ledger.TransactionStatus(r.Status),
		Category:     ledger.Category(r.Category),
		SessionID:    r.SessionID,
		GoalID:       r.GoalID,
		LoanID:       r.LoanID,
		CreatedAt:    r.CreatedAt,
	}
}

type loanRow struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	Amount             decimal.Decimal `json:"amount"`
	Purpose            string          `json:"purpose,omitempty"`
	Status             string          `json:"status"`
	DisbursementDate   *time.Time      `json:"disbursement_date,omitempty"`
	RepaymentDueDate   *time.Time      `json:"repayment_due_date,omitempty"`
	RepaidAmount       decimal.Decimal `json:"repaid_amount"`
	InterestRate       decimal.Decimal `json:"interest_rate"`
	SecurityTeam       []string        `json:"security_team,omitempty"`
	SecurityPayoutRate decimal.Decimal `json:"security_payout_percentage"`
	TaxWaived          bool            `json:"tax_waived"`
	SecurityFeeWaived  bool            `json:"security_fee_waived"`
	PayoutProcessed    bool            `json:"payout_processed"`
	ApprovedBy         string          `json:"approved_by,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func loanToRow(ln loan.Loan) loanRow {
	row := loanRow{
		ID:                 ln.ID,
		UserID:             ln.UserID,
		Amount:             ln.Amount,
		Purpose:            ln.Purpose,
		Status:             string(ln.Status),
		RepaidAmount:       ln.RepaidAmount,
		InterestRate:       ln.InterestRate,
		SecurityTeam:       ln.SecurityTeam,
		SecurityPayoutRate: ln.SecurityPayoutRate,
		TaxWaived:          ln.TaxWaived,
		SecurityFeeWaived:  ln.SecurityFeeWaived,
		PayoutProcessed:    ln.PayoutProcessed,
		ApprovedBy:         ln.ApprovedBy,
		Notes:              ln.Notes,
		CreatedAt:          ln.CreatedAt,
		UpdatedAt:          ln.UpdatedAt,
	}
	if !ln.DisbursementDate.IsZero() {
		d := ln.DisbursementDate
		row.DisbursementDate = &d
	}
	if !ln.RepaymentDueDate.IsZero() {
		d := ln.RepaymentDueDate
		row.RepaymentDueDate = &d
	}
	return row
}

func (r loanRow) domain() loan.Loan {
	ln := loan.Loan{
		ID:                 r.ID,
		UserID:             r.UserID,
		Amount:             r.Amount,
		Purpose:            r.Purpose,
		Status:             loan.Status(r.Status),
		RepaidAmount:       r.RepaidAmount,
		InterestRate:       r.InterestRate,
		SecurityTeam:       r.SecurityTeam,
		SecurityPayoutRate: r.SecurityPayoutRate,
		TaxWaived:          r.TaxWaived,
		SecurityFeeWaived:  r.SecurityFeeWaived,
		PayoutProcessed:    r.PayoutProcessed,
		ApprovedBy:         r.ApprovedBy,
		Notes:              r.Notes,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.DisbursementDate != nil {
		ln.DisbursementDate = *r.DisbursementDate
	}
	if r.RepaymentDueDate != nil {
		ln.RepaymentDueDate = *r.RepaymentDueDate
	}
	return ln
}

type incidentRow struct {
	ID          string          `json:"id"`
	LoanID      string          `json:"loan_id"`
	UserID      string          `json:"user_id"`
	Description string          `json:"description,omitempty"`
	AmountLost  decimal.Decimal `json:"amount_lost"`
	Location    string          `json:"location,omitempty"`
	Status      string          `json:"status"`
	ReportDate  time.Time       `json:"report_date"`
}

func incidentToRow(inc loan.CargoIncident) incidentRow {
	return incidentRow{
		ID:          inc.ID,
		LoanID:      inc.LoanID,
		UserID:      inc.UserID,
		Description: inc.Description,
		AmountLost:  inc.AmountLost,
		Location:    inc.Location,
		Status:      string(inc.Status),
		ReportDate:  inc.ReportDate,
	}
}

func (r incidentRow) domain() loan.CargoIncident {
	return loan.CargoIncident{
		ID:          r.ID,
		LoanID:      r.LoanID,
		UserID:      r.UserID,
		Description: r.Description,
		AmountLost:  r.AmountLost,
		Location:    r.Location,
		Status:      loan.IncidentStatus(r.Status),
		ReportDate:  r.ReportDate,
	}
}

type budgetRow struct {
	ID             string          `json:"id"`
	TotalFunds     decimal.Decimal `json:"total_funds"`
	AllocatedFunds decimal.Decimal `json:"allocated_funds"`
	LastUpdated    time.Time       `json:"last_updated"`
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	var stored accountRow
	row := accountRow{ID: acct.ID, UserID: acct.UserID, Balance: acct.Balance, CreatedAt: acct.CreatedAt, UpdatedAt: acct.UpdatedAt}
	if err := s.client.CreateRow(ctx, s.tables.Accounts, row, &stored); err != nil {
		return ledger.Account{}, fmt.Errorf("create account: %w", err)
	}
	return stored.domain(), nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	fields := map[string]any{
		"balance":    acct.Balance,
		"updated_at": time.Now().UTC(),
	}
	var stored accountRow
	if err := s.client.UpdateRow(ctx, s.tables.Accounts, acct.ID, fields, &stored); err != nil {
		return ledger.Account{}, fmt.Errorf("update account: %w", err)
	}
	return stored.domain(), nil
}

func (s *Store) GetAccountByUser(ctx context.Context, userID string) (ledger.Account, error) {
	var rows []accountRow
	err := s.client.Table(s.tables.Accounts).Eq("user_id", userID).Limit(1).ExecuteInto(ctx, &rows)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("query account: %w", err)
	}
	if len(rows) == 0 {
		return ledger.Account{}, fmt.Errorf("account for user %s: %w", userID, storage.ErrNotFound)
	}
	return rows[0].domain(), nil
}

// TransactionStore implementation ---------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	var stored transactionRow
	if err := s.client.CreateRow(ctx, s.tables.Transactions, transactionToRow(tx), &stored); err != nil {
		return ledger.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return stored.domain(), nil
}

func (s *Store) CreateTransactions(ctx context.Context, txs []ledger.Transaction) ([]ledger.Transaction, error) {
	rows := make([]transactionRow, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, transactionToRow(tx))
	}
	var stored []transactionRow
	if err := s.client.CreateRow(ctx, s.tables.Transactions, rows, &stored); err != nil {
		return nil, fmt.Errorf("create transaction batch: %w", err)
	}
	out := make([]ledger.Transaction, 0, len(stored))
	for _, row := range stored {
		out = append(out, row.domain())
	}
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, q storage.TransactionQuery) ([]ledger.Transaction, error) {
	query := s.client.Table(s.tables.Transactions)
	if q.UserID != "" {
		query = query.Eq("user_id", q.UserID)
	}
	if !q.Start.IsZero() {
		query = query.Gte("created_at", q.Start.UTC().Format(time.RFC3339))
	}
	if !q.End.IsZero() {
		query = query.Lte("created_at", q.End.UTC().Format(time.RFC3339))
	}
	if q.Type != "" {
		query = query.Eq("type", string(q.Type))
	}
	if q.Category != "" {
		query = query.Eq("category", string(q.Category))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var rows []transactionRow
	if err := query.OrderDesc("created_at").Limit(limit).ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	out := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.domain())
	}
	return out, nil
}

// LoanStore implementation ----------------------------------------------------

func (s *Store) CreateLoan(ctx context.Context, ln loan.Loan) (loan.Loan, error) {
	if ln.ID == "" {
		ln.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ln.CreatedAt = now
	ln.UpdatedAt = now

	var stored loanRow
	if err := s.client.CreateRow(ctx, s.tables.Loans, loanToRow(ln), &stored); err != nil {
		return loan.Loan{}, fmt.Errorf("create loan: %w", err)
	}
	return stored.domain(), nil
}

func (s *Store) UpdateLoan(ctx context.Context, ln loan.Loan) (loan.Loan, error) {
	ln.UpdatedAt = time.Now().UTC()
	var stored loanRow
	if err := s.client.UpdateRow(ctx, s.tables.Loans, ln.ID, loanToRow(ln), &stored); err != nil {
		return loan.Loan{}, fmt.Errorf("update loan: %w", err)
	}
	return stored.domain(), nil
}

func (s *Store) GetLoan(ctx context.Context, id string) (loan.Loan, error) {
	var rows []loanRow
	if err := s.client.Table(s.tables.Loans).Eq("id", id).Limit(1).ExecuteInto(ctx, &rows); err != nil {
		return loan.Loan{}, fmt.Errorf("query loan: %w", err)
	}
	if len(rows) == 0 {
		return loan.Loan{}, fmt.Errorf("loan %s: %w", id, storage.ErrNotFound)
	}
	return rows[0].domain(), nil
}

func (s *Store) ListLoansByUser(ctx context.Context, userID string) ([]loan.Loan, error) {
	var rows []loanRow
	if err := s.client.Table(s.tables.Loans).Eq("user_id", userID).OrderAsc("created_at").ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	return loansFromRows(rows), nil
}

func (s *Store) ListLoansByStatus(ctx context.Context, status loan.Status) ([]loan.Loan, error) {
	var rows []loanRow
	if err := s.client.Table(s.tables.Loans).Eq("status", string(status)).OrderAsc("created_at").ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	return loansFromRows(rows), nil
}

func loansFromRows(rows []loanRow) []loan.Loan {
	out := make([]loan.Loan, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.domain())
	}
	return out
}

// IncidentStore implementation ------------------------------------------------

func (s *Store) CreateIncident(ctx context.Context, inc loan.CargoIncident) (loan.CargoIncident, error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.ReportDate.IsZero() {
		inc.ReportDate = time.Now().UTC()
	}
	var stored incidentRow
	if err := s.client.CreateRow(ctx, s.tables.Incidents, incidentToRow(inc), &stored); err != nil {
		return loan.CargoIncident{}, fmt.Errorf("create incident: %w", err)
	}
	return stored.domain(), nil
}

func (s *Store) UpdateIncident(ctx context.Context, inc loan.CargoIncident) (loan.CargoIncident, error) {
	var stored incidentRow
	if err := s.client.UpdateRow(ctx, s.tables.Incidents, inc.ID, incidentToRow(inc), &stored); err != nil {
		return loan.CargoIncident{}, fmt.Errorf("update incident: %w", err)
	}
	return stored.domain(), nil
}

func (s *Store) GetIncident(ctx context.Context, id string) (loan.CargoIncident, error) {
	var rows []incidentRow
	if err := s.client.Table(s.tables.Incidents).Eq("id", id).Limit(1).ExecuteInto(ctx, &rows); err != nil {
		return loan.CargoIncident{}, fmt.Errorf("query incident: %w", err)
	}
	if len(rows) == 0 {
		return loan.CargoIncident{}, fmt.Errorf("incident %s: %w", id, storage.ErrNotFound)
	}
	return rows[0].domain(), nil
}

func (s *Store) ListIncidentsByLoan(ctx context.Context, loanID string) ([]loan.CargoIncident, error) {
	var rows []incidentRow
	if err := s.client.Table(s.tables.Incidents).Eq("loan_id", loanID).OrderAsc("report_date").ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	out := make([]loan.CargoIncident, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.domain())
	}
	return out, nil
}

// BudgetStore implementation --------------------------------------------------

func (s *Store) GetBudget(ctx context.Context) (loan.OrgBudget, error) {
	var rows []budgetRow
	if err := s.client.Table(s.tables.Budget).Limit(1).ExecuteInto(ctx, &rows); err != nil {
		return loan.OrgBudget{}, fmt.Errorf("query budget: %w", err)
	}
	if len(rows) == 0 {
		return loan.OrgBudget{}, fmt.Errorf("org budget: %w", storage.ErrNotFound)
	}
	r := rows[0]
	return loan.OrgBudget{ID: r.ID, TotalFunds: r.TotalFunds, AllocatedFunds: r.AllocatedFunds, LastUpdated: r.LastUpdated}, nil
}

func (s *Store) UpdateBudget(ctx context.Context, b loan.OrgBudget) (loan.OrgBudget, error) {
	fields := map[string]any{
		"total_funds":     b.TotalFunds,
		"allocated_funds": b.AllocatedFunds,
		"last_updated":    time.Now().UTC(),
	}
	var stored budgetRow
	if err := s.client.UpdateRow(ctx, s.tables.Budget, b.ID, fields, &stored); err != nil {
		return loan.OrgBudget{}, fmt.Errorf("update budget: %w", err)
	}
	return loan.OrgBudget{ID: stored.ID, TotalFunds: stored.TotalFunds, AllocatedFunds: stored.AllocatedFunds, LastUpdated: stored.LastUpdated}, nil
}

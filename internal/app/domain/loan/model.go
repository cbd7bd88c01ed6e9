// Package loan contains the cargo-investment loan state machine and its
// supporting types.
package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is a loan's position in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusDefaulted Status = "defaulted"
)

// Default fee rates applied when a loan is created.
var (
	DefaultInterestRate     = decimal.NewFromFloat(0.10)
	DefaultSecurityPayout   = decimal.NewFromFloat(0.10)
	DefaultOverdueGraceDays = 7
	DefaultReminderDays     = 3
)

// Loan is a cargo-investment loan.
type Loan struct {
	ID                 string
	UserID             string
	Amount             decimal.Decimal
	Purpose            string
	Status             Status
	DisbursementDate   time.Time
	RepaymentDueDate   time.Time
	RepaidAmount       decimal.Decimal
	InterestRate       decimal.Decimal
	SecurityTeam       []string
	SecurityPayoutRate decimal.Decimal
	TaxWaived          bool
	SecurityFeeWaived  bool
	PayoutProcessed    bool
	ApprovedBy         string
	Notes              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TotalDue is the amount the borrower owes: principal plus interest (unless
// waived) plus the security fee (unless waived). Waivers flipped mid-loan
// change the total for subsequent repayments only; amounts already repaid are
// never adjusted retroactively.
func (l Loan) TotalDue() decimal.Decimal {
	due := l.Amount
	if !l.TaxWaived {
		due = due.Add(l.Amount.Mul(l.InterestRate))
	}
	if !l.SecurityFeeWaived {
		due = due.Add(l.Amount.Mul(l.SecurityPayoutRate))
	}
	return due
}

// RemainingDue is TotalDue minus what has been repaid, floored at zero.
func (l Loan) RemainingDue() decimal.Decimal {
	remaining := l.TotalDue().Sub(l.RepaidAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// SecurityPool is the fee pool split across the security team on completion.
func (l Loan) SecurityPool() decimal.Decimal {
	return l.Amount.Mul(l.SecurityPayoutRate)
}

// Repayable reports whether the loan may accept repayments, extensions,
// waivers or an admin default.
func (l Loan) Repayable() bool {
	return l.Status == StatusApproved || l.Status == StatusActive
}

// DaysUntilDue is the number of whole days until the repayment due date,
// negative once overdue.
func (l Loan) DaysUntilDue(now time.Time) int {
	return int(l.RepaymentDueDate.Sub(now).Hours() / 24)
}

// legalTransitions encodes the loan state machine. A transition absent from
// this table is illegal no matter who requests it.
var legalTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusActive, StatusRejected},
	StatusApproved: {StatusActive, StatusCompleted, StatusDefaulted},
	StatusActive:   {StatusCompleted, StatusDefaulted},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IncidentStatus is the review state of a cargo incident report.
type IncidentStatus string

const (
	IncidentPendingReview IncidentStatus = "pending_review"
	IncidentApproved      IncidentStatus = "approved"
	IncidentRejected      IncidentStatus = "rejected"
)

// CargoIncident is a structured loss report tied to a loan. Incidents are
// append-only; review only changes their status.
type CargoIncident struct {
	ID          string
	LoanID      string
	UserID      string
	Description string
	AmountLost  decimal.Decimal
	Location    string
	Status      IncidentStatus
	ReportDate  time.Time
}

// OrgBudget is the single-row organisation budget. AvailableFunds is always
// derived, never stored.
type OrgBudget struct {
	ID             string
	TotalFunds     decimal.Decimal
	AllocatedFunds decimal.Decimal
	LastUpdated    time.Time
}

// AvailableFunds is the unallocated remainder of the budget.
func (b OrgBudget) AvailableFunds() decimal.Decimal {
	return b.TotalFunds.Sub(b.AllocatedFunds)
}

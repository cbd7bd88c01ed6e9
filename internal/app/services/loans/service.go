// Package loans implements the cargo-investment loan lifecycle: application,
// approval, disbursement, repayment, fee waivers, default detection and
// security-team payouts.
package loans

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	ledgerdomain "github.com/selco13/treasury/internal/app/domain/ledger"
	"github.com/selco13/treasury/internal/app/domain/loan"
	"github.com/selco13/treasury/internal/app/metrics"
	"github.com/selco13/treasury/internal/app/notify"
	ledgersvc "github.com/selco13/treasury/internal/app/services/ledger"
	"github.com/selco13/treasury/internal/app/storage"
	"github.com/selco13/treasury/pkg/logger"
)

// Service manages loans and cargo incidents. Loan mutations are serialized by
// a single mutex so the background sweep and manual admin actions cannot
// interleave on the same loan.
type Service struct {
	loans     storage.LoanStore
	incidents storage.IncidentStore
	budget    storage.BudgetStore // optional
	ledger    *ledgersvc.Service
	payout    *PayoutDistributor
	notifier  notify.Notifier
	log       *logger.Logger
	now       func() time.Time

	mu         sync.Mutex
	remindedOn map[string]string // loan ID -> day (2006-01-02) last reminded
}

// New constructs the loan service. The budget store may be nil; notifications
// fall back to the logging sink.
func New(loans storage.LoanStore, incidents storage.IncidentStore, budget storage.BudgetStore, ledger *ledgersvc.Service, notifier notify.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("loans")
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	return &Service{
		loans:      loans,
		incidents:  incidents,
		budget:     budget,
		ledger:     ledger,
		payout:     NewPayoutDistributor(loans, ledger, log),
		notifier:   notifier,
		log:        log,
		now:        time.Now,
		remindedOn: make(map[string]string),
	}
}

// Payout exposes the distributor, mainly for wiring and tests.
func (s *Service) Payout() *PayoutDistributor {
	return s.payout
}

// Apply opens a loan application in the pending state.
func (s *Service) Apply(ctx context.Context, userID string, amount decimal.Decimal, purpose string, securityTeam []string, dueDate time.Time) (loan.Loan, error) {
	if amount.Sign() <= 0 {
		return loan.Loan{}, ErrInvalidAmount
	}
	if len(securityTeam) == 0 {
		return loan.Loan{}, ErrEmptySecurityTeam
	}
	if !dueDate.After(s.now()) {
		return loan.Loan{}, ErrDueDateNotFuture
	}

	ln, err := s.loans.CreateLoan(ctx, loan.Loan{
		UserID:             userID,
		Amount:             amount,
		Purpose:            strings.TrimSpace(purpose),
		Status:             loan.StatusPending,
		RepaymentDueDate:   dueDate.UTC(),
		RepaidAmount:       decimal.Zero,
		InterestRate:       loan.DefaultInterestRate,
		SecurityTeam:       securityTeam,
		SecurityPayoutRate: loan.DefaultSecurityPayout,
	})
	if err != nil {
		return loan.Loan{}, fmt.Errorf("create loan: %w", err)
	}

	s.log.WithFields(map[string]any{
		"loan_id": ln.ID,
		"user_id": userID,
		"amount":  amount.String(),
	}).Info("loan application received")
	return ln, nil
}

// ApproveOptions carries the admin's approval decision.
type ApproveOptions struct {
	DisburseNow       bool
	TaxWaived         bool
	SecurityFeeWaived bool
	Notes             string
}

// Approve moves a pending loan to approved, optionally disbursing funds in
// the same step. Only pending loans may be approved.
func (s *Service) Approve(ctx context.Context, loanID, adminID string, opts ApproveOptions) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if ln.Status != loan.StatusPending {
		return loan.Loan{}, fmt.Errorf("approve loan in state %s: %w", ln.Status, ErrInvalidState)
	}

	ln.Status = loan.StatusApproved
	ln.ApprovedBy = adminID
	ln.TaxWaived = opts.TaxWaived
	ln.SecurityFeeWaived = opts.SecurityFeeWaived
	if notes := strings.TrimSpace(opts.Notes); notes != "" {
		ln.Notes = notes
	}

	event := notify.EventLoanApproved
	if opts.DisburseNow {
		ln, err = s.disburse(ctx, ln)
		if err != nil {
			return loan.Loan{}, err
		}
		event = notify.EventLoanDisbursed
	} else {
		if ln, err = s.loans.UpdateLoan(ctx, ln); err != nil {
			return loan.Loan{}, fmt.Errorf("update loan: %w", err)
		}
		s.allocateBudget(ctx, ln.Amount)
	}
	metrics.RecordLoanTransition(string(ln.Status))

	s.notify(ctx, ln.UserID, notify.Notification{
		Event:   event,
		LoanID:  ln.ID,
		Amount:  ln.Amount,
		DueDate: ln.RepaymentDueDate,
	})
	return ln, nil
}

// Disburse activates an approved loan whose funds were held back at approval
// time: stamps the disbursement date and credits the borrower.
func (s *Service) Disburse(ctx context.Context, loanID string) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if ln.Status != loan.StatusApproved {
		return loan.Loan{}, fmt.Errorf("disburse loan in state %s: %w", ln.Status, ErrInvalidState)
	}

	ln, err = s.disburse(ctx, ln)
	if err != nil {
		return loan.Loan{}, err
	}
	metrics.RecordLoanTransition(string(ln.Status))

	s.notify(ctx, ln.UserID, notify.Notification{
		Event:   notify.EventLoanDisbursed,
		LoanID:  ln.ID,
		Amount:  ln.Amount,
		DueDate: ln.RepaymentDueDate,
	})
	return ln, nil
}

// disburse credits the borrower and activates the loan. The loan row is
// written first; if the credit then fails, the status is rolled back so the
// books never show an active loan whose funds were not paid out.
func (s *Service) disburse(ctx context.Context, ln loan.Loan) (loan.Loan, error) {
	prior := ln.Status
	ln.Status = loan.StatusActive
	ln.DisbursementDate = s.now().UTC()

	ln, err := s.loans.UpdateLoan(ctx, ln)
	if err != nil {
		return loan.Loan{}, fmt.Errorf("update loan: %w", err)
	}

	if _, err := s.ledger.UpdateBalance(ctx, ln.UserID, ledgersvc.Mutation{
		Delta:       ln.Amount,
		Type:        ledgerdomain.TypeLoanDisbursement,
		Description: "loan disbursement: " + ln.Purpose,
		LoanID:      ln.ID,
	}); err != nil {
		ln.Status = prior
		ln.DisbursementDate = time.Time{}
		if _, rbErr := s.loans.UpdateLoan(ctx, ln); rbErr != nil {
			s.log.WithError(rbErr).WithField("loan_id", ln.ID).Error("rollback after failed disbursement also failed")
		}
		return loan.Loan{}, fmt.Errorf("disburse funds: %w", err)
	}

	s.allocateBudget(ctx, ln.Amount)
	return ln, nil
}

// Reject declines a pending application. A reason is required.
func (s *Service) Reject(ctx context.Context, loanID, adminID, reason string) (loan.Loan, error) {
	if strings.TrimSpace(reason) == "" {
		return loan.Loan{}, ErrReasonRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if ln.Status != loan.StatusPending {
		return loan.Loan{}, fmt.Errorf("reject loan in state %s: %w", ln.Status, ErrInvalidState)
	}

	ln.Status = loan.StatusRejected
	ln.ApprovedBy = adminID
	ln.Notes = appendNote(ln.Notes, "rejected: "+reason)
	if ln, err = s.loans.UpdateLoan(ctx, ln); err != nil {
		return loan.Loan{}, fmt.Errorf("update loan: %w", err)
	}
	metrics.RecordLoanTransition(string(ln.Status))

	s.notify(ctx, ln.UserID, notify.Notification{
		Event:  notify.EventLoanRejected,
		LoanID: ln.ID,
		Amount: ln.Amount,
		Reason: reason,
	})
	return ln, nil
}

// Repay applies a repayment to an approved or active loan. Repaying the full
// remaining due completes the loan and triggers the security-team payout
// exactly once.
func (s *Service) Repay(ctx context.Context, loanID string, amount decimal.Decimal) (loan.Loan, error) {
	if amount.Sign() <= 0 {
		return loan.Loan{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if !ln.Repayable() {
		return loan.Loan{}, fmt.Errorf("repay loan in state %s: %w", ln.Status, ErrInvalidState)
	}
	remaining := ln.RemainingDue()
	if amount.GreaterThan(remaining) {
		return loan.Loan{}, fmt.Errorf("repayment %s against remaining %s: %w", amount, remaining, ErrOverpayment)
	}

	if _, err := s.ledger.UpdateBalance(ctx, ln.UserID, ledgersvc.Mutation{
		Delta:       amount.Neg(),
		Type:        ledgerdomain.TypeLoanRepayment,
		Description: "loan repayment",
		LoanID:      ln.ID,
	}); err != nil {
		return loan.Loan{}, fmt.Errorf("debit borrower: %w", err)
	}

	ln.RepaidAmount = ln.RepaidAmount.Add(amount)
	if ln.RemainingDue().IsZero() {
		ln.Status = loan.StatusCompleted
	}

	if ln, err = s.loans.UpdateLoan(ctx, ln); err != nil {
		// The borrower was already debited; put the funds back so the failed
		// repayment is a no-op.
		if _, rbErr := s.ledger.UpdateBalance(ctx, ln.UserID, ledgersvc.Mutation{
			Delta:       amount,
			Type:        ledgerdomain.TypeDeposit,
			Description: "repayment compensation",
			LoanID:      ln.ID,
		}); rbErr != nil {
			s.log.WithError(rbErr).WithField("loan_id", ln.ID).Error("repayment compensation failed; funds in limbo")
		}
		return loan.Loan{}, fmt.Errorf("update loan: %w", err)
	}

	if ln.Status == loan.StatusCompleted {
		metrics.RecordLoanTransition(string(loan.StatusCompleted))
		s.releaseBudget(ctx, ln.Amount)
		ln, err = s.payout.Distribute(ctx, ln)
		if err != nil {
			s.log.WithError(err).WithField("loan_id", ln.ID).Error("security payout distribution failed")
		}
	}
	return ln, nil
}

// WaiveInterest zeroes the interest component of an approved or active loan.
// Amounts already repaid are not adjusted retroactively.
func (s *Service) WaiveInterest(ctx context.Context, loanID string) (loan.Loan, error) {
	return s.setWaiver(ctx, loanID, func(ln *loan.Loan) { ln.TaxWaived = true })
}

// WaiveSecurityFee zeroes the security-fee component of an approved or active
// loan.
func (s *Service) WaiveSecurityFee(ctx context.Context, loanID string) (loan.Loan, error) {
	return s.setWaiver(ctx, loanID, func(ln *loan.Loan) { ln.SecurityFeeWaived = true })
}

func (s *Service) setWaiver(ctx context.Context, loanID string, apply func(*loan.Loan)) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if !ln.Repayable() {
		return loan.Loan{}, fmt.Errorf("waive fees on loan in state %s: %w", ln.Status, ErrInvalidState)
	}

	apply(&ln)
	if ln, err = s.loans.UpdateLoan(ctx, ln); err != nil {
		return loan.Loan{}, fmt.Errorf("update loan: %w", err)
	}
	return ln, nil
}

// ExtendDueDate pushes the repayment due date out by a number of days.
func (s *Service) ExtendDueDate(ctx context.Context, loanID string, days int) (loan.Loan, error) {
	if days <= 0 {
		return loan.Loan{}, fmt.Errorf("extension days must be positive: %w", ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if !ln.Repayable() {
		return loan.Loan{}, fmt.Errorf("extend loan in state %s: %w", ln.Status, ErrInvalidState)
	}
	if ln.RepaymentDueDate.IsZero() {
		return loan.Loan{}, ErrNoDueDate
	}

	ln.RepaymentDueDate = ln.RepaymentDueDate.AddDate(0, 0, days)
	if ln, err = s.loans.UpdateLoan(ctx, ln); err != nil {
		return loan.Loan{}, fmt.Errorf("update loan: %w", err)
	}
	return ln, nil
}

// Default marks an approved or active loan as defaulted by admin action.
func (s *Service) Default(ctx context.Context, loanID, adminID string) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultLocked(ctx, loanID, "defaulted by "+adminID)
}

func (s *Service) defaultLocked(ctx context.Context, loanID, note string) (loan.Loan, error) {
	ln, err := s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if !loan.CanTransition(ln.Status, loan.StatusDefaulted) {
		return loan.Loan{}, fmt.Errorf("default loan in state %s: %w", ln.Status, ErrInvalidState)
	}

	ln.Status = loan.StatusDefaulted
	ln.Notes = appendNote(ln.Notes, note)
	if ln, err = s.loans.UpdateLoan(ctx, ln); err != nil {
		return loan.Loan{}, fmt.Errorf("update loan: %w", err)
	}
	metrics.RecordLoanTransition(string(loan.StatusDefaulted))

	s.notify(ctx, ln.UserID, notify.Notification{
		Event:   notify.EventLoanDefaulted,
		LoanID:  ln.ID,
		Amount:  ln.RemainingDue(),
		DueDate: ln.RepaymentDueDate,
	})
	return ln, nil
}

// Get returns one loan.
func (s *Service) Get(ctx context.Context, loanID string) (loan.Loan, error) {
	return s.loans.GetLoan(ctx, loanID)
}

// ListByUser returns a member's loans, oldest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]loan.Loan, error) {
	return s.loans.ListLoansByUser(ctx, userID)
}

// ReportIncident files a structured cargo-loss report against an approved or
// active loan.
func (s *Service) ReportIncident(ctx context.Context, loanID, userID, description, location string, amountLost decimal.Decimal) (loan.CargoIncident, error) {
	if amountLost.Sign() <= 0 {
		return loan.CargoIncident{}, ErrInvalidAmount
	}

	ln, err := s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return loan.CargoIncident{}, err
	}
	if !ln.Repayable() {
		return loan.CargoIncident{}, fmt.Errorf("report incident on loan in state %s: %w", ln.Status, ErrInvalidState)
	}
	if amountLost.GreaterThan(ln.Amount) {
		return loan.CargoIncident{}, fmt.Errorf("loss %s against loan %s: %w", amountLost, ln.Amount, ErrIncidentExceedsLoan)
	}

	inc, err := s.incidents.CreateIncident(ctx, loan.CargoIncident{
		LoanID:      loanID,
		UserID:      userID,
		Description: strings.TrimSpace(description),
		AmountLost:  amountLost,
		Location:    strings.TrimSpace(location),
		Status:      loan.IncidentPendingReview,
	})
	if err != nil {
		return loan.CargoIncident{}, fmt.Errorf("create incident: %w", err)
	}

	s.log.WithFields(map[string]any{
		"incident_id": inc.ID,
		"loan_id":     loanID,
		"amount_lost": amountLost.String(),
	}).Info("cargo incident reported")
	return inc, nil
}

// ReviewIncident resolves a pending incident report.
func (s *Service) ReviewIncident(ctx context.Context, incidentID string, approved bool) (loan.CargoIncident, error) {
	inc, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return loan.CargoIncident{}, err
	}
	if inc.Status != loan.IncidentPendingReview {
		return loan.CargoIncident{}, fmt.Errorf("review incident in state %s: %w", inc.Status, ErrInvalidState)
	}

	if approved {
		inc.Status = loan.IncidentApproved
	} else {
		inc.Status = loan.IncidentRejected
	}
	if inc, err = s.incidents.UpdateIncident(ctx, inc); err != nil {
		return loan.CargoIncident{}, fmt.Errorf("update incident: %w", err)
	}
	return inc, nil
}

// ListIncidents returns a loan's incident reports, oldest first.
func (s *Service) ListIncidents(ctx context.Context, loanID string) ([]loan.CargoIncident, error) {
	return s.incidents.ListIncidentsByLoan(ctx, loanID)
}

// SweepReport summarizes one overdue sweep.
type SweepReport struct {
	Checked   int
	Reminded  int
	Defaulted int
	Errors    int
}

// SweepOverdue scans active loans for time-based transitions: loans due
// within the reminder window get one reminder per day; loans past the grace
// period are defaulted. Per-loan errors are logged and the sweep continues.
func (s *Service) SweepOverdue(ctx context.Context) (SweepReport, error) {
	start := s.now()
	defer func() { metrics.RecordSweep(time.Since(start)) }()

	active, err := s.loans.ListLoansByStatus(ctx, loan.StatusActive)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list active loans: %w", err)
	}

	var report SweepReport
	now := s.now()
	for _, ln := range active {
		if ln.RepaymentDueDate.IsZero() {
			continue
		}
		report.Checked++

		days := ln.DaysUntilDue(now)
		switch {
		case days < -loan.DefaultOverdueGraceDays:
			s.mu.Lock()
			_, err := s.defaultLocked(ctx, ln.ID, fmt.Sprintf("defaulted by sweep: %d days overdue", -days))
			s.mu.Unlock()
			if err != nil {
				report.Errors++
				s.log.WithError(err).WithField("loan_id", ln.ID).Warn("sweep default failed")
				continue
			}
			report.Defaulted++

		case days <= loan.DefaultReminderDays:
			if !s.shouldRemind(ln.ID, now) {
				continue
			}
			s.notify(ctx, ln.UserID, notify.Notification{
				Event:   notify.EventRepaymentReminder,
				LoanID:  ln.ID,
				Amount:  ln.RemainingDue(),
				DueDate: ln.RepaymentDueDate,
			})
			report.Reminded++
		}
	}

	s.log.WithFields(map[string]any{
		"checked":   report.Checked,
		"reminded":  report.Reminded,
		"defaulted": report.Defaulted,
		"errors":    report.Errors,
	}).Info("overdue sweep finished")
	return report, nil
}

// shouldRemind enforces at most one reminder per loan per day across sweep
// ticks.
func (s *Service) shouldRemind(loanID string, now time.Time) bool {
	day := now.UTC().Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remindedOn[loanID] == day {
		return false
	}
	s.remindedOn[loanID] = day
	return true
}

func (s *Service) notify(ctx context.Context, userID string, n notify.Notification) {
	if err := s.notifier.Notify(ctx, userID, n); err != nil {
		s.log.WithError(err).WithFields(map[string]any{
			"user_id": userID,
			"event":   string(n.Event),
		}).Warn("notification dispatch failed")
	}
}

// allocateBudget reserves loan principal against the org budget. Budget
// tracking is best-effort; failures are logged, never blocking the loan.
func (s *Service) allocateBudget(ctx context.Context, amount decimal.Decimal) {
	s.adjustBudget(ctx, amount)
}

// releaseBudget returns principal to the available pool on loan completion.
func (s *Service) releaseBudget(ctx context.Context, amount decimal.Decimal) {
	s.adjustBudget(ctx, amount.Neg())
}

func (s *Service) adjustBudget(ctx context.Context, delta decimal.Decimal) {
	if s.budget == nil {
		return
	}
	b, err := s.budget.GetBudget(ctx)
	if err != nil {
		s.log.WithError(err).Warn("read org budget failed")
		return
	}
	b.AllocatedFunds = b.AllocatedFunds.Add(delta)
	if b.AllocatedFunds.IsNegative() {
		b.AllocatedFunds = decimal.Zero
	}
	if b.AllocatedFunds.GreaterThan(b.TotalFunds) {
		s.log.WithFields(map[string]any{
			"allocated": b.AllocatedFunds.String(),
			"total":     b.TotalFunds.String(),
		}).Warn("org budget over-allocated")
	}
	if _, err := s.budget.UpdateBudget(ctx, b); err != nil {
		s.log.WithError(err).Warn("update org budget failed")
	}
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}

package loans

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/selco13/treasury/internal/app/cache"
	"github.com/selco13/treasury/internal/app/domain/loan"
	"github.com/selco13/treasury/internal/app/notify"
	ledgersvc "github.com/selco13/treasury/internal/app/services/ledger"
	"github.com/selco13/treasury/internal/app/storage/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// captureNotifier records dispatched notifications for assertions.
type captureNotifier struct {
	users  []string
	events []notify.Notification
}

func (c *captureNotifier) Notify(_ context.Context, userID string, n notify.Notification) error {
	c.users = append(c.users, userID)
	c.events = append(c.events, n)
	return nil
}

func (c *captureNotifier) count(event notify.Event) int {
	n := 0
	for _, e := range c.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	store    *memory.Store
	ledger   *ledgersvc.Service
	loans    *Service
	notifier *captureNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ledgerService := ledgersvc.New(store, ledgersvc.NewRecorder(store, nil), cache.NewBalanceCache(0), nil, nil)
	notifier := &captureNotifier{}
	loanService := New(store, store, nil, ledgerService, notifier, nil)
	return &fixture{store: store, ledger: ledgerService, loans: loanService, notifier: notifier}
}

func (f *fixture) apply(t *testing.T, amount string, team []string) loan.Loan {
	t.Helper()
	ln, err := f.loans.Apply(context.Background(), "borrower", dec(amount), "cargo run", team, time.Now().Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	return ln
}

func TestService_ApplyValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	team := []string{"escort1"}
	future := time.Now().Add(24 * time.Hour)

	if _, err := f.loans.Apply(ctx, "borrower", dec("-10"), "", team, future); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: %v", err)
	}
	if _, err := f.loans.Apply(ctx, "borrower", dec("100"), "", nil, future); !errors.Is(err, ErrEmptySecurityTeam) {
		t.Fatalf("empty team: %v", err)
	}
	if _, err := f.loans.Apply(ctx, "borrower", dec("100"), "", team, time.Now().Add(-time.Hour)); !errors.Is(err, ErrDueDateNotFuture) {
		t.Fatalf("past due date: %v", err)
	}

	ln, err := f.loans.Apply(ctx, "borrower", dec("100"), "run", team, future)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ln.Status != loan.StatusPending {
		t.Fatalf("new loan status: %s", ln.Status)
	}
	if !ln.InterestRate.Equal(loan.DefaultInterestRate) {
		t.Fatalf("interest rate: %s", ln.InterestRate)
	}
}

func TestService_ApproveDisbursesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.apply(t, "1000", []string{"escort1", "escort2"})

	approved, err := f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{DisburseNow: true})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != loan.StatusActive {
		t.Fatalf("status after disburse-now approval: %s", approved.Status)
	}
	if approved.DisbursementDate.IsZero() {
		t.Fatal("disbursement date not stamped")
	}
	if !approved.TotalDue().Equal(dec("1200")) {
		t.Fatalf("total due: %s", approved.TotalDue())
	}

	balance, err := f.ledger.GetBalance(ctx, "borrower")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Equal(dec("1000")) {
		t.Fatalf("borrower not credited: %s", balance)
	}
	if got := f.notifier.count(notify.EventLoanDisbursed); got != 1 {
		t.Fatalf("disbursed notifications: %d", got)
	}
}

func TestService_ApproveThenDisburseLater(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.apply(t, "800", []string{"escort1"})

	approved, err := f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != loan.StatusApproved {
		t.Fatalf("status after approval: %s", approved.Status)
	}

	balance, _ := f.ledger.GetBalance(ctx, "borrower")
	if !balance.IsZero() {
		t.Fatalf("funds released before disbursement: %s", balance)
	}

	active, err := f.loans.Disburse(ctx, ln.ID)
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if active.Status != loan.StatusActive {
		t.Fatalf("status after disbursement: %s", active.Status)
	}
	balance, _ = f.ledger.GetBalance(ctx, "borrower")
	if !balance.Equal(dec("800")) {
		t.Fatalf("borrower balance: %s", balance)
	}
}

func TestService_StateMachineGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.apply(t, "500", []string{"escort1"})

	// Repaying a pending loan is illegal.
	if _, err := f.loans.Repay(ctx, ln.ID, dec("100")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("repay pending: %v", err)
	}

	if _, err := f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{DisburseNow: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// A non-pending loan cannot be approved or rejected.
	if _, err := f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double approve: %v", err)
	}
	if _, err := f.loans.Reject(ctx, ln.ID, "admin", "too late"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reject active: %v", err)
	}
	if _, err := f.loans.Disburse(ctx, ln.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double disburse: %v", err)
	}
}

func TestService_RejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.apply(t, "500", []string{"escort1"})

	if _, err := f.loans.Reject(ctx, ln.ID, "admin", "  "); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("blank reason: %v", err)
	}

	rejected, err := f.loans.Reject(ctx, ln.ID, "admin", "insufficient escort record")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != loan.StatusRejected {
		t.Fatalf("status: %s", rejected.Status)
	}
	if got := f.notifier.count(notify.EventLoanRejected); got != 1 {
		t.Fatalf("rejection notifications: %d", got)
	}
}

func TestService_RepayLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.apply(t, "1000", []string{"escort1", "escort2"})
	if _, err := f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{DisburseNow: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Disbursement gave the borrower 1000; top up to cover the 1200 due.
	if _, err := f.ledger.UpdateBalance(ctx, "borrower", ledgersvc.Mutation{Delta: dec("200")}); err != nil {
		t.Fatalf("top up: %v", err)
	}

	partial, err := f.loans.Repay(ctx, ln.ID, dec("500"))
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if partial.Status != loan.StatusActive {
		t.Fatalf("status after partial repayment: %s", partial.Status)
	}
	if !partial.RemainingDue().Equal(dec("700")) {
		t.Fatalf("remaining due: %s", partial.RemainingDue())
	}

	if _, err := f.loans.Repay(ctx, ln.ID, dec("800")); !errors.Is(err, ErrOverpayment) {
		t.Fatalf("overpayment: %v", err)
	}
	if _, err := f.loans.Repay(ctx, ln.ID, dec("-5")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative repayment: %v", err)
	}

	final, err := f.loans.Repay(ctx, ln.ID, dec("700"))
	if err != nil {
		t.Fatalf("final repay: %v", err)
	}
	if final.Status != loan.StatusCompleted {
		t.Fatalf("status after full repayment: %s", final.Status)
	}
	if !final.PayoutProcessed {
		t.Fatal("payout not processed on completion")
	}

	// Pool is 10% of principal, split evenly across the two escorts.
	for _, escort := range []string{"escort1", "escort2"} {
		balance, err := f.ledger.GetBalance(ctx, escort)
		if err != nil {
			t.Fatalf("escort balance: %v", err)
		}
		if !balance.Equal(dec("50")) {
			t.Fatalf("%s payout: %s", escort, balance)
		}
	}

	borrowerBalance, _ := f.ledger.GetBalance(ctx, "borrower")
	if !borrowerBalance.IsZero() {
		t.Fatalf("borrower balance after settling: %s", borrowerBalance)
	}
}

func TestService_WaiversReduceTotalDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.apply(t, "1000", []string{"escort1"})
	if _, err := f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{DisburseNow: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	withInterestWaived, err := f.loans.WaiveInterest(ctx, ln.ID)
	if err != nil {
		t.Fatalf("waive interest: %v", err)
	}
	if !withInterestWaived.TotalDue().Equal(dec("1100")) {
		t.Fatalf("total due after interest waiver: %s", withInterestWaived.TotalDue())
	}

	bothWaived, err := f.loans.WaiveSecurityFee(ctx, ln.ID)
	if err != nil {
		t.Fatalf("waive security fee: %v", err)
	}
	if !bothWaived.TotalDue().Equal(dec("1000")) {
		t.Fatalf("total due after both waivers: %s", bothWaived.TotalDue())
	}

	// Settling principal only completes the loan; the waived fee pays no one.
	final, err := f.loans.Repay(ctx, ln.ID, dec("1000"))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if final.Status != loan.StatusCompleted {
		t.Fatalf("status: %s", final.Status)
	}
	if !final.PayoutProcessed {
		t.Fatal("waived payout must still be marked processed")
	}
	escortBalance, _ := f.ledger.GetBalance(ctx, "escort1")
	if !escortBalance.IsZero() {
		t.Fatalf("escort paid despite waiver: %s", escortBalance)
	}
}

func TestService_ExtendDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.apply(t, "500", []string{"escort1"})
	if _, err := f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{DisburseNow: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := f.loans.ExtendDueDate(ctx, ln.ID, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero-day extension: %v", err)
	}

	before, _ := f.loans.Get(ctx, ln.ID)
	extended, err := f.loans.ExtendDueDate(ctx, ln.ID, 14)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	want := before.RepaymentDueDate.AddDate(0, 0, 14)
	if !extended.RepaymentDueDate.Equal(want) {
		t.Fatalf("due date %s, want %s", extended.RepaymentDueDate, want)
	}
}

func TestService_AdminDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.apply(t, "500", []string{"escort1"})
	if _, err := f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{DisburseNow: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	defaulted, err := f.loans.Default(ctx, ln.ID, "admin")
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if defaulted.Status != loan.StatusDefaulted {
		t.Fatalf("status: %s", defaulted.Status)
	}
	if got := f.notifier.count(notify.EventLoanDefaulted); got != 1 {
		t.Fatalf("default notifications: %d", got)
	}

	// A defaulted loan is terminal.
	if _, err := f.loans.Default(ctx, ln.ID, "admin"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double default: %v", err)
	}
	if _, err := f.loans.Repay(ctx, ln.ID, dec("10")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("repay defaulted: %v", err)
	}
}

func TestService_Incidents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.apply(t, "1000", []string{"escort1"})
	if _, err := f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{DisburseNow: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := f.loans.ReportIncident(ctx, ln.ID, "borrower", "ambushed", "Stanton", dec("1500")); !errors.Is(err, ErrIncidentExceedsLoan) {
		t.Fatalf("oversized loss: %v", err)
	}

	inc, err := f.loans.ReportIncident(ctx, ln.ID, "borrower", "ambushed at jump point", "Stanton", dec("400"))
	if err != nil {
		t.Fatalf("report incident: %v", err)
	}
	if inc.Status != loan.IncidentPendingReview {
		t.Fatalf("incident status: %s", inc.Status)
	}

	reviewed, err := f.loans.ReviewIncident(ctx, inc.ID, true)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != loan.IncidentApproved {
		t.Fatalf("reviewed status: %s", reviewed.Status)
	}

	// Review is single-shot.
	if _, err := f.loans.ReviewIncident(ctx, inc.ID, false); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double review: %v", err)
	}

	list, err := f.loans.ListIncidents(ctx, ln.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("list incidents: %v (%d)", err, len(list))
	}
}

// activeLoanDue creates an active loan and rewrites its due date directly in
// the store, bypassing the future-date application check.
func (f *fixture) activeLoanDue(t *testing.T, userID string, due time.Time) loan.Loan {
	t.Helper()
	ctx := context.Background()
	ln, err := f.loans.Apply(ctx, userID, dec("1000"), "cargo run", []string{"escort1"}, time.Now().Add(90*24*time.Hour))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{DisburseNow: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	stored, err := f.store.GetLoan(ctx, ln.ID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	stored.RepaymentDueDate = due
	if stored, err = f.store.UpdateLoan(ctx, stored); err != nil {
		t.Fatalf("set due date: %v", err)
	}
	return stored
}

func TestService_SweepOverdue(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.loans.now = func() time.Time { return now }

	overdue := f.activeLoanDue(t, "late", now.AddDate(0, 0, -8))
	dueSoon := f.activeLoanDue(t, "soon", now.AddDate(0, 0, 2))
	comfortable := f.activeLoanDue(t, "early", now.AddDate(0, 0, 30))

	report, err := f.loans.SweepOverdue(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Checked != 3 {
		t.Fatalf("checked: %d", report.Checked)
	}
	if report.Defaulted != 1 || report.Reminded != 1 {
		t.Fatalf("defaulted/reminded: %d/%d", report.Defaulted, report.Reminded)
	}

	ln, _ := f.loans.Get(context.Background(), overdue.ID)
	if ln.Status != loan.StatusDefaulted {
		t.Fatalf("overdue loan status: %s", ln.Status)
	}
	ln, _ = f.loans.Get(context.Background(), dueSoon.ID)
	if ln.Status != loan.StatusActive {
		t.Fatalf("due-soon loan status: %s", ln.Status)
	}
	ln, _ = f.loans.Get(context.Background(), comfortable.ID)
	if ln.Status != loan.StatusActive {
		t.Fatalf("comfortable loan status: %s", ln.Status)
	}

	// A second sweep on the same day must not repeat the reminder.
	report, err = f.loans.SweepOverdue(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.Reminded != 0 {
		t.Fatalf("duplicate reminder: %d", report.Reminded)
	}

	// The next day it reminds again.
	now = now.AddDate(0, 0, 1)
	report, err = f.loans.SweepOverdue(context.Background())
	if err != nil {
		t.Fatalf("third sweep: %v", err)
	}
	if report.Reminded != 1 {
		t.Fatalf("next-day reminder: %d", report.Reminded)
	}

	if got := f.notifier.count(notify.EventRepaymentReminder); got != 2 {
		t.Fatalf("reminder notifications: %d", got)
	}
	if got := f.notifier.count(notify.EventLoanDefaulted); got != 1 {
		t.Fatalf("default notifications: %d", got)
	}
}

func TestService_SweepGraceWindow(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.loans.now = func() time.Time { return now }

	// Exactly at the grace boundary the loan survives; one day past it does
	// not.
	inGrace := f.activeLoanDue(t, "grace", now.AddDate(0, 0, -7))

	report, err := f.loans.SweepOverdue(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Defaulted != 0 {
		t.Fatalf("loan inside grace period defaulted: %d", report.Defaulted)
	}

	ln, _ := f.loans.Get(context.Background(), inGrace.ID)
	if ln.Status != loan.StatusActive {
		t.Fatalf("status inside grace: %s", ln.Status)
	}
}

package loans

import "errors"

var (
	// ErrInvalidAmount is returned for zero or negative loan amounts.
	ErrInvalidAmount = errors.New("loan amount must be positive")

	// ErrInvalidState is returned when an operation is illegal for the
	// loan's current status.
	ErrInvalidState = errors.New("operation not allowed in current loan state")

	// ErrEmptySecurityTeam is returned when a loan application names no
	// security escort.
	ErrEmptySecurityTeam = errors.New("security team must not be empty")

	// ErrDueDateNotFuture is returned when the requested repayment date is
	// not in the future.
	ErrDueDateNotFuture = errors.New("repayment due date must be in the future")

	// ErrReasonRequired is returned when a rejection carries no reason.
	ErrReasonRequired = errors.New("rejection reason is required")

	// ErrOverpayment is returned when a repayment exceeds the remaining due.
	ErrOverpayment = errors.New("repayment exceeds remaining amount due")

	// ErrNoDueDate is returned when extending a loan without a due date.
	ErrNoDueDate = errors.New("loan has no repayment due date to extend")

	// ErrIncidentExceedsLoan is returned when a reported cargo loss is
	// larger than the loan principal.
	ErrIncidentExceedsLoan = errors.New("reported loss exceeds loan amount")
)

package ledger

import "errors"

// Validation failures are rejected before any mutation and are never retried.
var (
	// ErrInvalidAmount is returned for zero or negative operation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds is returned when a debit would take a balance
	// below zero. No write is performed.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnknownTransactionType is returned for a type outside the enum.
	ErrUnknownTransactionType = errors.New("unknown transaction type")

	// ErrSelfTransfer is returned when sender and recipient are the same.
	ErrSelfTransfer = errors.New("cannot transfer to the same account")

	// ErrCompensationFailed means a transfer debited the sender, failed to
	// credit the recipient, and then failed to re-credit the sender. Funds
	// are in limbo and require manual reconciliation.
	ErrCompensationFailed = errors.New("transfer compensation failed; funds require manual reconciliation")
)

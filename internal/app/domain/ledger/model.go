// Package ledger contains the core balance and transaction types.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account tracks a member's aUEC balance. Accounts are provisioned lazily on
// first balance read and are never deleted. Balance is non-negative after any
// committed operation.
type Account struct {
	ID        string
	UserID    string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionType is the business reason for a balance movement.
type TransactionType string

const (
	TypeDeposit          TransactionType = "deposit"
	TypeWithdraw         TransactionType = "withdraw"
	TypeTransferOut      TransactionType = "transfer_out"
	TypeTransferIn       TransactionType = "transfer_in"
	TypeTradeProfit      TransactionType = "trade_profit"
	TypeMiningProfit     TransactionType = "mining_profit"
	TypeMissionReward    TransactionType = "mission_reward"
	TypeBountyReward     TransactionType = "bounty_reward"
	TypeRefineryProfit   TransactionType = "refinery_profit"
	TypeTransportProfit  TransactionType = "transport_profit"
	TypeVCPayout         TransactionType = "vc_payout"
	TypeLoanDisbursement TransactionType = "loan_disbursement"
	TypeLoanRepayment    TransactionType = "loan_repayment"
	TypeSecurityPayout   TransactionType = "security_payout"
	TypeOrgDonation      TransactionType = "org_donation"
	TypeProjectFunding   TransactionType = "project_funding"
)

// Category groups transaction types for reporting.
type Category string

const (
	CategoryBanking  Category = "banking"
	CategoryTransfer Category = "transfer"
	CategoryIncome   Category = "income"
	CategoryLoan     Category = "loan"
	CategorySecurity Category = "security"
	CategoryOrg      Category = "org"
)

// categoryByType maps each transaction type to its default category. Callers
// may still override the category per transaction.
var categoryByType = map[TransactionType]Category{
	TypeDeposit:          CategoryBanking,
	TypeWithdraw:         CategoryBanking,
	TypeTransferOut:      CategoryTransfer,
	TypeTransferIn:       CategoryTransfer,
	TypeTradeProfit:      CategoryIncome,
	TypeMiningProfit:     CategoryIncome,
	TypeMissionReward:    CategoryIncome,
	TypeBountyReward:     CategoryIncome,
	TypeRefineryProfit:   CategoryIncome,
	TypeTransportProfit:  CategoryIncome,
	TypeVCPayout:         CategoryIncome,
	TypeLoanDisbursement: CategoryLoan,
	TypeLoanRepayment:    CategoryLoan,
	TypeSecurityPayout:   CategorySecurity,
	TypeOrgDonation:      CategoryOrg,
	TypeProjectFunding:   CategoryOrg,
}

// CategoryFor returns the default category for a transaction type. Unknown
// types fall back to the banking category.
func CategoryFor(t TransactionType) Category {
	if c, ok := categoryByType[t]; ok {
		return c
	}
	return CategoryBanking
}

// ValidType reports whether t is a known transaction type.
func ValidType(t TransactionType) bool {
	_, ok := categoryByType[t]
	return ok
}

// TransactionStatus records the durability of a transaction row.
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	StatusPending   TransactionStatus = "pending"
	StatusFailed    TransactionStatus = "failed"
)

// Transaction is one immutable row in the append-only transaction log. The
// sign of Amount encodes direction: credits are positive, debits negative.
type Transaction struct {
	ID           string
	UserID       string
	Type         TransactionType
	Amount       decimal.Decimal
	TargetUserID string
	Description  string
	Status       TransactionStatus
	Category     Category
	SessionID    string
	GoalID       string
	LoanID       string
	CreatedAt    time.Time
}

// Stats aggregates a user's transaction history over a window.
type Stats struct {
	TransactionCount int
	TotalIn          decimal.Decimal
	TotalOut         decimal.Decimal
	NetChange        decimal.Decimal
	ByCategory       map[Category]CategoryStats
	ByType           map[TransactionType]CategoryStats
	Largest          decimal.Decimal
	Smallest         decimal.Decimal
	Average          decimal.Decimal
	FirstAt          time.Time
	LastAt           time.Time
}

// CategoryStats is a per-bucket total and count.
type CategoryStats struct {
	Total decimal.Decimal
	Count int
}

// EmptyStats returns a zero-valued Stats so empty result sets aggregate
// cleanly instead of erroring.
func EmptyStats() Stats {
	return Stats{
		TotalIn:    decimal.Zero,
		TotalOut:   decimal.Zero,
		NetChange:  decimal.Zero,
		ByCategory: make(map[Category]CategoryStats),
		ByType:     make(map[TransactionType]CategoryStats),
		Largest:    decimal.Zero,
		Smallest:   decimal.Zero,
		Average:    decimal.Zero,
	}
}

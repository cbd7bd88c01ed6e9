// Package ledger implements balance reads and writes, transfers with
// compensating rollback, and the append-only transaction recorder.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/selco13/treasury/internal/app/cache"
	domain "github.com/selco13/treasury/internal/app/domain/ledger"
	"github.com/selco13/treasury/internal/app/metrics"
	"github.com/selco13/treasury/internal/app/storage"
	"github.com/selco13/treasury/pkg/logger"
)

// limitedWindow is how long after a remote rate-limit event optimistic
// account provisioning is skipped.
const limitedWindow = time.Minute

// RateLimitTracker reports whether the remote store throttled us recently.
// The rowstore client satisfies it.
type RateLimitTracker interface {
	LimitedRecently(window time.Duration) bool
}

// Mutation describes one balance change and how it is logged. The transaction
// type is inferred from the sign of Delta when empty: credits become deposits,
// debits become withdrawals.
type Mutation struct {
	Delta        decimal.Decimal
	Type         domain.TransactionType
	Description  string
	TargetUserID string
	SessionID    string
	GoalID       string
	LoanID       string
}

// Service is the ledger: the single enforcement point for the non-negative
// balance invariant. Mutations on the same account are serialized by a
// per-account mutex; different accounts proceed in parallel.
type Service struct {
	accounts storage.AccountStore
	recorder *Recorder
	balances *cache.BalanceCache
	limits   RateLimitTracker
	log      *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs the ledger service. The recorder and cache are required; the
// rate-limit tracker may be nil.
func New(accounts storage.AccountStore, recorder *Recorder, balances *cache.BalanceCache, limits RateLimitTracker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		accounts: accounts,
		recorder: recorder,
		balances: balances,
		limits:   limits,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
	}
}

// accountLock returns the mutex serializing operations on one account.
func (s *Service) accountLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// GetBalance returns a member's balance, provisioning a zero-balance account
// on first read. Cache hits skip the remote store entirely.
func (s *Service) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if balance, ok := s.balances.Get(userID); ok {
		return balance, nil
	}

	acct, err := s.fetchOrProvision(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	s.balances.Set(userID, acct.Balance)
	return acct.Balance, nil
}

// fetchOrProvision loads the account row, creating it lazily when missing.
// Provisioning is skipped while the store is known to be rate limiting so the
// optimistic write does not burn the retry budget.
func (s *Service) fetchOrProvision(ctx context.Context, userID string) (domain.Account, error) {
	acct, err := s.accounts.GetAccountByUser(ctx, userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.Account{}, err
	}

	if s.limits != nil && s.limits.LimitedRecently(limitedWindow) {
		s.log.WithField("user_id", userID).Debug("store rate limited; deferring account provisioning")
		return domain.Account{UserID: userID, Balance: decimal.Zero}, nil
	}

	acct, err = s.accounts.CreateAccount(ctx, domain.Account{UserID: userID, Balance: decimal.Zero})
	if err != nil {
		return domain.Account{}, fmt.Errorf("provision account: %w", err)
	}
	s.log.WithField("user_id", userID).Info("account provisioned")
	return acct, nil
}

// UpdateBalance applies a signed delta to a member's balance and logs exactly
// one transaction for the committed mutation. A delta that would take the
// balance negative is rejected before any write.
func (s *Service) UpdateBalance(ctx context.Context, userID string, mut Mutation) (decimal.Decimal, error) {
	lock := s.accountLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return s.updateLocked(ctx, userID, mut)
}

// updateLocked is UpdateBalance without lock acquisition; Transfer holds both
// account locks up front.
func (s *Service) updateLocked(ctx context.Context, userID string, mut Mutation) (decimal.Decimal, error) {
	if mut.Delta.IsZero() {
		metrics.RecordLedgerOperation("update_balance", false)
		return decimal.Zero, fmt.Errorf("balance delta: %w", ErrInvalidAmount)
	}
	if mut.Type != "" && !domain.ValidType(mut.Type) {
		metrics.RecordLedgerOperation("update_balance", false)
		return decimal.Zero, fmt.Errorf("type %q: %w", mut.Type, ErrUnknownTransactionType)
	}

	acct, err := s.fetchOrProvision(ctx, userID)
	if err != nil {
		metrics.RecordLedgerOperation("update_balance", false)
		return decimal.Zero, err
	}
	if acct.ID == "" {
		// Provisioning was deferred during a rate-limited window; nothing to
		// mutate yet.
		metrics.RecordLedgerOperation("update_balance", false)
		return decimal.Zero, fmt.Errorf("account for user %s not yet provisioned: %w", userID, storage.ErrNotFound)
	}

	newBalance := acct.Balance.Add(mut.Delta)
	if newBalance.IsNegative() {
		metrics.RecordLedgerOperation("update_balance", false)
		return decimal.Zero, fmt.Errorf("balance %s with delta %s: %w", acct.Balance, mut.Delta, ErrInsufficientFunds)
	}

	acct.Balance = newBalance
	if _, err := s.accounts.UpdateAccount(ctx, acct); err != nil {
		metrics.RecordLedgerOperation("update_balance", false)
		s.balances.Invalidate(userID)
		return decimal.Zero, fmt.Errorf("write balance: %w", err)
	}
	s.balances.Set(userID, newBalance)
	metrics.RecordLedgerOperation("update_balance", true)

	s.recordMutation(ctx, userID, mut)
	return newBalance, nil
}

// recordMutation pairs the committed balance write with one transaction row.
// A failed record is logged and counted, never surfaced: the balance is
// already durable and the caller's operation succeeded.
func (s *Service) recordMutation(ctx context.Context, userID string, mut Mutation) {
	txType := mut.Type
	if txType == "" {
		if mut.Delta.IsNegative() {
			txType = domain.TypeWithdraw
		} else {
			txType = domain.TypeDeposit
		}
	}

	_, err := s.recorder.Record(ctx, Record{
		UserID:       userID,
		Type:         txType,
		Amount:       mut.Delta,
		TargetUserID: mut.TargetUserID,
		Description:  mut.Description,
		SessionID:    mut.SessionID,
		GoalID:       mut.GoalID,
		LoanID:       mut.LoanID,
	})
	if err != nil {
		metrics.RecordUnrecordedMutation()
		s.log.WithError(err).WithFields(map[string]any{
			"user_id": userID,
			"delta":   mut.Delta.String(),
			"type":    string(txType),
		}).Error("balance mutated but transaction record failed; reconciliation required")
	}
}

// Transfer moves amount from one member to another. The debit and credit are
// not atomic against the remote store: a failed credit is compensated by
// re-crediting the sender, so a failed transfer is a no-op from the sender's
// perspective. A failed compensation is fatal and logged for manual
// reconciliation.
func (s *Service) Transfer(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, description string) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount: %w", ErrInvalidAmount)
	}
	if fromUserID == toUserID {
		return ErrSelfTransfer
	}

	// Both locks are taken in a stable order so concurrent opposing
	// transfers cannot deadlock.
	first, second := fromUserID, toUserID
	if second < first {
		first, second = second, first
	}
	firstLock, secondLock := s.accountLock(first), s.accountLock(second)
	firstLock.Lock()
	defer firstLock.Unlock()
	secondLock.Lock()
	defer secondLock.Unlock()

	if _, err := s.updateLocked(ctx, fromUserID, Mutation{
		Delta:        amount.Neg(),
		Type:         domain.TypeTransferOut,
		Description:  description,
		TargetUserID: toUserID,
	}); err != nil {
		metrics.RecordLedgerOperation("transfer", false)
		return fmt.Errorf("debit sender: %w", err)
	}

	if _, err := s.updateLocked(ctx, toUserID, Mutation{
		Delta:        amount,
		Type:         domain.TypeTransferIn,
		Description:  description,
		TargetUserID: fromUserID,
	}); err != nil {
		creditErr := err
		if _, compErr := s.updateLocked(ctx, fromUserID, Mutation{
			Delta:       amount,
			Type:        domain.TypeTransferIn,
			Description: "transfer compensation: " + description,
		}); compErr != nil {
			metrics.RecordLedgerOperation("transfer", false)
			s.log.WithError(compErr).WithFields(map[string]any{
				"from":   fromUserID,
				"to":     toUserID,
				"amount": amount.String(),
			}).Error("transfer compensation failed; funds in limbo")
			return fmt.Errorf("%w: credit failed (%v), compensation failed (%v)", ErrCompensationFailed, creditErr, compErr)
		}
		metrics.RecordLedgerOperation("transfer", false)
		return fmt.Errorf("credit recipient: %w", creditErr)
	}

	metrics.RecordLedgerOperation("transfer", true)
	return nil
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "github.com/selco13/treasury/internal/app/domain/ledger"
	"github.com/selco13/treasury/internal/app/storage"
	"github.com/selco13/treasury/pkg/logger"
)

// Record describes one transaction to append to the log.
type Record struct {
	UserID       string
	Type         domain.TransactionType
	Amount       decimal.Decimal
	TargetUserID string
	Description  string
	Status       domain.TransactionStatus // defaults to completed
	Category     domain.Category          // inferred from Type when empty
	SessionID    string
	GoalID       string
	LoanID       string
}

// Recorder appends to and reads from the transaction log.
type Recorder struct {
	store storage.TransactionStore
	log   *logger.Logger
}

// NewRecorder constructs a transaction recorder.
func NewRecorder(store storage.TransactionStore, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewDefault("recorder")
	}
	return &Recorder{store: store, log: log}
}

// build validates a record and turns it into a transaction with a fresh ID.
func (r *Recorder) build(rec Record) (domain.Transaction, error) {
	if rec.UserID == "" {
		return domain.Transaction{}, fmt.Errorf("transaction user ID is required")
	}
	if !domain.ValidType(rec.Type) {
		return domain.Transaction{}, fmt.Errorf("type %q: %w", rec.Type, ErrUnknownTransactionType)
	}
	if rec.Status == "" {
		rec.Status = domain.StatusCompleted
	}
	if rec.Category == "" {
		rec.Category = domain.CategoryFor(rec.Type)
	}

	return domain.Transaction{
		ID:           uuid.NewString(),
		UserID:       rec.UserID,
		Type:         rec.Type,
		Amount:       rec.Amount,
		TargetUserID: rec.TargetUserID,
		Description:  rec.Description,
		Status:       rec.Status,
		Category:     rec.Category,
		SessionID:    rec.SessionID,
		GoalID:       rec.GoalID,
		LoanID:       rec.LoanID,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Record appends one transaction and returns its ID.
func (r *Recorder) Record(ctx context.Context, rec Record) (string, error) {
	tx, err := r.build(rec)
	if err != nil {
		return "", err
	}
	stored, err := r.store.CreateTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("record transaction: %w", err)
	}
	return stored.ID, nil
}

// RecordBatch attempts one batched write; on batch failure it falls back to
// recording each transaction individually so partial successes stay durable.
// The returned slice is positional: a failed item has an empty ID and its
// error is joined into the returned error.
func (r *Recorder) RecordBatch(ctx context.Context, recs []Record) ([]string, error) {
	txs := make([]domain.Transaction, 0, len(recs))
	ids := make([]string, len(recs))

	var buildErrs []error
	valid := make([]int, 0, len(recs))
	for i, rec := range recs {
		tx, err := r.build(rec)
		if err != nil {
			buildErrs = append(buildErrs, fmt.Errorf("batch item %d: %w", i, err))
			continue
		}
		txs = append(txs, tx)
		valid = append(valid, i)
	}

	if len(txs) > 0 {
		stored, err := r.store.CreateTransactions(ctx, txs)
		if err == nil {
			for j, tx := range stored {
				ids[valid[j]] = tx.ID
			}
			return ids, errors.Join(buildErrs...)
		}

		r.log.WithError(err).Warn("batch transaction write failed; falling back to individual writes")
		for j, tx := range txs {
			stored, itemErr := r.store.CreateTransaction(ctx, tx)
			if itemErr != nil {
				buildErrs = append(buildErrs, fmt.Errorf("batch item %d: %w", valid[j], itemErr))
				continue
			}
			ids[valid[j]] = stored.ID
		}
	}

	return ids, errors.Join(buildErrs...)
}

// Query returns a user's transactions newest first, capped at 100 unless the
// query narrows it further.
func (r *Recorder) Query(ctx context.Context, q storage.TransactionQuery) ([]domain.Transaction, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	return r.store.ListTransactions(ctx, q)
}

// Aggregate computes summary statistics for a user's transactions in a
// window. An empty result aggregates to zeros, never an error.
func (r *Recorder) Aggregate(ctx context.Context, userID string, start, end time.Time) (domain.Stats, error) {
	txs, err := r.store.ListTransactions(ctx, storage.TransactionQuery{
		UserID: userID,
		Start:  start,
		End:    end,
	})
	if err != nil {
		return domain.Stats{}, fmt.Errorf("aggregate transactions: %w", err)
	}

	stats := domain.EmptyStats()
	if len(txs) == 0 {
		return stats, nil
	}

	var sum decimal.Decimal
	for i, tx := range txs {
		stats.TransactionCount++
		if tx.Amount.Sign() >= 0 {
			stats.TotalIn = stats.TotalIn.Add(tx.Amount)
		} else {
			stats.TotalOut = stats.TotalOut.Add(tx.Amount.Abs())
		}
		sum = sum.Add(tx.Amount)

		cat := stats.ByCategory[tx.Category]
		cat.Total = cat.Total.Add(tx.Amount)
		cat.Count++
		stats.ByCategory[tx.Category] = cat

		byType := stats.ByType[tx.Type]
		byType.Total = byType.Total.Add(tx.Amount)
		byType.Count++
		stats.ByType[tx.Type] = byType

		abs := tx.Amount.Abs()
		if i == 0 {
			stats.Largest = abs
			stats.Smallest = abs
			stats.FirstAt = tx.CreatedAt
			stats.LastAt = tx.CreatedAt
			continue
		}
		if abs.GreaterThan(stats.Largest) {
			stats.Largest = abs
		}
		if abs.LessThan(stats.Smallest) {
			stats.Smallest = abs
		}
		if tx.CreatedAt.Before(stats.FirstAt) {
			stats.FirstAt = tx.CreatedAt
		}
		if tx.CreatedAt.After(stats.LastAt) {
			stats.LastAt = tx.CreatedAt
		}
	}

	stats.NetChange = sum
	stats.Average = sum.Div(decimal.NewFromInt(int64(len(txs)))).Round(2)
	return stats, nil
}

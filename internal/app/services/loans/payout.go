package loans

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	ledgerdomain "github.com/selco13/treasury/internal/app/domain/ledger"
	"github.com/selco13/treasury/internal/app/domain/loan"
	ledgersvc "github.com/selco13/treasury/internal/app/services/ledger"
	"github.com/selco13/treasury/internal/app/storage"
	"github.com/selco13/treasury/pkg/logger"
)

// PayoutDistributor splits a completed loan's security-fee pool across the
// security team. A loan is paid out at most once: the processed flag is
// persisted before any member is credited, so a crash mid-distribution can
// lose payouts but never double them.
type PayoutDistributor struct {
	loans  storage.LoanStore
	ledger *ledgersvc.Service
	log    *logger.Logger
}

// NewPayoutDistributor constructs a distributor over the given stores.
func NewPayoutDistributor(loans storage.LoanStore, ledger *ledgersvc.Service, log *logger.Logger) *PayoutDistributor {
	if log == nil {
		log = logger.NewDefault("loan-payout")
	}
	return &PayoutDistributor{loans: loans, ledger: ledger, log: log}
}

// Distribute pays the security pool out to the loan's team. Waived fees and
// empty teams still mark the loan processed so later calls stay no-ops.
func (d *PayoutDistributor) Distribute(ctx context.Context, ln loan.Loan) (loan.Loan, error) {
	if ln.PayoutProcessed {
		return ln, nil
	}

	ln.PayoutProcessed = true
	ln, err := d.loans.UpdateLoan(ctx, ln)
	if err != nil {
		return ln, fmt.Errorf("mark payout processed: %w", err)
	}

	if ln.SecurityFeeWaived || len(ln.SecurityTeam) == 0 {
		return ln, nil
	}

	shares := SplitPool(ln.SecurityPool(), len(ln.SecurityTeam))
	var firstErr error
	for i, memberID := range ln.SecurityTeam {
		if shares[i].Sign() <= 0 {
			continue
		}
		if _, err := d.ledger.UpdateBalance(ctx, memberID, ledgersvc.Mutation{
			Delta:       shares[i],
			Type:        ledgerdomain.TypeSecurityPayout,
			Description: "security escort payout",
			LoanID:      ln.ID,
		}); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("credit %s: %w", memberID, err)
			}
			d.log.WithError(err).WithFields(map[string]any{
				"loan_id": ln.ID,
				"user_id": memberID,
				"share":   shares[i].String(),
			}).Error("security payout credit failed")
			continue
		}
		d.log.WithFields(map[string]any{
			"loan_id": ln.ID,
			"user_id": memberID,
			"share":   shares[i].String(),
		}).Info("security payout credited")
	}
	return ln, firstErr
}

// SplitPool divides the pool into n shares rounded to two decimal places.
// The rounding remainder goes to the first member so the shares always sum
// back to the pool.
func SplitPool(pool decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	base := pool.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	shares := make([]decimal.Decimal, n)
	for i := range shares {
		shares[i] = base
	}
	remainder := pool.Sub(base.Mul(decimal.NewFromInt(int64(n))))
	shares[0] = shares[0].Add(remainder)
	return shares
}

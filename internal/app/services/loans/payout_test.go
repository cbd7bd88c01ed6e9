package loans

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSplitPool(t *testing.T) {
	cases := []struct {
		pool   string
		n      int
		shares []string
	}{
		{"100", 2, []string{"50", "50"}},
		{"100", 3, []string{"33.34", "33.33", "33.33"}},
		{"0.05", 3, []string{"0.03", "0.01", "0.01"}},
		{"100", 1, []string{"100"}},
	}

	for _, tc := range cases {
		shares := SplitPool(dec(tc.pool), tc.n)
		if len(shares) != tc.n {
			t.Fatalf("pool %s across %d: got %d shares", tc.pool, tc.n, len(shares))
		}
		sum := decimal.Zero
		for i, share := range shares {
			if !share.Equal(dec(tc.shares[i])) {
				t.Fatalf("pool %s across %d: share %d = %s, want %s", tc.pool, tc.n, i, share, tc.shares[i])
			}
			sum = sum.Add(share)
		}
		if !sum.Equal(dec(tc.pool)) {
			t.Fatalf("pool %s across %d: shares sum to %s", tc.pool, tc.n, sum)
		}
	}

	if shares := SplitPool(dec("100"), 0); shares != nil {
		t.Fatalf("zero-member split: %v", shares)
	}
}

func TestPayoutDistributor_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ln, err := f.loans.Apply(ctx, "borrower", dec("1000"), "run", []string{"escort1", "escort2"}, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ln, err = f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{DisburseNow: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if ln, err = f.loans.Payout().Distribute(ctx, ln); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if !ln.PayoutProcessed {
		t.Fatal("loan not marked processed")
	}

	// Distributing again must not credit anyone twice.
	if _, err := f.loans.Payout().Distribute(ctx, ln); err != nil {
		t.Fatalf("second distribute: %v", err)
	}

	for _, escort := range []string{"escort1", "escort2"} {
		balance, err := f.ledger.GetBalance(ctx, escort)
		if err != nil {
			t.Fatalf("escort balance: %v", err)
		}
		if !balance.Equal(dec("50")) {
			t.Fatalf("%s balance after repeated distribution: %s", escort, balance)
		}
	}
}

func TestPayoutDistributor_UnevenPoolFavoursFirstMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ln, err := f.loans.Apply(ctx, "borrower", dec("1000"), "run", []string{"escort1", "escort2", "escort3"}, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ln, err = f.loans.Approve(ctx, ln.ID, "admin", ApproveOptions{DisburseNow: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := f.loans.Payout().Distribute(ctx, ln); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	want := map[string]string{"escort1": "33.34", "escort2": "33.33", "escort3": "33.33"}
	for escort, share := range want {
		balance, err := f.ledger.GetBalance(ctx, escort)
		if err != nil {
			t.Fatalf("escort balance: %v", err)
		}
		if !balance.Equal(dec(share)) {
			t.Fatalf("%s share: %s, want %s", escort, balance, share)
		}
	}
}

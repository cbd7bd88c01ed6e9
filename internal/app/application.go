package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/selco13/treasury/internal/app/cache"
	"github.com/selco13/treasury/internal/app/notify"
	ledgersvc "github.com/selco13/treasury/internal/app/services/ledger"
	loansvc "github.com/selco13/treasury/internal/app/services/loans"
	"github.com/selco13/treasury/internal/app/storage"
	"github.com/selco13/treasury/internal/app/storage/memory"
	"github.com/selco13/treasury/internal/app/system"
	"github.com/selco13/treasury/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts     storage.AccountStore
	Transactions storage.TransactionStore
	Loans        storage.LoanStore
	Incidents    storage.IncidentStore
	Budget       storage.BudgetStore
}

// Options tunes the non-store dependencies. The zero value is usable.
type Options struct {
	// RateLimits reports whether the backing store was rate limited recently;
	// the ledger degrades reads instead of provisioning accounts while it
	// fires. Nil disables the check.
	RateLimits ledgersvc.RateLimitTracker
	// Notifier delivers loan lifecycle notifications. Nil logs them.
	Notifier notify.Notifier
	// CacheTTL overrides the balance cache lifetime.
	CacheTTL time.Duration
	// SweepSchedule overrides the overdue-sweep cron expression.
	SweepSchedule string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Ledger   *ledgersvc.Service
	Recorder *ledgersvc.Recorder
	Loans    *loansvc.Service
	Balances *cache.BalanceCache
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Transactions == nil {
		stores.Transactions = mem
	}
	if stores.Loans == nil {
		stores.Loans = mem
	}
	if stores.Incidents == nil {
		stores.Incidents = mem
	}
	if stores.Budget == nil {
		stores.Budget = mem
	}

	manager := system.NewManager()

	balances := cache.NewBalanceCache(opts.CacheTTL)
	recorder := ledgersvc.NewRecorder(stores.Transactions, log)
	ledgerService := ledgersvc.New(stores.Accounts, recorder, balances, opts.RateLimits, log)
	loanService := loansvc.New(stores.Loans, stores.Incidents, stores.Budget, ledgerService, opts.Notifier, log)

	schedule := opts.SweepSchedule
	if schedule == "" {
		schedule = strings.TrimSpace(os.Getenv("LOAN_SWEEP_SCHEDULE"))
	}
	sweeper := loansvc.NewSweeper(loanService, schedule, log)

	for _, svc := range []system.Service{balances, sweeper} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:  manager,
		log:      log,
		Ledger:   ledgerService,
		Recorder: recorder,
		Loans:    loanService,
		Balances: balances,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

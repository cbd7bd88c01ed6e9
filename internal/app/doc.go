// Package app composes the treasury services into a running application.
//
// The layout follows a composition-over-logic split:
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Pure domain models (ledger, loan)
//	├── storage/            # Store interfaces, in-memory and remote backends
//	├── services/           # Business logic (ledger, loans)
//	├── cache/              # TTL balance cache
//	├── httpapi/            # REST handlers and middleware
//	├── notify/             # Outbound notification capability
//	├── system/             # Service lifecycle management
//	└── metrics/            # Prometheus collectors
//
// Domain models carry no business logic; services enforce the invariants
// (non-negative balances, the loan state machine, exactly-once payouts) and
// depend only on the storage interfaces, never on a concrete backend.
package app

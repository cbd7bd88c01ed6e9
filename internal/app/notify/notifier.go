// Package notify defines the outbound notification capability. The core only
// decides when to notify and what structured event occurred; formatting and
// delivery belong to the platform layer.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/selco13/treasury/pkg/logger"
)

// Event identifies what happened.
type Event string

const (
	EventLoanApproved      Event = "loan_approved"
	EventLoanRejected      Event = "loan_rejected"
	EventLoanDisbursed     Event = "loan_disbursed"
	EventRepaymentReminder Event = "repayment_reminder"
	EventLoanDefaulted     Event = "loan_defaulted"
)

// Notification is the structured payload handed to the sink.
type Notification struct {
	Event   Event
	LoanID  string
	Amount  decimal.Decimal
	DueDate time.Time
	Reason  string
}

// Notifier delivers a notification to a member.
type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification) error
}

// LogNotifier writes notifications to the log. It is the default sink and the
// test double.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier constructs a logging sink.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogNotifier{log: log}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, userID string, msg Notification) error {
	n.log.WithFields(map[string]any{
		"user_id": userID,
		"event":   string(msg.Event),
		"loan_id": msg.LoanID,
	}).Info("notification dispatched")
	return nil
}

// Package notifier turns ledger events into text messages for borrowers
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/platform/messaging/producers"
	"github.com/boliseva-loan-ledger/internal/platform/sms"
	"github.com/boliseva-loan-ledger/internal/platform/workerpool"
)

const dueDateLayout = "02 Jan 2006"

// Submitter runs a task in the background
type Submitter interface {
	Submit(ctx context.Context, name string, task workerpool.Task) error
}

// Notifier consumes the ledger events topic
type Notifier struct {
	gateway sms.Gateway
	dlq     producers.DeadLetterPublisher
	workers Submitter
	logger  *slog.Logger
}

func New(logger *slog.Logger, gateway sms.Gateway, dlq producers.DeadLetterPublisher, workers Submitter) *Notifier {
	return &Notifier{
		gateway: gateway,
		dlq:     dlq,
		workers: workers,
		logger:  logger,
	}
}

// HandleMessage decodes one event and sends its message in the background. Undecodable events
// are moved to the dead letter topic so they do not block the partition.
func (n *Notifier) HandleMessage(ctx context.Context, key, value []byte) error {
	var event shared.LedgerEvent
	if err := json.Unmarshal(value, &event); err != nil {
		n.logger.Error("Failed to decode ledger event", "error", err, "message_key", string(key))
		if n.dlq == nil {
			return fmt.Errorf("failed to decode ledger event: %w", err)
		}
		reason := "undecodable ledger event: " + err.Error()
		if dlqErr := n.dlq.PublishToDLQ(ctx, string(key), value, reason); dlqErr != nil {
			n.logger.Error("Failed to publish event to DLQ", "dlq_error", dlqErr, "message_key", string(key))
			return fmt.Errorf("failed to decode ledger event: %w", err)
		}
		return nil
	}

	logger := n.logger.With("event_id", event.ID.String(), "type", event.Type, "loan_id", event.LoanID.String())

	body, ok := Message(event)
	if !ok {
		logger.Debug("No message for event")
		return nil
	}
	if event.Phone == "" {
		logger.Warn("Event has no contact phone, message skipped")
		return nil
	}

	phone := event.Phone
	return n.workers.Submit(ctx, "notify "+string(event.Type), func(ctx context.Context) error {
		if err := n.gateway.Send(ctx, phone, body); err != nil {
			return fmt.Errorf("failed to notify borrower of %s: %w", event.Type, err)
		}
		logger.Info("Borrower notified")
		return nil
	})
}

// Message renders the text for an event. Events nobody needs to hear about return false.
func Message(event shared.LedgerEvent) (string, bool) {
	switch event.Type {
	case shared.EventLoanSubmitted:
		return fmt.Sprintf("Your loan application for Rs %d has been received. We will update you soon.", event.Amount), true
	case shared.EventLoanStatusChanged:
		switch loan.Status(event.Status) {
		case loan.StatusApproved:
			return fmt.Sprintf("Your loan of Rs %d has been approved. Your EMI schedule is ready in the app.", event.Amount), true
		case loan.StatusRejected:
			return "Your loan application was not approved this time. Please contact your field officer.", true
		case loan.StatusDisbursed:
			return fmt.Sprintf("Rs %d has been disbursed to your account.", event.Amount), true
		}
	case shared.EventEMIPaid:
		return fmt.Sprintf("Payment of Rs %d received. Thank you.", event.Amount), true
	case shared.EventEMIReminderDue:
		if event.DueDate == nil {
			return fmt.Sprintf("Reminder: your EMI of Rs %d is due soon.", event.Amount), true
		}
		return fmt.Sprintf("Reminder: your EMI of Rs %d is due on %s.", event.Amount, event.DueDate.Format(dueDateLayout)), true
	}
	return "", false
}

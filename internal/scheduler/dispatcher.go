package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/fixtrack/notifier/internal/model"
	"github.com/fixtrack/notifier/internal/repository/ticket"
)

// Notifier sends a message over one outbound channel.
type Notifier interface {
	Send(to string, msg string) error
}

type reminderStore interface {
	AppendReminder(ctx context.Context, entry model.ReminderEntry) error
	ConfirmDelivery(ctx context.Context, ticketID uuid.UUID, seq int) error
}

// Dispatcher sends due notifications and records them in the reminder log.
// The log append happens before the send and is guarded by the store's
// conditional write, so overlapping runs resolve to exactly one send per
// due item.
type Dispatcher struct {
	store     reminderStore
	notifiers map[string]Notifier
}

// NewDispatcher creates a Dispatcher over the given store and channel registry.
func NewDispatcher(store reminderStore, notifiers map[string]Notifier) *Dispatcher {
	return &Dispatcher{store: store, notifiers: notifiers}
}

// Dispatch processes one due notification:
//
//  1. Resolve the outbound channel. An unknown channel fails the item before
//     any side effect, so the reminder slot stays free and fires again once
//     the rule is fixed.
//  2. Conditionally append the log entry. A conflict means another run got
//     there first; that is the idempotency guarantee, not an error.
//  3. Send through the resolved channel.
//  4. On send success, confirm delivery best-effort. On send failure the log
//     entry stands unconfirmed: the scheduler prefers under-notifying to
//     double-sending, and the next run re-evaluates eligibility.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time, item model.DueNotification) model.Outcome {
	notifier, ok := d.notifiers[item.Rule.Channel]
	if !ok {
		zlog.Logger.Error().
			Str("channel", item.Rule.Channel).
			Str("rule_id", item.Rule.ID.String()).
			Msg("unknown notification channel")
		return model.OutcomeFailed
	}

	entry := model.ReminderEntry{
		TicketID:     item.TicketID,
		Seq:          item.Seq,
		RuleID:       item.Rule.ID,
		RuleKind:     item.Rule.Kind,
		RecipientRef: item.RecipientRef,
		SentAt:       now,
	}

	if err := d.store.AppendReminder(ctx, entry); err != nil {
		if errors.Is(err, ticket.ErrReminderConflict) {
			zlog.Logger.Info().
				Str("ticket_id", item.TicketID.String()).
				Int("seq", item.Seq).
				Msg("reminder already recorded by a concurrent run, skipping")
			return model.OutcomeAlreadySent
		}

		zlog.Logger.Error().Err(err).Str("ticket_id", item.TicketID.String()).Msg("failed to append reminder")
		return model.OutcomeFailed
	}

	if err := notifier.Send(item.RecipientRef, formatMessage(item)); err != nil {
		zlog.Logger.Error().Err(err).
			Str("ticket_id", item.TicketID.String()).
			Str("channel", item.Rule.Channel).
			Msg("failed to send reminder, log entry stands unconfirmed")
		return model.OutcomeFailed
	}

	if err := d.store.ConfirmDelivery(ctx, item.TicketID, item.Seq); err != nil {
		zlog.Logger.Warn().Err(err).
			Str("ticket_id", item.TicketID.String()).
			Int("seq", item.Seq).
			Msg("failed to confirm delivery")
	}

	return model.OutcomeSent
}

func formatMessage(item model.DueNotification) string {
	switch item.Rule.Kind {
	case model.RuleAgencyVisit:
		return fmt.Sprintf(
			"Upcoming agency visit for ticket %q on %s.",
			item.TicketTitle, item.VisitAt.Format("02.01.2006 15:04"),
		)
	default:
		return fmt.Sprintf(
			"Reminder %d/%d: ticket %q is still waiting to be handled.",
			item.Attempt, item.Rule.MaxReminders, item.TicketTitle,
		)
	}
}

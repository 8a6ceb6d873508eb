package model

import (
	"time"

	"github.com/google/uuid"
)

// TicketStatus is the ticket lifecycle state. The scheduler only reads it;
// transitions belong to the ticket workflow.
type TicketStatus string

const (
	StatusPending   TicketStatus = "pending"
	StatusAssigned  TicketStatus = "assigned"
	StatusCompleted TicketStatus = "completed"
	StatusReopened  TicketStatus = "reopened"
)

// ReminderEntry is one row of a ticket's append-only reminder log. The log
// length is the authoritative reminder count; there is no separate counter.
type ReminderEntry struct {
	TicketID          uuid.UUID `json:"ticket_id"`
	Seq               int       `json:"seq"` // 1-based position in the full log
	RuleID            uuid.UUID `json:"rule_id"`
	RuleKind          RuleKind  `json:"rule_kind"`
	RecipientRef      string    `json:"recipient_ref"`
	SentAt            time.Time `json:"sent_at"`
	DeliveryConfirmed bool      `json:"delivery_confirmed"`
}

// TicketSnapshot is the scheduler's read view of one ticket: lifecycle fields
// plus the full reminder log, loaded in a single pass per run.
type TicketSnapshot struct {
	ID                 uuid.UUID       `json:"id"`
	Title              string          `json:"title"`
	Status             TicketStatus    `json:"status"`
	SubCategoryID      uuid.UUID       `json:"sub_category_id"`
	AgencyVisitAt      *time.Time      `json:"agency_visit_at,omitempty"`
	LastStatusChangeAt time.Time       `json:"last_status_change_at"`
	ReminderLog        []ReminderEntry `json:"reminder_log"`
}

// EffectiveLog returns the reminder entries that still count against the
// ticket. Entries sent before the last status change are ignored, so a ticket
// reopened after completion becomes eligible again without rewriting history.
func (t TicketSnapshot) EffectiveLog() []ReminderEntry {
	entries := make([]ReminderEntry, 0, len(t.ReminderLog))

	for _, e := range t.ReminderLog {
		if !e.SentAt.Before(t.LastStatusChangeAt) {
			entries = append(entries, e)
		}
	}

	return entries
}

// EffectiveEntriesForRule filters EffectiveLog down to one rule.
func (t TicketSnapshot) EffectiveEntriesForRule(ruleID uuid.UUID) []ReminderEntry {
	var entries []ReminderEntry

	for _, e := range t.EffectiveLog() {
		if e.RuleID == ruleID {
			entries = append(entries, e)
		}
	}

	return entries
}

// DueNotification is one reminder the current run decided to send.
type DueNotification struct {
	TicketID     uuid.UUID        `json:"ticket_id"`
	TicketTitle  string           `json:"ticket_title"`
	Rule         NotificationRule `json:"rule"`
	RecipientRef string           `json:"recipient_ref"`
	FireAt       time.Time        `json:"fire_at"`  // when the reminder became due
	Attempt      int              `json:"attempt"`  // k-th reminder for this rule on this ticket
	Seq          int              `json:"seq"`      // target position in the full log: current length + 1
	VisitAt      *time.Time       `json:"visit_at"` // agency_visit reminders only
}

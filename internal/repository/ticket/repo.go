package ticket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/fixtrack/notifier/internal/model"
)

var (
	// ErrReminderConflict means the conditional append lost: another run
	// already wrote the entry at the target sequence position.
	ErrReminderConflict = errors.New("reminder log position already taken")
	ErrEntryNotFound    = errors.New("reminder log entry not found")
	ErrNoRemindersFound = errors.New("no reminders found")
)

// Repository provides the scheduler's view of tickets and their reminder logs.
// The reminder log is the only thing it ever writes, and only by append.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new ticket repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// ListPendingSnapshots loads every ticket the scheduler cares about: pending
// tickets and tickets with an agency visit still ahead of the run's reference
// time, each joined with its full reminder log. Gating the visit on the
// caller's clock rather than the database's keeps backfill runs consistent:
// a replayed run sees the tickets that run would have seen.
func (r *Repository) ListPendingSnapshots(ctx context.Context, now time.Time) ([]model.TicketSnapshot, error) {
	query := `
		SELECT t.id, t.title, t.status, t.sub_category_id, t.agency_visit_at, t.last_status_change_at,
		       l.seq, l.rule_id, l.rule_kind, l.recipient_ref, l.sent_at, l.delivery_confirmed
		FROM tickets t
		LEFT JOIN reminder_log l ON l.ticket_id = t.id
		WHERE t.status = 'pending'
		   OR (t.agency_visit_at IS NOT NULL AND t.agency_visit_at > $1 AND t.status <> 'completed')
		ORDER BY t.id, l.seq;
    `

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket snapshots: %w", err)
	}
	defer rows.Close()

	var (
		snapshots []model.TicketSnapshot
		current   *model.TicketSnapshot
	)

	for rows.Next() {
		var (
			snap              model.TicketSnapshot
			visitAt           sql.NullTime
			seq               sql.NullInt64
			ruleID            sql.NullString
			ruleKind          sql.NullString
			recipientRef      sql.NullString
			sentAt            sql.NullTime
			deliveryConfirmed sql.NullBool
		)

		if err := rows.Scan(
			&snap.ID, &snap.Title, &snap.Status, &snap.SubCategoryID, &visitAt, &snap.LastStatusChangeAt,
			&seq, &ruleID, &ruleKind, &recipientRef, &sentAt, &deliveryConfirmed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ticket snapshot: %w", err)
		}

		if visitAt.Valid {
			t := visitAt.Time
			snap.AgencyVisitAt = &t
		}

		if current == nil || current.ID != snap.ID {
			snapshots = append(snapshots, snap)
			current = &snapshots[len(snapshots)-1]
		}

		if seq.Valid {
			id, err := uuid.Parse(ruleID.String)
			if err != nil {
				return nil, fmt.Errorf("invalid rule id in reminder log: %w", err)
			}

			current.ReminderLog = append(current.ReminderLog, model.ReminderEntry{
				TicketID:          current.ID,
				Seq:               int(seq.Int64),
				RuleID:            id,
				RuleKind:          model.RuleKind(ruleKind.String),
				RecipientRef:      recipientRef.String,
				SentAt:            sentAt.Time,
				DeliveryConfirmed: deliveryConfirmed.Bool,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ticket snapshots: %w", err)
	}

	return snapshots, nil
}

// AppendReminder appends one entry to a ticket's reminder log. The entry's
// Seq must be the observed log length plus one; the (ticket_id, seq) primary
// key turns the insert into a conditional append, so two overlapping runs can
// never both record the same reminder. Returns ErrReminderConflict when the
// position is already taken.
func (r *Repository) AppendReminder(ctx context.Context, entry model.ReminderEntry) error {
	query := `
		INSERT INTO reminder_log (ticket_id, seq, rule_id, rule_kind, recipient_ref, sent_at, delivery_confirmed)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		ON CONFLICT (ticket_id, seq) DO NOTHING;
    `

	res, err := r.db.ExecContext(
		ctx, query, entry.TicketID, entry.Seq, entry.RuleID, entry.RuleKind, entry.RecipientRef, entry.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append reminder: %w", err)
	}

	rows, _ := res.RowsAffected()

	if rows == 0 {
		return ErrReminderConflict
	}

	return nil
}

// ConfirmDelivery marks a log entry as delivered. Best-effort: an entry left
// unconfirmed still counts as sent.
func (r *Repository) ConfirmDelivery(ctx context.Context, ticketID uuid.UUID, seq int) error {
	query := `
		UPDATE reminder_log
		SET delivery_confirmed = TRUE
		WHERE ticket_id = $1 AND seq = $2;
    `

	res, err := r.db.ExecContext(ctx, query, ticketID, seq)
	if err != nil {
		return fmt.Errorf("failed to confirm delivery: %w", err)
	}

	rows, _ := res.RowsAffected()

	if rows == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// ListReminders returns a ticket's reminder log ordered by sequence.
func (r *Repository) ListReminders(ctx context.Context, ticketID uuid.UUID) ([]model.ReminderEntry, error) {
	query := `
		SELECT ticket_id, seq, rule_id, rule_kind, recipient_ref, sent_at, delivery_confirmed
		FROM reminder_log
		WHERE ticket_id = $1
		ORDER BY seq;
    `

	rows, err := r.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()

	var entries []model.ReminderEntry
	for rows.Next() {
		var e model.ReminderEntry

		if err := rows.Scan(&e.TicketID, &e.Seq, &e.RuleID, &e.RuleKind, &e.RecipientRef, &e.SentAt, &e.DeliveryConfirmed); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminders: %w", err)
	}

	if len(entries) == 0 {
		return nil, ErrNoRemindersFound
	}

	return entries, nil
}

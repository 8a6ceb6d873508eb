package rule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"github.com/fixtrack/notifier/internal/model"
)

// Repository reads notification rules. The scheduler never writes them;
// rules belong to the admin CRUD surface.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new rule repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// ListActive returns all active notification rules. Rows with an unparsable
// scope entry are skipped with a warning rather than failing the whole scan.
func (r *Repository) ListActive(ctx context.Context) ([]model.NotificationRule, error) {
	query := `
		SELECT id, kind, target_ref, channel, scope_ids,
		       lead_time_seconds, reminder_interval_seconds, max_reminders, active
		FROM notification_rules
		WHERE active = TRUE;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	defer rows.Close()

	var rules []model.NotificationRule
	for rows.Next() {
		var (
			rule            model.NotificationRule
			scopes          pq.StringArray
			leadSeconds     int64
			intervalSeconds int64
		)

		if err := rows.Scan(
			&rule.ID, &rule.Kind, &rule.TargetRef, &rule.Channel, &scopes,
			&leadSeconds, &intervalSeconds, &rule.MaxReminders, &rule.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rule.LeadTime = time.Duration(leadSeconds) * time.Second
		rule.ReminderInterval = time.Duration(intervalSeconds) * time.Second

		scopeIDs, err := parseScopeIDs(scopes)
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("rule_id", rule.ID.String()).Msg("skipping rule with bad scope")
			continue
		}
		rule.ScopeIDs = scopeIDs

		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}

	return rules, nil
}

func parseScopeIDs(scopes pq.StringArray) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(scopes))

	for _, s := range scopes {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid scope id %q: %w", s, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

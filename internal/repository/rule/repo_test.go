package rule

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"

	"github.com/fixtrack/notifier/internal/model"
)

func newTestRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRepository(&dbpg.DB{Master: db}), mock
}

var ruleCols = []string{
	"id", "kind", "target_ref", "channel", "scope_ids",
	"lead_time_seconds", "reminder_interval_seconds", "max_reminders", "active",
}

func TestListActive(t *testing.T) {
	repo, mock := newTestRepo(t)

	userID := uuid.New()
	visitID := uuid.New()
	scopeID := uuid.New()

	rows := sqlmock.NewRows(ruleCols).
		AddRow(userID, "user_reminder", "100200300", "telegram", fmt.Sprintf("{%s}", scopeID),
			0, 43200, 3, true).
		AddRow(visitID, "agency_visit", "agency@example.com", "email", "{}",
			86400, 0, 1, true)

	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_rules")).WillReturnRows(rows)

	rules, err := repo.ListActive(context.Background())

	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, userID, rules[0].ID)
	assert.Equal(t, model.RuleUserReminder, rules[0].Kind)
	assert.Equal(t, 12*time.Hour, rules[0].ReminderInterval)
	require.Len(t, rules[0].ScopeIDs, 1)
	assert.Equal(t, scopeID, rules[0].ScopeIDs[0])

	assert.Equal(t, model.RuleAgencyVisit, rules[1].Kind)
	assert.Equal(t, 24*time.Hour, rules[1].LeadTime)
	assert.Empty(t, rules[1].ScopeIDs)
}

func TestListActive_SkipsBadScope(t *testing.T) {
	repo, mock := newTestRepo(t)

	goodID := uuid.New()

	rows := sqlmock.NewRows(ruleCols).
		AddRow(uuid.New(), "user_reminder", "100200300", "telegram", "{not-a-uuid}",
			0, 43200, 3, true).
		AddRow(goodID, "user_reminder", "100200300", "telegram", "{}",
			0, 43200, 3, true)

	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_rules")).WillReturnRows(rows)

	rules, err := repo.ListActive(context.Background())

	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, goodID, rules[0].ID)
}

func TestListActive_QueryError(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_rules")).
		WillReturnError(errors.New("connection refused"))

	_, err := repo.ListActive(context.Background())

	require.Error(t, err)
}

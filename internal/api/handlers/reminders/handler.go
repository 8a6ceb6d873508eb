package reminders

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/fixtrack/notifier/internal/api/respond"
	"github.com/fixtrack/notifier/internal/model"
	"github.com/fixtrack/notifier/internal/repository/ticket"
)

type reminderSource interface {
	ListReminders(ctx context.Context, ticketID uuid.UUID) ([]model.ReminderEntry, error)
}

// Handler serves a ticket's reminder log for the admin UI.
type Handler struct {
	source reminderSource
}

// NewHandler creates a new reminders Handler instance.
func NewHandler(source reminderSource) *Handler {
	return &Handler{source: source}
}

// GetByTicket handles GET requests for one ticket's reminder log.
func (h *Handler) GetByTicket(c *ginext.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		zlog.Logger.Error().Err(err).Interface("idStr", idStr).Msg("failed to parse ticket id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid ticket id"))
		return
	}

	if id == uuid.Nil {
		zlog.Logger.Warn().Msg("missing ticket id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing ticket id"))
		return
	}

	entries, err := h.source.ListReminders(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ticket.ErrNoRemindersFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("no reminders found"))
			return
		}

		zlog.Logger.Error().Err(err).Interface("id", id).Msg("failed to list reminders")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, entries)
}

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/fixtrack/notifier/internal/api/respond"
	"github.com/fixtrack/notifier/internal/config"
	"github.com/fixtrack/notifier/internal/model"
	"github.com/fixtrack/notifier/internal/repository/runhistory"
	schedsvc "github.com/fixtrack/notifier/internal/scheduler"
)

// schedulerService runs one reminder scan at a reference time.
type schedulerService interface {
	Run(ctx context.Context, now time.Time) (model.RunSummary, error)
}

type runHistory interface {
	List(ctx context.Context, limit int) ([]model.RunRecord, error)
	Latest(ctx context.Context) (model.RunRecord, error)
}

type summaryCache interface {
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

// Handler exposes the scheduler over HTTP: the manual trigger and the run
// observability endpoints.
type Handler struct {
	service   schedulerService
	history   runHistory
	cache     summaryCache
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new scheduler Handler instance.
func NewHandler(
	s schedulerService,
	h runHistory,
	cache summaryCache,
	v *validator.Validate,
	cfg *config.Config,
) *Handler {
	return &Handler{service: s, history: h, cache: cache, validator: v, cfg: cfg}
}

// RunRequest is the optional JSON body of a manual trigger. ReferenceTime
// overrides "now" for deterministic replays and backfills.
type RunRequest struct {
	ReferenceTime string `json:"reference_time" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// RunResponse is the trigger envelope. All internal failures are mapped into
// it; the trigger never surfaces an unhandled fault.
type RunResponse struct {
	OK        bool              `json:"ok"`
	Timestamp string            `json:"timestamp"`
	Result    *model.RunSummary `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Run handles POST requests from the cron caller or an administrator. A run
// skipped because the lock is held still answers ok: the caller's retry did
// its job, the work is happening elsewhere.
func (h *Handler) Run(c *ginext.Context) {
	var req RunRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		zlog.Logger.Error().Err(err).Msg("failed to decode trigger request body")
		writeRun(c.Writer, http.StatusBadRequest, RunResponse{Error: "invalid request body"})
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate trigger request body")
		writeRun(c.Writer, http.StatusBadRequest, RunResponse{Error: fmt.Sprintf("validation error: %s", err)})
		return
	}

	now := time.Now().UTC()
	if req.ReferenceTime != "" {
		// Already validated as RFC3339.
		now, _ = time.Parse(time.RFC3339, req.ReferenceTime)
	}

	summary, err := h.service.Run(c.Request.Context(), now)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("scheduler run failed")
		writeRun(c.Writer, http.StatusInternalServerError, RunResponse{Error: "internal server error"})
		return
	}

	writeRun(c.Writer, http.StatusOK, RunResponse{OK: true, Result: &summary})
}

// ListRuns handles GET requests for the persisted run history.
func (h *Handler) ListRuns(c *ginext.Context) {
	limit := 20
	if raw := c.Request.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid limit"))
			return
		}
		limit = parsed
	}

	records, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		if errors.Is(err, runhistory.ErrNoRunsFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("no runs found"))
			return
		}

		zlog.Logger.Error().Err(err).Msg("failed to list scheduler runs")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, records)
}

// LatestRun handles GET requests for the most recent run summary. It reads
// the Redis cache the coordinator writes after every completed run and falls
// back to the persisted history when the cache is cold.
func (h *Handler) LatestRun(c *ginext.Context) {
	raw, err := h.cache.GetWithRetry(c.Request.Context(), h.cfg.Retry, schedsvc.SummaryCacheKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			h.latestFromHistory(c)
			return
		}

		zlog.Logger.Error().Err(err).Msg("failed to read cached run summary")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	var summary model.RunSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to unmarshal cached run summary")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, summary)
}

func (h *Handler) latestFromHistory(c *ginext.Context) {
	rec, err := h.history.Latest(c.Request.Context())
	if err != nil {
		if errors.Is(err, runhistory.ErrNoRunsFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("no recent run"))
			return
		}

		zlog.Logger.Error().Err(err).Msg("failed to load latest run")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, rec)
}

func writeRun(w http.ResponseWriter, code int, resp RunResponse) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to encode trigger response")
	}
}

package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/GoPolymarket/liquigate/internal/ledger"
	"github.com/GoPolymarket/liquigate/internal/model"
	"github.com/GoPolymarket/liquigate/internal/pkg/apperrors"
)

type StatusHandler struct {
	store ledger.Store
}

func NewStatusHandler(store ledger.Store) *StatusHandler {
	return &StatusHandler{store: store}
}

// Status reports the latest snapshot, today's usage and any in-flight
// batch: the operator's one-glance view of the engine.
func (h *StatusHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	snap, err := h.store.LatestSnapshot(ctx)
	if err != nil {
		c.Error(apperrors.Wrap(err)) //nolint:errcheck
		return
	}
	usage, err := h.store.DailyUsage(ctx, model.UTCDay(time.Now()))
	if err != nil {
		c.Error(apperrors.Wrap(err)) //nolint:errcheck
		return
	}
	inflight, err := h.store.NonTerminalBatch(ctx)
	if err != nil {
		c.Error(apperrors.Wrap(err)) //nolint:errcheck
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"latest_snapshot": snap,
		"daily_usage":     usage,
		"inflight_batch":  inflight,
	})
}

func (h *StatusHandler) ListBatches(c *gin.Context) {
	limit := parseLimit(c, 50)
	batches, err := h.store.ListBatches(c.Request.Context(), limit)
	if err != nil {
		c.Error(apperrors.Wrap(err)) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

func (h *StatusHandler) GetBatch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Error(apperrors.NewInvalidRequest("invalid batch id")) //nolint:errcheck
		return
	}
	batch, err := h.store.GetBatch(c.Request.Context(), id)
	if err != nil {
		c.Error(apperrors.Wrap(err)) //nolint:errcheck
		return
	}
	allocs, err := h.store.AllocationsForBatch(c.Request.Context(), id)
	if err != nil {
		c.Error(apperrors.Wrap(err)) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch, "allocations": allocs})
}

func (h *StatusHandler) ListAllocations(c *gin.Context) {
	limit := parseLimit(c, 100)
	allocs, err := h.store.ListAllocations(c.Request.Context(), c.Query("depositor"), limit)
	if err != nil {
		c.Error(apperrors.Wrap(err)) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": allocs})
}

func parseLimit(c *gin.Context, def int) int {
	limit := def
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}

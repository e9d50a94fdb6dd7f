package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/ledger"
	"github.com/GoPolymarket/liquigate/internal/model"
	"github.com/GoPolymarket/liquigate/internal/pkg/apperrors"
)

// ContributionHandler is the attribution feed's transport: whatever
// upstream system credits depositors posts records here. The log is
// append-only; records are never deleted.
type ContributionHandler struct {
	store ledger.Store
}

func NewContributionHandler(store ledger.Store) *ContributionHandler {
	return &ContributionHandler{store: store}
}

type contributionRequest struct {
	Depositor  string `json:"depositor" binding:"required"`
	AmountA    string `json:"amount_a" binding:"required"`
	AmountB    string `json:"amount_b" binding:"required"`
	ObservedAt string `json:"observed_at"`
}

func (h *ContributionHandler) Ingest(c *gin.Context) {
	var req contributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error())) //nolint:errcheck
		return
	}

	amountA, err := decimal.NewFromString(req.AmountA)
	if err != nil || amountA.IsNegative() {
		c.Error(apperrors.NewInvalidRequest("invalid amount_a")) //nolint:errcheck
		return
	}
	amountB, err := decimal.NewFromString(req.AmountB)
	if err != nil || amountB.IsNegative() {
		c.Error(apperrors.NewInvalidRequest("invalid amount_b")) //nolint:errcheck
		return
	}
	if amountA.IsZero() && amountB.IsZero() {
		c.Error(apperrors.NewInvalidRequest("contribution is empty")) //nolint:errcheck
		return
	}

	observedAt := time.Now().UTC()
	if req.ObservedAt != "" {
		t, err := time.Parse(time.RFC3339, req.ObservedAt)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest("observed_at must be RFC3339")) //nolint:errcheck
			return
		}
		observedAt = t.UTC()
	}

	rec := model.ContributionRecord{
		ID:         uuid.New(),
		Depositor:  req.Depositor,
		AmountA:    amountA,
		AmountB:    amountB,
		ObservedAt: observedAt,
	}
	if err := h.store.InsertContribution(c.Request.Context(), rec); err != nil {
		c.Error(apperrors.Wrap(err)) //nolint:errcheck
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *ContributionHandler) List(c *gin.Context) {
	limit := parseLimit(c, 100)
	recs, err := h.store.ListContributions(c.Request.Context(), c.Query("depositor"), limit)
	if err != nil {
		c.Error(apperrors.Wrap(err)) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, gin.H{"contributions": recs})
}

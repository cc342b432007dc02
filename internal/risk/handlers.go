package risk

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/blockvest/blockvest/internal/logging"
	"github.com/blockvest/blockvest/internal/validation"
)

// maxReasonLength bounds the free-text justification of an override.
const maxReasonLength = 500

// Handler provides HTTP endpoints for risk assessments.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new risk handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up the read and assess routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/investments/:id/assess", h.AssessInvestment)
	r.GET("/investments/:id", h.GetActiveAssessment)
	r.GET("/assessments/:id", h.GetAssessment)
	r.GET("/borrowers/:id", h.GetBorrowerHistory)
	r.POST("/borrowers/:id/limit-check", h.CheckFundingLimit)
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/assessments/:id/override", h.OverrideFactor)
	r.POST("/investments/:id/reassess", h.Reassess)
	r.GET("/report", h.Report)
}

// writeError maps engine errors onto status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrInvalidFactorReference):
		status, code = http.StatusUnprocessableEntity, "invalid_factor"
	case errors.Is(err, ErrAssessmentInactive):
		status, code = http.StatusConflict, "inactive"
	}
	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("risk request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func invalidRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": msg})
}

// AssessInvestment handles POST /v1/risk/investments/:id/assess
func (h *Handler) AssessInvestment(c *gin.Context) {
	a, err := h.engine.AssessInvestment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// GetActiveAssessment handles GET /v1/risk/investments/:id
func (h *Handler) GetActiveAssessment(c *gin.Context) {
	a, err := h.engine.GetActiveAssessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// GetAssessment handles GET /v1/risk/assessments/:id
func (h *Handler) GetAssessment(c *gin.Context) {
	a, err := h.engine.GetAssessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// GetBorrowerHistory handles GET /v1/risk/borrowers/:id
func (h *Handler) GetBorrowerHistory(c *gin.Context) {
	limit := 10
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	hist, err := h.engine.BorrowerHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"history": hist,
		"count":   len(hist.Assessments),
	})
}

type limitCheckRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CheckFundingLimit handles POST /v1/risk/borrowers/:id/limit-check
func (h *Handler) CheckFundingLimit(c *gin.Context) {
	var req limitCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		invalidRequest(c, "amount must be positive")
		return
	}

	d, err := h.engine.CheckFundingLimit(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": d})
}

type overrideRequest struct {
	Factor   string   `json:"factor" binding:"required"`
	NewScore *float64 `json:"newScore" binding:"required,gte=0,lte=100"`
	Reason   string   `json:"reason" binding:"required"`
}

// OverrideFactor handles PUT /v1/risk/assessments/:id/override
func (h *Handler) OverrideFactor(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err.Error())
		return
	}
	reason := validation.SanitizeString(req.Reason, validation.MaxStringLength)
	errs := validation.Validate(
		validation.Required("reason", reason),
		validation.MaxLength("reason", reason, maxReasonLength),
	)
	if len(errs) > 0 {
		invalidRequest(c, errs.Error())
		return
	}

	ctx := c.Request.Context()
	actor := logging.Actor(ctx)
	if actor == "" {
		actor = "admin"
	}

	a, err := h.engine.OverrideFactor(ctx, c.Param("id"), req.Factor, *req.NewScore, reason, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// Reassess handles POST /v1/risk/investments/:id/reassess
func (h *Handler) Reassess(c *gin.Context) {
	a, err := h.engine.Reassess(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// Report handles GET /v1/risk/report
func (h *Handler) Report(c *gin.Context) {
	days := 30
	if d := c.Query("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed <= 0 || parsed > 365 {
			invalidRequest(c, "days must be between 1 and 365")
			return
		}
		days = parsed
	}

	r, err := h.engine.Report(c.Request.Context(), days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": r})
}

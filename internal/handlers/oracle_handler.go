package handlers

import (
	"context"
	"net/http"

	"oracle-service/internal/models"
	"oracle-service/internal/services"
	"oracle-service/internal/utils"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type Evaluator interface {
	EvaluateClaim(ctx context.Context, claimID uuid.UUID) (*services.EvaluationResult, error)
	EvaluatePolicy(ctx context.Context, policyID uuid.UUID) (*services.EvaluationResult, error)
}

type Sweeper interface {
	SweepExpiringPolicies(ctx context.Context) (*services.SweepReport, error)
}

type OracleHandler struct {
	evaluator  Evaluator
	sweeper    Sweeper
	middleware *Middleware
}

func NewOracleHandler(evaluator Evaluator, sweeper Sweeper, middleware *Middleware) *OracleHandler {
	return &OracleHandler{
		evaluator:  evaluator,
		sweeper:    sweeper,
		middleware: middleware,
	}
}

func (h *OracleHandler) Register(app *fiber.App) {
	protectedGr := app.Group("oracle/protected/api/v1")

	// POST /oracle/protected/api/v1/evaluate
	protectedGr.Post("/evaluate", h.middleware.RequireAdmin, h.EvaluateClaim)

	adminGr := protectedGr.Group("/admin", h.middleware.RequireAdmin)
	adminGr.Post("/evaluate-policy/:id", h.EvaluatePolicy)
	adminGr.Post("/sweep/run", h.RunSweep)
}

func (h *OracleHandler) EvaluateClaim(c fiber.Ctx) error {
	var req models.EvaluateClaimRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_REQUEST", "Invalid request body"))
	}
	claimID, err := req.Parse()
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("VALIDATION_ERROR", err.Error()))
	}

	result, err := h.evaluator.EvaluateClaim(c.Context(), claimID)
	if err != nil {
		return writeError(c, err, "EVALUATION_FAILED", "Failed to evaluate claim")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(result))
}

func (h *OracleHandler) EvaluatePolicy(c fiber.Ctx) error {
	policyID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	result, err := h.evaluator.EvaluatePolicy(c.Context(), policyID)
	if err != nil {
		return writeError(c, err, "EVALUATION_FAILED", "Failed to evaluate policy")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(result))
}

func (h *OracleHandler) RunSweep(c fiber.Ctx) error {
	report, err := h.sweeper.SweepExpiringPolicies(c.Context())
	if err != nil {
		return writeError(c, err, "SWEEP_FAILED", "Failed to run policy sweep")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(report))
}

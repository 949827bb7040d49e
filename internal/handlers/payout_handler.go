package handlers

import (
	"context"
	"net/http"

	"oracle-service/internal/models"
	"oracle-service/internal/utils"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type PayoutManager interface {
	DispatchPayout(ctx context.Context, claimID uuid.UUID) (*models.PayoutRecord, error)
	RetryFailedPayouts(ctx context.Context) (int, error)
	ResolveReconciliation(ctx context.Context, claimID uuid.UUID, req models.ReconcilePayoutRequest, actor string) (*models.PayoutRecord, error)
	ListReconciliationQueue(ctx context.Context) ([]models.PayoutRecord, error)
}

type PayoutHandler struct {
	payouts    PayoutManager
	middleware *Middleware
}

func NewPayoutHandler(payouts PayoutManager, middleware *Middleware) *PayoutHandler {
	return &PayoutHandler{
		payouts:    payouts,
		middleware: middleware,
	}
}

func (h *PayoutHandler) Register(app *fiber.App) {
	payoutGr := app.Group("oracle/protected/api/v1/payouts", h.middleware.RequireAdmin)

	// POST /oracle/protected/api/v1/payouts/dispatch/:claim_id
	payoutGr.Post("/dispatch/:claim_id", h.DispatchPayout)
	payoutGr.Post("/retry", h.RetryFailedPayouts)
	payoutGr.Get("/reconcile/list", h.ListReconciliationQueue)
	payoutGr.Post("/reconcile/:claim_id", h.ResolveReconciliation)
}

func (h *PayoutHandler) DispatchPayout(c fiber.Ctx) error {
	claimID, err := parseUUIDParam(c, "claim_id")
	if err != nil {
		return err
	}

	payout, err := h.payouts.DispatchPayout(c.Context(), claimID)
	if err != nil {
		return writeError(c, err, "DISPATCH_FAILED", "Failed to dispatch payout")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(payout))
}

func (h *PayoutHandler) RetryFailedPayouts(c fiber.Ctx) error {
	retried, err := h.payouts.RetryFailedPayouts(c.Context())
	if err != nil {
		return writeError(c, err, "RETRY_FAILED", "Failed to retry payouts")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(fiber.Map{"retried": retried}))
}

func (h *PayoutHandler) ListReconciliationQueue(c fiber.Ctx) error {
	payouts, err := h.payouts.ListReconciliationQueue(c.Context())
	if err != nil {
		return writeError(c, err, "RETRIEVAL_FAILED", "Failed to retrieve reconciliation queue")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(payouts, 0, 0))
}

func (h *PayoutHandler) ResolveReconciliation(c fiber.Ctx) error {
	claimID, err := parseUUIDParam(c, "claim_id")
	if err != nil {
		return err
	}
	var req models.ReconcilePayoutRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_REQUEST", "Invalid request body"))
	}

	payout, err := h.payouts.ResolveReconciliation(c.Context(), claimID, req, adminID(c))
	if err != nil {
		return writeError(c, err, "RECONCILE_FAILED", "Failed to resolve payout")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(payout))
}

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

type ClaimManager interface {
	SubmitClaim(ctx context.Context, holderID string, req models.SubmitClaimRequest) (*models.Claim, error)
	GetClaim(ctx context.Context, id uuid.UUID) (*models.Claim, error)
	ListClaims(ctx context.Context, filter models.ClaimFilter) ([]models.Claim, error)
	ListEvaluations(ctx context.Context, claimID uuid.UUID) ([]models.EvaluationRecord, error)
	GetEvaluationSnapshot(ctx context.Context, claimID, evaluationID uuid.UUID) (*models.EvaluationRecord, error)
	UpdateClaimStatus(ctx context.Context, claimID uuid.UUID, req models.UpdateClaimStatusRequest, actor string) (*services.EvaluationResult, error)
}

type ClaimHandler struct {
	claims     ClaimManager
	middleware *Middleware
}

func NewClaimHandler(claims ClaimManager, middleware *Middleware) *ClaimHandler {
	return &ClaimHandler{
		claims:     claims,
		middleware: middleware,
	}
}

func (h *ClaimHandler) Register(app *fiber.App) {
	claimGr := app.Group("oracle/protected/api/v1/claims")

	// Holder routes (X-User-ID from gateway)
	// POST /oracle/protected/api/v1/claims
	claimGr.Post("/", h.middleware.RequireUser, h.SubmitClaim)
	readOwnGr := claimGr.Group("/read-own", h.middleware.RequireUser)
	readOwnGr.Get("/list", h.ListOwnClaims)
	readOwnGr.Get("/detail/:id", h.GetOwnClaim)

	// Admin routes
	readAllGr := claimGr.Group("/read-all", h.middleware.RequireAdmin)
	readAllGr.Get("/list", h.ListAllClaims)
	readAllGr.Get("/detail/:id", h.GetClaim)
	readAllGr.Get("/:id/evaluations", h.ListEvaluations)
	readAllGr.Get("/:id/evaluations/:evaluation_id", h.GetEvaluationSnapshot)

	updateAnyGr := claimGr.Group("/update-any", h.middleware.RequireAdmin)
	updateAnyGr.Put("/:id/status", h.UpdateClaimStatus)
}

func (h *ClaimHandler) SubmitClaim(c fiber.Ctx) error {
	var req models.SubmitClaimRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_REQUEST", "Invalid request body"))
	}

	claim, err := h.claims.SubmitClaim(c.Context(), userID(c), req)
	if err != nil {
		return writeError(c, err, "CREATION_FAILED", "Failed to submit claim")
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(claim))
}

func (h *ClaimHandler) ListOwnClaims(c fiber.Ctx) error {
	limit, offset := paging(c)
	filter := models.ClaimFilter{
		HolderID: userID(c),
		Status:   models.ClaimStatus(c.Query("status")),
		Limit:    limit,
		Offset:   offset,
	}

	claims, err := h.claims.ListClaims(c.Context(), filter)
	if err != nil {
		return writeError(c, err, "RETRIEVAL_FAILED", "Failed to retrieve claims")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(claims, limit, offset))
}

func (h *ClaimHandler) GetOwnClaim(c fiber.Ctx) error {
	claimID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	claim, err := h.claims.GetClaim(c.Context(), claimID)
	if err != nil {
		return writeError(c, err, "RETRIEVAL_FAILED", "Failed to retrieve claim")
	}
	// other holders' claims are reported as missing
	if claim.HolderID != userID(c) {
		return c.Status(http.StatusNotFound).JSON(
			utils.CreateErrorResponse("NOT_FOUND", "Claim not found"))
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(claim))
}

func (h *ClaimHandler) ListAllClaims(c fiber.Ctx) error {
	limit, offset := paging(c)
	filter := models.ClaimFilter{
		HolderID: c.Query("holder_id"),
		Status:   models.ClaimStatus(c.Query("status")),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := c.Query("policy_id"); raw != "" {
		policyID, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(
				utils.CreateErrorResponse("INVALID_UUID", "Invalid policy_id format"))
		}
		filter.PolicyID = policyID
	}

	claims, err := h.claims.ListClaims(c.Context(), filter)
	if err != nil {
		return writeError(c, err, "RETRIEVAL_FAILED", "Failed to retrieve claims")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(claims, limit, offset))
}

func (h *ClaimHandler) GetClaim(c fiber.Ctx) error {
	claimID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	claim, err := h.claims.GetClaim(c.Context(), claimID)
	if err != nil {
		return writeError(c, err, "RETRIEVAL_FAILED", "Failed to retrieve claim")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(claim))
}

func (h *ClaimHandler) ListEvaluations(c fiber.Ctx) error {
	claimID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	records, err := h.claims.ListEvaluations(c.Context(), claimID)
	if err != nil {
		return writeError(c, err, "RETRIEVAL_FAILED", "Failed to retrieve evaluations")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(records))
}

func (h *ClaimHandler) GetEvaluationSnapshot(c fiber.Ctx) error {
	claimID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	evaluationID, err := parseUUIDParam(c, "evaluation_id")
	if err != nil {
		return err
	}

	record, err := h.claims.GetEvaluationSnapshot(c.Context(), claimID, evaluationID)
	if err != nil {
		return writeError(c, err, "RETRIEVAL_FAILED", "Failed to retrieve evaluation")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(record))
}

func (h *ClaimHandler) UpdateClaimStatus(c fiber.Ctx) error {
	claimID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var req models.UpdateClaimStatusRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_REQUEST", "Invalid request body"))
	}

	result, err := h.claims.UpdateClaimStatus(c.Context(), claimID, req, adminID(c))
	if err != nil {
		return writeError(c, err, "UPDATE_FAILED", "Failed to update claim status")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(result))
}

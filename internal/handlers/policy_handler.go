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

type PolicyManager interface {
	ListPolicyTypes() []services.PolicyTypeInfo
	CreatePolicy(ctx context.Context, holderID string, req models.CreatePolicyRequest) (*models.Policy, error)
	GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error)
	ListPolicies(ctx context.Context, filter models.PolicyFilter) ([]models.Policy, error)
	CancelPolicy(ctx context.Context, id uuid.UUID, actor string) (*models.Policy, error)
}

type PolicyHandler struct {
	policies   PolicyManager
	middleware *Middleware
}

func NewPolicyHandler(policies PolicyManager, middleware *Middleware) *PolicyHandler {
	return &PolicyHandler{
		policies:   policies,
		middleware: middleware,
	}
}

func (h *PolicyHandler) Register(app *fiber.App) {
	publicGr := app.Group("oracle/public/api/v1")
	// GET /oracle/public/api/v1/policies/types
	publicGr.Get("/policies/types", h.ListPolicyTypes)

	policyGr := app.Group("oracle/protected/api/v1/policies")
	policyGr.Post("/", h.middleware.RequireUser, h.CreatePolicy)
	readOwnGr := policyGr.Group("/read-own", h.middleware.RequireUser)
	readOwnGr.Get("/list", h.ListOwnPolicies)
	readOwnGr.Get("/detail/:id", h.GetOwnPolicy)

	readAllGr := policyGr.Group("/read-all", h.middleware.RequireAdmin)
	readAllGr.Get("/list", h.ListAllPolicies)
	readAllGr.Get("/detail/:id", h.GetPolicy)

	cancelAnyGr := policyGr.Group("/cancel-any", h.middleware.RequireAdmin)
	cancelAnyGr.Post("/:id", h.CancelPolicy)
}

func (h *PolicyHandler) ListPolicyTypes(c fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(h.policies.ListPolicyTypes()))
}

func (h *PolicyHandler) CreatePolicy(c fiber.Ctx) error {
	var req models.CreatePolicyRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_REQUEST", "Invalid request body"))
	}

	policy, err := h.policies.CreatePolicy(c.Context(), userID(c), req)
	if err != nil {
		return writeError(c, err, "CREATION_FAILED", "Failed to create policy")
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(policy))
}

func (h *PolicyHandler) ListOwnPolicies(c fiber.Ctx) error {
	limit, offset := paging(c)
	policies, err := h.policies.ListPolicies(c.Context(), models.PolicyFilter{
		HolderID:   userID(c),
		Status:     models.PolicyStatus(c.Query("status")),
		PolicyType: models.PolicyType(c.Query("policy_type")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return writeError(c, err, "RETRIEVAL_FAILED", "Failed to retrieve policies")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(policies, limit, offset))
}

func (h *PolicyHandler) GetOwnPolicy(c fiber.Ctx) error {
	policyID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	policy, err := h.policies.GetPolicy(c.Context(), policyID)
	if err != nil {
		return writeError(c, err, "RETRIEVAL_FAILED", "Failed to retrieve policy")
	}
	if policy.HolderID != userID(c) {
		return c.Status(http.StatusNotFound).JSON(
			utils.CreateErrorResponse("NOT_FOUND", "Policy not found"))
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}

func (h *PolicyHandler) ListAllPolicies(c fiber.Ctx) error {
	limit, offset := paging(c)
	policies, err := h.policies.ListPolicies(c.Context(), models.PolicyFilter{
		HolderID:   c.Query("holder_id"),
		Status:     models.PolicyStatus(c.Query("status")),
		PolicyType: models.PolicyType(c.Query("policy_type")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return writeError(c, err, "RETRIEVAL_FAILED", "Failed to retrieve policies")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(policies, limit, offset))
}

func (h *PolicyHandler) GetPolicy(c fiber.Ctx) error {
	policyID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	policy, err := h.policies.GetPolicy(c.Context(), policyID)
	if err != nil {
		return writeError(c, err, "RETRIEVAL_FAILED", "Failed to retrieve policy")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}

func (h *PolicyHandler) CancelPolicy(c fiber.Ctx) error {
	policyID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	policy, err := h.policies.CancelPolicy(c.Context(), policyID, adminID(c))
	if err != nil {
		return writeError(c, err, "CANCEL_FAILED", "Failed to cancel policy")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}

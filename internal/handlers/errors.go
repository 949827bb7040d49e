package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"oracle-service/internal/models"
	"oracle-service/internal/services"
	"oracle-service/internal/utils"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type errorMapping struct {
	kind      error
	status    int
	code      string
	retryable bool
}

// Ordered: a dispatch error can carry both a kind and its cause.
var errorMappings = []errorMapping{
	{models.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR", false},
	{models.ErrNotFound, http.StatusNotFound, "NOT_FOUND", false},
	{models.ErrIdentityNotVerified, http.StatusForbidden, "IDENTITY_NOT_VERIFIED", false},
	{models.ErrAlreadyPaid, http.StatusConflict, "ALREADY_PAID", false},
	{models.ErrInvalidState, http.StatusConflict, "INVALID_STATE", false},
	{models.ErrNoActiveConditions, http.StatusUnprocessableEntity, "NO_ACTIVE_CONDITIONS", false},
	{services.ErrNoClaimToEvaluate, http.StatusConflict, "NO_CLAIM_TO_EVALUATE", false},
	{models.ErrLockNotAcquired, http.StatusConflict, "RESOURCE_BUSY", true},
	{models.ErrTransferAmbiguous, http.StatusAccepted, "TRANSFER_AMBIGUOUS", false},
	{models.ErrTransferFailed, http.StatusBadGateway, "TRANSFER_FAILED", true},
}

// writeError maps a service error to a response. Unknown errors are logged
// and hidden behind failCode.
func writeError(c fiber.Ctx, err error, failCode, failMessage string) error {
	for _, m := range errorMappings {
		if !errors.Is(err, m.kind) {
			continue
		}
		if m.retryable {
			return c.Status(m.status).JSON(utils.CreateRetryableErrorResponse(m.code, err.Error()))
		}
		return c.Status(m.status).JSON(utils.CreateErrorResponse(m.code, err.Error()))
	}

	slog.Error(failMessage, "path", c.Path(), "error", err)
	return c.Status(http.StatusInternalServerError).JSON(
		utils.CreateErrorResponse(failCode, failMessage))
}

func parseUUIDParam(c fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_UUID", "Invalid "+name+" format"))
	}
	return id, nil
}

// paging reads limit and offset query params, ignoring junk.
func paging(c fiber.Ctx) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))
	offset, _ = strconv.Atoi(c.Query("offset"))
	if limit < 0 || limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

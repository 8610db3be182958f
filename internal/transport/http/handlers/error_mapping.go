package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/repository"
	"github.com/arklim/bizhub-authz/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// validationCases cover input errors shared by catalog and grant endpoints.
var validationCases = []ErrorCase{
	{Err: usecase.ErrInvalidPermissionCode, Status: http.StatusBadRequest, Message: "invalid permission code"},
	{Err: usecase.ErrInvalidName, Status: http.StatusBadRequest, Message: "permission name is required"},
	{Err: usecase.ErrInvalidEffect, Status: http.StatusBadRequest, Message: "effect must be ALLOW or DENY"},
	{Err: usecase.ErrExpiryInPast, Status: http.StatusBadRequest, Message: "expiry must be in the future"},
	{Err: usecase.ErrImmutableField, Status: http.StatusBadRequest, Message: "field cannot be changed"},
	{Err: domain.ErrInvalidScalar, Status: http.StatusBadRequest, Message: "values must be strings, numbers or booleans"},
	{Err: usecase.ErrInvalidArgument, Status: http.StatusBadRequest, Message: "invalid request"},
}

var infrastructureCase = ErrorCase{Err: usecase.ErrInfrastructure, Status: http.StatusServiceUnavailable, Message: "authorization store unavailable"}

func withValidation(cases ...ErrorCase) []ErrorCase {
	out := append(cases, validationCases...)
	return append(out, infrastructureCase)
}

var (
	permissionErrorCases = withValidation(
		ErrorCase{Err: repository.ErrNotFound, Status: http.StatusNotFound, Message: "permission not found"},
		ErrorCase{Err: usecase.ErrDuplicateCode, Status: http.StatusConflict, Message: "permission code already exists"},
		ErrorCase{Err: usecase.ErrPermissionInUse, Status: http.StatusConflict, Message: "permission is still granted to users"},
		ErrorCase{Err: usecase.ErrForbidden, Status: http.StatusForbidden, Message: "operation not allowed"},
	)

	grantErrorCases = withValidation(
		ErrorCase{Err: repository.ErrNotFound, Status: http.StatusNotFound, Message: "direct permission or permission not found"},
		ErrorCase{Err: usecase.ErrGrantConflict, Status: http.StatusConflict, Message: "user already holds an active grant for this permission"},
	)
)

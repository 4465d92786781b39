package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stevelan1995/hrflow/pkg/api/dto"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

// respondError 把领域错误映射为HTTP状态码
func respondError(c *gin.Context, err error) {
	var (
		validationErr *workflow.ValidationError
		notFoundErr   *workflow.NotFoundError
		conflictErr   *workflow.ConflictError
		canceledErr   *workflow.RunCanceledError
		externalErr   *workflow.ExternalDependencyError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, validationErr.Error()))
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, notFoundErr.Error()))
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, dto.NewErrorResponse(409, conflictErr.Error()))
	case errors.As(err, &canceledErr):
		c.JSON(http.StatusConflict, dto.NewErrorResponse(409, canceledErr.Error()))
	case errors.As(err, &externalErr):
		c.JSON(http.StatusBadGateway, dto.NewErrorResponse(502, externalErr.Error()))
	default:
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, err.Error()))
	}
}

package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"RecipeAcquisition/internal/domain"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error       string   `json:"error"`
	Cause       string   `json:"cause,omitempty"`
	Problems    []string `json:"problems,omitempty"`
	ManualEntry bool     `json:"manualEntry,omitempty"`
	JobID       string   `json:"jobId,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidationFailed), errors.Is(err, domain.ErrInvalidURL):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStaleDraft), errors.Is(err, domain.ErrCatalogConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConcurrencyLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrRobotsDisallowed):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrFetchTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrJobCancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	body := errorBody{Error: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Problems = verr.Problems
	}
	var ferr *domain.FetchError
	if errors.As(err, &ferr) {
		body.Cause = domain.Cause(err)
		body.ManualEntry = true
	}
	c.JSON(statusFor(err), body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: msg})
}

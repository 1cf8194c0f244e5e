package v0

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mcphub-dev/mcphub/internal/database"
)

// mapError converts service errors to HTTP status errors. Invalid status
// transitions and state conflicts both answer 409.
func mapError(err error, fallback string) error {
	var invalid *database.InvalidTransitionError
	switch {
	case errors.Is(err, database.ErrNotFound):
		return huma.Error404NotFound("Resource not found")
	case errors.Is(err, database.ErrAlreadyExists):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, database.ErrConflict):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &invalid):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, database.ErrInvalidInput):
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		return huma.Error500InternalServerError(fallback, err)
	}
}

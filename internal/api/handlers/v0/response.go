package v0

// Response is a generic wrapper for Huma responses.
type Response[T any] struct {
	Body T
}

// EmptyResponse is a simple success payload.
type EmptyResponse struct {
	Message string `json:"message" doc:"Success message" example:"Operation completed successfully"`
}

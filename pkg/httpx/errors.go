package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrTimeout reports a request that was aborted because its deadline fired
// or its context was cancelled. It is distinct from a server error: the
// backend was never heard from.
var ErrTimeout = errors.New("httpx: request timed out")

// APIError is the uniform shape of a non-2xx backend response.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Message is the best human-readable message the error body offered.
	Message string

	// RawBody is the unparsed response body, kept for diagnostics.
	RawBody []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// errorBody is the superset of error payload shapes the backend emits.
// Message extraction priority: detail.message, then the top-level message,
// then detail.error (a machine code, better than nothing), then the HTTP
// status text.
type errorBody struct {
	Message string `json:"message"`
	Detail  struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	} `json:"detail"`
}

// shapeError builds the APIError for a non-2xx response.
func shapeError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Message:    http.StatusText(statusCode),
		RawBody:    body,
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return apiErr
	}

	switch {
	case parsed.Detail.Message != "":
		apiErr.Message = parsed.Detail.Message
	case parsed.Message != "":
		apiErr.Message = parsed.Message
	case parsed.Detail.Error != "":
		apiErr.Message = parsed.Detail.Error
	}

	return apiErr
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, statusCode int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == statusCode
}

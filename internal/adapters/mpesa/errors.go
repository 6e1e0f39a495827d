package mpesa

import (
	"errors"
	"fmt"
)

// Error code the STK query endpoint returns while the customer has not yet
// answered the prompt.
const codeStillProcessing = "500.001.1001"

type APIError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mpesa error [%s]: %s (status: %d)", e.Code, e.Message, e.StatusCode)
}

func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

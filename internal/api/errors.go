package api

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the backend reports 404 for a resource.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx backend response. 5xx responses are retryable,
// 4xx responses are not.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned %d", e.Op, e.Code)
}

func (e *StatusError) Retryable() bool {
	return e.Code >= 500
}

// Package errors defines the failure taxonomy shared by the node, driver and
// dispatcher and maps it onto HTTP statuses and stable error codes for API
// clients.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoNodesAvailable means no storage node answered a read or a
	// submission.
	ErrNoNodesAvailable = errors.New("no storage node available")
	// ErrRejectedByAll means every reachable node already knew a submitted
	// URL.
	ErrRejectedByAll = errors.New("rejected by all reachable nodes")
	// ErrPeerUnavailable means a specific peer could not be reached.
	ErrPeerUnavailable = errors.New("peer unavailable")
	// ErrFetch means a page could not be retrieved or parsed.
	ErrFetch        = errors.New("fetch failed")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)

// AppError attaches an HTTP status and a message to one of the sentinels.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: statusCode}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return New(sentinel, statusCode, fmt.Sprintf(format, args...))
}

var codes = []struct {
	sentinel error
	status   int
	code     string
}{
	{ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{ErrRejectedByAll, http.StatusConflict, "already_known"},
	{ErrNoNodesAvailable, http.StatusServiceUnavailable, "no_nodes"},
	{ErrPeerUnavailable, http.StatusServiceUnavailable, "peer_unavailable"},
	{ErrFetch, http.StatusBadGateway, "fetch_failed"},
	{ErrInternal, http.StatusInternalServerError, "internal"},
}

// HTTPStatusCode prefers an AppError's own status, then the sentinel's, then
// 500.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	for _, c := range codes {
		if errors.Is(err, c.sentinel) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}

// Code returns the stable API code for err's sentinel, or "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.sentinel) {
			return c.code
		}
	}
	return "internal"
}

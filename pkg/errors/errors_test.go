package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusAndCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"app error keeps its status", New(ErrNoNodesAvailable, http.StatusGatewayTimeout, "slow"), http.StatusGatewayTimeout, "no_nodes"},
		{"wrapped sentinel", fmt.Errorf("search: %w", ErrNoNodesAvailable), http.StatusServiceUnavailable, "no_nodes"},
		{"rejected", Newf(ErrRejectedByAll, 0, "%s known", "u"), http.StatusConflict, "already_known"},
		{"invalid", ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{"fetch", fmt.Errorf("%w: timeout", ErrFetch), http.StatusBadGateway, "fetch_failed"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.status {
				t.Errorf("status = %d, want %d", got, tt.status)
			}
			if got := Code(tt.err); got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestAppErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("add url: %w", New(ErrRejectedByAll, http.StatusConflict, "http://x"))
	if !errors.Is(err, ErrRejectedByAll) {
		t.Error("errors.Is lost the sentinel")
	}
	if got := err.Error(); got != "add url: rejected by all reachable nodes: http://x" {
		t.Errorf("message = %q", got)
	}
}

package provider

import (
	"fmt"
	"strings"
)

// UpstreamError carries a non-success upstream response so it can be relayed
// to the caller with the same status code and body.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("upstream error status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream error status %d: %s", e.StatusCode, body)
}

// Status returns the upstream HTTP status code.
func (e *UpstreamError) Status() int {
	return e.StatusCode
}

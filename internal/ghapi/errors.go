package ghapi

import (
	"fmt"
	"time"
)

// HTTPError is a non-2xx API response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("github api error %d: %s", e.StatusCode, e.Status)
}

// RateLimitError is returned when the API quota is exhausted. It is a
// distinct type, not a generic HTTP error, so callers can schedule a
// retry for the reset time instead of surfacing a failure.
type RateLimitError struct {
	Reset time.Time
	Limit int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github rate limit exceeded, resets at %s", e.Reset.Format(time.RFC3339))
}

// NotFoundError carries repository context for 404 responses so the
// message names the repo that was missing or inaccessible.
type NotFoundError struct {
	Owner string
	Repo  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("repository not found or not accessible: %s/%s", e.Owner, e.Repo)
}

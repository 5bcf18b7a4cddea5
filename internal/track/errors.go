package track

import (
	"errors"
	"fmt"
)

// RateLimitedError indicates the backend rejected a registration because the
// account's tracking quota is exhausted.
type RateLimitedError struct {
	Hint string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("tracking quota exceeded: %s", e.Hint)
}

// IsRateLimited reports whether err is a RateLimitedError.
func IsRateLimited(err error) bool {
	var re *RateLimitedError
	return errors.As(err, &re)
}

// NotFoundError indicates the backend does not know the tracking id at all,
// as opposed to knowing it with zero opens.
type NotFoundError struct {
	TrackingID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tracking id %s is unknown to the backend", e.TrackingID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// NoMatchError indicates a dashboard lookup found no qualifying entry:
// empty history, or no track for the requested recipient. Distinct from
// NotFoundError, which is about a specific known id.
type NoMatchError struct {
	Criteria string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no tracked email matches %s", e.Criteria)
}

// IsNoMatch reports whether err is a NoMatchError.
func IsNoMatch(err error) bool {
	var ne *NoMatchError
	return errors.As(err, &ne)
}

// BackendError is any other non-success backend response.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error (%d): %s", e.Status, e.Body)
}

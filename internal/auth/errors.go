package auth

import (
	"errors"
	"fmt"
)

// NotAuthenticatedError indicates there is no usable stored credential at
// all. The fix is to run login.
type NotAuthenticatedError struct{}

func (e *NotAuthenticatedError) Error() string {
	return "not logged in"
}

// IsNotAuthenticated reports whether err is a NotAuthenticatedError.
func IsNotAuthenticated(err error) bool {
	var ne *NotAuthenticatedError
	return errors.As(err, &ne)
}

// ReauthRequiredError indicates the provider rejected the stored refresh
// token. The store is deliberately left intact: the rejection may be
// transient, and only an explicit logout clears the record.
type ReauthRequiredError struct {
	Err error
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("token refresh rejected, re-authentication required: %v", e.Err)
}

func (e *ReauthRequiredError) Unwrap() error { return e.Err }

// IsReauthRequired reports whether err is a ReauthRequiredError.
func IsReauthRequired(err error) bool {
	var re *ReauthRequiredError
	return errors.As(err, &re)
}

// ListenerBindError indicates the local callback listener could not bind its
// port, typically because another process already holds it.
type ListenerBindError struct {
	Port int
	Err  error
}

func (e *ListenerBindError) Error() string {
	return fmt.Sprintf("cannot bind local callback listener on port %d: %v", e.Port, e.Err)
}

func (e *ListenerBindError) Unwrap() error { return e.Err }

// TokenExchangeError indicates the authorization code could not be exchanged
// for tokens (invalid or expired code, network failure, consent denied).
type TokenExchangeError struct {
	Err error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("authorization code exchange failed: %v", e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// ProviderError is a generic non-success response from the mail provider.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%d): %s", e.Status, e.Body)
}

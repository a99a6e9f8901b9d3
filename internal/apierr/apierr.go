// Package apierr defines the error taxonomy shared by the client core.
// Durable-write failures surface to the caller; ephemeral-signal failures are
// swallowed at the call site.
package apierr

import (
	"errors"
	"fmt"
)

// AuthError means credentials are invalid or a refresh exchange failed. The
// session is torn down when one of these escapes the retry path.
type AuthError struct {
	Op      string
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: authentication failed", e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// ValidationError is a client-side rejection raised before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransientError is a REST call that failed for a reason worth retrying
// manually (network fault, 5xx, unexpected status). Not retried
// automatically except for the single refresh-and-retry on 401.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ChannelError is a websocket fault. It triggers the reconnect flow and is
// not surfaced to the user.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *ChannelError) Unwrap() error { return e.Err }

// IsAuth reports whether err is an AuthError anywhere in its chain.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidation reports whether err is a ValidationError anywhere in its chain.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err is a TransientError anywhere in its chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

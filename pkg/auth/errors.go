// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure. Callers branch on Kind, never on
// the error message.
type Kind string

const (
	KindNetwork          Kind = "NETWORK_ERROR"
	KindInvalidResponse  Kind = "INVALID_RESPONSE"
	KindUserDenied       Kind = "USER_DENIED"
	KindRefreshFailed    Kind = "REFRESH_FAILED"
	KindKeychain         Kind = "KEYCHAIN_ERROR"
	KindNotAuthenticated Kind = "NOT_AUTHENTICATED"
	KindBrowserFailed    Kind = "BROWSER_FAILED"
	KindInvalidConfig    Kind = "INVALID_CONFIG"
	// KindTimeout and KindCancelled end a callback wait that never saw a redirect.
	KindTimeout   Kind = "TIMEOUT"
	KindCancelled Kind = "CANCELLED"
)

// Error is the single error type returned by this package.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

var (
	// ErrStateMismatch is the cause of the INVALID_RESPONSE raised when the
	// redirect carries a state other than the one sent with the request.
	ErrStateMismatch = errors.New("state mismatch")
	// ErrMissingCode is the cause used when a redirect carries neither a code nor an error.
	ErrMissingCode = errors.New("missing authorization code")
)

// KindOf returns the Kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns the text the CLI shows for err.
func UserMessage(err error) string {
	var authErr *Error
	if !errors.As(err, &authErr) {
		return fmt.Sprintf("Unexpected error: %v", err)
	}
	switch authErr.Kind {
	case KindUserDenied:
		return "Authentication was cancelled or denied in the browser."
	case KindRefreshFailed:
		return "Your session could not be refreshed. Please run 'cloudctl auth login' again."
	case KindNotAuthenticated:
		return "Not logged in. Run 'cloudctl auth login' first."
	case KindNetwork:
		return fmt.Sprintf("Could not reach the authentication server: %s", authErr.Message)
	case KindKeychain:
		return fmt.Sprintf("Could not access the system keychain: %s", authErr.Message)
	case KindBrowserFailed:
		return "Could not open your browser. Copy the URL above into a browser manually or use --no-browser."
	case KindInvalidConfig:
		return fmt.Sprintf("Invalid authentication configuration: %s", authErr.Message)
	case KindTimeout:
		return "Timed out waiting for the browser login to complete. Please try again."
	case KindCancelled:
		return "Login cancelled."
	default:
		return fmt.Sprintf("Authentication failed: %s", authErr.Message)
	}
}

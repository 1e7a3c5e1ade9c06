// Package auth maps identity-provider failures to user-facing text and runs
// the Google sign-in flow.
package auth

import (
	"errors"
	"fmt"
)

// Error codes, in the identity provider's "auth/..." namespace.
const (
	CodeEmailAlreadyInUse     = "auth/email-already-in-use"
	CodeInvalidEmail          = "auth/invalid-email"
	CodeOperationNotAllowed   = "auth/operation-not-allowed"
	CodeWeakPassword          = "auth/weak-password"
	CodeUserDisabled          = "auth/user-disabled"
	CodeUserNotFound          = "auth/user-not-found"
	CodeWrongPassword         = "auth/wrong-password"
	CodeInvalidCredential     = "auth/invalid-credential"
	CodeTooManyRequests       = "auth/too-many-requests"
	CodePopupClosedByUser     = "auth/popup-closed-by-user"
	CodeCancelledPopupRequest = "auth/cancelled-popup-request"
	CodePopupBlocked          = "auth/popup-blocked"
	CodeEmailNotVerified      = "auth/email-not-verified"
	CodeInternal              = "auth/internal-error"
)

const defaultMessage = "An error occurred during authentication. Please try again."

var messages = map[string]string{
	CodeEmailAlreadyInUse:     "This email is already registered. Please sign in or use a different email.",
	CodeInvalidEmail:          "Invalid email address. Please check and try again.",
	CodeOperationNotAllowed:   "Email/password accounts are not enabled. Please contact support.",
	CodeWeakPassword:          "Password is too weak. Please use a stronger password.",
	CodeUserDisabled:          "This account has been disabled. Please contact support.",
	CodeUserNotFound:          "No account found with this email. Please register first.",
	CodeWrongPassword:         "Incorrect password. Please try again.",
	CodeInvalidCredential:     "Incorrect password. Please try again.",
	CodeTooManyRequests:       "Too many attempts. Please wait a moment and try again.",
	CodePopupClosedByUser:     "Sign-in popup was closed. Please try again.",
	CodeCancelledPopupRequest: "Only one popup request allowed at a time. Please try again.",
	CodePopupBlocked:          "Sign-in popup was blocked by your browser. Please allow popups for this site.",
	CodeEmailNotVerified:      "Your Google account email is not verified.",
}

// Error is an identity failure tagged with its code.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with code.
func NewError(code string, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Message returns the user-facing text for code.
func Message(code string) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return defaultMessage
}

// UserMessage is Message(CodeOf(err)).
func UserMessage(err error) string {
	return Message(CodeOf(err))
}

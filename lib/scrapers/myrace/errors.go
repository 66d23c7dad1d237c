package myrace

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrEmailLinkSent reports that the site chose the emailed-link login
// flow: the confirmation happens outside this process and the operator
// has to re-run after clicking the link.
var ErrEmailLinkSent = errors.New("a confirmation link was sent by email, run the login again after clicking it")

type AuthErrorKind string

const (
	AuthInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthInvalidOtp         AuthErrorKind = "invalid_otp"
	AuthTimeout            AuthErrorKind = "timeout"
	AuthUnreachable        AuthErrorKind = "unreachable"
	AuthAmbiguous          AuthErrorKind = "ambiguous"
)

type AuthError struct {
	Kind   AuthErrorKind
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("auth failed (%s): %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("auth failed (%s)", e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Err }

type ResolutionErrorKind string

const (
	ResolutionNotFound    ResolutionErrorKind = "not_found"
	ResolutionAmbiguous   ResolutionErrorKind = "ambiguous"
	ResolutionUnreachable ResolutionErrorKind = "unreachable"
)

type ResolutionError struct {
	Kind ResolutionErrorKind
	// what was being resolved, e.g. "coupon type"
	What   string
	Detail string
	Err    error
}

func (e *ResolutionError) Error() string {
	what := e.What
	if what == "" {
		what = "resolution"
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s failed (%s): %s", what, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s failed (%s)", what, e.Kind)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type CreationErrorKind string

const (
	CreationFormRejected CreationErrorKind = "form_rejected"
	CreationUnreachable  CreationErrorKind = "unreachable"
	CreationTimeout      CreationErrorKind = "timeout"
)

type CreationError struct {
	Kind CreationErrorKind
	// the requested coupon code
	Code   string
	Detail string
	Err    error
}

func (e *CreationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("creating coupon %q failed (%s): %s", e.Code, e.Kind, e.Detail)
	}
	return fmt.Sprintf("creating coupon %q failed (%s)", e.Code, e.Kind)
}

func (e *CreationError) Unwrap() error { return e.Err }

type PollErrorKind string

const (
	PollUnreachable      PollErrorKind = "unreachable"
	PollExtractionFailed PollErrorKind = "extraction_failed"
)

type PollError struct {
	Kind   PollErrorKind
	Detail string
	Err    error
}

func (e *PollError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("race poll failed (%s): %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("race poll failed (%s)", e.Kind)
}

func (e *PollError) Unwrap() error { return e.Err }

// isTimeout tells a timed-out request apart from other transport
// failures so errors can carry the right kind.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

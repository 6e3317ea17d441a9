package profile

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindProfileNotFound
	KindTimeout
	KindBlockedOrRateLimited
	KindUnexpectedMarkup
	KindBrowserCrash
	KindVerificationMismatch
	KindMaxAttemptsExceeded
	KindPersistenceError
)

func (k ErrorKind) String() string {
	switch k {
	case KindProfileNotFound:
		return "ProfileNotFound"
	case KindTimeout:
		return "Timeout"
	case KindBlockedOrRateLimited:
		return "BlockedOrRateLimited"
	case KindUnexpectedMarkup:
		return "UnexpectedMarkup"
	case KindBrowserCrash:
		return "BrowserCrash"
	case KindVerificationMismatch:
		return "VerificationMismatch"
	case KindMaxAttemptsExceeded:
		return "MaxAttemptsExceeded"
	case KindPersistenceError:
		return "PersistenceError"
	}
	return "Unknown"
}

// Retryable reports whether the orchestrator may retry an operation that
// failed with this kind.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindBlockedOrRateLimited, KindBrowserCrash:
		return true
	}
	return false
}

// Error is the typed failure of any extraction, verification or persistence step.
type Error struct {
	Kind     ErrorKind
	Platform Platform
	Handle   string
	Err      error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindProfileNotFound:
		msg = fmt.Sprintf("%s profile %q was not found, check the handle", e.Platform.Title(), e.Handle)
	case KindTimeout:
		msg = fmt.Sprintf("%s took too long to respond, try again shortly", e.Platform.Title())
	case KindBlockedOrRateLimited:
		msg = fmt.Sprintf("%s is rate limiting requests, try again shortly", e.Platform.Title())
	case KindBrowserCrash:
		msg = fmt.Sprintf("the browser crashed while loading %s, try again shortly", e.Platform.Title())
	case KindUnexpectedMarkup:
		msg = fmt.Sprintf("could not read the %s profile of %q", e.Platform.Title(), e.Handle)
	case KindVerificationMismatch:
		msg = fmt.Sprintf("verification code not found on %s profile %q", e.Platform.Title(), e.Handle)
	case KindMaxAttemptsExceeded:
		msg = fmt.Sprintf("too many verification attempts for %s, request a new code", e.Platform.Title())
	case KindPersistenceError:
		msg = "failed to save profile data"
	default:
		msg = "unknown failure"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, platform Platform, handle string, err error) *Error {
	return &Error{Kind: kind, Platform: platform, Handle: handle, Err: err}
}

func NotFound(platform Platform, handle string) *Error {
	return NewError(KindProfileNotFound, platform, handle, nil)
}

func UnexpectedMarkup(platform Platform, handle string, err error) *Error {
	return NewError(KindUnexpectedMarkup, platform, handle, err)
}

func Blocked(platform Platform, handle string, err error) *Error {
	return NewError(KindBlockedOrRateLimited, platform, handle, err)
}

func Persistence(err error) *Error {
	return NewError(KindPersistenceError, "", "", err)
}

// KindOf classifies any error, deadlines and network timeouts count as KindTimeout.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// FromStatus maps an HTTP status code of a platform response to an error kind,
// it returns nil for successful codes.
func FromStatus(platform Platform, handle string, status int, err error) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return NewError(KindProfileNotFound, platform, handle, err)
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusTooManyRequests,
		status >= 500:
		return NewError(KindBlockedOrRateLimited, platform, handle, err)
	}
	return NewError(KindUnexpectedMarkup, platform, handle, err)
}

package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an authentication failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidConfiguration
	KindBrowserUnavailable
	KindAuthorizationDenied
	KindTokenExchangeFailed
	KindUserInfoFetchFailed
	KindNoActiveSession
)

func (k Kind) String() string {
	switch k {
	case KindInvalidConfiguration:
		return "invalid_configuration"
	case KindBrowserUnavailable:
		return "browser_unavailable"
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindTokenExchangeFailed:
		return "token_exchange_failed"
	case KindUserInfoFetchFailed:
		return "userinfo_fetch_failed"
	case KindNoActiveSession:
		return "no_active_session"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every operation in this package and
// by the session controller. It carries enough HTTP context to be logged or
// displayed without further lookups.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// Op names the operation that failed, e.g. "exchange_code".
	Op string
	// URL is the endpoint involved, if any.
	URL string
	// StatusCode is the HTTP status returned by the provider. Zero means the
	// request never completed.
	StatusCode int
	// Body is the raw response body.
	Body string
	// Code and Description mirror the OAuth error and error_description
	// fields, from either a redirect or a JSON error body.
	Code        string
	Description string
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
		if e.Description != "" {
			msg += " - " + e.Description
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.StatusCode == 0 && t.Err == nil && t.Kind == e.Kind
}

// Rejected reports whether the provider refused the grant outright, as
// opposed to a transport failure or a server hiccup.
func (e *Error) Rejected() bool {
	if e.Kind != KindTokenExchangeFailed {
		return false
	}
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		return e.Code == "invalid_grant"
	}
	return false
}

// Sentinels for errors.Is by kind.
var (
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration}
	ErrBrowserUnavailable   = &Error{Kind: KindBrowserUnavailable}
	ErrAuthorizationDenied  = &Error{Kind: KindAuthorizationDenied}
	ErrTokenExchangeFailed  = &Error{Kind: KindTokenExchangeFailed}
	ErrUserInfoFetchFailed  = &Error{Kind: KindUserInfoFetchFailed}
	ErrNoActiveSession      = &Error{Kind: KindNoActiveSession}
)

var (
	ErrMissingRefreshToken = errors.New("token response has no refresh_token")
	ErrMissingAccessToken  = errors.New("token response has no access_token")
	ErrUserCanceled        = errors.New("user canceled the authorization")
	ErrStaleGeneration     = errors.New("token store was cleared during the exchange")
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRejected reports whether err is a token exchange the provider refused.
// The stored refresh token is no longer usable when this is true.
func IsRejected(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Rejected()
}

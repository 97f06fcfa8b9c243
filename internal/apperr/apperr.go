// Package apperr defines the error taxonomy shared by the relay and catalog
// endpoints. Every error that should reach a client with a specific status
// is an *Error tagged with a Kind; anything else renders as a generic 500.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindMissingBaseURL
	KindInvalidURL
	KindHostNotAllowed
	KindUpstreamUnreachable
	KindAuthRequired
)

var kindInfo = map[Kind]struct {
	status int
	code   string
}{
	KindInternal:            {http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	KindMissingBaseURL:      {http.StatusBadRequest, "MISSING_BASEURL"},
	KindInvalidURL:          {http.StatusBadRequest, "INVALID_URL"},
	KindHostNotAllowed:      {http.StatusForbidden, "HOST_NOT_ALLOWED"},
	KindUpstreamUnreachable: {http.StatusBadGateway, "UPSTREAM_UNREACHABLE"},
	KindAuthRequired:        {http.StatusUnauthorized, "AUTH_REQUIRED"},
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Code returns the machine-readable error code for the kind.
func (k Kind) Code() string {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return kindInfo[KindInternal].code
}

func (k Kind) String() string { return k.Code() }

// Error is an application error with a client-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New returns an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an *Error of the given kind that wraps err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] (%d) %s: %v", e.Kind.Code(), e.Kind.Status(), e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] (%d) %s", e.Kind.Code(), e.Kind.Status(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so sentinel
// values such as ErrAuthRequired match with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Response is the JSON body written for an error.
type Response struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	ErrorCode  string `json:"errorCode"`
}

// Response returns the client-facing body. The wrapped cause is never included.
func (e *Error) Response() Response {
	return Response{
		Message:    e.Message,
		StatusCode: e.Kind.Status(),
		ErrorCode:  e.Kind.Code(),
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// ErrAuthRequired is returned when the upstream demands credentials.
var ErrAuthRequired = New(KindAuthRequired, "Authentication required")

package types

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Gateway and transport errors. APIError unwraps to one of these.
var (
	ErrNotFound     = errors.New("record not found")
	ErrUnauthorized = errors.New("not authenticated")
	ErrForbidden    = errors.New("permission denied")
	ErrRejected     = errors.New("submission rejected")
	ErrTransport    = errors.New("transport failure")
	ErrDecode       = errors.New("malformed response")
)

// Form session and navigation errors.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidMode        = errors.New("operation not allowed in current mode")
	ErrBusy               = errors.New("submission already in progress")
	ErrUnknownField       = errors.New("unknown field")
	ErrDeleteNotRequested = errors.New("delete was not requested")
	ErrStale              = errors.New("result superseded by a newer action")
	ErrInvalidID          = errors.New("invalid record ID")
	ErrUnknownKind        = errors.New("unknown entity kind")
	ErrInvalidRoute       = errors.New("invalid route")
	ErrClosed             = errors.New("console is closed")
)

// Development backend storage errors.
var (
	ErrNotAttached     = errors.New("storage is not attached")
	ErrAlreadyAttached = errors.New("storage is already attached")
)

// APIError is the structured error returned by the gateway for a failed
// request. Status is 0 when the request never produced an HTTP response.
type APIError struct {
	Status    int
	Message   string
	Fields    map[string]string
	RequestID string
	Err       error
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.Status == 0 {
		b.WriteString("request failed")
	} else {
		fmt.Fprintf(&b, "%d %s", e.Status, http.StatusText(e.Status))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap maps the status onto the package's sentinel errors and keeps the
// underlying cause reachable.
func (e *APIError) Unwrap() []error {
	var class error
	switch {
	case e.Status == http.StatusUnauthorized:
		class = ErrUnauthorized
	case e.Status == http.StatusForbidden:
		class = ErrForbidden
	case e.Status == http.StatusNotFound:
		class = ErrNotFound
	case e.Status >= 400 && e.Status < 500:
		class = ErrRejected
	default:
		class = ErrTransport
	}
	if e.Err != nil {
		return []error{class, e.Err}
	}
	return []error{class}
}

// ValidationErrors maps field names to human-readable messages. An empty
// mapping means the draft is valid.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Unwrap() error {
	return ErrValidation
}

// Clone returns a copy of the mapping, never nil.
func (v ValidationErrors) Clone() ValidationErrors {
	out := make(ValidationErrors, len(v))
	for k, msg := range v {
		out[k] = msg
	}
	return out
}

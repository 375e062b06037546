package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// DefaultErrorMessage is used when a failure carries no readable detail.
const DefaultErrorMessage = "Request failed"

// ErrorKind records where a request failed. Callers never need it for
// correct behavior; it exists for logging and diagnostics.
type ErrorKind int

const (
	// KindTransport covers unreachable servers and unreadable responses.
	KindTransport ErrorKind = iota + 1
	// KindApplication covers non-2xx responses.
	KindApplication
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindApplication:
		return "application"
	default:
		return "unknown"
	}
}

// RequestError is the only error type returned by Do. Error returns the
// human-readable message and nothing else.
type RequestError struct {
	Message string
	Status  int // 0 when no response was received
	Kind    ErrorKind
	Err     error
}

func (e *RequestError) Error() string { return e.Message }

func (e *RequestError) Unwrap() error { return e.Err }

func transportError(err error) *RequestError {
	return &RequestError{Message: DefaultErrorMessage, Kind: KindTransport, Err: err}
}

// errorPayload is the server's error body. Detail is kept raw because it is
// a string for handled errors but a list of objects for validation failures.
type errorPayload struct {
	Detail json.RawMessage `json:"detail"`
}

// parseErrorDetail returns the detail message and whether one was found.
func parseErrorDetail(body []byte) (string, bool) {
	var p errorPayload
	if err := json.Unmarshal(body, &p); err != nil || len(p.Detail) == 0 {
		return "", false
	}
	var detail string
	if err := json.Unmarshal(p.Detail, &detail); err != nil || detail == "" {
		return "", false
	}
	return detail, true
}

func applicationError(status int, body []byte) *RequestError {
	msg, ok := parseErrorDetail(body)
	if !ok {
		msg = DefaultErrorMessage
	}
	return &RequestError{Message: msg, Status: status, Kind: KindApplication}
}

// IsUnauthorized reports whether err is a RequestError for a 401 response,
// meaning the server no longer accepts the credential.
func IsUnauthorized(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Status == http.StatusUnauthorized
}

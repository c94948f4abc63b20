package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bina/bimsync/pkg/protocol"
)

// Kind classifies a failed call.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindUnauthorized
	KindNotFound
	KindServerError
	KindMalformed
	KindIO
	KindInvalidCredentials
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	case KindMalformed:
		return "malformed"
	case KindIO:
		return "io"
	case KindInvalidCredentials:
		return "invalid_credentials"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every client call.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int    // 0 unless the server answered
	Message    string // server-provided text, if any
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
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

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// AsError checks if err is an *Error and returns it.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// KindForStatus maps a non-2xx HTTP status to a failure kind.
func KindForStatus(code int) Kind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindServerError
	}
}

// StatusError builds an Error from a non-2xx response, reading a bounded
// amount of the body for the server message.
func StatusError(op string, resp *http.Response) *Error {
	e := &Error{
		Kind:       KindForStatus(resp.StatusCode),
		Op:         op,
		StatusCode: resp.StatusCode,
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var errResp protocol.ErrorResponse
	if json.Unmarshal(data, &errResp) == nil && errResp.Text() != "" {
		e.Message = errResp.Text()
	} else if s := strings.TrimSpace(string(data)); s != "" && len(s) <= 200 {
		e.Message = s
	}
	return e
}

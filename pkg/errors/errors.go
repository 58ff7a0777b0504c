// Package errors provides coded errors shared between the zone core and the
// transport layer so HTTP status mapping stays in one place.
package errors

import "fmt"

type Code string

const (
	CodeInvalid      Code = "invalid"
	CodeUnauthorized Code = "unauthorized"
	CodeNotFound     Code = "not_found"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal"
)

// GatewayError carries a stable code alongside a human readable message.
type GatewayError struct {
	Code    Code
	Message string
}

func (e GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code Code, message string) GatewayError {
	return GatewayError{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) GatewayError {
	return GatewayError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ToHTTPStatus maps a code to the HTTP status the gateway should return.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalid:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeNotFound:
		return 404
	case CodeUnavailable:
		return 503
	default:
		return 500
	}
}

package sdk

import (
	"errors"
	"strings"
)

// Reply codes sent after "ERR" on the line protocol.
const (
	CodeNotFound    = "not_found"
	CodeInvalid     = "invalid"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
)

// ErrorCode maps an error onto its protocol reply code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalid
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// ProtocolError is an ERR reply received from the daemon. It unwraps to the
// sentinel matching its code so callers can use errors.Is across the wire.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	switch e.Code {
	case CodeNotFound:
		return ErrNotFound
	case CodeInvalid:
		return ErrInvalidArgument
	case CodeUnavailable:
		return ErrUnavailable
	}
	return nil
}

// parseErrorReply splits "ERR <code> <message>".
func parseErrorReply(line string) *ProtocolError {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "ERR"))
	code, msg, _ := strings.Cut(rest, " ")
	return &ProtocolError{Code: code, Message: strings.TrimSpace(msg)}
}

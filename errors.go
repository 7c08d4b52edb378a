package kiln

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// A StatusError carries the HTTP status a failed request phase maps onto.
type StatusError struct {
	msg  string
	code int
}

func (self *StatusError) Code() int {
	if self.code == 0 {
		return http.StatusInternalServerError
	} else {
		return self.code
	}
}

func (self *StatusError) Error() string {
	return self.msg
}

func ErrorCode(code int, format string, args ...interface{}) error {
	return &StatusError{
		msg:  fmt.Sprintf(format, args...),
		code: code,
	}
}

// StatusOf returns the status carried by err, or fallback when err carries none.
func StatusOf(err error, fallback int) int {
	var serr *StatusError

	if err == nil {
		return fallback
	} else if errors.As(err, &serr) {
		return serr.Code()
	} else if isTimeout(err) {
		return http.StatusRequestTimeout
	} else {
		return fallback
	}
}

var ErrNotImplemented = func(method string) error {
	return ErrorCode(http.StatusNotImplemented, "Not Implemented: %s", method)
}

var ErrUnknownModule = errors.New(`no such module`)
var ErrSectionCycle = errors.New(`section inheritance cycle`)

func isTimeout(err error) bool {
	var nerr net.Error

	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	return errors.Is(err, os.ErrDeadlineExceeded)
}

// a closed or reset socket ends the current connection, not the engine
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

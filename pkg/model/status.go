package model

import (
	"errors"
	"net/http"
)

// Status is an HTTP-style result code attached to operation results.
type Status int

const (
	StatusOK            Status = http.StatusOK
	StatusCreated       Status = http.StatusCreated
	StatusBadRequest    Status = http.StatusBadRequest
	StatusNotFound      Status = http.StatusNotFound
	StatusConflict      Status = http.StatusConflict
	StatusClientClosed  Status = 499
	StatusInternalError Status = http.StatusInternalServerError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCreated:
		return "CREATED"
	case StatusBadRequest:
		return "BAD_REQUEST"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusConflict:
		return "CONFLICT"
	case StatusClientClosed:
		return "CLIENT_CLOSED_REQUEST"
	case StatusInternalError:
		return "INTERNAL_SERVER_ERROR"
	}
	return http.StatusText(int(s))
}

// StatusOf maps an error to its status code. A nil error is StatusOK.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrValidation):
		return StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrConflict):
		return StatusConflict
	case IsCanceled(err):
		return StatusClientClosed
	default:
		return StatusInternalError
	}
}

// Worse reports whether s is more severe than other. Any 5xx outranks any
// 4xx which outranks success. Among client errors a malformed request
// outranks a conflict, which outranks a missing target; 499 sits above them
// since the whole request was abandoned.
func (s Status) Worse(other Status) bool {
	rs, ro := s.severity(), other.severity()
	if rs != ro {
		return rs > ro
	}
	return s > other
}

func (s Status) severity() int {
	switch {
	case s >= 500:
		return 10
	case s == StatusClientClosed:
		return 9
	case s == StatusBadRequest:
		return 8
	case s == StatusConflict:
		return 7
	case s == StatusNotFound:
		return 6
	case s >= 400:
		return 5
	default:
		return 0
	}
}

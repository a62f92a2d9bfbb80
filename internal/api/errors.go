package api

import "errors"

// ErrInvalidRequest marks requests rejected before any device work.
var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	param string
	msg   string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

// newInvalidRequest reports a problem with the named request field.
func newInvalidRequest(param, msg string) error {
	return invalidRequestError{param: param, msg: msg}
}

// paramOf returns the request field an invalid request error names.
func paramOf(err error) string {
	var ire invalidRequestError
	if errors.As(err, &ire) {
		return ire.param
	}
	return ""
}

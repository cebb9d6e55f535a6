package authority

import "fmt"

func NewHTTPError(code int, msg string, args ...interface{}) error {
	return &HttpError{code: code, msg: fmt.Sprintf(msg, args...)}
}

// HttpError CA response with non 2xx status; msg carries the reason text sent by the CA
type HttpError struct {
	code int
	msg  string
}

func (e *HttpError) Error() string { return e.msg }
func (e *HttpError) Code() int     { return e.code }

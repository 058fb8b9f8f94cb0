package errors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalid          = errors.New("invalid")
	ErrConflict         = errors.New("conflict")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrInternal         = errors.New("internal")
)

// DetailError is a client-facing error with optional extra response fields.
type DetailError struct {
	kind    error
	message string
	extra   map[string]interface{}
}

func (e *DetailError) Error() string {
	return e.message
}

func (e *DetailError) Unwrap() error {
	return e.kind
}

func (e *DetailError) Extra() map[string]interface{} {
	return e.extra
}

func Invalid(message string, extra map[string]interface{}) error {
	return &DetailError{kind: ErrInvalid, message: message, extra: extra}
}

func NotFound(message string) error {
	return &DetailError{kind: ErrNotFound, message: message}
}

func MethodNotAllowed(message string) error {
	return &DetailError{kind: ErrMethodNotAllowed, message: message}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}

// Extra returns the extra response fields carried by err, if any.
func Extra(err error) map[string]interface{} {
	var d *DetailError
	if errors.As(err, &d) {
		return d.extra
	}
	return nil
}

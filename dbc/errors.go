package dbc

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalid is matched by every *InvalidError.
	ErrInvalid = errors.New("dbc: no messages found")

	ErrInvalidUTF8 = errors.New("dbc: input is not valid UTF-8")
)

// InvalidError is returned when parsing recovered zero messages. It keeps
// the (empty) model and the text that produced it.
type InvalidError struct {
	Dbc   *Dbc
	Input string
}

func (e *InvalidError) Error() string {
	return ErrInvalid.Error()
}

func (e *InvalidError) Is(target error) bool {
	return target == ErrInvalid
}

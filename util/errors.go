package util

import "github.com/infigaming-com/cloudpubsub-transport/errors"

const (
	ErrCodeValueNotFoundInContext = 10000 + iota
	ErrCodeInvalidValueInContext
)

var (
	ErrValueNotFoundInContext = errors.NewError(ErrCodeValueNotFoundInContext, "value not found in context", nil)
	ErrInvalidValueInContext  = errors.NewError(ErrCodeInvalidValueInContext, "unexpected value type in context", nil)
)

func contextError(code int64, message string) error {
	return errors.NewError(code, message, nil)
}

package cache

import "github.com/infigaming-com/cloudpubsub-transport/errors"

const (
	ErrCodeKeyNotFound = 30000 + iota
	ErrCodeJsonMarshal
	ErrCodeJsonUnmarshal
)

var (
	ErrKeyNotFound   = errors.NewError(ErrCodeKeyNotFound, "cache: key not found", nil)
	ErrJsonMarshal   = errors.NewError(ErrCodeJsonMarshal, "cache: marshal value", nil)
	ErrJsonUnmarshal = errors.NewError(ErrCodeJsonUnmarshal, "cache: unmarshal value", nil)
)

// codecError keeps the json error as the cause; it still matches the
// sentinel of the same code with errors.Is.
func codecError(code int64, message string, cause error) error {
	return errors.NewError(code, message, cause)
}

package pubsub

import (
	"github.com/infigaming-com/cloudpubsub-transport/errors"
)

const (
	ErrCodeConfiguration = 20000 + iota
	ErrCodeInvalidEnvelope
	ErrCodeUnknownPattern
	ErrCodeHandlerFailure
	ErrCodeClosed
	ErrCodeReceive
)

var (
	ErrInvalidEnvelope = errors.NewError(ErrCodeInvalidEnvelope, "pubsub: invalid envelope", nil)
	ErrUnknownPattern  = errors.NewError(ErrCodeUnknownPattern, "pubsub: no handler for pattern", nil)
	ErrHandlerFailure  = errors.NewError(ErrCodeHandlerFailure, "pubsub: handler failed", nil)
	ErrClosed          = errors.NewError(ErrCodeClosed, "pubsub: server closed", nil)
)

func configurationError(message string) error {
	return errors.NewError(ErrCodeConfiguration, "pubsub: "+message, nil)
}

func handlerFailure(pattern string, cause error) error {
	return errors.NewError(ErrCodeHandlerFailure, "pubsub: handler for \""+pattern+"\" failed", cause)
}

func receiveFailure(subscription string, cause error) error {
	return errors.NewError(ErrCodeReceive, "pubsub: receive on "+subscription+" stopped", cause)
}

// IsConfigurationError reports whether err was returned by New because of invalid options.
func IsConfigurationError(err error) bool {
	code, ok := errors.CodeOf(err)
	return ok && code == ErrCodeConfiguration
}

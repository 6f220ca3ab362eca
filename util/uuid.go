package util

import (
	"github.com/google/uuid"
)

// NewUUID returns a time-ordered UUIDv7, or a random v4 when the v7 clock
// source fails.
func NewUUID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

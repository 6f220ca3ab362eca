package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesByCode(t *testing.T) {
	sentinel := NewError(42, "sentinel", nil)
	cause := New("boom")

	wrapped := fmt.Errorf("outer: %w", NewError(42, "other message", cause))

	assert.True(t, Is(wrapped, sentinel))
	assert.True(t, Is(wrapped, cause))
	assert.False(t, Is(wrapped, NewError(43, "sentinel", nil)))
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int64
		wantOK   bool
	}{
		{name: "coded error", err: NewError(7, "seven", nil), wantCode: 7, wantOK: true},
		{name: "wrapped coded error", err: fmt.Errorf("ctx: %w", NewError(8, "eight", nil)), wantCode: 8, wantOK: true},
		{name: "plain error", err: New("plain"), wantOK: false},
		{name: "nil", err: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := CodeOf(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := NewError(1, "create subscription", New("permission denied")).WithDetails(map[string]string{"name": "orders"})

	assert.Equal(t, "create subscription: permission denied", err.Error())
	assert.Equal(t, "create subscription", err.GetMessage())
	assert.Equal(t, map[string]string{"name": "orders"}, err.GetDetails())
}

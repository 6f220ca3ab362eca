package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/infigaming-com/cloudpubsub-transport/errors"
)

func TestValueFromCtx(t *testing.T) {
	tests := []struct {
		name        string
		setupCtx    func() context.Context
		key         CtxKey
		wantValue   string
		wantErrCode int64
	}{
		{
			name: "string value - success",
			setupCtx: func() context.Context {
				return ValueToCtx(context.Background(), "string-key", "test-value")
			},
			key:       "string-key",
			wantValue: "test-value",
		},
		{
			name: "nil value - error",
			setupCtx: func() context.Context {
				return context.Background()
			},
			key:         "missing-key",
			wantErrCode: ErrCodeValueNotFoundInContext,
		},
		{
			name: "wrong type - error",
			setupCtx: func() context.Context {
				return ValueToCtx(context.Background(), "wrong-type", 42)
			},
			key:         "wrong-type",
			wantErrCode: ErrCodeInvalidValueInContext,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValueFromCtx[string](tt.setupCtx(), tt.key)
			if tt.wantErrCode != 0 {
				require.Error(t, err)
				code, ok := errors.CodeOf(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantErrCode, code)
				if tt.wantErrCode == ErrCodeValueNotFoundInContext {
					assert.ErrorIs(t, err, ErrValueNotFoundInContext)
				} else {
					assert.ErrorIs(t, err, ErrInvalidValueInContext)
				}
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantValue, got)
		})
	}
}

func TestMessageMetadataToCtx(t *testing.T) {
	ctx := MessageMetadataToCtx(context.Background(), "msg-1", "missions-sub", "mission-updated", 3)

	id, err := MessageIDFromCtx(ctx)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	sub, err := SubscriptionFromCtx(ctx)
	require.NoError(t, err)
	assert.Equal(t, "missions-sub", sub)

	pattern, err := PatternFromCtx(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mission-updated", pattern)

	attempt, err := DeliveryAttemptFromCtx(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, attempt)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("-1"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("loud"))
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	_, err := CorrelationIDFromCtx(context.Background())
	require.Error(t, err)

	id := NewUUID()
	got, err := CorrelationIDFromCtx(CorrelationIDToCtx(context.Background(), id))
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.True(t, IsUUID(got))
	assert.False(t, IsUUID("abc-123"))
	assert.NotEqual(t, id, NewUUID())
}

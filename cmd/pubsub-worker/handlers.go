package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/infigaming-com/cloudpubsub-transport/pubsub"
	"github.com/infigaming-com/cloudpubsub-transport/util"
)

func registerHandlers(lg *zap.Logger) *pubsub.Handlers {
	return pubsub.NewHandlers().
		Handle("mission-updated", missionUpdated(lg))
}

// missionUpdated logs the mission update it receives. A missing or non
// numeric "input" fails the message.
func missionUpdated(lg *zap.Logger) pubsub.Handler {
	return func(ctx context.Context, data map[string]any) (any, error) {
		input, ok := data["input"].(float64)
		if !ok {
			return nil, fmt.Errorf("mission-updated: input must be a number, got %T", data["input"])
		}
		id, _ := util.MessageIDFromCtx(ctx)
		lg.Info("mission updated", zap.String("message_id", id), zap.Float64("input", input))
		return map[string]any{"input": input}, nil
	}
}

package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/infigaming-com/cloudpubsub-transport/util"
)

// HandleMessage decodes raw, routes it to the handler registered for its
// pattern and settles it according to the ack policy.
//
// With the default policy the message is acked before anything else happens,
// so decoding, routing and handler failures are only logged. With
// WithAckAfterHandler the message is acked after a successful handler run,
// nacked after a failed one and left unsettled when it cannot be decoded or
// routed.
func (s *Server) HandleMessage(ctx context.Context, raw *RawMessage, subscription string) (any, error) {
	if raw == nil {
		return nil, nil
	}
	d := newDelivery(raw)
	meta := d.metadata()
	if s.hooks.OnReceive != nil {
		s.hooks.OnReceive(ctx, subscription, meta)
	}

	if !s.opts.ackAfterHandler {
		s.ack(ctx, d, subscription, meta)
	}

	if s.duplicate(ctx, raw.ID, subscription) {
		s.ack(ctx, d, subscription, meta)
		if s.hooks.OnDuplicate != nil {
			s.hooks.OnDuplicate(ctx, subscription, meta)
		}
		s.logger.Debug(ctx, "duplicate message skipped", "subscription", subscription, "message", raw.ID)
		return nil, nil
	}

	env, err := DecodeEnvelope(raw.Data)
	if err != nil {
		s.logger.Error(ctx, fmt.Sprintf("Invalid message received (%s)", subscription),
			"raw_data", string(raw.Data), "subscription", subscription, "err", err)
		if s.hooks.OnInvalid != nil {
			s.hooks.OnInvalid(ctx, subscription, meta, err)
		}
		return nil, err
	}

	handler, ok := s.registry.HandlerByPattern(env.Pattern)
	if !ok {
		s.logger.Error(ctx, fmt.Sprintf("No handler exists for %q", env.Pattern),
			"envelope", env, "subscription", subscription)
		if s.hooks.OnUnknownPattern != nil {
			s.hooks.OnUnknownPattern(ctx, subscription, meta, env.Pattern)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, env.Pattern)
	}

	hctx := util.MessageMetadataToCtx(ctx, raw.ID, subscription, env.Pattern, raw.DeliveryAttempt)
	start := time.Now()
	result, err := invoke(hctx, handler, env.Data)
	if err != nil {
		err = handlerFailure(env.Pattern, err)
		if s.hooks.OnHandlerFailure != nil {
			s.hooks.OnHandlerFailure(ctx, subscription, meta, env.Pattern, err)
		}
		if s.opts.ackAfterHandler {
			s.logger.Error(ctx, fmt.Sprintf("Error from the handler of %q", env.Pattern),
				"err", err, "envelope", env, "subscription", subscription)
			s.nack(ctx, d, subscription, meta)
			return nil, err
		}
		// Already acked: the failure cannot trigger a redelivery.
		s.logger.Error(ctx, fmt.Sprintf("Error from the handler of %q after ack", env.Pattern),
			"err", err, "envelope", env, "subscription", subscription)
		return nil, err
	}

	if s.opts.ackAfterHandler {
		s.ack(ctx, d, subscription, meta)
	}
	s.markHandled(ctx, raw.ID, subscription)
	if s.hooks.OnHandled != nil {
		s.hooks.OnHandled(ctx, subscription, meta, env.Pattern, time.Since(start))
	}
	return result, nil
}

func invoke(ctx context.Context, h Handler, data map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, data)
}

func (s *Server) ack(ctx context.Context, d *delivery, subscription string, meta MessageMetadata) {
	if d.ack() && s.hooks.OnAck != nil {
		s.hooks.OnAck(ctx, subscription, meta)
	}
}

func (s *Server) nack(ctx context.Context, d *delivery, subscription string, meta MessageMetadata) {
	if d.nack(s.opts.nackDelay) && s.hooks.OnNack != nil {
		s.hooks.OnNack(ctx, subscription, meta)
	}
}

func (s *Server) duplicate(ctx context.Context, id, subscription string) bool {
	if s.opts.dedupe == nil || id == "" {
		return false
	}
	seen, err := s.opts.dedupe.Seen(ctx, subscription, id)
	if err != nil {
		s.logger.Warn(ctx, "dedupe lookup failed", "subscription", subscription, "message", id, "err", err)
		return false
	}
	return seen
}

func (s *Server) markHandled(ctx context.Context, id, subscription string) {
	if s.opts.dedupe == nil || id == "" {
		return
	}
	if err := s.opts.dedupe.Mark(ctx, subscription, id, s.opts.dedupeTTL); err != nil {
		s.logger.Warn(ctx, "dedupe mark failed", "subscription", subscription, "message", id, "err", err)
	}
}

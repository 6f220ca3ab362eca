package pubsub

import (
	"context"
	"sync"
	"time"
)

// DedupeStore remembers ids of successfully handled messages. Records are
// scoped per subscription: every subscription of a topic sees the same
// message id.
type DedupeStore interface {
	Seen(ctx context.Context, subscription, id string) (bool, error)
	Mark(ctx context.Context, subscription, id string, ttl time.Duration) error
}

// delivery guards a RawMessage so that exactly one of ack / nack reaches the
// broker, at most once.
type delivery struct {
	raw    *RawMessage
	settle sync.Once
}

func newDelivery(raw *RawMessage) *delivery {
	return &delivery{raw: raw}
}

// ack reports whether this call settled the message.
func (d *delivery) ack() bool {
	done := false
	d.settle.Do(func() {
		done = true
		if d.raw.Ack != nil {
			d.raw.Ack()
		}
	})
	return done
}

func (d *delivery) nack(delay time.Duration) bool {
	done := false
	d.settle.Do(func() {
		done = true
		if d.raw.Nack != nil {
			d.raw.Nack(delay)
		}
	})
	return done
}

func (d *delivery) metadata() MessageMetadata {
	return MessageMetadata{ID: d.raw.ID, Attempt: d.raw.DeliveryAttempt, Attributes: cloneMap(d.raw.Attributes)}
}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(src))
	for k, v := range src {
		cloned[k] = v
	}
	return cloned
}

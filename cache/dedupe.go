package cache

import (
	"context"
	"time"

	"github.com/infigaming-com/cloudpubsub-transport/errors"
)

const defaultKeyPrefix = "pubsub:handled:"

// Deduplicator remembers handled message ids in a Cache. It satisfies
// pubsub.DedupeStore.
type Deduplicator struct {
	records Typed[handledRecord]
	prefix  string
	now     func() time.Time
}

type handledRecord struct {
	HandledAt time.Time `json:"handled_at"`
}

func NewDeduplicator(cache Cache, prefix string) *Deduplicator {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Deduplicator{records: Typed[handledRecord]{Cache: cache}, prefix: prefix, now: time.Now}
}

// key is <prefix><subscription>/<id>.
func (d *Deduplicator) key(subscription, id string) string {
	return d.prefix + subscription + "/" + id
}

func (d *Deduplicator) Seen(ctx context.Context, subscription, id string) (bool, error) {
	_, err := d.records.Get(ctx, d.key(subscription, id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Mark keeps the first record when id was already marked.
func (d *Deduplicator) Mark(ctx context.Context, subscription, id string, ttl time.Duration) error {
	_, err := d.records.SetNX(ctx, d.key(subscription, id), handledRecord{HandledAt: d.now().UTC()}, ttl)
	return err
}

// HandledAt returns when id was marked on subscription.
func (d *Deduplicator) HandledAt(ctx context.Context, subscription, id string) (time.Time, error) {
	rec, err := d.records.Get(ctx, d.key(subscription, id))
	if err != nil {
		return time.Time{}, err
	}
	return rec.HandledAt, nil
}

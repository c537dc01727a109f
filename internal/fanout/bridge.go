package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/store"
	"github.com/albapepper/ingestd/internal/telemetry"
)

// OutboxReader is the subset of the tick store the bridge consumes.
// Narrowed to these two reads (rather than the full *store.Store) so
// tests can supply a fake, the same dependency-inversion internal/
// aggregator and internal/ingest use for their Store interfaces.
type OutboxReader interface {
	TailOutbox(ctx context.Context, afterID int64, limit int) ([]store.OutboxRow, error)
	OutboxForFixtureSince(ctx context.Context, fixtureID int, since time.Time, limit int) ([]store.OutboxRow, error)
}

// Config tunes the bridge's ring size, catch-up horizon, poll cadence,
// and slow-consumer grace period.
type Config struct {
	RingSize       int           // R, default 256
	CatchupHorizon time.Duration // how far back the storage fallback will look
	PollInterval   time.Duration // fallback poll cadence alongside LISTEN wakeups
	SlowConsumer   time.Duration // T_slow
	BatchLimit     int           // max outbox rows read per poll
}

func defaults(c Config) Config {
	if c.RingSize == 0 {
		c.RingSize = 256
	}
	if c.CatchupHorizon == 0 {
		c.CatchupHorizon = 24 * time.Hour
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.SlowConsumer == 0 {
		c.SlowConsumer = 5 * time.Second
	}
	if c.BatchLimit == 0 {
		c.BatchLimit = 500
	}
	return c
}

// Bridge tails the tick store's outbox, assigns per-(fixture,type)
// sequence numbers, and serves subscribers through per-fixture topics.
type Bridge struct {
	cfg   Config
	store OutboxReader

	mu         sync.Mutex
	topics     map[int]*topic
	lastOutbox int64

	wake chan struct{}
}

func New(store OutboxReader, cfg Config) *Bridge {
	return &Bridge{
		cfg:    defaults(cfg),
		store:  store,
		topics: make(map[int]*topic),
		wake:   make(chan struct{}, 1),
	}
}

// Notify wakes the poll loop immediately, for callers with a LISTEN/
// NOTIFY connection (internal/store.ListenTickOutbox) or any other
// out-of-band signal that new outbox rows exist.
func (b *Bridge) Notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox into per-fixture topics until ctx is cancelled.
// Shutdown needs no flush here: the only bridge-side state is the
// in-memory ring, which is safe to simply stop populating.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := b.drain(ctx); err != nil {
			telemetry.Errorf("fanout: drain outbox: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-b.wake:
		}
	}
}

func (b *Bridge) drain(ctx context.Context) error {
	for {
		b.mu.Lock()
		after := b.lastOutbox
		b.mu.Unlock()

		rows, err := b.store.TailOutbox(ctx, after, b.cfg.BatchLimit)
		if err != nil {
			return fmt.Errorf("tail outbox: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			b.publish(row)
		}

		b.mu.Lock()
		b.lastOutbox = rows[len(rows)-1].ID
		b.mu.Unlock()

		if len(rows) < b.cfg.BatchLimit {
			return nil
		}
	}
}

func (b *Bridge) publish(row store.OutboxRow) {
	t := b.topicFor(row.FixtureID)
	msg := t.publish(model.Note{
		FixtureID: row.FixtureID,
		Type:      row.Type,
		Timestamp: row.CreatedAt,
		Payload:   row.Payload,
		OutboxID:  row.ID,
	})

	for _, sub := range t.subscribers() {
		b.deliver(sub, msg)
	}
}

// deliver sends msg to sub's buffer, non-blocking. A full buffer starts
// (or extends) the subscriber's slow-consumer grace period; once that
// exceeds SlowConsumer the subscriber is disconnected.
func (b *Bridge) deliver(sub *Subscriber, msg Message) {
	select {
	case sub.Send <- msg:
		sub.slowSince = time.Time{}
	default:
		if sub.slowSince.IsZero() {
			sub.slowSince = time.Now()
		} else if time.Since(sub.slowSince) > b.cfg.SlowConsumer {
			telemetry.Metrics.SubscriberDisconnects.Inc()
			telemetry.Warnf("fanout: disconnecting slow consumer fixture=%d", msg.FixtureID)
			sub.close()
		}
	}
}

func (b *Bridge) topicFor(fixtureID int) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[fixtureID]
	if !ok {
		t = newTopic(fixtureID, b.cfg.RingSize)
		b.topics[fixtureID] = t
	}
	return t
}

// Subscribe attaches a new handle to fixtureID's topic. Dropping the
// returned handle (closing its Done channel) stops delivery promptly.
func (b *Bridge) Subscribe(fixtureID int) *Subscriber {
	sub := newSubscriber(b.cfg.RingSize)
	b.topicFor(fixtureID).addSubscriber(sub)
	return sub
}

// Unsubscribe detaches sub from fixtureID's topic.
func (b *Bridge) Unsubscribe(fixtureID int, sub *Subscriber) {
	b.topicFor(fixtureID).removeSubscriber(sub)
	sub.close()
}

// ErrCatchupUnavailable is returned when a catch-up request falls
// outside both the in-memory ring and the storage fallback horizon.
var ErrCatchupUnavailable = fmt.Errorf("CatchupUnavailable")

// Catchup serves messages of typ for fixtureID with seq > fromSeq,
// preferring the in-memory ring and falling back to a direct store read
// for older gaps.
func (b *Bridge) Catchup(ctx context.Context, fixtureID int, typ model.NoteType, fromSeq int64) ([]Message, error) {
	t := b.topicFor(fixtureID)

	ringMsgs, covered := t.ringSince(typ, fromSeq)
	if covered {
		return ringMsgs, nil
	}

	since := time.Now().Add(-b.cfg.CatchupHorizon)
	rows, err := b.store.OutboxForFixtureSince(ctx, fixtureID, since, b.cfg.BatchLimit*4)
	if err != nil {
		return nil, fmt.Errorf("catchup storage fallback: %w", err)
	}

	// Re-derive this type's sequence by counting its position among all
	// notes of typ for this fixture within the horizon: the outbox is
	// append-only and ordered by commit, so position == seq as long as
	// the horizon reaches back far enough to include seq fromSeq+1.
	var recovered []Message
	seq := int64(0)
	for _, row := range rows {
		if row.Type != typ {
			continue
		}
		seq++
		if seq > fromSeq {
			recovered = append(recovered, Message{
				Type:      row.Type,
				FixtureID: row.FixtureID,
				Seq:       seq,
				Timestamp: row.CreatedAt,
				Payload:   row.Payload,
			})
		}
	}

	if seq < fromSeq {
		telemetry.Metrics.CatchupMisses.Inc()
		return nil, ErrCatchupUnavailable
	}

	// Merge with whatever the ring still has beyond what storage
	// recovered (storage rows and ring entries can overlap at the
	// boundary; ring is authoritative there since it reflects the exact
	// seq already assigned).
	if len(ringMsgs) > 0 && len(recovered) > 0 && recovered[len(recovered)-1].Seq >= ringMsgs[0].Seq {
		for i, m := range recovered {
			if m.Seq >= ringMsgs[0].Seq {
				recovered = recovered[:i]
				break
			}
		}
	}
	return append(recovered, ringMsgs...), nil
}

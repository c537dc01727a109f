package store

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/telemetry"
)

// OutboxRow is one row of the tick_outbox table, the durable side of
// the outbox pattern the store uses to hand notes to the fan-out
// bridge.
type OutboxRow struct {
	ID        int64
	FixtureID int
	Type      model.NoteType
	Payload   []byte
	CreatedAt time.Time
}

// TailOutbox returns up to limit rows with id > afterID, ascending:
// the bridge's resumable read cursor. Combined with LISTEN notifications
// as a wakeup signal, this tolerates missed or coalesced notifications:
// the bridge always re-polls from its own high-water mark.
func (s *Store) TailOutbox(ctx context.Context, afterID int64, limit int) ([]OutboxRow, error) {
	rows, err := s.pool.Query(ctx, "outbox_tail", afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("tail outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		var typ string
		if err := rows.Scan(&r.ID, &r.FixtureID, &typ, &r.Payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		r.Type = model.NoteType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

// OutboxForFixtureSince returns up to limit rows for one fixture with
// created_at >= since, ascending: the fan-out bridge's catch-up storage
// fallback for gaps older than its in-memory ring.
func (s *Store) OutboxForFixtureSince(ctx context.Context, fixtureID int, since time.Time, limit int) ([]OutboxRow, error) {
	rows, err := s.pool.Query(ctx, "outbox_for_fixture_since", fixtureID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox for fixture since: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		var typ string
		if err := rows.Scan(&r.ID, &r.FixtureID, &typ, &r.Payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		r.Type = model.NoteType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListenTickOutbox holds a dedicated connection LISTENing on the
// tick_outbox channel and invokes onNotify for every notification,
// reconnecting with backoff on connection loss. Blocks until ctx is
// cancelled.
func (s *Store) ListenTickOutbox(ctx context.Context, onNotify func()) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for ctx.Err() == nil {
		if err := s.listenOnce(ctx, onNotify); err != nil && ctx.Err() == nil {
			telemetry.Warnf("store: tick_outbox listener lost: %v, reconnecting in %s", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (s *Store) listenOnce(ctx context.Context, onNotify func()) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN tick_outbox"); err != nil {
		return fmt.Errorf("listen tick_outbox: %w", err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		_ = n // payload is the fixture id; the bridge re-tails rather than trusting it alone
		onNotify()
	}
}

package model

import "time"

// NoteType is one of the four message types the fan-out bridge relays.
type NoteType string

const (
	NoteOddsUpdate    NoteType = "odds_update"
	NoteEventUpdate   NoteType = "event_update"
	NoteStatsUpdate   NoteType = "stats_update"
	NoteFixtureClosed NoteType = "fixture_closed"
)

// Note is a change notification produced by a successful batch write
// (an outbox row consumed by a bridge loop).
// Payload carries the batch just written (or, for NoteFixtureClosed, the
// updated fixture) and is serialized as JSON by the store and
// deserialized by the fan-out bridge; the two sides agree on shape by
// NoteType, not by a shared Go type, since the bridge never needs to
// parse ticks, only republish the bytes.
type Note struct {
	FixtureID int
	Type      NoteType
	Timestamp time.Time
	Payload   []byte // JSON-encoded batch or delta row

	// Seq is assigned by the fan-out bridge, monotonically increasing
	// per (FixtureID, Type), and is what lets a subscriber detect gaps
	// and request catch-up.
	Seq int64

	// OutboxID is the tick_outbox row id this note was read from. The
	// bridge's read position is kept in memory only and starts again
	// from zero after a restart.
	OutboxID int64
}

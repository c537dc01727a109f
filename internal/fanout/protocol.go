// Package fanout consumes change notifications written by the tick
// store's outbox and multicasts them to per-fixture topic subscribers
// over a push transport, with seq-ordered at-least-once delivery and
// catch-up from a prior sequence number.
package fanout

import (
	"encoding/json"
	"time"

	"github.com/albapepper/ingestd/internal/model"
)

// Message is the wire format pushed to subscribers and requested back
// from them for catch-up: `{type, fixture_id, seq, timestamp, payload}`.
type Message struct {
	Type      model.NoteType  `json:"type"`
	FixtureID int             `json:"fixture_id"`
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func messageFromNote(n model.Note) Message {
	return Message{
		Type:      n.Type,
		FixtureID: n.FixtureID,
		Seq:       n.Seq,
		Timestamp: n.Timestamp,
		Payload:   n.Payload,
	}
}

// Action is a subscriber's inbound command: `{action:
// "subscribe"|"unsubscribe"|"catchup", fixture_id, from_seq?}`.
type Action struct {
	Action    string `json:"action"`
	FixtureID int    `json:"fixture_id"`
	FromSeq   int64  `json:"from_seq,omitempty"`

	// Type scopes a catchup request to one NoteType's sequence space.
	// Seq is only monotonic per (fixture, type), so a catchup request
	// must name which counter from_seq refers to.
	Type string `json:"type,omitempty"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionCatchup     = "catchup"
)

// errorMessage is sent back to a subscriber in place of a Message when a
// catch-up request can't be satisfied.
type errorMessage struct {
	Type      string `json:"type"`
	FixtureID int    `json:"fixture_id"`
	Error     string `json:"error"`
}

func catchupUnavailable(fixtureID int) []byte {
	b, _ := json.Marshal(errorMessage{Type: "error", FixtureID: fixtureID, Error: "CatchupUnavailable"})
	return b
}

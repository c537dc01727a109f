// Package scoredrop detects and confirms spurious score regressions
// reported by the upstream feed, so the live ingestion loop can hold a
// decrease back until it either repeats long enough to be real or is
// rejected by a subsequent corrected tick.
package scoredrop

import "time"

type record struct {
	firstSeen time.Time
	home      int
	away      int
}

// Tracker holds one fixture's pending-drop state. The zero value is
// ready to use.
type Tracker struct {
	pending bool
	data    *record

	// RejectedHome/RejectedAway hold the scoreline that was most
	// recently rejected, for callers that want to log it.
	RejectedHome int
	RejectedAway int

	// now is overridable for tests; defaults to time.Now.
	now func() time.Time
}

// Verdict is CheckDrop's classification of one incoming scoreline.
type Verdict string

const (
	VerdictAccept    Verdict = "accept"
	VerdictNewDrop   Verdict = "new_drop"
	VerdictPending   Verdict = "pending"
	VerdictConfirmed Verdict = "confirmed"
	VerdictRejected  Verdict = "rejected"
)

// CheckDrop is the core score-drop algorithm: curHome/curAway are the
// fixture's accepted scores; newHome/newAway are the incoming (possibly
// lower) scores from the feed. confirmWindow is how long a drop must
// repeat before it is accepted as real.
func (t *Tracker) CheckDrop(curHome, curAway, newHome, newAway int, confirmWindow time.Duration) Verdict {
	prevTotal := curHome + curAway
	newTotal := newHome + newAway

	// A drop is any decrease in total OR a same-total redistribution
	// (e.g. 4-1 -> 3-2): some feeds correct goal attribution without
	// changing the total, which would otherwise bypass detection.
	individualDrop := newHome < curHome || newAway < curAway

	if newTotal >= prevTotal && !individualDrop {
		if t.pending {
			if t.data != nil {
				t.RejectedHome = t.data.home
				t.RejectedAway = t.data.away
			}
			t.clear()
			return VerdictRejected
		}
		return VerdictAccept
	}

	now := t.clock()
	if t.data != nil {
		if newHome == t.data.home && newAway == t.data.away {
			if now.Sub(t.data.firstSeen) >= confirmWindow {
				t.clear()
				return VerdictConfirmed
			}
		} else {
			t.data = &record{firstSeen: now, home: newHome, away: newAway}
		}
		t.pending = true
		return VerdictPending
	}

	t.data = &record{firstSeen: now, home: newHome, away: newAway}
	t.pending = true
	return VerdictNewDrop
}

// Pending reports whether a drop is currently awaiting confirmation.
func (t *Tracker) Pending() bool { return t.pending }

func (t *Tracker) clear() {
	t.pending = false
	t.data = nil
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

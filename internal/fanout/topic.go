package fanout

import (
	"sync"
	"time"

	"github.com/albapepper/ingestd/internal/model"
)

// Subscriber is one live connection's delivery handle. A handle is
// dropped by closing Done; the topic never sends on Send after that.
type Subscriber struct {
	Send chan Message
	Done chan struct{}

	// slowSince is set by the bridge's deliver path the first time this
	// subscriber's buffer is found full, and cleared on the next
	// successful send; read/written only from the bridge's publish path
	// so it needs no lock of its own.
	slowSince time.Time

	closeOnce sync.Once
}

func newSubscriber(bufSize int) *Subscriber {
	return &Subscriber{
		Send: make(chan Message, bufSize),
		Done: make(chan struct{}),
	}
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.Done) })
}

// topic is the per-fixture channel: a ring of the last ringCap messages
// across all NoteTypes, independent seq counters per NoteType, and the
// set of currently attached subscribers.
type topic struct {
	fixtureID int
	ringCap   int

	mu          sync.Mutex
	seqCounters map[model.NoteType]int64
	ring        []Message
	subs        map[*Subscriber]struct{}
}

func newTopic(fixtureID, ringCap int) *topic {
	return &topic{
		fixtureID:   fixtureID,
		ringCap:     ringCap,
		seqCounters: make(map[model.NoteType]int64),
		subs:        make(map[*Subscriber]struct{}),
	}
}

// publish assigns the next seq for n.Type, appends it to the ring
// (evicting the oldest entry once ringCap is exceeded), and returns the
// Message so the caller can broadcast it. Must be called with notes for
// one fixture strictly in the order the store committed them, since seq
// is a pure counter.
func (t *topic) publish(n model.Note) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.seqCounters[n.Type] + 1
	t.seqCounters[n.Type] = seq

	msg := messageFromNote(n)
	msg.Seq = seq

	t.ring = append(t.ring, msg)
	if len(t.ring) > t.ringCap {
		t.ring = t.ring[1:]
	}
	return msg
}

func (t *topic) currentSeq(typ model.NoteType) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seqCounters[typ]
}

// ringSince returns the ring's buffered messages of typ with seq >
// fromSeq, plus whether the ring alone fully covers the gap (i.e.
// fromSeq is not older than the oldest buffered message of typ, or typ
// has never been evicted from the ring).
func (t *topic) ringSince(typ model.NoteType, fromSeq int64) (msgs []Message, covered bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldestOfType := int64(-1)
	for _, m := range t.ring {
		if m.Type != typ {
			continue
		}
		if oldestOfType == -1 {
			oldestOfType = m.Seq
		}
		if m.Seq > fromSeq {
			msgs = append(msgs, m)
		}
	}

	current := t.seqCounters[typ]
	if oldestOfType == -1 {
		// No message of this type is buffered: either none has been
		// published yet, or all of them were evicted. The ring covers the
		// request only if nothing of this type was published past fromSeq.
		return msgs, fromSeq >= current
	}
	return msgs, fromSeq >= oldestOfType-1 || fromSeq >= current
}

func (t *topic) addSubscriber(sub *Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[sub] = struct{}{}
}

func (t *topic) removeSubscriber(sub *Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, sub)
}

func (t *topic) subscribers() []*Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Subscriber, 0, len(t.subs))
	for s := range t.subs {
		out = append(out, s)
	}
	return out
}

// Package sequence implements the at-least-once delivery bookkeeping shared
// by every sender/receiver pair: the receiver-side Tracker that detects
// duplicates and gaps, and the sender-side History that answers resend
// requests.
package sequence

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
)

// MaxMissingPerObservation caps how many gap sequences a single observation
// reports, lowest first. The rest is reported by a later arrival from the
// same sender once the reported ones have been filled.
const MaxMissingPerObservation = 10000

// Outcome is the result of observing one sequence number.
type Outcome struct {
	Duplicate bool
	// Missing lists sequences below the observed one that have not arrived
	// yet, in ascending order. Nil when there is no gap.
	Missing []int64
}

type senderState struct {
	expected int64
	above    map[int64]struct{}
}

// Tracker holds the sequence state of every sender seen by one receiver.
// Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	senders map[string]*senderState
}

// NewTracker returns a tracker with no senders.
func NewTracker() *Tracker {
	return &Tracker{senders: make(map[string]*senderState)}
}

// Observe records seq from sender. Marking and gap computation happen under
// one lock, so two concurrent deliveries of the same sequence yield exactly
// one non-duplicate outcome.
func (t *Tracker) Observe(sender string, seq int64) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.senders[sender]
	if !ok {
		st = &senderState{above: make(map[int64]struct{})}
		t.senders[sender] = st
	}
	if seq < st.expected {
		return Outcome{Duplicate: true}
	}
	if _, seen := st.above[seq]; seen {
		return Outcome{Duplicate: true}
	}

	var out Outcome
	for i := st.expected; i < seq && len(out.Missing) < MaxMissingPerObservation; i++ {
		if _, seen := st.above[i]; !seen {
			out.Missing = append(out.Missing, i)
		}
	}

	st.above[seq] = struct{}{}
	for {
		if _, ok := st.above[st.expected]; !ok {
			break
		}
		delete(st.above, st.expected)
		st.expected++
	}
	return out
}

// Reset forgets sender entirely; its next message is treated as coming from a
// fresh sender starting at zero.
func (t *Tracker) Reset(sender string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.senders, sender)
}

// State returns the current state of sender (zero state if unknown).
func (t *Tracker) State(sender string) proto.SenderState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.senders[sender]
	if !ok {
		return proto.SenderState{}
	}
	return st.export()
}

// Snapshot copies the state of every sender.
func (t *Tracker) Snapshot() map[string]proto.SenderState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]proto.SenderState, len(t.senders))
	for id, st := range t.senders {
		out[id] = st.export()
	}
	return out
}

// Restore replaces all state with snap.
func (t *Tracker) Restore(snap map[string]proto.SenderState) {
	senders := make(map[string]*senderState, len(snap))
	for id, s := range snap {
		st := &senderState{expected: s.Expected, above: make(map[int64]struct{}, len(s.Received))}
		for _, seq := range s.Received {
			if seq >= s.Expected {
				st.above[seq] = struct{}{}
			}
		}
		for {
			if _, ok := st.above[st.expected]; !ok {
				break
			}
			delete(st.above, st.expected)
			st.expected++
		}
		senders[id] = st
	}
	t.mu.Lock()
	t.senders = senders
	t.mu.Unlock()
}

// Len returns the number of tracked senders.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.senders)
}

func (st *senderState) export() proto.SenderState {
	out := proto.SenderState{Expected: st.expected}
	if len(st.above) > 0 {
		out.Received = make([]int64, 0, len(st.above))
		for seq := range st.above {
			out.Received = append(out.Received, seq)
		}
		sort.Slice(out.Received, func(i, j int) bool { return out.Received[i] < out.Received[j] })
	}
	return out
}

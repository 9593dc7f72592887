// Package call implements the call-signaling engine: one negotiation at a
// time, driven by offer/answer/candidate/leave frames over the signaling
// stream, tracked by an explicit state machine.
package call

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/knotmsg/knot/internal/bus"
)

// State is a call-session state.
type State string

const (
	Idle          State = "IDLE"
	OfferSent     State = "OFFER_SENT"
	OfferReceived State = "OFFER_RECEIVED"
	AnswerSent    State = "ANSWER_SENT"
	Active        State = "ACTIVE"
	Ended         State = "ENDED"
)

// validTransitions defines allowed state transitions. Any state may Reset
// to Idle (session aborted); that path bypasses this table.
var validTransitions = map[State][]State{
	Idle:          {OfferSent, OfferReceived},
	OfferSent:     {Active, Ended},
	OfferReceived: {AnswerSent, Ended},
	AnswerSent:    {Active, Ended},
	Active:        {Ended},
	Ended:         {Idle},
}

// Session tracks the state of the single call negotiation together with
// the peer's user id. Peer and state change under one lock so a candidate
// can never target a peer from a stale session.
type Session struct {
	mu      sync.RWMutex
	current State
	peerID  string
	bus     *bus.Bus
}

// StatusChange is the payload for call state change events.
type StatusChange struct {
	From State
	To   State
	Peer string
}

// NewSession creates a session in the Idle state.
func NewSession(b *bus.Bus) *Session {
	return &Session{current: Idle, bus: b}
}

// Current returns the current state.
func (s *Session) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Peer returns the session peer's user id, empty while unknown.
func (s *Session) Peer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerID
}

// SetPeer records the session peer once learned from a frame.
func (s *Session) SetPeer(userID string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	s.peerID = userID
	s.mu.Unlock()
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed from the current state.
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	allowed := validTransitions[s.current]
	if !slices.Contains(allowed, to) {
		from := s.current
		s.mu.Unlock()
		return fmt.Errorf("invalid call transition from %s to %s", from, to)
	}
	from := s.current
	s.current = to
	peer := s.peerID
	s.mu.Unlock()

	s.publish(from, to, peer)
	return nil
}

// Reset aborts the session from any state: back to Idle, peer forgotten.
// Used when the signaling stream fails or a call ends.
func (s *Session) Reset() {
	s.mu.Lock()
	from := s.current
	peer := s.peerID
	s.current = Idle
	s.peerID = ""
	s.mu.Unlock()

	if from != Idle {
		s.publish(from, Idle, peer)
	}
}

func (s *Session) publish(from, to State, peer string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      "call.state_changed",
		Timestamp: time.Now(),
		Payload:   StatusChange{From: from, To: to, Peer: peer},
	})
}

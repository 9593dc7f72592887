// Package stream implements the long-lived bidirectional event streams used
// by the chat and signaling engines: a websocket connection that opens with
// an identity frame and then carries kind-discriminated JSON frames.
package stream

import (
	"fmt"

	"github.com/knotmsg/knot/internal/wire"
)

// Kind discriminates frame payloads.
type Kind string

const (
	KindInit      Kind = "init"
	KindMessage   Kind = "message"
	KindReceipt   Kind = "receipt"
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindLeave     Kind = "leave"
)

// Frame is the wire envelope. Exactly one payload field matches Kind;
// Validate enforces that so dispatch can switch on Kind exhaustively.
type Frame struct {
	Kind       Kind   `json:"kind"`
	SenderID   string `json:"sender_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	IsInit     bool   `json:"is_init,omitempty"`

	Message   *wire.Message `json:"message,omitempty"`
	Receipt   *Receipt      `json:"receipt,omitempty"`
	Offer     *Offer        `json:"offer,omitempty"`
	Answer    *Answer       `json:"answer,omitempty"`
	Candidate *Candidate    `json:"candidate,omitempty"`
}

// Receipt advances a message's delivery status.
type Receipt struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Offer carries a session description proposing a call.
type Offer struct {
	Type string `json:"type"`
	Name string `json:"name"`
	SDP  string `json:"sdp"`
}

// Answer carries the session description accepting a call.
type Answer struct {
	Type string `json:"type"`
	Name string `json:"name"`
	SDP  string `json:"sdp"`
}

// Candidate is one ICE candidate.
type Candidate struct {
	Type      string `json:"type"`
	Label     string `json:"label"`
	Target    string `json:"target"`
	Candidate string `json:"candidate"`
}

// InitFrame builds the identity frame sent immediately after dialing.
func InitFrame(userID string) Frame {
	return Frame{Kind: KindInit, SenderID: userID, IsInit: true}
}

// Validate checks that the payload present matches the declared kind.
func (f *Frame) Validate() error {
	var want bool
	switch f.Kind {
	case KindInit:
		want = f.IsInit && f.SenderID != ""
	case KindMessage:
		want = f.Message != nil
	case KindReceipt:
		want = f.Receipt != nil
	case KindOffer:
		want = f.Offer != nil
	case KindAnswer:
		want = f.Answer != nil
	case KindCandidate:
		want = f.Candidate != nil
	case KindLeave:
		want = true
	default:
		return fmt.Errorf("unknown frame kind %q", f.Kind)
	}
	if !want {
		return fmt.Errorf("frame kind %q missing payload", f.Kind)
	}
	return nil
}

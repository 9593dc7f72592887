package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/knotmsg/knot/internal/bus"
	"github.com/knotmsg/knot/internal/stream"
	"go.uber.org/zap"
)

// Sentinel errors for caller-contract violations.
var (
	// ErrNoPeer means a candidate was sent before any peer was known.
	ErrNoPeer = errors.New("call: no session peer known")
	// ErrStreamClosed means a signaling operation ran without an open stream.
	ErrStreamClosed = errors.New("call: signaling stream not open")
	// ErrBusy means a call was placed while a session is already in flight.
	ErrBusy = errors.New("call: session already in progress")
	// ErrNotRinging means an answer was attempted with no pending offer.
	ErrNotRinging = errors.New("call: no offer to answer")
)

// Engine drives one call negotiation at a time over the signaling stream.
// Unlike the chat stream, a transport failure here is surfaced and the
// session aborted; the caller must restart listening explicitly.
type Engine struct {
	dialer  stream.Dialer
	bus     *bus.Bus
	session *Session
	logger  *zap.Logger

	mu     sync.Mutex
	conn   stream.Conn
	userID string
}

// NewEngine creates a signaling engine around an idle session.
func NewEngine(dialer stream.Dialer, session *Session, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		dialer:  dialer,
		bus:     b,
		session: session,
		logger:  logger,
	}
}

// Session exposes the call session for observers.
func (e *Engine) Session() *Session {
	return e.session
}

// StartEventListener opens the signaling stream (the dialer transmits the
// presence/identity frame) and consumes inbound frames until the transport
// fails. It returns the read error that ended the stream; the session is
// reset to Idle and no reconnect is attempted.
func (e *Engine) StartEventListener(ctx context.Context, userID string) error {
	conn, err := e.dialer.Dial(ctx, userID)
	if err != nil {
		return fmt.Errorf("open signaling stream: %w", err)
	}
	e.mu.Lock()
	e.conn = conn
	e.userID = userID
	e.mu.Unlock()

	for {
		f, err := conn.Recv()
		if err != nil {
			e.logger.Warn("signaling stream read failed", zap.Error(err))
			e.mu.Lock()
			e.conn = nil
			e.mu.Unlock()
			_ = conn.Close()
			e.session.Reset()
			e.bus.Publish(bus.Event{Kind: "signal.stream_error", Timestamp: time.Now(), Payload: err.Error()})
			return err
		}
		e.handleFrame(f)
	}
}

func (e *Engine) handleFrame(f *stream.Frame) {
	// The peer is learned from the sender of the first relevant frame and
	// becomes the implicit target for outbound candidates.
	switch f.Kind {
	case stream.KindOffer:
		e.session.SetPeer(f.SenderID)
		if err := e.session.Transition(OfferReceived); err != nil {
			e.logger.Warn("offer ignored", zap.Error(err), zap.String("from", f.SenderID))
			return
		}
		e.publish("signal.offer", OfferEvent{From: f.SenderID, Offer: *f.Offer})
	case stream.KindAnswer:
		e.session.SetPeer(f.SenderID)
		if err := e.session.Transition(Active); err != nil {
			e.logger.Warn("answer ignored", zap.Error(err), zap.String("from", f.SenderID))
			return
		}
		e.publish("signal.answer", AnswerEvent{From: f.SenderID, Answer: *f.Answer})
	case stream.KindCandidate:
		e.session.SetPeer(f.SenderID)
		e.publish("signal.candidate", CandidateEvent{From: f.SenderID, Candidate: *f.Candidate})
	case stream.KindLeave:
		if err := e.session.Transition(Ended); err == nil {
			e.session.Reset()
		}
		e.publish("signal.leave", f.SenderID)
	case stream.KindInit:
		// Presence ack.
	default:
		e.logger.Warn("unexpected frame kind on signaling stream", zap.String("kind", string(f.Kind)))
	}
}

// PlaceCall transmits an offer to the target user and records them as the
// session peer. Only valid from Idle.
func (e *Engine) PlaceCall(ctx context.Context, targetUserID string, offer stream.Offer) error {
	if e.session.Current() != Idle {
		return fmt.Errorf("%w: state %s", ErrBusy, e.session.Current())
	}
	e.session.SetPeer(targetUserID)
	if err := e.send(stream.Frame{
		Kind:       stream.KindOffer,
		SenderID:   e.localUserID(),
		ReceiverID: targetUserID,
		Offer:      &offer,
	}); err != nil {
		e.session.Reset()
		return err
	}
	return e.session.Transition(OfferSent)
}

// AnswerCall transmits an answer to the offering peer. Only valid from
// OfferReceived.
func (e *Engine) AnswerCall(ctx context.Context, answer stream.Answer) error {
	if e.session.Current() != OfferReceived {
		return fmt.Errorf("%w: state %s", ErrNotRinging, e.session.Current())
	}
	peer := e.session.Peer()
	if peer == "" {
		return ErrNoPeer
	}
	if err := e.send(stream.Frame{
		Kind:       stream.KindAnswer,
		SenderID:   e.localUserID(),
		ReceiverID: peer,
		Answer:     &answer,
	}); err != nil {
		return err
	}
	return e.session.Transition(AnswerSent)
}

// ConfirmLocalDescription marks the answering side's local description as
// set, completing the negotiation.
func (e *Engine) ConfirmLocalDescription() error {
	return e.session.Transition(Active)
}

// SendIceCandidate transmits a candidate to the current session peer.
// Candidate frames carry no explicit destination in the call API, so a
// session with no known peer is a caller error, not a silent drop.
func (e *Engine) SendIceCandidate(ctx context.Context, candidate stream.Candidate) error {
	peer := e.session.Peer()
	if peer == "" {
		return ErrNoPeer
	}
	return e.send(stream.Frame{
		Kind:       stream.KindCandidate,
		SenderID:   e.localUserID(),
		ReceiverID: peer,
		Candidate:  &candidate,
	})
}

// Hangup transmits a leave frame and resets the session.
func (e *Engine) Hangup(ctx context.Context) error {
	peer := e.session.Peer()
	err := e.send(stream.Frame{
		Kind:       stream.KindLeave,
		SenderID:   e.localUserID(),
		ReceiverID: peer,
	})
	_ = e.session.Transition(Ended)
	e.session.Reset()
	return err
}

func (e *Engine) send(f stream.Frame) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrStreamClosed
	}
	return conn.Send(f)
}

func (e *Engine) localUserID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Inbound signaling payloads published on the bus.
type OfferEvent struct {
	From  string
	Offer stream.Offer
}

type AnswerEvent struct {
	From   string
	Answer stream.Answer
}

type CandidateEvent struct {
	From      string
	Candidate stream.Candidate
}

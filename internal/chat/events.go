package chat

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/knotmsg/knot/internal/bus"
	"github.com/knotmsg/knot/internal/store"
	"github.com/knotmsg/knot/internal/stream"
	"go.uber.org/zap"
)

// Notification is the payload of a "chat.message" bus event: a message that
// arrived on the live stream, already persisted, with its owning chat id.
// This is how a chat that is not open anywhere still accumulates messages.
type Notification struct {
	ChatID  int64
	Message store.Message
}

// SubscribeEvents opens the persistent chat event stream for the user and
// keeps it open: a transport failure is never terminal, the loop redials
// with the same identity until the context ends (process teardown is the
// only clean shutdown; there is no unsubscribe).
func (e *Engine) SubscribeEvents(ctx context.Context, userID string) {
	e.setUserID(userID)
	go e.streamLoop(ctx, userID)
}

func (e *Engine) streamLoop(ctx context.Context, userID string) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry forever

	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := e.dialer.Dial(ctx, userID)
		if err != nil {
			wait := policy.NextBackOff()
			e.logger.Warn("chat stream dial failed",
				zap.Error(err),
				zap.Duration("retry_in", wait))
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		policy.Reset()
		e.swapConn(conn)
		e.bus.Publish(bus.Event{Kind: "chat.stream_up", Timestamp: time.Now()})

		e.readLoop(userID, conn)
		_ = conn.Close()
		e.bus.Publish(bus.Event{Kind: "chat.stream_down", Timestamp: time.Now()})
	}
}

// readLoop consumes inbound frames until the transport fails. Frames are
// handled on this goroutine, which is the engine's only cache writer for
// stream events; command handlers coordinate through the store's upserts.
func (e *Engine) readLoop(userID string, conn stream.Conn) {
	for {
		f, err := conn.Recv()
		if err != nil {
			e.logger.Warn("chat stream read failed", zap.Error(err))
			return
		}
		e.handleFrame(userID, f)
	}
}

func (e *Engine) handleFrame(userID string, f *stream.Frame) {
	switch f.Kind {
	case stream.KindMessage:
		chatID, sm, err := e.ingestMessage(userID, f.Message, store.StatusReceived)
		if err != nil {
			e.logger.Error("failed to ingest live message",
				zap.Error(err),
				zap.String("msg_id", f.Message.ID))
			return
		}
		e.bus.Publish(bus.Event{
			Kind:      "chat.message",
			Timestamp: time.Now(),
			Payload:   Notification{ChatID: chatID, Message: *sm},
		})
	case stream.KindReceipt:
		if err := e.db.SetMessageStatus(f.Receipt.MessageID, f.Receipt.Status); err != nil {
			e.logger.Error("failed to apply receipt",
				zap.Error(err),
				zap.String("msg_id", f.Receipt.MessageID))
			return
		}
		e.bus.Publish(bus.Event{
			Kind:      "chat.receipt",
			Timestamp: time.Now(),
			Payload:   *f.Receipt,
		})
	case stream.KindInit:
		// Server presence ack; nothing to store.
	default:
		e.logger.Warn("unexpected frame kind on chat stream", zap.String("kind", string(f.Kind)))
	}
}

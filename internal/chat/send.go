package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/knotmsg/knot/internal/store"
	"github.com/knotmsg/knot/internal/stream"
	"github.com/knotmsg/knot/internal/wire"
	"go.uber.org/zap"
)

// OutgoingMessage is a message the local user wants to send. ID may be left
// empty; the engine assigns a client UUID until the server confirms.
type OutgoingMessage struct {
	ID        string
	ReplyID   string
	Media     *wire.Media
	IsForward bool
	Body      string
}

// SendMessage pushes a message onto the outbound side of the event stream
// and records it locally with status sent. Exactly one of receiverID and
// groupID must be set. The timestamp is stamped here; a caller-supplied
// time is not trusted. Returns the resolved chat id so the caller can
// reconcile a provisional chat with its durable row.
func (e *Engine) SendMessage(ctx context.Context, msg OutgoingMessage, authorID, receiverID, groupID string) (int64, error) {
	if (receiverID == "") == (groupID == "") {
		return 0, ErrBadAddress
	}

	var (
		chatID int64
		err    error
	)
	if groupID != "" {
		chat, err := e.db.FindChatByGroup(groupID)
		if err != nil {
			return 0, err
		}
		if chat == nil {
			return 0, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
		}
		chatID = chat.ID
	} else {
		chatID, err = e.db.GetOrCreatePeerChat(receiverID)
		if err != nil {
			return 0, err
		}
	}

	id := msg.ID
	if id == "" {
		id = uuid.New().String()
	}
	wm := wire.Message{
		ID:         id,
		AuthorID:   authorID,
		ReceiverID: receiverID,
		GroupID:    groupID,
		ReplyID:    msg.ReplyID,
		Media:      msg.Media,
		IsForward:  msg.IsForward,
		Timestamp:  time.Now().UnixMilli(),
		Status:     store.StatusSent,
		Body:       msg.Body,
	}

	frame := stream.Frame{
		Kind:       stream.KindMessage,
		SenderID:   authorID,
		ReceiverID: receiverID,
		Message:    &wm,
	}
	if err := e.sendFrame(frame); err != nil {
		return 0, err
	}

	if _, _, err := e.ingestMessage(authorID, &wm, store.StatusSent); err != nil {
		return 0, err
	}
	e.logger.Info("message sent",
		zap.String("msg_id", id),
		zap.Int64("chat_id", chatID))
	return chatID, nil
}

// MarkRead sends a read receipt upstream and advances the local status.
// Idempotent: an already-read message is a no-op and sends nothing. A
// broken stream is redialed once and the receipt retried once before the
// error is surfaced.
func (e *Engine) MarkRead(ctx context.Context, messageID string) error {
	m, err := e.db.GetMessage(messageID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	if m.Status == store.StatusRead {
		return nil
	}

	frame := stream.Frame{
		Kind:     stream.KindReceipt,
		SenderID: e.currentUserID(),
		Receipt:  &stream.Receipt{MessageID: messageID, Status: store.StatusRead},
	}
	if err := e.sendFrame(frame); err != nil {
		e.logger.Warn("receipt send failed, redialing stream", zap.Error(err))
		if rerr := e.reconnect(ctx); rerr != nil {
			return fmt.Errorf("reconnect after receipt failure: %w", rerr)
		}
		if err := e.sendFrame(frame); err != nil {
			return fmt.Errorf("send receipt after reconnect: %w", err)
		}
	}

	return e.db.SetMessageStatus(messageID, store.StatusRead)
}

func (e *Engine) sendFrame(f stream.Frame) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrStreamClosed
	}
	return conn.Send(f)
}

// reconnect dials a fresh stream with the current identity and swaps it in.
// The read loop, if running, notices the old transport's failure on its own
// and converges on a live connection.
func (e *Engine) reconnect(ctx context.Context) error {
	userID := e.currentUserID()
	if userID == "" {
		return ErrStreamClosed
	}
	conn, err := e.dialer.Dial(ctx, userID)
	if err != nil {
		return err
	}
	e.swapConn(conn)
	return nil
}

func (e *Engine) swapConn(conn stream.Conn) {
	e.mu.Lock()
	old := e.conn
	e.conn = conn
	e.mu.Unlock()
	if old != nil && old != conn {
		_ = old.Close()
	}
}

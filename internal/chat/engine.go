// Package chat implements the message sync engine: it reconciles the local
// cache with the remote history service and the live event stream, producing
// ordered, deduplicated chat views.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/knotmsg/knot/internal/bus"
	"github.com/knotmsg/knot/internal/directory"
	"github.com/knotmsg/knot/internal/store"
	"github.com/knotmsg/knot/internal/stream"
	"github.com/knotmsg/knot/internal/wire"
	"go.uber.org/zap"
)

// Sentinel errors for caller-contract violations.
var (
	// ErrUnknownGroup means a group message was addressed to a group the
	// engine has never synced. Group chats are created by the server side;
	// sending into one that does not exist locally is a programming error.
	ErrUnknownGroup = errors.New("chat: unknown group")
	// ErrStreamClosed means an outbound operation ran before the event
	// stream was opened (or after it broke without recovery).
	ErrStreamClosed = errors.New("chat: event stream not open")
	// ErrBadAddress means a send named both or neither of receiver/group.
	ErrBadAddress = errors.New("chat: exactly one of receiver and group must be set")
	// ErrUnknownMessage means a receipt referenced a message not in the cache.
	ErrUnknownMessage = errors.New("chat: unknown message")
)

// History is the remote chat history service.
type History interface {
	FetchAllMessages(ctx context.Context, userID string) ([]wire.Message, error)
	FetchUnreadMessages(ctx context.Context, userID string) ([]wire.Message, error)
	FetchGroupInfo(ctx context.Context, groupID string) (*wire.GroupInfo, error)
}

// ChatView is a materialized chat: its row, its messages in ascending
// timestamp order, and (for groups) the member ids.
type ChatView struct {
	Chat      store.Chat
	Messages  []store.Message
	MemberIDs []string
}

// Engine reconciles remote message state into the local cache store. The
// engine is the store's only writer; readers observe it through returned
// views and bus notifications.
type Engine struct {
	db      *store.DB
	history History
	dir     *directory.Directory
	dialer  stream.Dialer
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.Mutex
	conn   stream.Conn
	userID string
}

// NewEngine creates a sync engine. The stream is not opened until
// SubscribeEvents.
func NewEngine(db *store.DB, history History, dir *directory.Directory, dialer stream.Dialer, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:      db,
		history: history,
		dir:     dir,
		dialer:  dialer,
		bus:     b,
		logger:  logger,
	}
}

// LoadInitial performs a full resync: the cache projection is cleared,
// the complete remote history is fetched, partitioned into group and peer
// messages, and materialized into chats. Duplicate remote delivery of a
// message id upserts rather than duplicating.
func (e *Engine) LoadInitial(ctx context.Context, userID string) ([]ChatView, error) {
	e.setUserID(userID)

	if err := e.db.Reset(); err != nil {
		return nil, fmt.Errorf("reset cache: %w", err)
	}
	msgs, err := e.history.FetchAllMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if err := e.materialize(ctx, userID, msgs); err != nil {
		return nil, err
	}
	if err := e.db.SetCheckpoint("last_full_sync", strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("checkpoint write failed", zap.Error(err))
	}
	return e.localView()
}

// LoadIncremental merges the unread remote messages into the existing
// cache. A failed remote fetch degrades to the cache-only view instead of
// propagating the error.
func (e *Engine) LoadIncremental(ctx context.Context, userID string) ([]ChatView, error) {
	e.setUserID(userID)

	msgs, err := e.history.FetchUnreadMessages(ctx, userID)
	if err != nil {
		e.logger.Warn("incremental fetch failed, serving cache only", zap.Error(err))
		return e.localView()
	}
	if err := e.materialize(ctx, userID, msgs); err != nil {
		return nil, err
	}
	if err := e.db.SetCheckpoint("last_incremental_sync", strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("checkpoint write failed", zap.Error(err))
	}
	return e.localView()
}

// materialize partitions messages into group-addressed and peer-addressed,
// fetches group metadata once per distinct group, joins peer messages by
// counterpart (full outer join over sent-by-me and received-by-me), and
// persists everything through natural-key upserts.
func (e *Engine) materialize(ctx context.Context, userID string, msgs []wire.Message) error {
	groupMsgs := make(map[string][]wire.Message)
	peerMsgs := make(map[string][]wire.Message)

	for _, m := range msgs {
		if m.GroupID != "" {
			groupMsgs[m.GroupID] = append(groupMsgs[m.GroupID], m)
			continue
		}
		// Counterpart key: the other participant, whether I sent or received.
		counterpart := m.AuthorID
		if counterpart == userID {
			counterpart = m.ReceiverID
		}
		if counterpart == "" {
			e.logger.Warn("message without counterpart skipped", zap.String("msg_id", m.ID))
			continue
		}
		peerMsgs[counterpart] = append(peerMsgs[counterpart], m)
	}

	for groupID, batch := range groupMsgs {
		if err := e.materializeGroup(ctx, userID, groupID, batch); err != nil {
			return err
		}
	}

	for counterpart, batch := range peerMsgs {
		if _, err := e.db.GetOrCreatePeerChat(counterpart); err != nil {
			return err
		}
		// Best-effort profile warm-up; the chat itself does not depend on it.
		if _, err := e.dir.Lookup(ctx, counterpart); err != nil {
			e.logger.Warn("counterpart profile lookup failed", zap.String("user_id", counterpart), zap.Error(err))
		}
		for i := range batch {
			if _, _, err := e.ingestMessage(userID, &batch[i], store.StatusSent); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) materializeGroup(ctx context.Context, userID, groupID string, batch []wire.Message) error {
	title := ""
	var avatarID sql.NullInt64

	info, err := e.history.FetchGroupInfo(ctx, groupID)
	if err != nil {
		// Materialize a skeleton chat; metadata catches up on the next sync.
		e.logger.Warn("group info fetch failed", zap.String("group_id", groupID), zap.Error(err))
	} else {
		title = info.Title
		if info.Image != nil {
			id, err := e.db.UpsertMedia(&store.Media{
				MimeType:  info.Image.MimeType,
				URL:       info.Image.URL,
				SizeBytes: info.Image.SizeBytes,
			})
			if err != nil {
				return err
			}
			avatarID = sql.NullInt64{Int64: id, Valid: true}
		}
	}

	if _, err := e.db.GetOrCreateGroupChat(groupID, title, avatarID); err != nil {
		return err
	}

	if info != nil {
		if err := e.db.ReplaceGroupMembers(groupID, info.MemberIDs); err != nil {
			return err
		}
		for _, memberID := range info.MemberIDs {
			if _, err := e.dir.Lookup(ctx, memberID); err != nil {
				e.logger.Warn("member profile lookup failed", zap.String("user_id", memberID), zap.Error(err))
			}
		}
	}

	for i := range batch {
		if _, _, err := e.ingestMessage(userID, &batch[i], store.StatusSent); err != nil {
			return err
		}
	}
	return nil
}

// ingestMessage resolves the owning chat by natural key and upserts the
// message (and its attachment). Idempotent: re-observing the same message
// id never duplicates rows.
func (e *Engine) ingestMessage(userID string, m *wire.Message, fallbackStatus string) (int64, *store.Message, error) {
	var (
		chatID int64
		err    error
	)
	if m.GroupID != "" {
		chatID, err = e.db.GetOrCreateGroupChat(m.GroupID, "", sql.NullInt64{})
	} else {
		counterpart := m.AuthorID
		if counterpart == userID {
			counterpart = m.ReceiverID
		}
		if counterpart == "" {
			return 0, nil, fmt.Errorf("message %s has no counterpart", m.ID)
		}
		chatID, err = e.db.GetOrCreatePeerChat(counterpart)
	}
	if err != nil {
		return 0, nil, err
	}

	var mediaID sql.NullInt64
	if m.Media != nil {
		id, err := e.db.UpsertMedia(&store.Media{
			MimeType:  m.Media.MimeType,
			URL:       m.Media.URL,
			SizeBytes: m.Media.SizeBytes,
		})
		if err != nil {
			return 0, nil, err
		}
		mediaID = sql.NullInt64{Int64: id, Valid: true}
	}

	status := m.Status
	if store.StatusRank(status) < 0 {
		status = fallbackStatus
	}

	sm := &store.Message{
		ID:         m.ID,
		ChatID:     chatID,
		AuthorID:   m.AuthorID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		ReplyID:    m.ReplyID,
		MediaID:    mediaID,
		IsForward:  m.IsForward,
		Timestamp:  m.Timestamp,
		Status:     status,
		Body:       m.Body,
	}
	if err := e.db.UpsertMessage(sm); err != nil {
		return 0, nil, fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	return chatID, sm, nil
}

// localView builds chat views from the cache alone. Messages come back in
// ascending timestamp order from the store, re-sorted on every read rather
// than trusting arrival order.
func (e *Engine) localView() ([]ChatView, error) {
	chats, err := e.db.ListChats()
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	views := make([]ChatView, 0, len(chats))
	for _, c := range chats {
		msgs, err := e.db.ListMessages(c.ID)
		if err != nil {
			return nil, fmt.Errorf("list messages for chat %d: %w", c.ID, err)
		}
		v := ChatView{Chat: c, Messages: msgs}
		if c.IsGroup() {
			members, err := e.db.GroupMemberIDs(c.GroupID)
			if err != nil {
				return nil, err
			}
			v.MemberIDs = members
		}
		views = append(views, v)
	}
	return views, nil
}

func (e *Engine) setUserID(userID string) {
	e.mu.Lock()
	e.userID = userID
	e.mu.Unlock()
}

func (e *Engine) currentUserID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

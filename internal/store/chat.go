package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetOrCreatePeerChat resolves the chat row for a 1:1 counterpart,
// creating it when unseen. Race-safe: concurrent callers for the same
// counterpart converge on one row via the unique index.
func (db *DB) GetOrCreatePeerChat(peerUserID string) (int64, error) {
	if peerUserID == "" {
		return 0, fmt.Errorf("peer chat: empty counterpart user id")
	}
	now := time.Now().UnixMilli()
	if _, err := db.Exec(`
		INSERT INTO chats (peer_user_id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(peer_user_id) WHERE peer_user_id IS NOT NULL DO NOTHING`,
		peerUserID, now, now); err != nil {
		return 0, fmt.Errorf("insert peer chat: %w", err)
	}
	var id int64
	if err := db.QueryRow(`SELECT id FROM chats WHERE peer_user_id = ?`, peerUserID).Scan(&id); err != nil {
		return 0, fmt.Errorf("select peer chat: %w", err)
	}
	return id, nil
}

// GetOrCreateGroupChat resolves the chat row for a group, creating it when
// unseen. Non-empty title/avatar refresh the stored metadata.
func (db *DB) GetOrCreateGroupChat(groupID, title string, avatarMediaID sql.NullInt64) (int64, error) {
	if groupID == "" {
		return 0, fmt.Errorf("group chat: empty group id")
	}
	now := time.Now().UnixMilli()
	if _, err := db.Exec(`
		INSERT INTO chats (group_id, title, avatar_media_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id) WHERE group_id IS NOT NULL DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE chats.title END,
			avatar_media_id = COALESCE(excluded.avatar_media_id, chats.avatar_media_id),
			updated_at = excluded.updated_at`,
		groupID, title, avatarMediaID, now, now); err != nil {
		return 0, fmt.Errorf("upsert group chat: %w", err)
	}
	var id int64
	if err := db.QueryRow(`SELECT id FROM chats WHERE group_id = ?`, groupID).Scan(&id); err != nil {
		return 0, fmt.Errorf("select group chat: %w", err)
	}
	return id, nil
}

// GetChat returns a chat by row id, or nil when absent.
func (db *DB) GetChat(id int64) (*Chat, error) {
	var (
		c    Chat
		peer sql.NullString
		grp  sql.NullString
	)
	err := db.QueryRow(`
		SELECT id, peer_user_id, group_id, title, avatar_media_id
		FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &peer, &grp, &c.Title, &c.AvatarMediaID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.PeerUserID = peer.String
	c.GroupID = grp.String
	return &c, nil
}

// FindChatByGroup returns the chat row for a group id, or nil when the
// group has never been seen.
func (db *DB) FindChatByGroup(groupID string) (*Chat, error) {
	var id int64
	err := db.QueryRow(`SELECT id FROM chats WHERE group_id = ?`, groupID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.GetChat(id)
}

// ListChats returns every cached chat. Cross-chat ordering is by latest
// activity so list consumers get the most recent conversations first.
func (db *DB) ListChats() ([]Chat, error) {
	rows, err := db.Query(`
		SELECT c.id, c.peer_user_id, c.group_id, c.title, c.avatar_media_id
		FROM chats c
		LEFT JOIN (
			SELECT chat_id, MAX(timestamp) AS last_ts FROM messages GROUP BY chat_id
		) m ON m.chat_id = c.id
		ORDER BY COALESCE(m.last_ts, 0) DESC, c.id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var (
			c    Chat
			peer sql.NullString
			grp  sql.NullString
		)
		if err := rows.Scan(&c.ID, &peer, &grp, &c.Title, &c.AvatarMediaID); err != nil {
			return nil, err
		}
		c.PeerUserID = peer.String
		c.GroupID = grp.String
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ChatCount returns the total number of cached chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}

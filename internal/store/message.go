package store

import (
	"database/sql"
	"fmt"
	"time"
)

// statusRankSQL ranks a status column for monotonic comparison inside
// upserts. Must stay in sync with StatusRank.
const statusRankSQL = `CASE %s WHEN 'sent' THEN 0 WHEN 'received' THEN 1 WHEN 'read' THEN 2 ELSE -1 END`

// UpsertMessage inserts or updates a message (idempotent on id). Status
// only advances: a re-delivered frame carrying an earlier status leaves the
// stored status untouched.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	query := fmt.Sprintf(`
		INSERT INTO messages (id, chat_id, author_id, receiver_id, group_id, reply_id, media_id, is_forward, timestamp, status, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			media_id = COALESCE(excluded.media_id, messages.media_id),
			status = CASE WHEN `+statusRankSQL+` > `+statusRankSQL+`
				THEN excluded.status ELSE messages.status END`,
		"excluded.status", "messages.status")
	_, err := db.Exec(query,
		m.ID, m.ChatID, m.AuthorID, nullable(m.ReceiverID), nullable(m.GroupID),
		nullable(m.ReplyID), m.MediaID, m.IsForward, m.Timestamp, m.Status, m.Body, now)
	return err
}

// SetMessageStatus advances a message's delivery status. Regressions are
// ignored, not errors; re-applying the current status is a no-op.
func (db *DB) SetMessageStatus(id, status string) error {
	if StatusRank(status) < 0 {
		return fmt.Errorf("unknown message status %q", status)
	}
	query := fmt.Sprintf(`
		UPDATE messages SET status = ?
		WHERE id = ? AND `+statusRankSQL+` < ?`, "status")
	_, err := db.Exec(query, status, id, StatusRank(status))
	return err
}

// GetMessage returns a message by id, or nil when absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, chat_id, author_id, receiver_id, group_id, reply_id, media_id, is_forward, timestamp, status, body
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns a chat's messages in ascending timestamp order,
// which is the order consumers always see regardless of arrival order.
func (db *DB) ListMessages(chatID int64) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, chat_id, author_id, receiver_id, group_id, reply_id, media_id, is_forward, timestamp, status, body
		FROM messages WHERE chat_id = ?
		ORDER BY timestamp ASC, id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (*Message, error) {
	var (
		m        Message
		receiver sql.NullString
		group    sql.NullString
		reply    sql.NullString
	)
	if err := r.Scan(&m.ID, &m.ChatID, &m.AuthorID, &receiver, &group, &reply,
		&m.MediaID, &m.IsForward, &m.Timestamp, &m.Status, &m.Body); err != nil {
		return nil, err
	}
	m.ReceiverID = receiver.String
	m.GroupID = group.String
	m.ReplyID = reply.String
	return &m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

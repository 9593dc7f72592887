package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertUser inserts or updates a cached profile.
func (db *DB) UpsertUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, phone, name, bio, exists_flag, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phone = excluded.phone,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			bio = excluded.bio,
			exists_flag = excluded.exists_flag,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at`,
		u.ID, u.Phone, u.Name, u.Bio, u.Exists, u.AvatarURL, now)
	return err
}

// BulkUpsertUsers inserts or updates multiple profiles in one transaction.
func (db *DB) BulkUpsertUsers(users []User) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, u := range users {
		if _, err := tx.Exec(`
			INSERT INTO users (id, phone, name, bio, exists_flag, avatar_url, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				phone = excluded.phone,
				name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
				bio = excluded.bio,
				exists_flag = excluded.exists_flag,
				avatar_url = excluded.avatar_url,
				updated_at = excluded.updated_at`,
			u.ID, u.Phone, u.Name, u.Bio, u.Exists, u.AvatarURL, now); err != nil {
			return fmt.Errorf("upsert user %q: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// GetUser returns a cached profile by id, or nil when absent.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT id, phone, name, bio, exists_flag, avatar_url FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Phone, &u.Name, &u.Bio, &u.Exists, &u.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ReplaceGroupMembers swaps a group's membership for the authoritative list.
func (db *DB) ReplaceGroupMembers(groupID string, memberIDs []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM group_members WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clear group members: %w", err)
	}
	for _, id := range memberIDs {
		if _, err := tx.Exec(`
			INSERT INTO group_members (group_id, user_id) VALUES (?, ?)
			ON CONFLICT(group_id, user_id) DO NOTHING`, groupID, id); err != nil {
			return fmt.Errorf("insert group member %q: %w", id, err)
		}
	}
	return tx.Commit()
}

// GroupMemberIDs returns a group's cached member ids.
func (db *DB) GroupMemberIDs(groupID string) ([]string, error) {
	rows, err := db.Query(`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id`, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

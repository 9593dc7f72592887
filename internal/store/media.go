package store

import "fmt"

// UpsertMedia inserts an attachment reference or refreshes it, returning
// the row id. URL is the natural key: the same attachment referenced by a
// re-delivered message resolves to the same row.
func (db *DB) UpsertMedia(m *Media) (int64, error) {
	if m.URL == "" {
		return 0, fmt.Errorf("media: empty url")
	}
	if _, err := db.Exec(`
		INSERT INTO media (mime_type, url, size_bytes)
		VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			mime_type = excluded.mime_type,
			size_bytes = excluded.size_bytes`,
		m.MimeType, m.URL, m.SizeBytes); err != nil {
		return 0, fmt.Errorf("upsert media: %w", err)
	}
	var id int64
	if err := db.QueryRow(`SELECT id FROM media WHERE url = ?`, m.URL).Scan(&id); err != nil {
		return 0, fmt.Errorf("select media: %w", err)
	}
	return id, nil
}

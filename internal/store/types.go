package store

import "database/sql"

// Delivery status values. Status only moves forward through this sequence.
const (
	StatusSent     = "sent"
	StatusReceived = "received"
	StatusRead     = "read"
)

// StatusRank orders delivery statuses; unknown values rank below sent so
// they can never overwrite a known status.
func StatusRank(s string) int {
	switch s {
	case StatusSent:
		return 0
	case StatusReceived:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

// Chat is a cached chat row. Exactly one of PeerUserID and GroupID is set;
// the schema enforces it.
type Chat struct {
	ID            int64
	PeerUserID    string
	GroupID       string
	Title         string
	AvatarMediaID sql.NullInt64
}

// IsGroup reports whether the chat is group-addressed.
func (c *Chat) IsGroup() bool { return c.GroupID != "" }

// Message is a cached message row. ID is server-assigned, or a client UUID
// for locally-sent messages awaiting confirmation.
type Message struct {
	ID         string
	ChatID     int64
	AuthorID   string
	ReceiverID string
	GroupID    string
	ReplyID    string
	MediaID    sql.NullInt64
	IsForward  bool
	Timestamp  int64
	Status     string
	Body       string
}

// Media is a cached attachment reference, deduplicated by URL.
type Media struct {
	ID        int64
	MimeType  string
	URL       string
	SizeBytes int64
}

// User is a cached directory profile.
type User struct {
	ID        string
	Phone     string
	Name      string
	Bio       string
	Exists    bool
	AvatarURL string
}

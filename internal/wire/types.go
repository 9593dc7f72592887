// Package wire defines the JSON shapes exchanged with the knot backend
// services. The same message shape travels over the bulk history endpoint
// and the live event stream.
package wire

// Message is a chat message as the server sends it. Exactly one of
// ReceiverID and GroupID is set.
type Message struct {
	ID         string `json:"id"`
	AuthorID   string `json:"author_id"`
	ReceiverID string `json:"receiver_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	ReplyID    string `json:"reply_id,omitempty"`
	Media      *Media `json:"media,omitempty"`
	IsForward  bool   `json:"is_forward,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	Status     string `json:"status,omitempty"`
	Body       string `json:"body"`
}

// Media is an attachment reference.
type Media struct {
	MimeType  string `json:"mime_type"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
}

// GroupInfo is the authoritative group metadata returned by the chat service.
type GroupInfo struct {
	GroupID   string   `json:"group_id"`
	Title     string   `json:"title"`
	Image     *Media   `json:"image,omitempty"`
	MemberIDs []string `json:"member_ids"`
}

// UserInfo is a directory profile.
type UserInfo struct {
	UserID    string `json:"user_id"`
	Phone     string `json:"phone"`
	Name      string `json:"name"`
	Bio       string `json:"bio"`
	Exists    bool   `json:"exists"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// OTPVerification is the identity service's answer to an OTP check.
type OTPVerification struct {
	Token        string `json:"token"`
	IsSuccessful bool   `json:"is_successful"`
	IsSignUp     bool   `json:"is_sign_up"`
}

// Package remote implements the JSON/HTTP clients for the knot backend's
// unary services: chat history, group metadata, the user directory and the
// OTP identity flow. Streaming endpoints live in internal/stream.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/knotmsg/knot/internal/wire"
)

// Client talks to the chat, user and identity services.
type Client struct {
	chatURL     string
	userURL     string
	identityURL string
	http        *http.Client
}

// New creates a client for the given service base URLs.
func New(chatURL, userURL, identityURL string) *Client {
	return &Client{
		chatURL:     chatURL,
		userURL:     userURL,
		identityURL: identityURL,
		http:        &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchAllMessages returns the complete remote message history for a user.
func (c *Client) FetchAllMessages(ctx context.Context, userID string) ([]wire.Message, error) {
	var out struct {
		Messages []wire.Message `json:"messages"`
	}
	q := url.Values{"user_id": {userID}}
	if err := c.getJSON(ctx, c.chatURL+"/messages?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("fetch all messages: %w", err)
	}
	return out.Messages, nil
}

// FetchUnreadMessages returns messages the user has not read yet.
func (c *Client) FetchUnreadMessages(ctx context.Context, userID string) ([]wire.Message, error) {
	var out struct {
		Messages []wire.Message `json:"messages"`
	}
	q := url.Values{"user_id": {userID}, "unread": {"1"}}
	if err := c.getJSON(ctx, c.chatURL+"/messages?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("fetch unread messages: %w", err)
	}
	return out.Messages, nil
}

// FetchGroupInfo returns authoritative group metadata and membership.
func (c *Client) FetchGroupInfo(ctx context.Context, groupID string) (*wire.GroupInfo, error) {
	var out wire.GroupInfo
	if err := c.getJSON(ctx, c.chatURL+"/groups/"+url.PathEscape(groupID), &out); err != nil {
		return nil, fmt.Errorf("fetch group info %s: %w", groupID, err)
	}
	return &out, nil
}

// GetUserInfo resolves a user id to its profile.
func (c *Client) GetUserInfo(ctx context.Context, userID string) (*wire.UserInfo, error) {
	var out wire.UserInfo
	if err := c.getJSON(ctx, c.userURL+"/users/"+url.PathEscape(userID), &out); err != nil {
		return nil, fmt.Errorf("get user info %s: %w", userID, err)
	}
	return &out, nil
}

// GetAllUsers returns the full directory listing.
func (c *Client) GetAllUsers(ctx context.Context) ([]wire.UserInfo, error) {
	var out struct {
		Users []wire.UserInfo `json:"users"`
	}
	if err := c.getJSON(ctx, c.userURL+"/users", &out); err != nil {
		return nil, fmt.Errorf("get all users: %w", err)
	}
	return out.Users, nil
}

// RequestOTP asks the identity service to text a one-time password to the
// phone number. Returns the seconds left before another request is allowed.
func (c *Client) RequestOTP(ctx context.Context, phoneNumber string) (int, error) {
	var out struct {
		TimeLeft int `json:"time_left"`
	}
	in := map[string]string{"phone_number": phoneNumber}
	if err := c.postJSON(ctx, c.identityURL+"/otp/request", in, &out); err != nil {
		return 0, fmt.Errorf("request otp: %w", err)
	}
	return out.TimeLeft, nil
}

// VerifyOTP checks an OTP and returns the session token on success.
func (c *Client) VerifyOTP(ctx context.Context, phoneNumber, otp string) (*wire.OTPVerification, error) {
	var out wire.OTPVerification
	in := map[string]string{"phone_number": phoneNumber, "otp": otp}
	if err := c.postJSON(ctx, c.identityURL+"/otp/verify", in, &out); err != nil {
		return nil, fmt.Errorf("verify otp: %w", err)
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, rawURL string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

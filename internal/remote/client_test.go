package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchAllMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %q, want /messages", r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "u1" {
			t.Errorf("user_id = %q, want u1", got)
		}
		if r.URL.Query().Has("unread") {
			t.Error("unexpected unread param on full fetch")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"id": "m1", "author_id": "u2", "receiver_id": "u1", "timestamp": 1000, "body": "hi"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, srv.URL)
	msgs, err := c.FetchAllMessages(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].Body != "hi" {
		t.Errorf("msgs = %+v, want one message m1", msgs)
	}
}

func TestFetchUnreadMessagesSetsFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("unread"); got != "1" {
			t.Errorf("unread = %q, want 1", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, srv.URL)
	if _, err := c.FetchUnreadMessages(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
}

func TestFetchGroupInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups/g1" {
			t.Errorf("path = %q, want /groups/g1", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"group_id":   "g1",
			"title":      "friends",
			"member_ids": []string{"u1", "u2"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, srv.URL)
	info, err := c.FetchGroupInfo(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if info.Title != "friends" || len(info.MemberIDs) != 2 {
		t.Errorf("info = %+v, want title=friends 2 members", info)
	}
}

func TestGetUserInfoErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, srv.URL)
	if _, err := c.GetUserInfo(context.Background(), "u1"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestVerifyOTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/otp/verify" {
			t.Errorf("%s %s, want POST /otp/verify", r.Method, r.URL.Path)
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["phone_number"] != "+15550001" || in["otp"] != "123456" {
			t.Errorf("request body = %v", in)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "tok", "is_successful": true, "is_sign_up": false,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, srv.URL)
	v, err := c.VerifyOTP(context.Background(), "+15550001", "123456")
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsSuccessful || v.Token != "tok" {
		t.Errorf("verification = %+v", v)
	}
}

package store

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	res, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed {
		t.Error("first migrate reported no change")
	}
	res, err = db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Error("second migrate unexpectedly changed schema")
	}
}

func TestGetOrCreatePeerChatDedup(t *testing.T) {
	db := openTestDB(t)

	a, err := db.GetOrCreatePeerChat("u1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := db.GetOrCreatePeerChat("u1")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("same counterpart produced two chats: %d, %d", a, b)
	}
	c, err := db.GetOrCreatePeerChat("u2")
	if err != nil {
		t.Fatal(err)
	}
	if c == a {
		t.Error("distinct counterparts share a chat")
	}
}

func TestGetOrCreatePeerChatConcurrent(t *testing.T) {
	db := openTestDB(t)

	var wg sync.WaitGroup
	ids := make([]int64, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := db.GetOrCreatePeerChat("u1")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent get-or-create returned mixed ids: %v", ids)
		}
	}
	count, _ := db.ChatCount()
	if count != 1 {
		t.Errorf("chat count = %d, want 1", count)
	}
}

func TestGetOrCreateGroupChatRefreshesMetadata(t *testing.T) {
	db := openTestDB(t)

	a, err := db.GetOrCreateGroupChat("g1", "", sql.NullInt64{})
	if err != nil {
		t.Fatal(err)
	}
	chat, _ := db.GetChat(a)
	if chat.Title != "" {
		t.Errorf("skeleton title = %q, want empty", chat.Title)
	}

	b, err := db.GetOrCreateGroupChat("g1", "friends", sql.NullInt64{})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("group upsert created a second chat: %d, %d", a, b)
	}
	chat, _ = db.GetChat(a)
	if chat.Title != "friends" {
		t.Errorf("title after refresh = %q, want friends", chat.Title)
	}

	// Empty metadata on a later sync must not erase what we have.
	if _, err := db.GetOrCreateGroupChat("g1", "", sql.NullInt64{}); err != nil {
		t.Fatal(err)
	}
	chat, _ = db.GetChat(a)
	if chat.Title != "friends" {
		t.Errorf("title after empty refresh = %q, want friends", chat.Title)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := openTestDB(t)
	chatID, _ := db.GetOrCreatePeerChat("u1")

	m := &Message{ID: "m1", ChatID: chatID, AuthorID: "u1", Timestamp: 100, Status: StatusReceived, Body: "hi"}
	for i := 0; i < 3; i++ {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}
	count, _ := db.MessageCount()
	if count != 1 {
		t.Errorf("message count = %d, want 1", count)
	}
}

func TestMessageStatusNeverRegresses(t *testing.T) {
	db := openTestDB(t)
	chatID, _ := db.GetOrCreatePeerChat("u1")
	_ = db.UpsertMessage(&Message{ID: "m1", ChatID: chatID, AuthorID: "u1", Timestamp: 100, Status: StatusRead})

	// Stale redelivery with a lower status is ignored.
	_ = db.UpsertMessage(&Message{ID: "m1", ChatID: chatID, AuthorID: "u1", Timestamp: 100, Status: StatusSent})
	m, _ := db.GetMessage("m1")
	if m.Status != StatusRead {
		t.Errorf("status after stale upsert = %q, want read", m.Status)
	}

	if err := db.SetMessageStatus("m1", StatusReceived); err != nil {
		t.Fatal(err)
	}
	m, _ = db.GetMessage("m1")
	if m.Status != StatusRead {
		t.Errorf("status after backward set = %q, want read", m.Status)
	}
}

func TestMessageStatusAdvances(t *testing.T) {
	db := openTestDB(t)
	chatID, _ := db.GetOrCreatePeerChat("u1")
	_ = db.UpsertMessage(&Message{ID: "m1", ChatID: chatID, AuthorID: "u1", Timestamp: 100, Status: StatusSent})

	for _, s := range []string{StatusReceived, StatusRead} {
		if err := db.SetMessageStatus("m1", s); err != nil {
			t.Fatal(err)
		}
		m, _ := db.GetMessage("m1")
		if m.Status != s {
			t.Errorf("status = %q, want %q", m.Status, s)
		}
	}
}

func TestListMessagesOrderedByTimestamp(t *testing.T) {
	db := openTestDB(t)
	chatID, _ := db.GetOrCreatePeerChat("u1")

	// Inserted out of order on purpose.
	for _, m := range []Message{
		{ID: "m3", ChatID: chatID, AuthorID: "u1", Timestamp: 300, Status: StatusReceived},
		{ID: "m1", ChatID: chatID, AuthorID: "u1", Timestamp: 100, Status: StatusReceived},
		{ID: "m2", ChatID: chatID, AuthorID: "u1", Timestamp: 200, Status: StatusReceived},
	} {
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessages(chatID)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"m1", "m2", "m3"}
	for i, m := range msgs {
		if m.ID != want[i] {
			t.Fatalf("order = %v, want %v", msgs, want)
		}
	}
}

func TestUpsertMediaDedupByURL(t *testing.T) {
	db := openTestDB(t)

	a, err := db.UpsertMedia(&Media{MimeType: "image/png", URL: "https://cdn/x.png", SizeBytes: 10})
	if err != nil {
		t.Fatal(err)
	}
	b, err := db.UpsertMedia(&Media{MimeType: "image/png", URL: "https://cdn/x.png", SizeBytes: 10})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("same url produced two media rows: %d, %d", a, b)
	}
}

func TestResetPreservesUsersAndCheckpoints(t *testing.T) {
	db := openTestDB(t)

	chatID, _ := db.GetOrCreatePeerChat("u1")
	_ = db.UpsertMessage(&Message{ID: "m1", ChatID: chatID, AuthorID: "u1", Timestamp: 1, Status: StatusSent})
	_ = db.UpsertUser(&User{ID: "u1", Name: "Alice"})
	_ = db.SetCheckpoint("last_full_sync", "123")

	if err := db.Reset(); err != nil {
		t.Fatal(err)
	}

	chats, _ := db.ChatCount()
	msgs, _ := db.MessageCount()
	if chats != 0 || msgs != 0 {
		t.Errorf("after reset: %d chats, %d messages; want 0 and 0", chats, msgs)
	}
	u, err := db.GetUser("u1")
	if err != nil || u == nil {
		t.Errorf("user lost by reset: %v", err)
	}
	v, err := db.GetCheckpoint("last_full_sync")
	if err != nil || v != "123" {
		t.Errorf("checkpoint lost by reset: %q, %v", v, err)
	}
}

func TestReplaceGroupMembers(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetOrCreateGroupChat("g1", "t", sql.NullInt64{}); err != nil {
		t.Fatal(err)
	}

	if err := db.ReplaceGroupMembers("g1", []string{"u1", "u2"}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceGroupMembers("g1", []string{"u2", "u3"}); err != nil {
		t.Fatal(err)
	}

	ids, err := db.GroupMemberIDs("g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("members = %v, want exactly the replacement set", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["u2"] || !seen["u3"] || seen["u1"] {
		t.Errorf("members = %v, want [u2 u3]", ids)
	}
}

func TestBulkUpsertUsers(t *testing.T) {
	db := openTestDB(t)

	users := []User{
		{ID: "u1", Name: "Alice", Phone: "111"},
		{ID: "u2", Name: "Bob", Phone: "222"},
	}
	if err := db.BulkUpsertUsers(users); err != nil {
		t.Fatal(err)
	}
	users[0].Name = "Alicia"
	if err := db.BulkUpsertUsers(users); err != nil {
		t.Fatal(err)
	}

	u, err := db.GetUser("u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Name != "Alicia" {
		t.Errorf("name = %q, want Alicia", u.Name)
	}
}

func TestGetCheckpointMissing(t *testing.T) {
	db := openTestDB(t)
	v, err := db.GetCheckpoint("never-set")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("missing checkpoint = %q, want empty", v)
	}
}

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
	"github.com/orrbarkat/whatsapp-mcp/internal/storage"
	"go.uber.org/zap"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	dir := t.TempDir()
	a, err := NewAdapter(filepath.Join(dir, "messages.db"), filepath.Join(dir, "whatsapp.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func seed(t *testing.T, a *Adapter, chats []model.Chat, msgs []model.Message) {
	t.Helper()
	err := storage.WithUnitOfWork(context.Background(), a, func(uow storage.UnitOfWork) error {
		w := uow.Messages()
		for _, c := range chats {
			if err := w.InsertChat(context.Background(), c); err != nil {
				return err
			}
		}
		for _, m := range msgs {
			if err := w.InsertMessage(context.Background(), m); err != nil {
				return err
			}
		}
		return uow.Commit()
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// seedConversation populates one direct chat and one group chat with an
// interleaved timeline.
func seedConversation(t *testing.T, a *Adapter) {
	t.Helper()
	lastDirect := at(8)
	lastGroup := at(9)
	seed(t, a,
		[]model.Chat{
			{JID: "5511999990001@s.whatsapp.net", Name: "Alice", LastMessageTime: &lastDirect},
			{JID: "120363000000000001@g.us", Name: "Team", LastMessageTime: &lastGroup},
		},
		[]model.Message{
			{ID: "d1", ChatJID: "5511999990001@s.whatsapp.net", Sender: "5511999990001", Content: "hello there", Timestamp: at(0)},
			{ID: "d2", ChatJID: "5511999990001@s.whatsapp.net", Sender: "me", Content: "Hi Alice", IsFromMe: true, Timestamp: at(2)},
			{ID: "d3", ChatJID: "5511999990001@s.whatsapp.net", Sender: "5511999990001", Content: "are we still on?", Timestamp: at(4)},
			{ID: "d4", ChatJID: "5511999990001@s.whatsapp.net", Sender: "me", Content: "yes, see you at noon", IsFromMe: true, Timestamp: at(6)},
			{ID: "d5", ChatJID: "5511999990001@s.whatsapp.net", Sender: "5511999990001", Content: "perfect", Timestamp: at(8)},
			{ID: "g1", ChatJID: "120363000000000001@g.us", Sender: "5511999990002", Content: "standup in five", Timestamp: at(5)},
			{ID: "g2", ChatJID: "120363000000000001@g.us", Sender: "5511999990001", Content: "HELLO everyone", Timestamp: at(9)},
		})
}

func TestListMessagesDateBounds(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	after := at(1).Format(time.RFC3339)
	before := at(7).Format(time.RFC3339)
	got, err := a.Messages().ListMessages(context.Background(), storage.ListMessagesQuery{
		After:  after,
		Before: before,
		Limit:  50,
	})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected matches inside the window")
	}
	for _, m := range got {
		if !m.Timestamp.After(at(1)) || !m.Timestamp.Before(at(7)) {
			t.Errorf("message %s timestamp %v outside (after, before) window", m.ID, m.Timestamp)
		}
	}
}

func TestListMessagesMalformedDate(t *testing.T) {
	a := testAdapter(t)

	for _, field := range []string{"after", "before"} {
		t.Run(field, func(t *testing.T) {
			q := storage.ListMessagesQuery{Limit: 10}
			if field == "after" {
				q.After = "yesterday"
			} else {
				q.Before = "2024-13-99"
			}
			_, err := a.Messages().ListMessages(context.Background(), q)
			var fmtErr *storage.FormatError
			if !errors.As(err, &fmtErr) {
				t.Fatalf("error = %v, want *storage.FormatError", err)
			}
			if fmtErr.Field != field {
				t.Errorf("FormatError.Field = %q, want %q", fmtErr.Field, field)
			}
		})
	}
}

func TestListMessagesDescendingOrder(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	got, err := a.Messages().ListMessages(context.Background(), storage.ListMessagesQuery{Limit: 50})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("got %d messages, want 7", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("position %d: order not descending (%v after %v)", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}
}

func TestListMessagesTextFilter(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	got, err := a.Messages().ListMessages(context.Background(), storage.ListMessagesQuery{Query: "hello", Limit: 50})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	// Substring match is case-insensitive: "hello there" and "HELLO everyone".
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
	if got[0].ID != "g2" || got[1].ID != "d1" {
		t.Errorf("matches = [%s %s], want [g2 d1]", got[0].ID, got[1].ID)
	}
}

func TestListMessagesFiltersCombine(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	got, err := a.Messages().ListMessages(context.Background(), storage.ListMessagesQuery{
		Sender:  "5511999990001",
		ChatJID: "120363000000000001@g.us",
		Limit:   50,
	})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "g2" {
		t.Fatalf("got %v, want exactly g2", got)
	}
}

func TestListMessagesWithContext(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	got, err := a.Messages().ListMessages(context.Background(), storage.ListMessagesQuery{
		Query:          "still on",
		Limit:          10,
		IncludeContext: true,
		ContextBefore:  1,
		ContextAfter:   1,
	})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	// Single match d3 expands to (d2, d3, d4), chronological within the window.
	wantIDs := []string{"d2", "d3", "d4"}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d messages, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("position %d: ID = %q, want %q", i, got[i].ID, id)
		}
	}
	for _, m := range got {
		if m.ChatJID != "5511999990001@s.whatsapp.net" {
			t.Errorf("context message %s leaked from another chat", m.ID)
		}
	}
}

func TestListMessagesPagination(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	page0, err := a.Messages().ListMessages(context.Background(), storage.ListMessagesQuery{
		ChatJID: "5511999990001@s.whatsapp.net", Limit: 2, Page: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	page1, err := a.Messages().ListMessages(context.Background(), storage.ListMessagesQuery{
		ChatJID: "5511999990001@s.whatsapp.net", Limit: 2, Page: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page0) != 2 || len(page1) != 2 {
		t.Fatalf("page sizes = %d, %d, want 2, 2", len(page0), len(page1))
	}
	if page0[0].ID != "d5" || page1[0].ID != "d3" {
		t.Errorf("pages = [%s ...] [%s ...], want [d5 ...] [d3 ...]", page0[0].ID, page1[0].ID)
	}
}

func TestGetMessageContext(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	t.Run("unknown id", func(t *testing.T) {
		_, err := a.Messages().GetMessageContext(context.Background(), "missing", 5, 5)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("windows ascend within chat", func(t *testing.T) {
		mc, err := a.Messages().GetMessageContext(context.Background(), "d3", 2, 2)
		if err != nil {
			t.Fatalf("GetMessageContext() error = %v", err)
		}
		if mc.Message.ID != "d3" {
			t.Fatalf("target = %s, want d3", mc.Message.ID)
		}
		if len(mc.Before) != 2 || mc.Before[0].ID != "d1" || mc.Before[1].ID != "d2" {
			t.Errorf("before = %v, want ascending [d1 d2]", ids(mc.Before))
		}
		if len(mc.After) != 2 || mc.After[0].ID != "d4" || mc.After[1].ID != "d5" {
			t.Errorf("after = %v, want ascending [d4 d5]", ids(mc.After))
		}
	})

	t.Run("window shorter than requested", func(t *testing.T) {
		mc, err := a.Messages().GetMessageContext(context.Background(), "d1", 5, 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(mc.Before) != 0 {
			t.Errorf("before = %v, want empty at start of chat", ids(mc.Before))
		}
		if len(mc.After) != 4 {
			t.Errorf("after has %d messages, want 4", len(mc.After))
		}
	})
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestGetSenderName(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	tests := []struct {
		name string
		jid  string
		want string
	}{
		{"exact jid", "5511999990001@s.whatsapp.net", "Alice"},
		{"phone fallback", "5511999990001", "Alice"},
		{"unresolved", "5511000000000@s.whatsapp.net", "5511000000000@s.whatsapp.net"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Messages().GetSenderName(context.Background(), tt.jid)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("GetSenderName(%q) = %q, want %q", tt.jid, got, tt.want)
			}
		})
	}
}

func TestListChats(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	t.Run("by last active", func(t *testing.T) {
		chats, err := a.Chats().ListChats(context.Background(), "", 10, 0, true, storage.SortByLastActive)
		if err != nil {
			t.Fatal(err)
		}
		if len(chats) != 2 {
			t.Fatalf("got %d chats, want 2", len(chats))
		}
		if chats[0].JID != "120363000000000001@g.us" {
			t.Errorf("first chat = %s, want the group (most recent activity)", chats[0].JID)
		}
		if chats[0].LastMessage != "HELLO everyone" {
			t.Errorf("last message = %q, want denormalized content", chats[0].LastMessage)
		}
	})

	t.Run("by name", func(t *testing.T) {
		chats, err := a.Chats().ListChats(context.Background(), "", 10, 0, false, storage.SortByName)
		if err != nil {
			t.Fatal(err)
		}
		if chats[0].Name != "Alice" {
			t.Errorf("first chat = %q, want Alice", chats[0].Name)
		}
		if chats[0].LastMessage != "" {
			t.Errorf("last message populated without includeLastMessage")
		}
	})

	t.Run("query filter", func(t *testing.T) {
		chats, err := a.Chats().ListChats(context.Background(), "team", 10, 0, false, storage.SortByLastActive)
		if err != nil {
			t.Fatal(err)
		}
		if len(chats) != 1 || chats[0].Name != "Team" {
			t.Errorf("got %v, want just Team", chats)
		}
	})
}

func TestGetChat(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	c, err := a.Chats().GetChat(context.Background(), "5511999990001@s.whatsapp.net", true)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "Alice" {
		t.Fatalf("got %v, want Alice", c)
	}
	if c.IsGroup() {
		t.Error("direct chat reported as group")
	}

	missing, err := a.Chats().GetChat(context.Background(), "nope@s.whatsapp.net", true)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("got %v for unknown JID, want nil", missing)
	}
}

func TestGetDirectChatByContact(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	c, err := a.Chats().GetDirectChatByContact(context.Background(), "5511999990001")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.JID != "5511999990001@s.whatsapp.net" {
		t.Fatalf("got %v, want the direct chat", c)
	}

	// The group contains a matching participant number but must never match.
	g, err := a.Chats().GetDirectChatByContact(context.Background(), "120363000000000001")
	if err != nil {
		t.Fatal(err)
	}
	if g != nil {
		t.Errorf("got group %v, want nil for group-only match", g)
	}
}

func TestSearchContacts(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	t.Run("excludes groups and derives phone", func(t *testing.T) {
		contacts, err := a.Contacts().SearchContacts(context.Background(), "ali")
		if err != nil {
			t.Fatal(err)
		}
		if len(contacts) != 1 {
			t.Fatalf("got %d contacts, want 1", len(contacts))
		}
		c := contacts[0]
		if c.Name != "Alice" || c.PhoneNumber != "5511999990001" {
			t.Errorf("contact = %+v", c)
		}
	})

	t.Run("caps at 50", func(t *testing.T) {
		var chats []model.Chat
		for i := 0; i < 60; i++ {
			chats = append(chats, model.Chat{
				JID:  fmt.Sprintf("55110000%04d@s.whatsapp.net", i),
				Name: fmt.Sprintf("Bulk %04d", i),
			})
		}
		seed(t, a, chats, nil)

		contacts, err := a.Contacts().SearchContacts(context.Background(), "bulk")
		if err != nil {
			t.Fatal(err)
		}
		if len(contacts) != 50 {
			t.Errorf("got %d contacts, want cap of 50", len(contacts))
		}
		for _, c := range contacts {
			if (model.Chat{JID: c.JID}).IsGroup() {
				t.Errorf("group JID %s leaked into contact results", c.JID)
			}
		}
	})
}

func TestGetContactChats(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	// Alice appears as her own direct chat and as a sender in the group.
	chats, err := a.Contacts().GetContactChats(context.Background(), "5511999990001", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Direct chat matches on c.jid; sender match uses the full sender value.
	direct, err := a.Contacts().GetContactChats(context.Background(), "5511999990001@s.whatsapp.net", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats)+len(direct) < 2 {
		t.Errorf("contact chats union too small: %d + %d rows", len(chats), len(direct))
	}
}

func TestGetLastInteraction(t *testing.T) {
	a := testAdapter(t)
	seedConversation(t, a)

	m, err := a.Contacts().GetLastInteraction(context.Background(), "5511999990001")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.ID != "g2" {
		t.Fatalf("got %v, want g2 (most recent message from the contact)", m)
	}

	none, err := a.Contacts().GetLastInteraction(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("got %v for unknown contact, want nil", none)
	}
}

func TestUnitOfWork(t *testing.T) {
	t.Run("rollback on error", func(t *testing.T) {
		a := testAdapter(t)
		boom := errors.New("boom")

		err := storage.WithUnitOfWork(context.Background(), a, func(uow storage.UnitOfWork) error {
			w := uow.Messages()
			if err := w.InsertChat(context.Background(), model.Chat{JID: "c@s.whatsapp.net"}); err != nil {
				return err
			}
			if err := w.InsertMessage(context.Background(), model.Message{ID: "m1", ChatJID: "c@s.whatsapp.net", Timestamp: at(0)}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("error = %v, want boom", err)
		}

		_, err = a.Messages().GetMessageContext(context.Background(), "m1", 0, 0)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("m1 survived rollback: err = %v", err)
		}
	})

	t.Run("explicit commit persists", func(t *testing.T) {
		a := testAdapter(t)

		err := storage.WithUnitOfWork(context.Background(), a, func(uow storage.UnitOfWork) error {
			w := uow.Messages()
			if err := w.InsertChat(context.Background(), model.Chat{JID: "c@s.whatsapp.net"}); err != nil {
				return err
			}
			if err := w.InsertMessage(context.Background(), model.Message{ID: "m2", ChatJID: "c@s.whatsapp.net", Timestamp: at(0)}); err != nil {
				return err
			}
			return uow.Commit()
		})
		if err != nil {
			t.Fatalf("WithUnitOfWork() error = %v", err)
		}

		mc, err := a.Messages().GetMessageContext(context.Background(), "m2", 0, 0)
		if err != nil {
			t.Fatalf("m2 absent after commit: %v", err)
		}
		if mc.Message.ID != "m2" {
			t.Errorf("target = %s, want m2", mc.Message.ID)
		}
	})

	t.Run("uncommitted writes dropped silently", func(t *testing.T) {
		a := testAdapter(t)

		err := storage.WithUnitOfWork(context.Background(), a, func(uow storage.UnitOfWork) error {
			w := uow.Messages()
			if err := w.InsertChat(context.Background(), model.Chat{JID: "c@s.whatsapp.net"}); err != nil {
				return err
			}
			return w.InsertMessage(context.Background(), model.Message{ID: "m3", ChatJID: "c@s.whatsapp.net", Timestamp: at(0)})
			// No Commit: the scope drops the writes without error.
		})
		if err != nil {
			t.Fatalf("WithUnitOfWork() error = %v", err)
		}

		_, err = a.Messages().GetMessageContext(context.Background(), "m3", 0, 0)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("m3 survived an uncommitted scope: err = %v", err)
		}
	})

	t.Run("spans session database", func(t *testing.T) {
		a := testAdapter(t)
		mustExecSession(t, a, `CREATE TABLE whatsmeow_device (jid TEXT PRIMARY KEY)`)
		mustExecSession(t, a, `INSERT INTO whatsmeow_device (jid) VALUES ('device@s.whatsapp.net')`)

		// Rollback leaves the device registered.
		err := storage.WithUnitOfWork(context.Background(), a, func(uow storage.UnitOfWork) error {
			return uow.Auth().ClearDevices(context.Background())
		})
		if err != nil {
			t.Fatal(err)
		}
		if ok, _ := a.Authentication().CheckAuthenticationStatus(context.Background()); !ok {
			t.Fatal("device cleared despite rollback")
		}

		// Commit applies it.
		err = storage.WithUnitOfWork(context.Background(), a, func(uow storage.UnitOfWork) error {
			if err := uow.Auth().ClearDevices(context.Background()); err != nil {
				return err
			}
			return uow.Commit()
		})
		if err != nil {
			t.Fatal(err)
		}
		if ok, reason := a.Authentication().CheckAuthenticationStatus(context.Background()); ok {
			t.Errorf("still authenticated after committed ClearDevices: %s", reason)
		}
	})
}

func mustExecSession(t *testing.T, a *Adapter, query string, args ...any) {
	t.Helper()
	if _, err := a.sessionDB.Exec(query, args...); err != nil {
		t.Fatal(err)
	}
}

func TestCheckAuthenticationStatus(t *testing.T) {
	t.Run("no device table", func(t *testing.T) {
		a := testAdapter(t)
		ok, reason := a.Authentication().CheckAuthenticationStatus(context.Background())
		if ok {
			t.Error("authenticated without a device table")
		}
		if reason == "" {
			t.Error("expected a reason")
		}
	})

	t.Run("empty device table", func(t *testing.T) {
		a := testAdapter(t)
		mustExecSession(t, a, `CREATE TABLE whatsmeow_device (jid TEXT PRIMARY KEY)`)
		ok, reason := a.Authentication().CheckAuthenticationStatus(context.Background())
		if ok {
			t.Error("authenticated with zero device rows")
		}
		if reason != "no device registered" {
			t.Errorf("reason = %q", reason)
		}
	})

	t.Run("registered device", func(t *testing.T) {
		a := testAdapter(t)
		mustExecSession(t, a, `CREATE TABLE whatsmeow_device (jid TEXT PRIMARY KEY)`)
		mustExecSession(t, a, `INSERT INTO whatsmeow_device (jid) VALUES ('device@s.whatsapp.net')`)
		ok, reason := a.Authentication().CheckAuthenticationStatus(context.Background())
		if !ok {
			t.Errorf("not authenticated: %s", reason)
		}
	})
}

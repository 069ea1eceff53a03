// Package storage defines the repository contracts over the synced WhatsApp
// history, plus the unit-of-work transaction boundary. Each backend
// (file-backed SQLite, remote REST) implements the same behavior; callers
// depend only on these interfaces.
package storage

import (
	"context"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
)

// ListMessagesQuery carries the AND-combined filters for MessageRepository.ListMessages.
// After and Before are RFC 3339 timestamps; empty means unbounded.
type ListMessagesQuery struct {
	After   string
	Before  string
	Sender  string
	ChatJID string
	Query   string
	Limit   int
	Page    int

	IncludeContext bool
	ContextBefore  int
	ContextAfter   int
}

// ChatSort selects the ordering for ListChats.
type ChatSort string

const (
	SortByLastActive ChatSort = "last_active"
	SortByName       ChatSort = "name"
)

// MessageRepository provides read access to the message history.
type MessageRepository interface {
	// GetSenderName resolves a sender JID to a display name, falling back to
	// a substring match on the phone part. Returns the input when unresolved.
	GetSenderName(ctx context.Context, senderJID string) (string, error)

	// ListMessages returns messages matching q, newest first. When
	// q.IncludeContext is set the result is the flattened chronological
	// concatenation of (before-window, match, after-window) per match, with
	// no deduplication across overlapping windows.
	// Malformed After/Before values produce a *FormatError.
	ListMessages(ctx context.Context, q ListMessagesQuery) ([]model.Message, error)

	// GetMessageContext returns the target message with its same-chat
	// neighbourhood, both windows in ascending time order.
	// Returns ErrNotFound when the id is unknown.
	GetMessageContext(ctx context.Context, messageID string, before, after int) (model.MessageContext, error)
}

// ChatRepository provides read access to chat metadata.
type ChatRepository interface {
	ListChats(ctx context.Context, query string, limit, page int, includeLastMessage bool, sortBy ChatSort) ([]model.Chat, error)
	GetChat(ctx context.Context, chatJID string, includeLastMessage bool) (*model.Chat, error)

	// GetDirectChatByContact finds a non-group chat by substring match on the
	// JID, tolerating phone-number-only input.
	GetDirectChatByContact(ctx context.Context, phone string) (*model.Chat, error)
}

// ContactRepository provides the derived contact view over non-group chats.
type ContactRepository interface {
	// SearchContacts matches case-insensitively on name or JID, excludes
	// group JIDs, and returns at most 50 rows ordered by name then JID.
	SearchContacts(ctx context.Context, query string) ([]model.Contact, error)

	// GetContactChats returns chats where the contact is either a message
	// sender or the chat itself, most recently active first.
	GetContactChats(ctx context.Context, jid string, limit, page int) ([]model.Chat, error)

	// GetLastInteraction returns the single most recent message involving the
	// contact, or nil when none exists.
	GetLastInteraction(ctx context.Context, jid string) (*model.Message, error)
}

// AuthenticationRepository reports the backend's view of session authentication.
type AuthenticationRepository interface {
	// CheckAuthenticationStatus reports whether a device session exists.
	// It never returns an error; failures collapse to (false, reason).
	CheckAuthenticationStatus(ctx context.Context) (bool, string)
}

// MessageWriter exposes the write operations available inside a unit of work.
type MessageWriter interface {
	InsertChat(ctx context.Context, chat model.Chat) error
	InsertMessage(ctx context.Context, msg model.Message) error
}

// AuthWriter exposes session-table writes available inside a unit of work.
type AuthWriter interface {
	// ClearDevices removes all registered device rows, de-authenticating the
	// session from the backend's point of view.
	ClearDevices(ctx context.Context) error
}

// UnitOfWork groups repository writes into one commit/rollback boundary.
// Commit is never implicit: writes left uncommitted when the scope ends are
// dropped. On a non-transactional backend Rollback degrades to a logged
// warning rather than an error.
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	Messages() MessageWriter
	Auth() AuthWriter
}

// Adapter is the composite entry point a backend must satisfy.
type Adapter interface {
	Messages() MessageRepository
	Chats() ChatRepository
	Contacts() ContactRepository
	Authentication() AuthenticationRepository

	UnitOfWork() UnitOfWork
	Close() error
}

// WithUnitOfWork runs fn inside a transaction scope. An error from fn rolls
// the work back and is returned unchanged. When fn returns nil without having
// called Commit, the uncommitted writes are silently dropped.
func WithUnitOfWork(ctx context.Context, a Adapter, fn func(uow UnitOfWork) error) error {
	uow := a.UnitOfWork()
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	if err := fn(uow); err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Rollback()
}

package rest

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
	"github.com/orrbarkat/whatsapp-mcp/internal/storage"
	"go.uber.org/zap"
)

const chatsTable = "whatsmeow_chats"

var errScopeNotActive = errors.New("rest: write outside an active unit of work")

// unitOfWork satisfies storage.UnitOfWork over an API that has no
// transaction support. Each write is applied immediately and atomically on
// its own; Begin and Commit are bookkeeping only, and Rollback cannot undo
// anything. Rollback logs a warning so callers relying on it can be found.
type unitOfWork struct {
	client *Client
	logger *zap.Logger

	active    bool
	completed bool
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	u.active = true
	return nil
}

func (u *unitOfWork) Commit() error {
	if !u.active || u.completed {
		return nil
	}
	u.completed = true
	return nil
}

func (u *unitOfWork) Rollback() error {
	if !u.active || u.completed {
		return nil
	}
	u.completed = true
	u.logger.Warn("rollback requested but the remote api applies each write immediately; nothing was undone")
	return nil
}

func (u *unitOfWork) Messages() storage.MessageWriter { return &restMessageWriter{uow: u} }
func (u *unitOfWork) Auth() storage.AuthWriter        { return &restAuthWriter{uow: u} }

type restMessageWriter struct {
	uow *unitOfWork
}

func (w *restMessageWriter) InsertChat(ctx context.Context, c model.Chat) error {
	if !w.uow.active || w.uow.completed {
		return errScopeNotActive
	}
	row := map[string]any{"jid": c.JID, "name": c.Name}
	if c.LastMessageTime != nil {
		row["last_message_time"] = c.LastMessageTime.UTC().Format(time.RFC3339Nano)
	}
	return w.uow.client.Insert(ctx, chatsTable, row)
}

func (w *restMessageWriter) InsertMessage(ctx context.Context, m model.Message) error {
	if !w.uow.active || w.uow.completed {
		return errScopeNotActive
	}
	return w.uow.client.Insert(ctx, messagesTable, map[string]any{
		"id":         m.ID,
		"timestamp":  m.Timestamp.UTC().Format(time.RFC3339Nano),
		"sender":     m.Sender,
		"text":       m.Content,
		"from_me":    m.IsFromMe,
		"chat":       m.ChatJID,
		"media_type": m.MediaType,
	})
}

type restAuthWriter struct {
	uow *unitOfWork
}

func (w *restAuthWriter) ClearDevices(ctx context.Context) error {
	if !w.uow.active || w.uow.completed {
		return errScopeNotActive
	}
	params := url.Values{}
	params.Set("jid", "not.is.null")
	return w.uow.client.Delete(ctx, deviceTable, params)
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
	"github.com/orrbarkat/whatsapp-mcp/internal/storage"
)

// unitOfWork holds one open transaction per database file. Commit and
// rollback always apply to both, so a scope spanning message history and
// session state behaves atomically from the caller's perspective.
type unitOfWork struct {
	adapter   *Adapter
	messages  *sql.Tx
	session   *sql.Tx
	active    bool
	completed bool
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.active {
		return fmt.Errorf("unit of work already begun")
	}
	msgTx, err := u.adapter.messagesDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin messages tx: %w", err)
	}
	sessTx, err := u.adapter.sessionDB.BeginTx(ctx, nil)
	if err != nil {
		_ = msgTx.Rollback()
		return fmt.Errorf("begin session tx: %w", err)
	}
	u.messages = msgTx
	u.session = sessTx
	u.active = true
	return nil
}

func (u *unitOfWork) Commit() error {
	if !u.active || u.completed {
		return fmt.Errorf("commit outside an active unit of work")
	}
	u.completed = true
	if err := u.messages.Commit(); err != nil {
		_ = u.session.Rollback()
		return fmt.Errorf("commit messages tx: %w", err)
	}
	if err := u.session.Commit(); err != nil {
		return fmt.Errorf("commit session tx: %w", err)
	}
	return nil
}

// Rollback discards uncommitted writes on both files. After a Commit it is a
// no-op, which lets scope-exit paths call it unconditionally.
func (u *unitOfWork) Rollback() error {
	if !u.active || u.completed {
		return nil
	}
	u.completed = true
	mErr := u.messages.Rollback()
	sErr := u.session.Rollback()
	if mErr != nil {
		return fmt.Errorf("rollback messages tx: %w", mErr)
	}
	if sErr != nil {
		return fmt.Errorf("rollback session tx: %w", sErr)
	}
	return nil
}

func (u *unitOfWork) Messages() storage.MessageWriter {
	return &txMessageWriter{uow: u}
}

func (u *unitOfWork) Auth() storage.AuthWriter {
	return &txAuthWriter{uow: u}
}

type txMessageWriter struct {
	uow *unitOfWork
}

func (w *txMessageWriter) InsertChat(ctx context.Context, chat model.Chat) error {
	if !w.uow.active || w.uow.completed {
		return fmt.Errorf("write outside an active unit of work")
	}
	var lastTS any
	if chat.LastMessageTime != nil {
		lastTS = toMillis(*chat.LastMessageTime)
	}
	_, err := w.uow.messages.ExecContext(ctx, `
		INSERT INTO chats (jid, name, last_message_time)
		VALUES (?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = excluded.name,
			last_message_time = excluded.last_message_time`,
		chat.JID, chat.Name, lastTS)
	return err
}

func (w *txMessageWriter) InsertMessage(ctx context.Context, msg model.Message) error {
	if !w.uow.active || w.uow.completed {
		return fmt.Errorf("write outside an active unit of work")
	}
	_, err := w.uow.messages.ExecContext(ctx, `
		INSERT INTO messages (id, chat_jid, sender, content, timestamp, is_from_me, media_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, chat_jid) DO UPDATE SET
			content = excluded.content,
			media_type = excluded.media_type`,
		msg.ID, msg.ChatJID, msg.Sender, msg.Content, toMillis(msg.Timestamp), msg.IsFromMe, msg.MediaType)
	return err
}

type txAuthWriter struct {
	uow *unitOfWork
}

func (w *txAuthWriter) ClearDevices(ctx context.Context) error {
	if !w.uow.active || w.uow.completed {
		return fmt.Errorf("write outside an active unit of work")
	}
	_, err := w.uow.session.ExecContext(ctx, `DELETE FROM whatsmeow_device`)
	return err
}

package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
	"github.com/orrbarkat/whatsapp-mcp/internal/storage"
)

const defaultMessageLimit = 20

// MessageRepo implements storage.MessageRepository on the message history DB.
type MessageRepo struct {
	db *DB
}

const messageColumns = `
	messages.id, messages.timestamp, messages.sender, messages.content,
	messages.is_from_me, messages.chat_jid, COALESCE(chats.name, ''), messages.media_type`

// GetSenderName resolves a sender JID to a chat display name, trying an exact
// JID match first and falling back to a substring match on the phone part.
func (r *MessageRepo) GetSenderName(ctx context.Context, senderJID string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		`SELECT name FROM chats WHERE jid = ? AND name != '' LIMIT 1`, senderJID).Scan(&name)
	if err == nil {
		return name, nil
	}
	if err != sql.ErrNoRows {
		return senderJID, err
	}

	phone := model.PhoneFromJID(senderJID)
	err = r.db.QueryRowContext(ctx,
		`SELECT name FROM chats WHERE jid LIKE ? AND name != '' LIMIT 1`, "%"+phone+"%").Scan(&name)
	if err == sql.ErrNoRows {
		return senderJID, nil
	}
	if err != nil {
		return senderJID, err
	}
	return name, nil
}

// ListMessages returns messages matching q, newest first.
func (r *MessageRepo) ListMessages(ctx context.Context, q storage.ListMessagesQuery) ([]model.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	var where []string
	var args []any

	if q.After != "" {
		after, err := time.Parse(time.RFC3339, q.After)
		if err != nil {
			return nil, &storage.FormatError{Field: "after", Value: q.After, Err: err}
		}
		where = append(where, "messages.timestamp > ?")
		args = append(args, toMillis(after))
	}
	if q.Before != "" {
		before, err := time.Parse(time.RFC3339, q.Before)
		if err != nil {
			return nil, &storage.FormatError{Field: "before", Value: q.Before, Err: err}
		}
		where = append(where, "messages.timestamp < ?")
		args = append(args, toMillis(before))
	}
	if q.Sender != "" {
		where = append(where, "messages.sender = ?")
		args = append(args, q.Sender)
	}
	if q.ChatJID != "" {
		where = append(where, "messages.chat_jid = ?")
		args = append(args, q.ChatJID)
	}
	if q.Query != "" {
		where = append(where, "LOWER(messages.content) LIKE LOWER(?)")
		args = append(args, "%"+q.Query+"%")
	}

	query := `SELECT ` + messageColumns + `
		FROM messages
		JOIN chats ON messages.chat_jid = chats.jid`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY messages.timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, q.Page*limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	matches, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	if q.IncludeContext {
		return storage.AssembleContext(ctx, r, matches, q.ContextBefore, q.ContextAfter)
	}
	return matches, nil
}

// GetMessageContext returns the target message and its same-chat
// neighbourhood, both windows ascending.
func (r *MessageRepo) GetMessageContext(ctx context.Context, messageID string, before, after int) (model.MessageContext, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+`
		FROM messages
		JOIN chats ON messages.chat_jid = chats.jid
		WHERE messages.id = ?
		LIMIT 1`, messageID)

	target, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return model.MessageContext{}, storage.NotFoundError("message", messageID)
	}
	if err != nil {
		return model.MessageContext{}, err
	}

	targetTS := toMillis(target.Timestamp)

	// Immediately preceding messages come back newest-first; reverse to
	// ascending for the caller.
	beforeRows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM messages
		JOIN chats ON messages.chat_jid = chats.jid
		WHERE messages.chat_jid = ? AND messages.timestamp < ?
		ORDER BY messages.timestamp DESC
		LIMIT ?`, target.ChatJID, targetTS, before)
	if err != nil {
		return model.MessageContext{}, err
	}
	defer func() { _ = beforeRows.Close() }()
	beforeMsgs, err := scanMessages(beforeRows)
	if err != nil {
		return model.MessageContext{}, err
	}
	reverseMessages(beforeMsgs)

	afterRows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM messages
		JOIN chats ON messages.chat_jid = chats.jid
		WHERE messages.chat_jid = ? AND messages.timestamp > ?
		ORDER BY messages.timestamp ASC
		LIMIT ?`, target.ChatJID, targetTS, after)
	if err != nil {
		return model.MessageContext{}, err
	}
	defer func() { _ = afterRows.Close() }()
	afterMsgs, err := scanMessages(afterRows)
	if err != nil {
		return model.MessageContext{}, err
	}

	return model.MessageContext{
		Message: target,
		Before:  beforeMsgs,
		After:   afterMsgs,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var m model.Message
	var ts int64
	if err := row.Scan(&m.ID, &ts, &m.Sender, &m.Content, &m.IsFromMe, &m.ChatJID, &m.ChatName, &m.MediaType); err != nil {
		return model.Message{}, err
	}
	m.Timestamp = fromMillis(ts)
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func reverseMessages(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

package sqlite

import (
	"context"
	"database/sql"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
	"github.com/orrbarkat/whatsapp-mcp/internal/storage"
)

const defaultChatLimit = 20

// ChatRepo implements storage.ChatRepository on the message history DB.
type ChatRepo struct {
	db *DB
}

// chatSelect joins the denormalized last-message columns when asked to. The
// join key mirrors the bridge's write path: last_message_time equals the
// timestamp of the newest message in the chat.
func chatSelect(includeLastMessage bool) string {
	q := `SELECT
		c.jid, c.name, c.last_message_time,
		COALESCE(m.content, ''), COALESCE(m.sender, ''), COALESCE(m.is_from_me, 0)
	FROM chats c`
	if includeLastMessage {
		q += `
	LEFT JOIN messages m ON c.jid = m.chat_jid AND c.last_message_time = m.timestamp`
	} else {
		q += `
	LEFT JOIN messages m ON 1 = 0`
	}
	return q
}

// ListChats returns chats matching the query, paginated and sorted.
func (r *ChatRepo) ListChats(ctx context.Context, query string, limit, page int, includeLastMessage bool, sortBy storage.ChatSort) ([]model.Chat, error) {
	if limit <= 0 {
		limit = defaultChatLimit
	}

	q := chatSelect(includeLastMessage)
	var args []any
	if query != "" {
		q += ` WHERE (LOWER(c.name) LIKE LOWER(?) OR c.jid LIKE ?)`
		args = append(args, "%"+query+"%", "%"+query+"%")
	}
	if sortBy == storage.SortByName {
		q += ` ORDER BY c.name`
	} else {
		q += ` ORDER BY c.last_message_time DESC`
	}
	q += ` LIMIT ? OFFSET ?`
	args = append(args, limit, page*limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanChats(rows)
}

// GetChat returns a single chat by JID, or nil when absent.
func (r *ChatRepo) GetChat(ctx context.Context, chatJID string, includeLastMessage bool) (*model.Chat, error) {
	row := r.db.QueryRowContext(ctx, chatSelect(includeLastMessage)+` WHERE c.jid = ?`, chatJID)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetDirectChatByContact finds a non-group chat via substring match on the
// JID, tolerating phone-number-only input.
func (r *ChatRepo) GetDirectChatByContact(ctx context.Context, phone string) (*model.Chat, error) {
	row := r.db.QueryRowContext(ctx, chatSelect(true)+`
		WHERE c.jid LIKE ? AND c.jid NOT LIKE '%`+model.GroupSuffix+`'
		LIMIT 1`, "%"+phone+"%")
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanChat(row rowScanner) (model.Chat, error) {
	var c model.Chat
	var lastTS sql.NullInt64
	if err := row.Scan(&c.JID, &c.Name, &lastTS, &c.LastMessage, &c.LastSender, &c.LastIsFromMe); err != nil {
		return model.Chat{}, err
	}
	if lastTS.Valid {
		t := fromMillis(lastTS.Int64)
		c.LastMessageTime = &t
	}
	return c, nil
}

func scanChats(rows *sql.Rows) ([]model.Chat, error) {
	var chats []model.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

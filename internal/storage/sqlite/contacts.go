package sqlite

import (
	"context"
	"database/sql"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
)

const contactResultCap = 50

// ContactRepo implements storage.ContactRepository. Contacts are a derived
// view over non-group chat JIDs; there is no separate contact table.
type ContactRepo struct {
	db *DB
}

// SearchContacts matches case-insensitively on name or JID, excluding groups.
func (r *ContactRepo) SearchContacts(ctx context.Context, query string) ([]model.Contact, error) {
	pattern := "%" + query + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT jid, name
		FROM chats
		WHERE (LOWER(name) LIKE LOWER(?) OR LOWER(jid) LIKE LOWER(?))
			AND jid NOT LIKE '%`+model.GroupSuffix+`'
		ORDER BY name, jid
		LIMIT ?`, pattern, pattern, contactResultCap)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []model.Contact
	for rows.Next() {
		var jid, name string
		if err := rows.Scan(&jid, &name); err != nil {
			return nil, err
		}
		contacts = append(contacts, model.Contact{
			PhoneNumber: model.PhoneFromJID(jid),
			Name:        name,
			JID:         jid,
		})
	}
	return contacts, rows.Err()
}

// GetContactChats returns chats where the contact is a message sender or the
// chat itself, most recently active first.
func (r *ContactRepo) GetContactChats(ctx context.Context, jid string, limit, page int) ([]model.Chat, error) {
	if limit <= 0 {
		limit = defaultChatLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT
			c.jid, c.name, c.last_message_time,
			COALESCE(lm.content, ''), COALESCE(lm.sender, ''), COALESCE(lm.is_from_me, 0)
		FROM chats c
		JOIN messages m ON c.jid = m.chat_jid
		LEFT JOIN messages lm ON c.jid = lm.chat_jid AND c.last_message_time = lm.timestamp
		WHERE m.sender = ? OR c.jid = ?
		ORDER BY c.last_message_time DESC
		LIMIT ? OFFSET ?`, jid, jid, limit, page*limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanChats(rows)
}

// GetLastInteraction returns the most recent message involving the contact.
func (r *ContactRepo) GetLastInteraction(ctx context.Context, jid string) (*model.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+`
		FROM messages
		JOIN chats ON messages.chat_jid = chats.jid
		WHERE messages.sender = ? OR messages.chat_jid = ?
		ORDER BY messages.timestamp DESC
		LIMIT 1`, jid, jid)

	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

package rest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
)

const contactResultCap = 50

// ContactRepo implements storage.ContactRepository against the remote API.
type ContactRepo struct {
	client *Client
}

func (r *ContactRepo) SearchContacts(ctx context.Context, query string) ([]model.Contact, error) {
	params := url.Values{}
	params.Set("or", fmt.Sprintf("(pushname.ilike.%%%s%%,fullname.ilike.%%%s%%,our_jid.ilike.%%%s%%)", query, query, query))
	params.Set("limit", strconv.Itoa(contactResultCap))

	var rows []contactRow
	if err := r.client.Get(ctx, contactsTable, params, &rows); err != nil {
		return nil, err
	}
	contacts := make([]model.Contact, 0, len(rows))
	for _, row := range rows {
		c := row.toModel()
		if (model.Chat{JID: c.JID}).IsGroup() {
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

func (r *ContactRepo) GetContactChats(ctx context.Context, jid string, limit, page int) ([]model.Chat, error) {
	var rows []chatRow
	err := r.client.RPC(ctx, "get_contact_chats", map[string]any{
		"p_contact_jid": jid,
		"p_limit":       limit,
		"p_offset":      page * limit,
	}, &rows)
	if err != nil {
		return nil, err
	}
	chats := make([]model.Chat, len(rows))
	for i, row := range rows {
		chats[i] = row.toModel(true)
	}
	return chats, nil
}

func (r *ContactRepo) GetLastInteraction(ctx context.Context, jid string) (*model.Message, error) {
	params := url.Values{}
	params.Set("sender", "eq."+jid)
	params.Set("order", "timestamp.desc")
	params.Set("limit", "1")

	var rows []messageRow
	if err := r.client.Get(ctx, messagesTable, params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	m := rows[0].toModel()
	return &m, nil
}

package rest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
	"github.com/orrbarkat/whatsapp-mcp/internal/storage"
)

// chatListView joins chats with their most recent message server-side.
const chatListView = "chat_list"

// ChatRepo implements storage.ChatRepository against the remote API.
type ChatRepo struct {
	client *Client
}

func (r *ChatRepo) ListChats(ctx context.Context, query string, limit, page int, includeLastMessage bool, sortBy storage.ChatSort) ([]model.Chat, error) {
	params := url.Values{}
	if query != "" {
		params.Set("or", fmt.Sprintf("(name.ilike.%%%s%%,jid.ilike.%%%s%%)", query, query))
	}
	if sortBy == storage.SortByName {
		params.Set("order", "name.asc")
	} else {
		params.Set("order", "last_message_time.desc")
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(page*limit))

	var rows []chatRow
	if err := r.client.Get(ctx, chatListView, params, &rows); err != nil {
		return nil, err
	}
	chats := make([]model.Chat, len(rows))
	for i, row := range rows {
		chats[i] = row.toModel(includeLastMessage)
	}
	return chats, nil
}

func (r *ChatRepo) GetChat(ctx context.Context, chatJID string, includeLastMessage bool) (*model.Chat, error) {
	var rows []chatRow
	err := r.client.RPC(ctx, "get_chat_by_jid", map[string]string{"p_chat_jid": chatJID}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	c := rows[0].toModel(includeLastMessage)
	return &c, nil
}

func (r *ChatRepo) GetDirectChatByContact(ctx context.Context, phone string) (*model.Chat, error) {
	var rows []chatRow
	err := r.client.RPC(ctx, "get_direct_chat_by_contact", map[string]string{"p_contact_jid": phone}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	c := rows[0].toModel(true)
	return &c, nil
}

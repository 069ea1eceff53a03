package rest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
	"github.com/orrbarkat/whatsapp-mcp/internal/storage"
)

const (
	messagesTable = "whatsmeow_history_messages"
	contactsTable = "whatsmeow_contacts"

	defaultMessageLimit = 20
)

// MessageRepo implements storage.MessageRepository against the remote API.
type MessageRepo struct {
	client *Client
}

func (r *MessageRepo) GetSenderName(ctx context.Context, senderJID string) (string, error) {
	params := url.Values{}
	params.Set("select", "pushname,fullname")
	params.Set("our_jid", "eq."+senderJID)
	params.Set("limit", "1")

	var rows []contactRow
	if err := r.client.Get(ctx, contactsTable, params, &rows); err != nil {
		return senderJID, err
	}
	if len(rows) == 0 {
		return senderJID, nil
	}
	if name := rows[0].toModel().Name; name != "" {
		return name, nil
	}
	return senderJID, nil
}

func (r *MessageRepo) ListMessages(ctx context.Context, q storage.ListMessagesQuery) ([]model.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	params := url.Values{}
	if q.After != "" {
		after, err := time.Parse(time.RFC3339, q.After)
		if err != nil {
			return nil, &storage.FormatError{Field: "after", Value: q.After, Err: err}
		}
		params.Add("timestamp", "gt."+after.UTC().Format(time.RFC3339))
	}
	if q.Before != "" {
		before, err := time.Parse(time.RFC3339, q.Before)
		if err != nil {
			return nil, &storage.FormatError{Field: "before", Value: q.Before, Err: err}
		}
		params.Add("timestamp", "lt."+before.UTC().Format(time.RFC3339))
	}
	if q.Sender != "" {
		params.Set("sender", "eq."+q.Sender)
	}
	if q.ChatJID != "" {
		params.Set("chat", "eq."+q.ChatJID)
	}
	if q.Query != "" {
		params.Set("text", "ilike.%"+q.Query+"%")
	}
	params.Set("order", "timestamp.desc")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(q.Page*limit))

	var rows []messageRow
	if err := r.client.Get(ctx, messagesTable, params, &rows); err != nil {
		return nil, err
	}
	matches := toMessages(rows)

	if q.IncludeContext {
		return storage.AssembleContext(ctx, r, matches, q.ContextBefore, q.ContextAfter)
	}
	return matches, nil
}

func (r *MessageRepo) GetMessageContext(ctx context.Context, messageID string, before, after int) (model.MessageContext, error) {
	params := url.Values{}
	params.Set("id", "eq."+messageID)
	params.Set("limit", "1")

	var rows []messageRow
	if err := r.client.Get(ctx, messagesTable, params, &rows); err != nil {
		return model.MessageContext{}, err
	}
	if len(rows) == 0 {
		return model.MessageContext{}, storage.NotFoundError("message", messageID)
	}
	target := rows[0]
	ts := target.Timestamp.UTC().Format(time.RFC3339Nano)

	beforeMsgs, err := r.window(ctx, target.Chat, "lt."+ts, "timestamp.desc", before)
	if err != nil {
		return model.MessageContext{}, fmt.Errorf("fetching preceding messages: %w", err)
	}
	reverseMessages(beforeMsgs)

	afterMsgs, err := r.window(ctx, target.Chat, "gt."+ts, "timestamp.asc", after)
	if err != nil {
		return model.MessageContext{}, fmt.Errorf("fetching following messages: %w", err)
	}

	return model.MessageContext{
		Message: target.toModel(),
		Before:  beforeMsgs,
		After:   afterMsgs,
	}, nil
}

func (r *MessageRepo) window(ctx context.Context, chatJID, tsFilter, order string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("chat", "eq."+chatJID)
	params.Set("timestamp", tsFilter)
	params.Set("order", order)
	params.Set("limit", strconv.Itoa(limit))

	var rows []messageRow
	if err := r.client.Get(ctx, messagesTable, params, &rows); err != nil {
		return nil, err
	}
	return toMessages(rows), nil
}

func reverseMessages(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

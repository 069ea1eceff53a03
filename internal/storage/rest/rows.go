package rest

import (
	"time"

	"github.com/orrbarkat/whatsapp-mcp/internal/model"
)

// Remote tables keep the bridge's column names, which differ from the
// local schema: message text lives in "text", the chat JID in "chat".
type messageRow struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	FromMe    bool      `json:"from_me"`
	Chat      string    `json:"chat"`
	MediaType string    `json:"media_type"`
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:        r.ID,
		Timestamp: r.Timestamp.UTC(),
		Sender:    r.Sender,
		Content:   r.Text,
		IsFromMe:  r.FromMe,
		ChatJID:   r.Chat,
		MediaType: r.MediaType,
	}
}

func toMessages(rows []messageRow) []model.Message {
	out := make([]model.Message, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out
}

type chatRow struct {
	JID             string     `json:"jid"`
	Name            string     `json:"name"`
	LastMessageTime *time.Time `json:"last_message_time"`
	LastMessage     string     `json:"last_message"`
	LastSender      string     `json:"last_sender"`
	LastIsFromMe    bool       `json:"last_is_from_me"`
}

func (r chatRow) toModel(includeLastMessage bool) model.Chat {
	c := model.Chat{JID: r.JID, Name: r.Name}
	if r.LastMessageTime != nil {
		t := r.LastMessageTime.UTC()
		c.LastMessageTime = &t
	}
	if includeLastMessage {
		c.LastMessage = r.LastMessage
		c.LastSender = r.LastSender
		c.LastIsFromMe = r.LastIsFromMe
	}
	return c
}

type contactRow struct {
	JID      string `json:"our_jid"`
	PushName string `json:"pushname"`
	FullName string `json:"fullname"`
}

func (r contactRow) toModel() model.Contact {
	name := r.FullName
	if name == "" {
		name = r.PushName
	}
	return model.Contact{
		JID:         r.JID,
		PhoneNumber: model.PhoneFromJID(r.JID),
		Name:        name,
	}
}

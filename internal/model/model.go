// Package model holds the domain entities shared by the bridge and storage layers.
package model

import (
	"strings"
	"time"
)

// GroupSuffix is the JID domain carried by group chats.
const GroupSuffix = "@g.us"

// Message represents a single synced WhatsApp message. Messages are written
// by the bridge process; this side only reads them.
type Message struct {
	ID        string
	Timestamp time.Time
	Sender    string
	Content   string
	IsFromMe  bool
	ChatJID   string
	ChatName  string
	MediaType string
}

// Chat represents a direct or group conversation.
type Chat struct {
	JID             string
	Name            string
	LastMessageTime *time.Time
	LastMessage     string
	LastSender      string
	LastIsFromMe    bool
}

// IsGroup reports whether the chat is a group, derived from the JID suffix.
func (c Chat) IsGroup() bool {
	return strings.HasSuffix(c.JID, GroupSuffix)
}

// Contact is a derived view over non-group chat JIDs.
type Contact struct {
	PhoneNumber string
	Name        string
	JID         string
}

// PhoneFromJID strips the domain suffix from a JID, leaving the phone number.
func PhoneFromJID(jid string) string {
	if i := strings.Index(jid, "@"); i >= 0 {
		return jid[:i]
	}
	return jid
}

// MessageContext is a message together with its chronological neighbourhood
// within the same chat. Before and After are both in ascending time order.
type MessageContext struct {
	Message Message
	Before  []Message
	After   []Message
}

// BridgeStatus is the ephemeral result of a single bridge health check.
// It is recomputed on every check and never persisted.
type BridgeStatus struct {
	Running       bool
	APIResponsive bool
	Authenticated bool
	Error         string
}

// Ready reports whether every readiness condition holds.
func (s BridgeStatus) Ready() bool {
	return s.Running && s.APIResponsive && s.Authenticated
}

package rest

import (
	"errors"

	"github.com/orrbarkat/whatsapp-mcp/internal/storage"
	"go.uber.org/zap"
)

// Adapter bundles the remote repositories behind the storage contracts.
// All repositories share one HTTP client.
type Adapter struct {
	client *Client
	logger *zap.Logger

	messages *MessageRepo
	chats    *ChatRepo
	contacts *ContactRepo
	auth     *AuthRepo
}

func NewAdapter(baseURL, apiKey string, logger *zap.Logger) (*Adapter, error) {
	if baseURL == "" {
		return nil, errors.New("rest: base url is required")
	}
	client := NewClient(baseURL, apiKey, logger)
	return &Adapter{
		client:   client,
		logger:   logger,
		messages: &MessageRepo{client: client},
		chats:    &ChatRepo{client: client},
		contacts: &ContactRepo{client: client},
		auth:     &AuthRepo{client: client, logger: logger},
	}, nil
}

func (a *Adapter) Messages() storage.MessageRepository              { return a.messages }
func (a *Adapter) Chats() storage.ChatRepository                    { return a.chats }
func (a *Adapter) Contacts() storage.ContactRepository              { return a.contacts }
func (a *Adapter) Authentication() storage.AuthenticationRepository { return a.auth }

func (a *Adapter) UnitOfWork() storage.UnitOfWork {
	return &unitOfWork{client: a.client, logger: a.logger}
}

// Close exists for parity with the sqlite adapter; the HTTP client holds no
// resources that need releasing.
func (a *Adapter) Close() error {
	a.logger.Debug("rest adapter closed")
	return nil
}

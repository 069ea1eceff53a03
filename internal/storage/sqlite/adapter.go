package sqlite

import (
	"fmt"
	"time"

	"github.com/orrbarkat/whatsapp-mcp/internal/storage"
	"go.uber.org/zap"
)

// Adapter implements storage.Adapter over two SQLite files: the message
// history store and the whatsmeow session store. The session store is owned
// by the bridge; this side only reads it (and clears it inside a unit of
// work on explicit logout).
type Adapter struct {
	messagesDB *DB
	sessionDB  *DB
	logger     *zap.Logger

	messages *MessageRepo
	chats    *ChatRepo
	contacts *ContactRepo
	auth     *AuthRepo
}

// NewAdapter opens both databases and bootstraps the message schema.
func NewAdapter(messagesPath, sessionPath string, logger *zap.Logger) (*Adapter, error) {
	messagesDB, err := Open(messagesPath)
	if err != nil {
		return nil, fmt.Errorf("open messages db: %w", err)
	}
	if _, err := messagesDB.Migrate(); err != nil {
		_ = messagesDB.Close()
		return nil, fmt.Errorf("migrate messages db: %w", err)
	}

	sessionDB, err := Open(sessionPath)
	if err != nil {
		_ = messagesDB.Close()
		return nil, fmt.Errorf("open session db: %w", err)
	}

	a := &Adapter{
		messagesDB: messagesDB,
		sessionDB:  sessionDB,
		logger:     logger,
	}
	a.messages = &MessageRepo{db: messagesDB}
	a.chats = &ChatRepo{db: messagesDB}
	a.contacts = &ContactRepo{db: messagesDB}
	a.auth = &AuthRepo{db: sessionDB}
	return a, nil
}

func (a *Adapter) Messages() storage.MessageRepository        { return a.messages }
func (a *Adapter) Chats() storage.ChatRepository              { return a.chats }
func (a *Adapter) Contacts() storage.ContactRepository        { return a.contacts }
func (a *Adapter) Authentication() storage.AuthenticationRepository { return a.auth }

// UnitOfWork starts a transaction scope spanning both database files.
func (a *Adapter) UnitOfWork() storage.UnitOfWork {
	return &unitOfWork{adapter: a}
}

// Close releases both connections.
func (a *Adapter) Close() error {
	mErr := a.messagesDB.Close()
	sErr := a.sessionDB.Close()
	if mErr != nil {
		return mErr
	}
	return sErr
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

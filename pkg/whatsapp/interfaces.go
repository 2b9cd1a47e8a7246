// Package whatsapp defines the surface of the messaging-protocol client the
// gateway drives: the client handle, the dialer that opens one from stored
// credentials, and the key store contract the client persists through.
package whatsapp

import (
	"context"
	"io"

	"wagateway/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// KeyStore is the categorized key persistence contract consumed by the client.
type KeyStore interface {
	// Get returns only the ids that have a value.
	Get(ctx context.Context, category string, ids []string) (map[string]interface{}, error)
	// Set writes values; a nil value deletes the entry.
	Set(ctx context.Context, data types.KeyData) error
	Clear(ctx context.Context) error
	// Transaction runs work with reads cached and writes deferred to one
	// atomic commit on the outermost call.
	Transaction(ctx context.Context, work func(ctx context.Context) error) error
	InTransaction(ctx context.Context) bool
}

// AuthState is handed to the client at dial time. Creds is a snapshot;
// changes are reported back through the creds.update event.
type AuthState struct {
	Creds types.Creds
	Keys  KeyStore
}

// Client is one live protocol connection.
type Client interface {
	// Me returns the client's own resolved identity, nil until paired.
	Me() *types.Contact
	Logout(ctx context.Context) error
	// Unsubscribe stops delivery of one event kind to the registered handler.
	Unsubscribe(kind EventKind)

	SendMessage(ctx context.Context, jid string, content types.MessageContent, opts *types.SendOptions) (*types.WebMessageInfo, error)
	SendPresenceUpdate(ctx context.Context, presence types.Presence, jid string) error
	ReadMessages(ctx context.Context, keys []types.MessageKey) error
	ChatModify(ctx context.Context, mod types.ChatModification, jid string) error
	FetchMessageHistory(ctx context.Context, count int, oldestKey types.MessageKey, oldestTimestamp int64) (string, error)
	SendReceipts(ctx context.Context, keys []types.MessageKey, receiptType types.ReceiptType) error

	ProfilePictureURL(ctx context.Context, jid string, highRes bool) (string, error)
	OnWhatsApp(ctx context.Context, jids ...string) ([]types.OnWhatsAppResult, error)
	FetchStatus(ctx context.Context, jid string) (*types.Status, error)

	GroupMetadata(ctx context.Context, jid string) (*types.GroupMetadata, error)
	GroupParticipantsUpdate(ctx context.Context, jid string, participants []string, action types.ParticipantAction) ([]types.ParticipantResult, error)
	GroupUpdateSubject(ctx context.Context, jid, subject string) error
	GroupUpdateDescription(ctx context.Context, jid, description string) error

	// DownloadMedia streams the decrypted content referenced by media.
	DownloadMedia(ctx context.Context, media *types.MediaMessage, kind types.MediaKind) (io.ReadCloser, error)
}

// DialConfig carries everything needed to open a client.
type DialConfig struct {
	Auth            *AuthState
	ClientName      string
	Version         *Version
	SyncFullHistory bool
	Handlers        Handlers
	Logger          *logrus.Entry
}

// Dialer opens clients and mints fresh credentials for unpaired tenants.
type Dialer interface {
	NewCreds() (types.Creds, error)
	// Dial registers cfg.Handlers and returns once the client is created;
	// connection progress is reported through ConnectionUpdate. ctx carries
	// values for the client's lifetime and is never canceled by callers;
	// the connection ends through Logout or a close event.
	Dial(ctx context.Context, cfg DialConfig) (Client, error)
}

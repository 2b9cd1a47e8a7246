package types

import "encoding/json"

type MessageKey struct {
	RemoteJID   string `json:"remoteJid,omitempty"`
	FromMe      bool   `json:"fromMe,omitempty"`
	ID          string `json:"id,omitempty"`
	Participant string `json:"participant,omitempty"`
}

// MediaKind is the content class used when fetching encrypted media.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// MediaMessage carries the pointers needed to fetch and decrypt a blob.
type MediaMessage struct {
	URL           string          `json:"url,omitempty"`
	DirectPath    string          `json:"directPath,omitempty"`
	MediaKey      []byte          `json:"mediaKey,omitempty"`
	FileSHA256    []byte          `json:"fileSha256,omitempty"`
	FileEncSHA256 []byte          `json:"fileEncSha256,omitempty"`
	FileLength    uint64          `json:"fileLength,omitempty"`
	Mimetype      string          `json:"mimetype,omitempty"`
	Caption       string          `json:"caption,omitempty"`
	FileName      string          `json:"fileName,omitempty"`
	Seconds       uint32          `json:"seconds,omitempty"`
	PTT           bool            `json:"ptt,omitempty"`
	ContextInfo   json.RawMessage `json:"contextInfo,omitempty"`
}

// Message is the tagged-variant payload of a message envelope. At most one
// variant is normally set.
type Message struct {
	Conversation        string          `json:"conversation,omitempty"`
	ExtendedTextMessage json.RawMessage `json:"extendedTextMessage,omitempty"`
	ImageMessage        *MediaMessage   `json:"imageMessage,omitempty"`
	StickerMessage      *MediaMessage   `json:"stickerMessage,omitempty"`
	VideoMessage        *MediaMessage   `json:"videoMessage,omitempty"`
	AudioMessage        *MediaMessage   `json:"audioMessage,omitempty"`
	DocumentMessage     *MediaMessage   `json:"documentMessage,omitempty"`
	ReactionMessage     json.RawMessage `json:"reactionMessage,omitempty"`
	ProtocolMessage     json.RawMessage `json:"protocolMessage,omitempty"`
}

// WebMessageInfo is one message envelope as delivered by the client.
type WebMessageInfo struct {
	Key              MessageKey `json:"key"`
	Message          *Message   `json:"message,omitempty"`
	MessageTimestamp int64      `json:"messageTimestamp,omitempty"`
	PushName         string     `json:"pushName,omitempty"`
	Status           int        `json:"status,omitempty"`
	Broadcast        bool       `json:"broadcast,omitempty"`
}

type MessagesUpsert struct {
	Messages  []*WebMessageInfo `json:"messages"`
	Type      string            `json:"type"`
	RequestID string            `json:"requestId,omitempty"`
}

type MessageUpdate struct {
	Key    MessageKey      `json:"key"`
	Update json.RawMessage `json:"update"`
}

type MessageReceiptUpdate struct {
	Key     MessageKey      `json:"key"`
	Receipt json.RawMessage `json:"receipt"`
}

type HistorySet struct {
	Chats    json.RawMessage   `json:"chats,omitempty"`
	Contacts json.RawMessage   `json:"contacts,omitempty"`
	Messages []*WebMessageInfo `json:"messages"`
	IsLatest bool              `json:"isLatest,omitempty"`
	Progress *int              `json:"progress,omitempty"`
	SyncType *int              `json:"syncType,omitempty"`
}

// MessageContent is outbound content in the client's own shape
// (text, media by URL, reactions, polls).
type MessageContent map[string]interface{}

// SendOptions are optional modifiers for an outbound message.
type SendOptions struct {
	Quoted              *WebMessageInfo `json:"quoted,omitempty"`
	EphemeralExpiration int             `json:"ephemeralExpiration,omitempty"`
}

// ChatModification is a chat-level mutation (archive, mute, pin, markRead, delete).
type ChatModification map[string]interface{}

type ReceiptType string

const (
	ReceiptRead   ReceiptType = "read"
	ReceiptPlayed ReceiptType = "played"
	ReceiptSender ReceiptType = "sender"
)

package whatsmeowdriver

import (
	"encoding/json"
	"fmt"
	"time"

	"wagateway/pkg/whatsapp/types"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	watypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Message status values carried in messages.update.
const (
	statusServerAck   = 2
	statusDeliveryAck = 3
	statusRead        = 4
	statusPlayed      = 5
)

// Close codes reported in connection.update.
const (
	closeLoggedOut       = types.DisconnectLoggedOut
	closeForbidden       = 403
	closeClientOutdated  = 405
	closeTimedOut        = 408
	closeConnectionLost  = 428
	closeReplaced        = 440
	closeBadSession      = 500
	closeServiceRejected = 503
)

var jsonOptions = protojson.MarshalOptions{UseProtoNames: false, EmitUnpopulated: false}

func rawProto(m proto.Message) json.RawMessage {
	if m == nil {
		return nil
	}
	data, err := jsonOptions.Marshal(m)
	if err != nil || string(data) == "{}" {
		return nil
	}
	return data
}

// media is the getter set shared by downloadable message variants.
type media interface {
	proto.Message
	GetURL() string
	GetDirectPath() string
	GetMediaKey() []byte
	GetFileSHA256() []byte
	GetFileEncSHA256() []byte
	GetFileLength() uint64
	GetMimetype() string
	GetContextInfo() *waE2E.ContextInfo
}

func mediaMessage(m media) *types.MediaMessage {
	out := &types.MediaMessage{
		URL:           m.GetURL(),
		DirectPath:    m.GetDirectPath(),
		MediaKey:      m.GetMediaKey(),
		FileSHA256:    m.GetFileSHA256(),
		FileEncSHA256: m.GetFileEncSHA256(),
		FileLength:    m.GetFileLength(),
		Mimetype:      m.GetMimetype(),
		ContextInfo:   rawProto(m.GetContextInfo()),
	}
	switch v := m.(type) {
	case *waE2E.ImageMessage:
		out.Caption = v.GetCaption()
	case *waE2E.VideoMessage:
		out.Caption = v.GetCaption()
		out.Seconds = v.GetSeconds()
	case *waE2E.AudioMessage:
		out.Seconds = v.GetSeconds()
		out.PTT = v.GetPTT()
	case *waE2E.DocumentMessage:
		out.Caption = v.GetCaption()
		out.FileName = v.GetFileName()
	}
	return out
}

// convertMessage maps the variants the gateway understands; nil when none is set.
func convertMessage(msg *waE2E.Message) *types.Message {
	if msg == nil {
		return nil
	}
	out := &types.Message{
		Conversation:        msg.GetConversation(),
		ExtendedTextMessage: rawProto(msg.GetExtendedTextMessage()),
		ReactionMessage:     rawProto(msg.GetReactionMessage()),
		ProtocolMessage:     rawProto(msg.GetProtocolMessage()),
	}
	if m := msg.GetImageMessage(); m != nil {
		out.ImageMessage = mediaMessage(m)
	}
	if m := msg.GetStickerMessage(); m != nil {
		out.StickerMessage = mediaMessage(m)
	}
	if m := msg.GetVideoMessage(); m != nil {
		out.VideoMessage = mediaMessage(m)
	}
	if m := msg.GetAudioMessage(); m != nil {
		out.AudioMessage = mediaMessage(m)
	}
	if m := msg.GetDocumentMessage(); m != nil {
		out.DocumentMessage = mediaMessage(m)
	}
	return out
}

func messageKey(info watypes.MessageInfo) types.MessageKey {
	key := types.MessageKey{
		RemoteJID: info.Chat.String(),
		FromMe:    info.IsFromMe,
		ID:        info.ID,
	}
	if info.IsGroup && !info.Sender.IsEmpty() {
		key.Participant = info.Sender.ToNonAD().String()
	}
	return key
}

func webMessageInfo(info watypes.MessageInfo, msg *waE2E.Message) *types.WebMessageInfo {
	return &types.WebMessageInfo{
		Key:              messageKey(info),
		Message:          convertMessage(msg),
		MessageTimestamp: info.Timestamp.Unix(),
		PushName:         info.PushName,
		Broadcast:        info.Chat.Server == watypes.BroadcastServer,
	}
}

// receiptStatus maps a receipt type to a message status; false for receipts
// that do not advance status.
func receiptStatus(t watypes.ReceiptType) (int, bool) {
	switch t {
	case watypes.ReceiptTypeDelivered:
		return statusDeliveryAck, true
	case watypes.ReceiptTypeRead, watypes.ReceiptTypeReadSelf:
		return statusRead, true
	case watypes.ReceiptTypePlayed, watypes.ReceiptTypePlayedSelf:
		return statusPlayed, true
	}
	return 0, false
}

func receiptTimestampField(status int) string {
	switch status {
	case statusRead:
		return "readTimestamp"
	case statusPlayed:
		return "playedTimestamp"
	}
	return "receiptTimestamp"
}

// receiptUpdates splits a receipt into status updates for direct chats and
// per-recipient receipts for groups.
func receiptUpdates(evt *events.Receipt) ([]types.MessageUpdate, []types.MessageReceiptUpdate) {
	status, ok := receiptStatus(evt.Type)
	if !ok {
		return nil, nil
	}

	var (
		updates  []types.MessageUpdate
		receipts []types.MessageReceiptUpdate
	)
	for _, id := range evt.MessageIDs {
		key := types.MessageKey{RemoteJID: evt.Chat.String(), FromMe: !evt.IsFromMe, ID: id}
		if !evt.IsGroup {
			update, _ := json.Marshal(map[string]int{"status": status})
			updates = append(updates, types.MessageUpdate{Key: key, Update: update})
			continue
		}
		receipt, _ := json.Marshal(map[string]interface{}{
			"userJid":                     evt.Sender.ToNonAD().String(),
			receiptTimestampField(status): evt.Timestamp.Unix(),
		})
		receipts = append(receipts, types.MessageReceiptUpdate{Key: key, Receipt: receipt})
	}
	return updates, receipts
}

func closed(code int, message string, at time.Time) *types.ConnectionUpdate {
	return &types.ConnectionUpdate{
		Connection: types.PhaseClosed,
		LastDisconnect: &types.Disconnect{
			Error: &types.DisconnectError{Message: message, StatusCode: code},
			Date:  at,
		},
	}
}

// closeUpdate reports the close event for connection-ending events.
func closeUpdate(raw interface{}, at time.Time) *types.ConnectionUpdate {
	switch evt := raw.(type) {
	case *events.LoggedOut:
		return closed(closeLoggedOut, fmt.Sprintf("logged out (reason %d)", int(evt.Reason)), at)
	case *events.StreamReplaced:
		return closed(closeReplaced, "connection replaced", at)
	case *events.Disconnected:
		return closed(closeConnectionLost, "connection closed", at)
	case *events.TemporaryBan:
		return closed(closeForbidden, evt.String(), at)
	case *events.ClientOutdated:
		return closed(closeClientOutdated, "client outdated", at)
	case *events.ConnectFailure:
		if evt.Reason.IsLoggedOut() {
			return closed(closeLoggedOut, fmt.Sprintf("connect failure: %s", evt.Message), at)
		}
		code := int(evt.Reason)
		if code <= 0 {
			code = closeServiceRejected
		}
		return closed(code, fmt.Sprintf("connect failure: %s", evt.Message), at)
	}
	return nil
}

// qrUpdate maps one pairing channel item; nil when it needs no event.
func qrUpdate(event, code string, at time.Time) *types.ConnectionUpdate {
	switch event {
	case "code":
		qr := code
		return &types.ConnectionUpdate{Connection: types.PhaseConnecting, QR: &qr}
	case "success":
		return nil
	case "timeout":
		return closed(closeTimedOut, "QR refs attempts ended", at)
	default:
		return closed(closeBadSession, "pairing failed: "+event, at)
	}
}

type historyChat struct {
	ID                    string `json:"id"`
	Name                  string `json:"name,omitempty"`
	UnreadCount           uint32 `json:"unreadCount,omitempty"`
	ConversationTimestamp uint64 `json:"conversationTimestamp,omitempty"`
}

type historyContact struct {
	ID     string `json:"id"`
	Notify string `json:"notify,omitempty"`
}

// historySet converts a history sync blob; parse turns one stored message
// into an envelope and reports false when it cannot.
func historySet(data *waHistorySync.HistorySync, parse func(chat watypes.JID, msg *waHistorySync.HistorySyncMsg) (*types.WebMessageInfo, bool)) *types.HistorySet {
	set := &types.HistorySet{Messages: []*types.WebMessageInfo{}}

	chats := make([]historyChat, 0, len(data.GetConversations()))
	for _, conv := range data.GetConversations() {
		chats = append(chats, historyChat{
			ID:                    conv.GetID(),
			Name:                  conv.GetName(),
			UnreadCount:           conv.GetUnreadCount(),
			ConversationTimestamp: conv.GetConversationTimestamp(),
		})
		chat, err := watypes.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		for _, msg := range conv.GetMessages() {
			if info, ok := parse(chat, msg); ok {
				set.Messages = append(set.Messages, info)
			}
		}
	}
	contacts := make([]historyContact, 0, len(data.GetPushnames()))
	for _, p := range data.GetPushnames() {
		contacts = append(contacts, historyContact{ID: p.GetID(), Notify: p.GetPushname()})
	}
	set.Chats, _ = json.Marshal(chats)
	set.Contacts, _ = json.Marshal(contacts)

	progress := int(data.GetProgress())
	syncType := int(data.GetSyncType())
	set.Progress = &progress
	set.SyncType = &syncType
	set.IsLatest = data.GetSyncType() == waHistorySync.HistorySync_INITIAL_BOOTSTRAP
	return set
}

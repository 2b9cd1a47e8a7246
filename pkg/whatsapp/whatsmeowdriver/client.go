package whatsmeowdriver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"wagateway/pkg/whatsapp"
	"wagateway/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	watypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// errItemNotFound is the error text callers match for a missing profile picture.
var errItemNotFound = errors.New("item-not-found")

// Client is one whatsmeow connection behind the gateway's client surface.
type Client struct {
	cli    *whatsmeow.Client
	events *whatsapp.EventTable
	logger *logrus.Entry

	// ctx is the dial context, handed to every emitted event.
	ctx       context.Context
	handlerID uint32
}

var _ whatsapp.Client = (*Client)(nil)

func (c *Client) Me() *types.Contact {
	id := c.cli.Store.ID
	if id == nil {
		return nil
	}
	me := &types.Contact{ID: id.String(), Name: c.cli.Store.PushName}
	if !c.cli.Store.LID.IsEmpty() {
		me.LID = c.cli.Store.LID.String()
	}
	return me
}

func (c *Client) Logout(ctx context.Context) error {
	defer c.detach()
	if c.cli.Store.ID == nil {
		return nil
	}
	return c.cli.Logout(ctx)
}

func (c *Client) Unsubscribe(kind whatsapp.EventKind) {
	c.events.Unsubscribe(kind)
}

// detach stops event delivery and drops the socket. Handler removal blocks
// while events are dispatched, so it runs on its own goroutine.
func (c *Client) detach() {
	go func() {
		c.cli.RemoveEventHandler(c.handlerID)
		c.cli.Disconnect()
	}()
}

func (c *Client) handleEvent(raw interface{}) {
	ctx := c.ctx
	switch evt := raw.(type) {
	case *events.Connected:
		c.events.EmitConnectionUpdate(ctx, &types.ConnectionUpdate{Connection: types.PhaseOpen})
	case *events.OfflineSyncCompleted:
		received := true
		c.events.EmitConnectionUpdate(ctx, &types.ConnectionUpdate{ReceivedPendingNotifications: &received})
	case *events.PairSuccess:
		newLogin := true
		c.events.EmitConnectionUpdate(ctx, &types.ConnectionUpdate{IsNewLogin: &newLogin})
	case *events.Message:
		c.events.EmitMessagesUpsert(ctx, &types.MessagesUpsert{
			Messages: []*types.WebMessageInfo{webMessageInfo(evt.Info, evt.Message)},
			Type:     "notify",
		})
	case *events.Receipt:
		updates, receipts := receiptUpdates(evt)
		if len(updates) > 0 {
			c.events.EmitMessagesUpdate(ctx, updates)
		}
		if len(receipts) > 0 {
			c.events.EmitMessageReceiptUpdate(ctx, receipts)
		}
	case *events.HistorySync:
		c.events.EmitMessagingHistorySet(ctx, historySet(evt.Data, c.parseHistoryMessage))
	default:
		if update := closeUpdate(raw, time.Now()); update != nil {
			c.detach()
			c.events.EmitConnectionUpdate(ctx, update)
		}
	}
}

func (c *Client) parseHistoryMessage(chat watypes.JID, msg *waHistorySync.HistorySyncMsg) (*types.WebMessageInfo, bool) {
	if msg.GetMessage() == nil {
		return nil, false
	}
	evt, err := c.cli.ParseWebMessage(chat, msg.GetMessage())
	if err != nil {
		c.logger.WithError(err).Debug("Skipping unparseable history message")
		return nil, false
	}
	return webMessageInfo(evt.Info, evt.Message), true
}

// watchQR forwards pairing codes until the channel closes.
func (c *Client) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		if item.Error != nil {
			c.logger.WithError(item.Error).Warn("Pairing failed")
		}
		update := qrUpdate(item.Event, item.Code, time.Now())
		if update == nil {
			continue
		}
		if update.Connection == types.PhaseClosed {
			c.detach()
		}
		c.events.EmitConnectionUpdate(c.ctx, update)
	}
}

func (c *Client) ownJID() (watypes.JID, error) {
	if c.cli.Store.ID == nil {
		return watypes.EmptyJID, whatsmeow.ErrNotLoggedIn
	}
	return c.cli.Store.ID.ToNonAD(), nil
}

func (c *Client) SendMessage(ctx context.Context, jid string, content types.MessageContent, opts *types.SendOptions) (*types.WebMessageInfo, error) {
	to, err := watypes.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("invalid jid %q: %w", jid, err)
	}
	msg, err := c.buildMessage(ctx, to, content, opts)
	if err != nil {
		return nil, err
	}
	resp, err := c.cli.SendMessage(ctx, to, msg)
	if err != nil {
		return nil, err
	}
	return &types.WebMessageInfo{
		Key:              types.MessageKey{RemoteJID: to.String(), FromMe: true, ID: resp.ID},
		Message:          convertMessage(msg),
		MessageTimestamp: resp.Timestamp.Unix(),
		Status:           statusServerAck,
	}, nil
}

func (c *Client) buildMessage(ctx context.Context, to watypes.JID, content types.MessageContent, opts *types.SendOptions) (*waE2E.Message, error) {
	if raw, ok := content["delete"]; ok {
		key, err := decodeKey(raw)
		if err != nil {
			return nil, err
		}
		sender, err := keySender(key, to)
		if err != nil {
			return nil, err
		}
		return c.cli.BuildRevoke(to, sender, key.ID), nil
	}

	if raw, ok := content["react"]; ok {
		reaction, _ := raw.(map[string]interface{})
		key, err := decodeKey(reaction["key"])
		if err != nil {
			return nil, err
		}
		sender, err := keySender(key, to)
		if err != nil {
			return nil, err
		}
		text, _ := reaction["text"].(string)
		return c.cli.BuildReaction(to, sender, key.ID, text), nil
	}

	ctxInfo, err := contextInfo(content, opts)
	if err != nil {
		return nil, err
	}

	if raw, ok := content["edit"]; ok {
		key, err := decodeKey(raw)
		if err != nil {
			return nil, err
		}
		text, ok := content["text"].(string)
		if !ok {
			return nil, fmt.Errorf("only text messages can be edited")
		}
		return c.cli.BuildEdit(to, key.ID, textMessage(text, ctxInfo)), nil
	}

	msg, isMedia, err := mediaContent(ctx, c.cli, content, ctxInfo)
	if err != nil || isMedia {
		return msg, err
	}
	if text, ok := content["text"].(string); ok {
		return textMessage(text, ctxInfo), nil
	}
	return nil, fmt.Errorf("unsupported message content")
}

func (c *Client) SendPresenceUpdate(ctx context.Context, presence types.Presence, jid string) error {
	switch presence {
	case types.PresenceAvailable:
		return c.cli.SendPresence(ctx, watypes.PresenceAvailable)
	case types.PresenceUnavailable:
		return c.cli.SendPresence(ctx, watypes.PresenceUnavailable)
	}

	chat, err := watypes.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("invalid jid %q: %w", jid, err)
	}
	switch presence {
	case types.PresenceComposing:
		return c.cli.SendChatPresence(ctx, chat, watypes.ChatPresenceComposing, watypes.ChatPresenceMediaText)
	case types.PresenceRecording:
		return c.cli.SendChatPresence(ctx, chat, watypes.ChatPresenceComposing, watypes.ChatPresenceMediaAudio)
	case types.PresencePaused:
		return c.cli.SendChatPresence(ctx, chat, watypes.ChatPresencePaused, watypes.ChatPresenceMediaText)
	}
	return fmt.Errorf("unsupported presence %q", presence)
}

// receiptGroup is one chat/sender pair; receipts are sent per pair.
type receiptGroup struct {
	chat, sender watypes.JID
	ids          []watypes.MessageID
}

func groupKeys(keys []types.MessageKey) ([]*receiptGroup, error) {
	var (
		order  []*receiptGroup
		byPair = make(map[string]*receiptGroup)
	)
	for _, key := range keys {
		chat, err := watypes.ParseJID(key.RemoteJID)
		if err != nil {
			return nil, fmt.Errorf("invalid jid %q: %w", key.RemoteJID, err)
		}
		sender := watypes.EmptyJID
		if key.Participant != "" {
			if sender, err = watypes.ParseJID(key.Participant); err != nil {
				return nil, fmt.Errorf("invalid participant %q: %w", key.Participant, err)
			}
		}
		pair := chat.String() + "|" + sender.String()
		g, ok := byPair[pair]
		if !ok {
			g = &receiptGroup{chat: chat, sender: sender}
			byPair[pair] = g
			order = append(order, g)
		}
		g.ids = append(g.ids, key.ID)
	}
	return order, nil
}

func (c *Client) ReadMessages(ctx context.Context, keys []types.MessageKey) error {
	return c.SendReceipts(ctx, keys, types.ReceiptRead)
}

// SendReceipts sends explicit receipts. Delivery receipts go out
// automatically when messages arrive, so an empty type sends nothing.
func (c *Client) SendReceipts(ctx context.Context, keys []types.MessageKey, receiptType types.ReceiptType) error {
	var extra watypes.ReceiptType
	switch receiptType {
	case types.ReceiptRead:
		extra = watypes.ReceiptTypeRead
	case types.ReceiptPlayed:
		extra = watypes.ReceiptTypePlayed
	case types.ReceiptSender:
		extra = watypes.ReceiptTypeSender
	case "":
		return nil
	default:
		return fmt.Errorf("unsupported receipt type %q", receiptType)
	}

	groups, err := groupKeys(keys)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, g := range groups {
		if err := c.cli.MarkRead(ctx, g.ids, now, g.chat, g.sender, extra); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ChatModify(ctx context.Context, mod types.ChatModification, jid string) error {
	target, err := watypes.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("invalid jid %q: %w", jid, err)
	}

	var patch appstate.PatchInfo
	switch {
	case mod["archive"] != nil:
		archive, _ := mod["archive"].(bool)
		patch = appstate.BuildArchive(target, archive, time.Time{}, nil)
	case hasKey(mod, "mute"):
		mute, duration, err := muteDuration(mod["mute"], time.Now())
		if err != nil {
			return err
		}
		patch = appstate.BuildMute(target, mute, duration)
	case mod["pin"] != nil:
		pin, _ := mod["pin"].(bool)
		patch = appstate.BuildPin(target, pin)
	case mod["markRead"] != nil:
		read, _ := mod["markRead"].(bool)
		patch = appstate.BuildMarkChatAsRead(target, read, time.Time{}, nil)
	default:
		return fmt.Errorf("unsupported chat modification %v", modKeys(mod))
	}
	return c.cli.SendAppState(ctx, patch)
}

func hasKey(mod types.ChatModification, key string) bool {
	_, ok := mod[key]
	return ok
}

func modKeys(mod types.ChatModification) []string {
	keys := make([]string, 0, len(mod))
	for k := range mod {
		keys = append(keys, k)
	}
	return keys
}

// FetchMessageHistory asks the primary device for older messages; they
// arrive later as a history set. It returns the request message id.
func (c *Client) FetchMessageHistory(ctx context.Context, count int, oldestKey types.MessageKey, oldestTimestamp int64) (string, error) {
	own, err := c.ownJID()
	if err != nil {
		return "", err
	}
	chat, err := watypes.ParseJID(oldestKey.RemoteJID)
	if err != nil {
		return "", fmt.Errorf("invalid jid %q: %w", oldestKey.RemoteJID, err)
	}
	info := &watypes.MessageInfo{
		MessageSource: watypes.MessageSource{
			Chat:     chat,
			IsFromMe: oldestKey.FromMe,
			IsGroup:  chat.Server == watypes.GroupServer,
		},
		ID:        oldestKey.ID,
		Timestamp: time.Unix(oldestTimestamp, 0),
	}
	if oldestKey.Participant != "" {
		if info.Sender, err = watypes.ParseJID(oldestKey.Participant); err != nil {
			return "", fmt.Errorf("invalid participant %q: %w", oldestKey.Participant, err)
		}
	}

	resp, err := c.cli.SendMessage(ctx, own, c.cli.BuildHistorySyncRequest(info, count), whatsmeow.SendRequestExtra{Peer: true})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) ProfilePictureURL(ctx context.Context, jid string, highRes bool) (string, error) {
	target, err := watypes.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("invalid jid %q: %w", jid, err)
	}
	info, err := c.cli.GetProfilePictureInfo(ctx, target, &whatsmeow.GetProfilePictureParams{Preview: !highRes})
	if errors.Is(err, whatsmeow.ErrProfilePictureNotSet) || (err == nil && info == nil) {
		return "", errItemNotFound
	}
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (c *Client) OnWhatsApp(ctx context.Context, jids ...string) ([]types.OnWhatsAppResult, error) {
	phones := make([]string, len(jids))
	for i, jid := range jids {
		user, _, _ := strings.Cut(jid, "@")
		phones[i] = "+" + strings.TrimPrefix(user, "+")
	}
	resp, err := c.cli.IsOnWhatsApp(ctx, phones)
	if err != nil {
		return nil, err
	}
	out := make([]types.OnWhatsAppResult, 0, len(resp))
	for _, r := range resp {
		out = append(out, types.OnWhatsAppResult{Exists: r.IsIn, JID: r.JID.String()})
	}
	return out, nil
}

func (c *Client) FetchStatus(ctx context.Context, jid string) (*types.Status, error) {
	target, err := watypes.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("invalid jid %q: %w", jid, err)
	}
	infos, err := c.cli.GetUserInfo(ctx, []watypes.JID{target})
	if err != nil {
		return nil, err
	}
	info, ok := infos[target]
	if !ok || info.Status == "" {
		return nil, nil
	}
	return &types.Status{Status: info.Status}, nil
}

func (c *Client) GroupMetadata(ctx context.Context, jid string) (*types.GroupMetadata, error) {
	target, err := watypes.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("invalid jid %q: %w", jid, err)
	}
	info, err := c.cli.GetGroupInfo(ctx, target)
	if err != nil {
		return nil, err
	}
	return groupMetadata(info), nil
}

func groupMetadata(info *watypes.GroupInfo) *types.GroupMetadata {
	meta := &types.GroupMetadata{
		ID:           info.JID.String(),
		Subject:      info.Name,
		Desc:         info.Topic,
		Announce:     info.IsAnnounce,
		Restrict:     info.IsLocked,
		Size:         len(info.Participants),
		Participants: make([]types.GroupParticipant, 0, len(info.Participants)),
	}
	if !info.OwnerJID.IsEmpty() {
		meta.Owner = info.OwnerJID.String()
	}
	if !info.GroupCreated.IsZero() {
		meta.Creation = info.GroupCreated.Unix()
	}
	for _, p := range info.Participants {
		participant := types.GroupParticipant{ID: p.JID.String()}
		switch {
		case p.IsSuperAdmin:
			participant.Admin = "superadmin"
		case p.IsAdmin:
			participant.Admin = "admin"
		}
		meta.Participants = append(meta.Participants, participant)
	}
	return meta
}

var participantChanges = map[types.ParticipantAction]whatsmeow.ParticipantChange{
	types.ParticipantAdd:     whatsmeow.ParticipantChangeAdd,
	types.ParticipantRemove:  whatsmeow.ParticipantChangeRemove,
	types.ParticipantPromote: whatsmeow.ParticipantChangePromote,
	types.ParticipantDemote:  whatsmeow.ParticipantChangeDemote,
}

func (c *Client) GroupParticipantsUpdate(ctx context.Context, jid string, participants []string, action types.ParticipantAction) ([]types.ParticipantResult, error) {
	change, ok := participantChanges[action]
	if !ok {
		return nil, fmt.Errorf("unsupported participant action %q", action)
	}
	group, err := watypes.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("invalid jid %q: %w", jid, err)
	}
	members := make([]watypes.JID, len(participants))
	for i, p := range participants {
		if members[i], err = watypes.ParseJID(p); err != nil {
			return nil, fmt.Errorf("invalid participant %q: %w", p, err)
		}
	}

	updated, err := c.cli.UpdateGroupParticipants(ctx, group, members, change)
	if err != nil {
		return nil, err
	}
	results := make([]types.ParticipantResult, 0, len(updated))
	for _, p := range updated {
		status := "200"
		if p.Error != 0 {
			status = strconv.Itoa(p.Error)
		}
		results = append(results, types.ParticipantResult{Status: status, JID: p.JID.String()})
	}
	return results, nil
}

func (c *Client) GroupUpdateSubject(ctx context.Context, jid, subject string) error {
	group, err := watypes.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("invalid jid %q: %w", jid, err)
	}
	return c.cli.SetGroupName(ctx, group, subject)
}

func (c *Client) GroupUpdateDescription(ctx context.Context, jid, description string) error {
	group, err := watypes.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("invalid jid %q: %w", jid, err)
	}
	return c.cli.SetGroupTopic(ctx, group, "", "", description)
}

func (c *Client) DownloadMedia(ctx context.Context, media *types.MediaMessage, kind types.MediaKind) (io.ReadCloser, error) {
	msg, err := downloadable(media, kind)
	if err != nil {
		return nil, err
	}
	data, err := c.cli.Download(ctx, msg)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

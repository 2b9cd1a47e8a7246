package session

import (
	"context"

	"wagateway/internal/constants"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/privacy"
	"wagateway/pkg/whatsapp"
	"wagateway/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// Forwarded operations fail with NOT_CONNECTED when no client is open and
// otherwise return the client's result unchanged.

func (s *Session) connected() (whatsapp.Client, error) {
	client := s.currentClient()
	if client == nil {
		return nil, apperrors.NewNotConnectedError(s.tenant)
	}
	return client, nil
}

func (s *Session) SendMessage(ctx context.Context, jid string, content types.MessageContent, opts *types.SendOptions) (*types.WebMessageInfo, error) {
	client, err := s.connected()
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		constants.LogFieldOperation: "sendMessage",
		constants.LogFieldJID:       privacy.MaskJID(jid),
	}).Debug("Sending message")
	return client.SendMessage(ctx, jid, content, opts)
}

// SendPresenceUpdate is a no-op until the client knows its own identity.
func (s *Session) SendPresenceUpdate(ctx context.Context, presence types.Presence, jid string) error {
	client, err := s.connected()
	if err != nil {
		return err
	}
	if client.Me() == nil {
		return nil
	}
	return client.SendPresenceUpdate(ctx, presence, jid)
}

func (s *Session) ReadMessages(ctx context.Context, keys []types.MessageKey) error {
	client, err := s.connected()
	if err != nil {
		return err
	}
	return client.ReadMessages(ctx, keys)
}

func (s *Session) ChatModify(ctx context.Context, mod types.ChatModification, jid string) error {
	client, err := s.connected()
	if err != nil {
		return err
	}
	return client.ChatModify(ctx, mod, jid)
}

func (s *Session) FetchMessageHistory(ctx context.Context, count int, oldestKey types.MessageKey, oldestTimestamp int64) (string, error) {
	client, err := s.connected()
	if err != nil {
		return "", err
	}
	return client.FetchMessageHistory(ctx, count, oldestKey, oldestTimestamp)
}

func (s *Session) SendReceipts(ctx context.Context, keys []types.MessageKey, receiptType types.ReceiptType) error {
	client, err := s.connected()
	if err != nil {
		return err
	}
	return client.SendReceipts(ctx, keys, receiptType)
}

// DeleteMessage revokes a sent message for everyone in the chat.
func (s *Session) DeleteMessage(ctx context.Context, jid string, key types.MessageKey) (*types.WebMessageInfo, error) {
	client, err := s.connected()
	if err != nil {
		return nil, err
	}
	return client.SendMessage(ctx, jid, types.MessageContent{"delete": key}, nil)
}

// EditMessage replaces the content of a sent message.
func (s *Session) EditMessage(ctx context.Context, jid string, key types.MessageKey, content types.MessageContent) (*types.WebMessageInfo, error) {
	client, err := s.connected()
	if err != nil {
		return nil, err
	}
	edit := make(types.MessageContent, len(content)+1)
	for k, v := range content {
		edit[k] = v
	}
	edit["edit"] = key
	return client.SendMessage(ctx, jid, edit, nil)
}

func (s *Session) ProfilePictureURL(ctx context.Context, jid string, highRes bool) (string, error) {
	client, err := s.connected()
	if err != nil {
		return "", err
	}
	return client.ProfilePictureURL(ctx, jid, highRes)
}

func (s *Session) OnWhatsApp(ctx context.Context, jids ...string) ([]types.OnWhatsAppResult, error) {
	client, err := s.connected()
	if err != nil {
		return nil, err
	}
	return client.OnWhatsApp(ctx, jids...)
}

// FetchStatus fails with STATUS_NOT_FOUND when the contact has no status.
func (s *Session) FetchStatus(ctx context.Context, jid string) (*types.Status, error) {
	client, err := s.connected()
	if err != nil {
		return nil, err
	}
	status, err := client.FetchStatus(ctx, jid)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, apperrors.NewStatusNotFoundError(jid)
	}
	return status, nil
}

func (s *Session) GroupMetadata(ctx context.Context, jid string) (*types.GroupMetadata, error) {
	client, err := s.connected()
	if err != nil {
		return nil, err
	}
	return client.GroupMetadata(ctx, jid)
}

func (s *Session) GroupParticipants(ctx context.Context, jid string, participants []string, action types.ParticipantAction) ([]types.ParticipantResult, error) {
	client, err := s.connected()
	if err != nil {
		return nil, err
	}
	return client.GroupParticipantsUpdate(ctx, jid, participants, action)
}

func (s *Session) GroupUpdateSubject(ctx context.Context, jid, subject string) error {
	client, err := s.connected()
	if err != nil {
		return err
	}
	return client.GroupUpdateSubject(ctx, jid, subject)
}

func (s *Session) GroupUpdateDescription(ctx context.Context, jid, description string) error {
	client, err := s.connected()
	if err != nil {
		return err
	}
	return client.GroupUpdateDescription(ctx, jid, description)
}

package registry

import (
	"context"

	"wagateway/pkg/whatsapp/types"
)

// Per-tenant operations look up the session and forward to it.

func (r *Registry) SendMessage(ctx context.Context, tenant, jid string, content types.MessageContent, opts *types.SendOptions) (*types.WebMessageInfo, error) {
	s, err := r.Session(tenant)
	if err != nil {
		return nil, err
	}
	return s.SendMessage(ctx, jid, content, opts)
}

func (r *Registry) SendPresenceUpdate(ctx context.Context, tenant string, presence types.Presence, jid string) error {
	s, err := r.Session(tenant)
	if err != nil {
		return err
	}
	return s.SendPresenceUpdate(ctx, presence, jid)
}

func (r *Registry) ReadMessages(ctx context.Context, tenant string, keys []types.MessageKey) error {
	s, err := r.Session(tenant)
	if err != nil {
		return err
	}
	return s.ReadMessages(ctx, keys)
}

func (r *Registry) ChatModify(ctx context.Context, tenant string, mod types.ChatModification, jid string) error {
	s, err := r.Session(tenant)
	if err != nil {
		return err
	}
	return s.ChatModify(ctx, mod, jid)
}

func (r *Registry) FetchMessageHistory(ctx context.Context, tenant string, count int, oldestKey types.MessageKey, oldestTimestamp int64) (string, error) {
	s, err := r.Session(tenant)
	if err != nil {
		return "", err
	}
	return s.FetchMessageHistory(ctx, count, oldestKey, oldestTimestamp)
}

func (r *Registry) SendReceipts(ctx context.Context, tenant string, keys []types.MessageKey, receiptType types.ReceiptType) error {
	s, err := r.Session(tenant)
	if err != nil {
		return err
	}
	return s.SendReceipts(ctx, keys, receiptType)
}

func (r *Registry) DeleteMessage(ctx context.Context, tenant, jid string, key types.MessageKey) (*types.WebMessageInfo, error) {
	s, err := r.Session(tenant)
	if err != nil {
		return nil, err
	}
	return s.DeleteMessage(ctx, jid, key)
}

func (r *Registry) EditMessage(ctx context.Context, tenant, jid string, key types.MessageKey, content types.MessageContent) (*types.WebMessageInfo, error) {
	s, err := r.Session(tenant)
	if err != nil {
		return nil, err
	}
	return s.EditMessage(ctx, jid, key, content)
}

func (r *Registry) ProfilePictureURL(ctx context.Context, tenant, jid string, highRes bool) (string, error) {
	s, err := r.Session(tenant)
	if err != nil {
		return "", err
	}
	return s.ProfilePictureURL(ctx, jid, highRes)
}

func (r *Registry) OnWhatsApp(ctx context.Context, tenant string, jids ...string) ([]types.OnWhatsAppResult, error) {
	s, err := r.Session(tenant)
	if err != nil {
		return nil, err
	}
	return s.OnWhatsApp(ctx, jids...)
}

func (r *Registry) FetchStatus(ctx context.Context, tenant, jid string) (*types.Status, error) {
	s, err := r.Session(tenant)
	if err != nil {
		return nil, err
	}
	return s.FetchStatus(ctx, jid)
}

func (r *Registry) GroupMetadata(ctx context.Context, tenant, jid string) (*types.GroupMetadata, error) {
	s, err := r.Session(tenant)
	if err != nil {
		return nil, err
	}
	return s.GroupMetadata(ctx, jid)
}

func (r *Registry) GroupParticipants(ctx context.Context, tenant, jid string, participants []string, action types.ParticipantAction) ([]types.ParticipantResult, error) {
	s, err := r.Session(tenant)
	if err != nil {
		return nil, err
	}
	return s.GroupParticipants(ctx, jid, participants, action)
}

func (r *Registry) GroupUpdateSubject(ctx context.Context, tenant, jid, subject string) error {
	s, err := r.Session(tenant)
	if err != nil {
		return err
	}
	return s.GroupUpdateSubject(ctx, jid, subject)
}

func (r *Registry) GroupUpdateDescription(ctx context.Context, tenant, jid, description string) error {
	s, err := r.Session(tenant)
	if err != nil {
		return err
	}
	return s.GroupUpdateDescription(ctx, jid, description)
}

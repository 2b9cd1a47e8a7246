package session

import (
	"context"

	"wagateway/internal/authstore"
	"wagateway/internal/constants"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/privacy"
	"wagateway/internal/webhook"
	"wagateway/pkg/whatsapp"
	"wagateway/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

func (s *Session) handlers(store *authstore.Store) whatsapp.Handlers {
	return whatsapp.Handlers{
		CredsUpdate: func(ctx context.Context, update types.Creds) {
			if err := store.MergeCreds(ctx, update); err != nil {
				apperrors.LogError(s.logger, err, "Failed to save credentials")
			}
		},
		ConnectionUpdate:     s.handleConnectionUpdate,
		MessagesUpsert:       s.handleMessagesUpsert,
		MessagesUpdate:       s.handleMessagesUpdate,
		MessageReceiptUpdate: s.handleMessageReceiptUpdate,
		MessagingHistorySet:  s.handleHistorySet,
	}
}

func (s *Session) handleConnectionUpdate(ctx context.Context, update *types.ConnectionUpdate) {
	if s.takeReconnecting(update) {
		s.notifyReconnecting()
		return
	}

	if update.Connection == types.PhaseClosed {
		code := update.StatusCode()
		s.logger.WithFields(logrus.Fields{
			constants.LogFieldPhase:      update.Connection,
			constants.LogFieldStatusCode: code,
		}).Info("Connection closed")
		if code != types.DisconnectLoggedOut {
			s.notifyReconnecting()
			s.mu.Lock()
			s.client = nil
			s.mu.Unlock()
			if err := s.Connect(context.WithoutCancel(ctx)); err != nil {
				apperrors.LogError(s.logger, err, "Failed to reconnect")
			}
			return
		}
		s.teardown(ctx)
	}

	if update.Connection == types.PhaseOpen {
		if client := s.currentClient(); client != nil {
			if me := client.Me(); me != nil && me.ID != "" {
				resolved := phoneFromJID(me.ID)
				if resolved != normalizePhone(s.tenant) {
					s.handleWrongPhoneNumber(ctx, client, resolved)
					return
				}
			}
		}
	}

	payload := *update
	if update.QR != nil && *update.QR != "" {
		payload.Connection = types.PhaseConnecting
		dataURL, err := QRDataURL(*update.QR)
		if err != nil {
			s.logger.WithError(err).Error("Failed to render QR code")
		} else {
			payload.QRDataURL = dataURL
		}
	}
	if update.Online() {
		payload.Connection = types.PhaseOpen
	}

	s.notify(webhook.EventConnectionUpdate, &payload, nil)
}

// takeReconnecting reports whether update signals a reconnect in progress
// and consumes the one-shot reconnect flag if so.
func (s *Session) takeReconnecting(update *types.ConnectionUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reconnecting := update.NewLogin() ||
		(update.Connection == types.PhaseConnecting && (update.HasEmptyQR() || s.reconnectFlag))
	if reconnecting {
		s.reconnectFlag = false
	}
	return reconnecting
}

func (s *Session) notifyReconnecting() {
	s.notify(webhook.EventConnectionUpdate, &types.ConnectionUpdate{Connection: types.PhaseReconnecting}, nil)
}

func (s *Session) handleWrongPhoneNumber(ctx context.Context, client whatsapp.Client, resolved string) {
	err := apperrors.NewIdentityMismatchError(s.tenant, resolved)
	apperrors.LogWarn(s.logger, err, "Paired account does not match tenant", logrus.Fields{
		"resolved": privacy.MaskPhoneNumber(resolved),
	})

	s.notify(webhook.EventConnectionUpdate, webhook.ErrorData{Error: webhook.ErrorWrongPhoneNumber}, nil)
	client.Unsubscribe(whatsapp.EventConnectionUpdate)
	if err := s.Logout(context.WithoutCancel(ctx)); err != nil {
		apperrors.LogError(s.logger, err, "Failed to log out mismatched account")
	}
}

func (s *Session) handleMessagesUpsert(ctx context.Context, upsert *types.MessagesUpsert) {
	extra := s.extractMedia(ctx, upsert.Messages)
	s.notify(webhook.EventMessagesUpsert, upsert, extra)
}

func (s *Session) handleHistorySet(ctx context.Context, history *types.HistorySet) {
	extra := s.extractMedia(ctx, history.Messages)
	s.notify(webhook.EventHistorySet, history, extra)
}

func (s *Session) handleMessagesUpdate(_ context.Context, updates []types.MessageUpdate) {
	s.notify(webhook.EventMessagesUpdate, updates, nil)
}

func (s *Session) handleMessageReceiptUpdate(_ context.Context, updates []types.MessageReceiptUpdate) {
	s.notify(webhook.EventReceiptUpdate, updates, nil)
}

func (s *Session) extractMedia(ctx context.Context, messages []*types.WebMessageInfo) *webhook.Extra {
	client := s.currentClient()
	if s.deps.Media == nil || client == nil || len(messages) == 0 {
		return nil
	}
	result := s.deps.Media.Extract(ctx, client, messages, s.options().IncludeMedia)
	if result.Empty() {
		return nil
	}
	return &webhook.Extra{Media: result.Media, MediaErrors: result.Failed}
}

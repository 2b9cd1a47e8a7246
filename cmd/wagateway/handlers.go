package main

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"wagateway/internal/constants"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/media"
	"wagateway/internal/privacy"
	"wagateway/internal/validation"
	"wagateway/pkg/whatsapp/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	minVerifyTokenLength = 6
	maxHistoryCount      = 50
	maxOnWhatsAppJIDs    = 50
	itemNotFound         = "item-not-found"
)

type connectRequest struct {
	ClientName         string `json:"clientName"`
	WebhookURL         string `json:"webhookUrl"`
	WebhookVerifyToken string `json:"webhookVerifyToken"`
	IncludeMedia       *bool  `json:"includeMedia"`
	SyncFullHistory    *bool  `json:"syncFullHistory"`
}

func (req connectRequest) validate() error {
	if req.WebhookURL != "" {
		u, err := url.ParseRequestURI(req.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperrors.NewValidationError("webhookUrl", "must be an absolute http(s) URL")
		}
	}
	if req.WebhookURL != "" && len(req.WebhookVerifyToken) < minVerifyTokenLength {
		return apperrors.NewValidationError("webhookVerifyToken", "must be at least 6 characters")
	}
	return nil
}

type presenceRequest struct {
	Type  types.Presence `json:"type"`
	ToJID string         `json:"toJid"`
}

type sendMessageRequest struct {
	JID            string                 `json:"jid"`
	MessageContent map[string]interface{} `json:"messageContent"`
}

type keysRequest struct {
	Keys []types.MessageKey `json:"keys"`
	Type types.ReceiptType  `json:"type"`
}

type chatModifyRequest struct {
	Mod types.ChatModification `json:"mod"`
	JID string                 `json:"jid"`
}

type historyRequest struct {
	Count              int              `json:"count"`
	OldestMsgKey       types.MessageKey `json:"oldestMsgKey"`
	OldestMsgTimestamp int64            `json:"oldestMsgTimestamp"`
}

type messageRequest struct {
	JID            string                 `json:"jid"`
	Key            types.MessageKey       `json:"key"`
	MessageContent map[string]interface{} `json:"messageContent"`
}

type onWhatsAppRequest struct {
	JIDs []string `json:"jids"`
}

type participantsRequest struct {
	Participants []string                `json:"participants"`
	Action       types.ParticipantAction `json:"action"`
}

type subjectRequest struct {
	Subject string `json:"subject"`
}

type descriptionRequest struct {
	Description string `json:"description"`
}

type sentMessage struct {
	Key              types.MessageKey `json:"key"`
	MessageTimestamp int64            `json:"messageTimestamp"`
}

type profilePicture struct {
	JID               string  `json:"jid"`
	ProfilePictureURL *string `json:"profilePictureUrl"`
}

func (s *Server) handleConnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req connectRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := req.validate(); err != nil {
			s.writeError(w, r, err)
			return
		}

		opts := s.gateway.DefaultOptions()
		if req.ClientName != "" {
			opts.ClientName = req.ClientName
		}
		opts.WebhookURL = req.WebhookURL
		opts.WebhookVerifyToken = req.WebhookVerifyToken
		if req.IncludeMedia != nil {
			opts.IncludeMedia = *req.IncludeMedia
		}
		if req.SyncFullHistory != nil {
			opts.SyncFullHistory = *req.SyncFullHistory
		}

		if err := s.gateway.Connect(r.Context(), tenant, opts); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.logger.WithField(constants.LogFieldTenant, privacy.MaskPhoneNumber(tenant)).Info("Connection requested")
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.gateway.Logout(r.Context(), tenant); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleLogoutAll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.gateway.LogoutAll(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handlePresence() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req presenceRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if !req.Type.Valid() {
			s.writeError(w, r, apperrors.NewValidationError("type", "unknown presence type"))
			return
		}
		if req.ToJID == "" && (req.Type == types.PresenceComposing || req.Type == types.PresenceRecording || req.Type == types.PresencePaused) {
			s.writeError(w, r, apperrors.NewValidationError("toJid", "required for "+string(req.Type)))
			return
		}
		if req.ToJID != "" {
			if err := validation.ValidateJID(req.ToJID); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		if err := s.gateway.SendPresenceUpdate(r.Context(), tenant, req.Type, req.ToJID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req sendMessageRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateJID(req.JID); err != nil {
			s.writeError(w, r, err)
			return
		}
		content, opts, err := buildMessageContent(req.MessageContent)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		info, err := s.gateway.SendMessage(r.Context(), tenant, req.JID, content, opts)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if info == nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInternalError, "message not sent"))
			return
		}
		s.writeData(w, sentMessage{Key: info.Key, MessageTimestamp: info.MessageTimestamp})
	}
}

func (s *Server) handleReadMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req keysRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validateKeys(req.Keys); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.gateway.ReadMessages(r.Context(), tenant, req.Keys); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleChatModify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req chatModifyRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateJID(req.JID); err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(req.Mod) == 0 {
			s.writeError(w, r, apperrors.NewValidationError("mod", "modification is required"))
			return
		}
		if err := s.gateway.ChatModify(r.Context(), tenant, req.Mod, req.JID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleFetchMessageHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req historyRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateNumericRange(req.Count, "count", 1, maxHistoryCount); err != nil {
			s.writeError(w, r, err)
			return
		}
		id, err := s.gateway.FetchMessageHistory(r.Context(), tenant, req.Count, req.OldestMsgKey, req.OldestMsgTimestamp)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeData(w, id)
	}
}

func (s *Server) handleSendReceipts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req keysRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validateKeys(req.Keys); err != nil {
			s.writeError(w, r, err)
			return
		}
		switch req.Type {
		case "", types.ReceiptRead, types.ReceiptPlayed, types.ReceiptSender:
		default:
			s.writeError(w, r, apperrors.NewValidationError("type", "unknown receipt type"))
			return
		}
		if err := s.gateway.SendReceipts(r.Context(), tenant, req.Keys, req.Type); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req messageRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validateMessageTarget(req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if _, err := s.gateway.DeleteMessage(r.Context(), tenant, req.JID, req.Key); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleEditMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req messageRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validateMessageTarget(req); err != nil {
			s.writeError(w, r, err)
			return
		}
		content, err := buildEditableContent(req.MessageContent)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		info, err := s.gateway.EditMessage(r.Context(), tenant, req.JID, req.Key, content)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if info == nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInternalError, "message not edited"))
			return
		}
		s.writeData(w, sentMessage{Key: info.Key, MessageTimestamp: info.MessageTimestamp})
	}
}

func (s *Server) handleProfilePictureURL() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		jid := r.URL.Query().Get("jid")
		if err := validation.ValidateJID(jid); err != nil {
			s.writeError(w, r, err)
			return
		}
		quality := r.URL.Query().Get("type")
		if quality != "" && quality != "preview" && quality != "image" {
			s.writeError(w, r, apperrors.NewValidationError("type", "must be preview or image"))
			return
		}

		pictureURL, err := s.gateway.ProfilePictureURL(r.Context(), tenant, jid, quality == "image")
		if err != nil {
			if err.Error() == itemNotFound {
				s.writeError(w, r, apperrors.NewNotFoundError("profile picture", jid))
				return
			}
			s.writeError(w, r, err)
			return
		}
		resp := profilePicture{JID: jid}
		if pictureURL != "" {
			resp.ProfilePictureURL = &pictureURL
		}
		s.writeData(w, resp)
	}
}

func (s *Server) handleOnWhatsApp() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req onWhatsAppRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateNumericRange(len(req.JIDs), "jids", 1, maxOnWhatsAppJIDs); err != nil {
			s.writeError(w, r, err)
			return
		}
		for _, jid := range req.JIDs {
			if err := validation.ValidateJID(jid); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		results, err := s.gateway.OnWhatsApp(r.Context(), tenant, req.JIDs...)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if results == nil {
			results = []types.OnWhatsAppResult{}
		}
		s.writeData(w, results)
	}
}

func (s *Server) handleFetchStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, jid, err := s.tenantAndJID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status, err := s.gateway.FetchStatus(r.Context(), tenant, jid)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeData(w, status)
	}
}

func (s *Server) handleGroupMetadata() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, jid, err := s.tenantAndJID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		meta, err := s.gateway.GroupMetadata(r.Context(), tenant, jid)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeData(w, meta)
	}
}

func (s *Server) handleGroupParticipants() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, jid, err := s.tenantAndJID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req participantsRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(req.Participants) == 0 {
			s.writeError(w, r, apperrors.NewValidationError("participants", "at least one participant is required"))
			return
		}
		for _, p := range req.Participants {
			if err := validation.ValidateJID(p); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		if !req.Action.Valid() {
			s.writeError(w, r, apperrors.NewValidationError("action", "must be add, remove, promote or demote"))
			return
		}
		results, err := s.gateway.GroupParticipants(r.Context(), tenant, jid, req.Participants, req.Action)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeData(w, results)
	}
}

func (s *Server) handleGroupSubject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, jid, err := s.tenantAndJID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req subjectRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Subject == "" {
			s.writeError(w, r, apperrors.NewValidationError("subject", "subject is required"))
			return
		}
		if err := s.gateway.GroupUpdateSubject(r.Context(), tenant, jid, req.Subject); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleGroupDescription() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, jid, err := s.tenantAndJID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req descriptionRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.gateway.GroupUpdateDescription(r.Context(), tenant, jid, req.Description); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenant(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.stream.ServeWS(w, r, tenant)
	}
}

func (s *Server) handleMedia() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := mux.Vars(r)["messageId"]
		if err := validation.ValidateMessageID(messageID); err != nil {
			s.writeError(w, r, err)
			return
		}

		f, err := s.media.Open(messageID)
		if errors.Is(err, media.ErrNotFound) {
			s.writeError(w, r, apperrors.NewNotFoundError("media", messageID))
			return
		}
		if err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to open media"))
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err := io.Copy(w, f); err != nil {
			s.logger.WithFields(logrus.Fields{
				constants.LogFieldMessageID: privacy.MaskMessageID(messageID),
			}).WithError(err).Warn("Failed to stream media")
		}
	}
}

func (s *Server) tenantAndJID(r *http.Request) (string, string, error) {
	tenant, err := s.tenant(r)
	if err != nil {
		return "", "", err
	}
	jid := mux.Vars(r)["jid"]
	if err := validation.ValidateJID(jid); err != nil {
		return "", "", err
	}
	return tenant, jid, nil
}

func validateKeys(keys []types.MessageKey) error {
	if len(keys) == 0 {
		return apperrors.NewValidationError("keys", "at least one key is required")
	}
	for _, key := range keys {
		if key.ID == "" {
			continue
		}
		if err := validation.ValidateMessageID(key.ID); err != nil {
			return err
		}
	}
	return nil
}

func validateMessageTarget(req messageRequest) error {
	if err := validation.ValidateJID(req.JID); err != nil {
		return err
	}
	if req.Key.ID == "" {
		return apperrors.NewValidationError("key.id", "message id is required")
	}
	return validation.ValidateMessageID(req.Key.ID)
}

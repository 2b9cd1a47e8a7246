package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"wagateway/internal/constants"
	"wagateway/internal/httputil"
	"wagateway/internal/media"
	"wagateway/internal/middleware"
	"wagateway/internal/models"
	"wagateway/internal/session"
	"wagateway/pkg/whatsapp/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Gateway is the tenant-keyed session API the HTTP layer drives.
type Gateway interface {
	Connect(ctx context.Context, tenant string, opts session.Options) error
	Logout(ctx context.Context, tenant string) error
	LogoutAll(ctx context.Context) error
	DefaultOptions() session.Options
	Len() int

	SendMessage(ctx context.Context, tenant, jid string, content types.MessageContent, opts *types.SendOptions) (*types.WebMessageInfo, error)
	SendPresenceUpdate(ctx context.Context, tenant string, presence types.Presence, jid string) error
	ReadMessages(ctx context.Context, tenant string, keys []types.MessageKey) error
	ChatModify(ctx context.Context, tenant string, mod types.ChatModification, jid string) error
	FetchMessageHistory(ctx context.Context, tenant string, count int, oldestKey types.MessageKey, oldestTimestamp int64) (string, error)
	SendReceipts(ctx context.Context, tenant string, keys []types.MessageKey, receiptType types.ReceiptType) error
	DeleteMessage(ctx context.Context, tenant, jid string, key types.MessageKey) (*types.WebMessageInfo, error)
	EditMessage(ctx context.Context, tenant, jid string, key types.MessageKey, content types.MessageContent) (*types.WebMessageInfo, error)
	ProfilePictureURL(ctx context.Context, tenant, jid string, highRes bool) (string, error)
	OnWhatsApp(ctx context.Context, tenant string, jids ...string) ([]types.OnWhatsAppResult, error)
	FetchStatus(ctx context.Context, tenant, jid string) (*types.Status, error)
	GroupMetadata(ctx context.Context, tenant, jid string) (*types.GroupMetadata, error)
	GroupParticipants(ctx context.Context, tenant, jid string, participants []string, action types.ParticipantAction) ([]types.ParticipantResult, error)
	GroupUpdateSubject(ctx context.Context, tenant, jid, subject string) error
	GroupUpdateDescription(ctx context.Context, tenant, jid, description string) error
}

// StreamServer upgrades a request into a live per-tenant event feed.
type StreamServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, tenant string)
}

type Server struct {
	router  *mux.Router
	logger  *logrus.Logger
	cfg     models.ServerConfig
	gateway Gateway
	media   *media.Storage
	stream  StreamServer
	ips     *httputil.ClientIPResolver
	apiKey  func() string
	server  *http.Server
}

// NewServer wires routes and middleware. apiKey is consulted on every
// request so a rotated key applies without a restart.
func NewServer(cfg models.ServerConfig, gateway Gateway, storage *media.Storage, stream StreamServer, apiKey func() string, logger *logrus.Logger) (*Server, error) {
	ips, err := httputil.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = constants.DefaultMaxRequestBodyBytes
	}
	if apiKey == nil {
		apiKey = func() string { return cfg.APIKey }
	}

	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		cfg:     cfg,
		gateway: gateway,
		media:   storage,
		stream:  stream,
		ips:     ips,
		apiKey:  apiKey,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger, s.ips))
	s.router.Use(middleware.APIKey(s.apiKey, s.ips, s.logger, "/health"))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.HandleFunc("/media/{messageId}", s.handleMedia()).Methods(http.MethodGet)
	s.router.HandleFunc("/connections", s.handleLogoutAll()).Methods(http.MethodDelete)

	conn := s.router.PathPrefix("/connections/{phoneNumber}").Subrouter()
	conn.HandleFunc("", s.handleConnect()).Methods(http.MethodPost)
	conn.HandleFunc("", s.handleLogout()).Methods(http.MethodDelete)
	conn.HandleFunc("/presence", s.handlePresence()).Methods(http.MethodPatch)
	conn.HandleFunc("/send-message", s.handleSendMessage()).Methods(http.MethodPost)
	conn.HandleFunc("/read-messages", s.handleReadMessages()).Methods(http.MethodPost)
	conn.HandleFunc("/chat-modify", s.handleChatModify()).Methods(http.MethodPost)
	conn.HandleFunc("/fetch-message-history", s.handleFetchMessageHistory()).Methods(http.MethodPost)
	conn.HandleFunc("/send-receipts", s.handleSendReceipts()).Methods(http.MethodPost)
	conn.HandleFunc("/messages", s.handleDeleteMessage()).Methods(http.MethodDelete)
	conn.HandleFunc("/messages", s.handleEditMessage()).Methods(http.MethodPatch)
	conn.HandleFunc("/profile-picture-url", s.handleProfilePictureURL()).Methods(http.MethodGet)
	conn.HandleFunc("/on-whatsapp", s.handleOnWhatsApp()).Methods(http.MethodPost)
	conn.HandleFunc("/status/{jid}", s.handleFetchStatus()).Methods(http.MethodGet)
	conn.HandleFunc("/groups/{jid}", s.handleGroupMetadata()).Methods(http.MethodGet)
	conn.HandleFunc("/groups/{jid}/participants", s.handleGroupParticipants()).Methods(http.MethodPost)
	conn.HandleFunc("/groups/{jid}/subject", s.handleGroupSubject()).Methods(http.MethodPatch)
	conn.HandleFunc("/groups/{jid}/description", s.handleGroupDescription()).Methods(http.MethodPatch)
	conn.HandleFunc("/events", s.handleEvents()).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	port := s.cfg.Port
	if port == 0 {
		port = constants.DefaultServerPort
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  seconds(s.cfg.ReadTimeoutSec, constants.DefaultServerReadTimeoutSec),
		WriteTimeout: seconds(s.cfg.WriteTimeoutSec, constants.DefaultServerWriteTimeoutSec),
		IdleTimeout:  seconds(s.cfg.IdleTimeoutSec, constants.DefaultServerIdleTimeoutSec),
	}

	s.logger.Infof("Starting server on port %d", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

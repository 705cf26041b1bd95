// Package ipc is the browser-facing gateway: an HTTP API and WebSocket
// stream in front of the relay.
package ipc

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
	"github.com/airtai/fastagency-sub000/pkg/observability"
	"github.com/airtai/fastagency-sub000/pkg/relay"
)

// Config configures the gateway.
type Config struct {
	BindAddress     string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	MaxClients      int
	// MessageRate and MessageBurst bound chat messages per user.
	MessageRate  rate.Limit
	MessageBurst int
}

// Sender hands a client request to the relay.
type Sender interface {
	Send(ctx context.Context, req relay.Request) error
}

// Conversations opens the conversation row a new turn writes into and
// answers who owns a chat.
type Conversations interface {
	StartConversation(ctx context.Context, chatUUID string, userID int64) (int64, error)
	ChatOwner(ctx context.Context, chatUUID string) (userID int64, found bool, err error)
}

// Pinger reports database health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server serves the chat API and socket.
type Server struct {
	cfg           Config
	hub           *Hub
	sender        Sender
	conversations Conversations
	db            Pinger
	auth          *Authenticator
	limiter       *connLimiter
	senders       *senderLimiter
	logger        *observability.Logger
	httpServer    *http.Server
}

// NewServer wires the gateway. db may be nil.
func NewServer(cfg Config, hub *Hub, sender Sender, conversations Conversations, db Pinger, auth *Authenticator, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.Discard()
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = maxSocketClients
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTTL
	}
	return &Server{
		cfg:           cfg,
		hub:           hub,
		sender:        sender,
		conversations: conversations,
		db:            db,
		auth:          auth,
		limiter:       newConnLimiter(cfg.MaxClients),
		senders:       newSenderLimiter(cfg.MessageRate, cfg.MessageBurst),
		logger:        logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.corsMiddleware)
	router.Use(securityHeadersMiddleware)

	router.Get("/healthz", s.handleHealthz)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/ws/chats/{threadID}", s.handleChatSocket)

	router.Route("/api/chats", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/", s.handleCreateChat)
		r.Post("/{threadID}/messages", s.handleSendMessage)
	})
	return router
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// Cleartext HTTP/2 for reverse proxies that strip upgrade headers.
	h2cHandler := h2c.NewHandler(s.Handler(), &http2.Server{})

	s.httpServer = &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           h2cHandler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("serving gateway", "addr", s.cfg.BindAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, stdliberrors.New("database unavailable"))
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// messageRequest is the body of a chat message, sent over HTTP or as a
// sendMessage socket frame.
type messageRequest struct {
	TeamID         string `json:"team_id"`
	DeploymentID   string `json:"deployment_id"`
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"msg"`
	Initiate       bool   `json:"initiate"`
}

type messageAccepted struct {
	ThreadID       string `json:"thread_id"`
	ConversationID int64  `json:"conversation_id"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	threadID := uuid.NewString()
	convID, err := s.conversations.StartConversation(r.Context(), threadID, principal.UserID)
	if err != nil {
		s.logger.Error("start conversation failed", "thread_id", threadID, "error", err)
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, messageAccepted{ThreadID: threadID, ConversationID: convID})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	threadID := strings.TrimSpace(chi.URLParam(r, "threadID"))

	var req messageRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesSmall); err != nil {
		respondError(w, status, err)
		return
	}

	accepted, err := s.dispatch(r.Context(), principal, threadID, req)
	if err != nil {
		metricMessages.WithLabelValues("http", "error").Inc()
		respondError(w, statusFromError(err), err)
		return
	}
	metricMessages.WithLabelValues("http", "accepted").Inc()
	respondJSON(w, http.StatusAccepted, accepted)
}

// dispatch opens the conversation row when needed and hands the turn to the
// relay.
func (s *Server) dispatch(ctx context.Context, principal Principal, threadID string, req messageRequest) (messageAccepted, error) {
	if threadID == "" {
		return messageAccepted{}, apperrors.New(apperrors.ErrCodeInvalidInput, "thread id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return messageAccepted{}, apperrors.New(apperrors.ErrCodeInvalidInput, "msg is required")
	}
	if !s.senders.Allow(principal.UserID) {
		return messageAccepted{}, errRateLimited
	}
	if err := s.authorizeThread(ctx, principal, threadID, false); err != nil {
		return messageAccepted{}, err
	}

	convID := req.ConversationID
	if convID == 0 {
		var err error
		convID, err = s.conversations.StartConversation(ctx, threadID, principal.UserID)
		if err != nil {
			return messageAccepted{}, err
		}
	}

	err := s.sender.Send(ctx, relay.Request{
		UserID:         principal.ID(),
		ThreadID:       threadID,
		TeamID:         req.TeamID,
		DeploymentID:   req.DeploymentID,
		ConversationID: convID,
		Message:        req.Message,
		Initiate:       req.Initiate,
	})
	if err != nil {
		return messageAccepted{}, err
	}
	return messageAccepted{ThreadID: threadID, ConversationID: convID}, nil
}

// authorizeThread checks that principal owns threadID. Unknown threads pass
// unless mustExist is set; the first message creates them.
func (s *Server) authorizeThread(ctx context.Context, principal Principal, threadID string, mustExist bool) error {
	owner, found, err := s.conversations.ChatOwner(ctx, threadID)
	if err != nil {
		return err
	}
	if !found {
		if mustExist {
			return errChatNotFound
		}
		return nil
	}
	if owner != principal.UserID {
		return errChatForbidden
	}
	return nil
}

func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	principal, err := s.auth.Authenticate(r, true)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}
	threadID := strings.TrimSpace(chi.URLParam(r, "threadID"))
	if threadID == "" {
		respondError(w, http.StatusBadRequest, stdliberrors.New("thread id is required"))
		return
	}
	if err := s.authorizeThread(r.Context(), principal, threadID, true); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	if !s.limiter.Acquire() {
		respondError(w, http.StatusTooManyRequests, stdliberrors.New("too many connections"))
		return
	}
	defer s.limiter.Release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.Warn("chat websocket accept failed", "thread_id", threadID, "error", err)
		return
	}
	conn.SetReadLimit(maxWSReadBytes)

	c := s.hub.register(conn, threadID)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	startWSPing(ctx, conn)

	go func() {
		defer cancel()
		s.readClient(ctx, c, principal)
	}()

	go func() {
		if err := c.writeLoop(ctx); err != nil {
			s.logger.Debug("chat websocket write error", "thread_id", threadID, "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	dropped := c.stopped()
	s.hub.removeClient(c)
	if dropped {
		// The client missed events; closing lets it reconnect and reload the chat.
		c.close(websocket.StatusTryAgainLater, "client too slow")
		return
	}
	c.close(websocket.StatusNormalClosure, "shutdown")
}

// socketFrame is a client-to-server frame. sendMessage frames carry the
// messageRequest fields inline.
type socketFrame struct {
	Type string `json:"type"`
	messageRequest
}

func (s *Server) readClient(ctx context.Context, c *client, principal Principal) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var frame socketFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(newEvent(EventError, c.threadID, "invalid frame"))
			continue
		}
		switch frame.Type {
		case "ping":
			c.enqueue(newEvent(EventPong, c.threadID, nil))
		case "sendMessage":
			if _, err := s.dispatch(ctx, principal, c.threadID, frame.messageRequest); err != nil {
				metricMessages.WithLabelValues("ws", "error").Inc()
				s.logger.Warn("socket message rejected", "thread_id", c.threadID, "error", err)
				c.enqueue(newEvent(EventError, c.threadID, errorMessage(err)))
				continue
			}
			metricMessages.WithLabelValues("ws", "accepted").Inc()
		}
	}
}

func errorMessage(err error) string {
	var appErr *apperrors.Error
	if stdliberrors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}

func startWSPing(ctx context.Context, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	ticker := time.NewTicker(wsPingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, wsPingTimeout)
				_ = conn.Ping(pingCtx)
				cancel()
			}
		}
	}()
}

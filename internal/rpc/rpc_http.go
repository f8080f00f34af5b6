package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gflze/gflbans/internal/audit"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/httphelper"
	"github.com/gflze/gflbans/internal/infraction"
	"github.com/gflze/gflbans/internal/servers"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	APIVersion          = 1
	DefaultPushInterval = time.Second
	DefaultKickTimeout  = 15 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

type ServerLookup interface {
	Server(ctx context.Context, serverID uuid.UUID) (servers.Server, error)
}

// Auditor records kicks in the audit log.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry) error
}

type HandlerConfig struct {
	PushInterval time.Duration
	KickTimeout  time.Duration
	WriteTimeout time.Duration
	// Origins limits websocket upgrades to these origin prefixes. Empty allows any origin.
	Origins []string
	Auditor Auditor
}

type rpcHandler struct {
	broker  Broker
	servers ServerLookup
	config  HandlerConfig
}

// RequestKick asks a server to remove a player or every player connected from an ip.
type RequestKick struct {
	ServerID uuid.UUID `json:"server_id" binding:"required"`
	PlayerKick
}

func NewRPCHandler(engine *gin.Engine, broker Broker, serverLookup ServerLookup, authenticate gin.HandlerFunc,
	config HandlerConfig,
) {
	if config.PushInterval <= 0 {
		config.PushInterval = DefaultPushInterval
	}

	if config.KickTimeout <= 0 {
		config.KickTimeout = DefaultKickTimeout
	}

	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}

	handler := &rpcHandler{broker: broker, servers: serverLookup, config: config}

	authed := engine.Group("/api/v1/rpc")
	authed.Use(authenticate)
	{
		gameServer := authed.Group("", servers.ServerOnly())
		gameServer.GET("/poll", handler.onAPIGetPoll())
		gameServer.GET("/ws", handler.onWSPush())

		authed.POST("/kick", auth.RequirePermission(auth.PermRPCKick), handler.onAPIPostKick())
	}
}

func handleErr(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, infraction.ErrInvalidArgument):
		httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusBadRequest, errors.Join(err, httphelper.ErrBadRequest)))
	case errors.Is(err, ErrNotFound):
		httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusNotFound, errors.Join(err, httphelper.ErrNotFound)))
	case errors.Is(err, ErrAckTimeout):
		httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusGatewayTimeout, err))
	default:
		httphelper.HandleErr(ctx, err)
	}
}

func (h *rpcHandler) onAPIGetPoll() gin.HandlerFunc {
	type pollQuery struct {
		Limit     int   `schema:"limit"`
		AckOnRead *bool `schema:"ack_on_read"`
	}

	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindQuery[pollQuery](ctx)
		if !okReq {
			return
		}

		ackOnRead := req.AckOnRead == nil || *req.AckOnRead

		events, errPoll := h.broker.Poll(ctx, actor.ServerID, req.Limit, ackOnRead)
		if errPoll != nil {
			handleErr(ctx, errPoll)

			return
		}

		eventsDelivered.WithLabelValues("poll").Add(float64(len(events)))

		ctx.JSON(http.StatusOK, events)
	}
}

func (h *rpcHandler) onAPIPostKick() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[RequestKick](ctx)
		if !okReq {
			return
		}

		if err := req.Validate(); err != nil {
			handleErr(ctx, err)

			return
		}

		if req.Player != nil {
			userID, errID := infraction.NormalizeIdentity(req.Player.Service, req.Player.UserID)
			if errID != nil {
				handleErr(ctx, errID)

				return
			}

			req.Player.UserID = userID
		}

		server, errServer := h.servers.Server(ctx, req.ServerID)
		if errServer != nil {
			handleErr(ctx, errServer)

			return
		}

		event, errEnqueue := h.broker.Enqueue(ctx, &server.ServerID, EventPlayerKick, req.PlayerKick)
		if errEnqueue != nil {
			handleErr(ctx, errEnqueue)

			return
		}

		slog.Info("Kick requested", slog.String("actor", actor.Name), slog.String("server", server.Name),
			slog.String("event_id", event.EventID.String()))

		h.recordKick(ctx, actor, server, req.PlayerKick)

		if errWait := h.broker.WaitForAcknowledgment(ctx.Request.Context(), event.EventID, h.config.KickTimeout); errWait != nil {
			slog.Warn("Kick was not acknowledged", log.ErrAttr(errWait), slog.String("server", server.Name))
			handleErr(ctx, errWait)

			return
		}

		ctx.Status(http.StatusNoContent)
	}
}

func (h *rpcHandler) recordKick(ctx context.Context, actor auth.Actor, server servers.Server, kick PlayerKick) {
	if h.config.Auditor == nil {
		return
	}

	target := kick.IP
	if kick.Player != nil {
		target = kick.Player.Service + "/" + kick.Player.UserID
	}

	entry := audit.NewEntry(audit.KindRPCKick, actor,
		audit.ActorName(actor)+" kicked "+target+" from "+server.Name)
	entry.Target = target
	entry.Detail["server_id"] = server.ServerID.String()

	if err := h.config.Auditor.Record(ctx, entry); err != nil {
		slog.Error("Failed to record kick audit entry", log.ErrAttr(err))
	}
}

func (h *rpcHandler) upgrader() websocket.Upgrader {
	origins := h.config.Origins

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			if len(origins) == 0 {
				return true
			}

			origin := req.Header.Get("Origin")
			for _, valid := range origins {
				if strings.HasPrefix(origin, valid) {
					return true
				}
			}

			return false
		},
	}
}

func (h *rpcHandler) onWSPush() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		upgrader := h.upgrader()

		// Upgrade writes the error response itself.
		conn, errConn := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if errConn != nil {
			slog.Debug("Failed to upgrade rpc connection", log.ErrAttr(errConn), slog.String("server", actor.Name))

			return
		}

		pushConnections.Inc()
		defer pushConnections.Dec()

		session := &pushSession{
			conn:     conn,
			broker:   h.broker,
			serverID: actor.ServerID,
			name:     actor.Name,
			interval: h.config.PushInterval,
			timeout:  h.config.WriteTimeout,
		}

		slog.Debug("Server connected to rpc push", slog.String("server", actor.Name))

		if err := session.run(ctx.Request.Context()); err != nil {
			slog.Debug("Rpc push session ended", log.ErrAttr(err), slog.String("server", actor.Name))
		}
	}
}

// pushSession delivers events over a websocket. Only the delivery loop writes data frames, the ack reader
// only reads.
type pushSession struct {
	conn     *websocket.Conn
	broker   Broker
	serverID uuid.UUID
	name     string
	interval time.Duration
	timeout  time.Duration
}

func (s *pushSession) run(parent context.Context) error {
	defer log.Closer(s.conn)

	if err := s.write(map[string]int{"api_version": APIVersion}); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(parent)

	group.Go(func() error {
		return s.readAcks(ctx)
	})

	group.Go(func() error {
		// Unblocks the pending read once delivery stops.
		defer func() { _ = s.conn.SetReadDeadline(time.Now()) }()

		return s.deliver(ctx)
	})

	return group.Wait()
}

func (s *pushSession) write(value any) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}

	return s.conn.WriteJSON(value)
}

// errPeerClosed stops the session when the reader sees the client go away.
var errPeerClosed = errors.New("peer closed connection")

func (s *pushSession) readAcks(ctx context.Context) error {
	for {
		msgType, message, errRead := s.conn.ReadMessage()
		if errRead != nil {
			if ctx.Err() != nil {
				return nil
			}

			if websocket.IsCloseError(errRead, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errPeerClosed
			}

			return errRead
		}

		if msgType != websocket.TextMessage {
			continue
		}

		eventID, errID := uuid.FromString(strings.TrimSpace(string(message)))
		if errID != nil {
			continue
		}

		if errAck := s.broker.Ack(ctx, s.serverID, eventID); errAck != nil {
			if errors.Is(errAck, ErrNotFound) {
				continue
			}

			slog.Warn("Failed to record ack", log.ErrAttr(errAck), slog.String("server", s.name),
				slog.String("event_id", eventID.String()))
		}
	}
}

func (s *pushSession) deliver(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(s.timeout))

			return nil
		case <-ticker.C:
			events, errPoll := s.broker.Poll(ctx, s.serverID, MaxPollLimit, false)
			if errPoll != nil {
				if ctx.Err() != nil {
					continue
				}

				slog.Error("Failed to poll rpc events", log.ErrAttr(errPoll), slog.String("server", s.name))

				continue
			}

			for _, event := range events {
				if err := s.write(event); err != nil {
					return err
				}
			}

			eventsDelivered.WithLabelValues("ws").Add(float64(len(events)))
		}
	}
}

package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"liquidity/internal/domain"
	"liquidity/internal/platform/middleware"
	"liquidity/internal/zone/protocol"
	pkgerrors "liquidity/pkg/errors"
)

// Websocket framing: every message is binary, prefixed with one kind byte so
// the client can tell responses apart from the notification stream.
const (
	frameResponse     = 0x01
	frameNotification = 0x02

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Identity comes from the token, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient adapts one websocket connection to the validator's Client
// interface. Notify never blocks the validator: frames go through a buffered
// channel and a slow consumer is disconnected.
type wsClient struct {
	handle    string
	publicKey domain.PublicKey
	conn      *websocket.Conn
	logger    *slog.Logger

	send chan []byte
	done chan struct{}
}

func newWSClient(conn *websocket.Conn, publicKey domain.PublicKey, logger *slog.Logger) *wsClient {
	handle := uuid.NewString()
	return &wsClient{
		handle:    handle,
		publicKey: publicKey,
		conn:      conn,
		logger:    logger.With("client_handle", handle),
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

func (c *wsClient) Handle() string              { return c.handle }
func (c *wsClient) PublicKey() domain.PublicKey { return c.publicKey }
func (c *wsClient) Done() <-chan struct{}       { return c.done }

func (c *wsClient) Notify(env protocol.ZoneNotificationEnvelope) {
	payload, err := protocol.MarshalNotificationEnvelope(env)
	if err != nil {
		c.logger.Error("marshal notification envelope", "error", err)
		return
	}
	c.enqueue(frameNotification, payload)
}

func (c *wsClient) respond(env protocol.ZoneResponseEnvelope) {
	payload, err := protocol.MarshalResponseEnvelope(env)
	if err != nil {
		c.logger.Error("marshal response envelope", "error", err)
		return
	}
	c.enqueue(frameResponse, payload)
}

func (c *wsClient) enqueue(kind byte, payload []byte) {
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, kind)
	frame = append(frame, payload...)
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		// Buffer full: the peer is not draining. Drop the connection rather
		// than stall the zone.
		c.logger.Warn("send buffer full, disconnecting client")
		c.close()
	}
}

func (c *wsClient) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// writePump owns all writes to the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleZoneSocket upgrades the connection, joins the zone implicitly and
// then relays commands and responses until the peer goes away. The validator
// observes the disconnect through the client's done channel and persists the
// quit itself.
func (h *Handler) handleZoneSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalid, "websocket upgrade required"))
		return
	}
	ctx := r.Context()
	zoneID := domain.ZoneID(chi.URLParam(r, "zoneID"))
	publicKey := middleware.GetPublicKey(ctx)
	remoteAddress := middleware.GetRemoteAddress(ctx)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	client := newWSClient(conn, publicKey, h.logger.With("zone_id", string(zoneID)))
	defer client.close()

	// Implicit join: connecting to a zone's socket is the JoinZone command.
	joinEnvelope := protocol.ZoneCommandEnvelope{
		RemoteAddress: remoteAddress,
		PublicKey:     publicKey,
		CorrelationID: uuid.NewString(),
		ZoneID:        zoneID,
		Command:       protocol.JoinZoneCommand{},
	}
	// The join must not die with the request context when the handler is
	// still streaming.
	response, err := h.router.HandleCommand(context.Background(), joinEnvelope, client)
	if err != nil {
		client.logger.Warn("join failed", "error", err)
		conn.Close()
		return
	}
	go client.writePump()
	client.respond(response)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		envelope, err := protocol.UnmarshalCommandEnvelope(payload)
		if err != nil {
			client.logger.Warn("discarding malformed command frame", "error", err)
			continue
		}
		// The authenticated identity wins over whatever the frame claims.
		envelope.RemoteAddress = remoteAddress
		envelope.PublicKey = publicKey
		envelope.ZoneID = zoneID

		response, err := h.router.HandleCommand(context.Background(), envelope, client)
		if err != nil {
			client.logger.Warn("websocket command failed",
				"command", envelope.Command.CommandName(), "error", err)
			continue
		}
		client.respond(response)
		if _, quit := envelope.Command.(protocol.QuitZoneCommand); quit {
			return
		}
	}
}

func commandEnvelope(ctx context.Context, zoneID domain.ZoneID, command protocol.ZoneCommand) protocol.ZoneCommandEnvelope {
	return protocol.ZoneCommandEnvelope{
		RemoteAddress: middleware.GetRemoteAddress(ctx),
		PublicKey:     middleware.GetPublicKey(ctx),
		CorrelationID: uuid.NewString(),
		ZoneID:        zoneID,
		Command:       command,
	}
}

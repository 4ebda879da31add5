package collab

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"notesync/internal/app/user"
	"notesync/internal/pkg/errs"
	"notesync/internal/pkg/logx"
	"notesync/internal/pkg/randx"
)

const (
	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// capacity of the per-connection send queue.
	sendQueueSize = 256

	// WsCloseCodeTooSlow is sent when a client's send queue overflowed.
	WsCloseCodeTooSlow = 4002
)

var (
	errClientClosed = errors.New("client closed")
	errClientSlow   = errors.New("client send queue full")
)

// ClientOptions configures one WebSocket connection.
type ClientOptions struct {
	MaxMessageBytes int64
	WriteTimeout    time.Duration

	// CursorRate and CursorBurst throttle inbound cursor moves. A zero rate disables throttling.
	CursorRate  float64
	CursorBurst int
}

// Client is one WebSocket connection. The verified identity it was opened with
// replaces whatever user the client puts in its payloads.
type Client struct {
	hub *Hub

	// underlying WebSocket connection object.
	conn *websocket.Conn

	id   ConnID
	user user.User
	opts ClientOptions

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// cursorLimiter drops cursor moves beyond the configured rate. nil means unlimited.
	cursorLimiter *rate.Limiter

	// mu protects closed and the close frame fields.
	mu        sync.Mutex
	closed    bool
	closeCode int
	closeText string

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewClient wraps an upgraded connection for the verified user u.
func NewClient(hub *Hub, conn *websocket.Conn, u user.User, opts ClientOptions) *Client {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	id := ConnID(randx.ConnectionID())

	c := &Client{
		hub:  hub,
		conn: conn,
		id:   id,
		user: u,
		opts: opts,
		send: make(chan []byte, sendQueueSize),
		logger: logx.Logger().With().
			Str("conn_id", string(id)).
			Str("user_id", u.ID.String()).
			Logger(),
	}

	if opts.CursorRate > 0 {
		burst := opts.CursorBurst
		if burst <= 0 {
			burst = 1
		}
		c.cursorLimiter = rate.NewLimiter(rate.Limit(opts.CursorRate), burst)
	}

	return c
}

// ID returns the connection id.
func (c *Client) ID() ConnID {
	return c.id
}

// Send queues frame for the write pump. A full queue means the client cannot
// keep up: the queue is closed and the connection is dropped with 4002.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, disconnecting.")
		c.closeLocked(WsCloseCodeTooSlow, errs.NewError(errs.ErrSessionSlow).Message)
		return errClientSlow
	}
}

// Close ends the connection with a going-away close frame.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked(websocket.CloseGoingAway, "server shutting down")
}

func (c *Client) closeLocked(code int, text string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeText = text
	close(c.send)
}

// Serve attaches the client to the hub and runs both pumps. It blocks until the
// connection is gone and the hub has been told.
func (c *Client) Serve() {
	c.hub.Attach(c)
	c.logger.Info().Msg("WebSocket connection established.")

	go c.WritePump()
	c.ReadPump()
}

// ReadPump reads frames until the connection fails, then disconnects the client
// from the hub.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	if c.opts.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInbound(frame)
	}
}

func (c *Client) cleanupOnDisconnect() {
	c.hub.Disconnect(c.id)

	c.mu.Lock()
	c.closeLocked(websocket.CloseNormalClosure, "")
	c.mu.Unlock()

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}

	c.logger.Info().Msg("WebSocket connection closed.")
}

// WritePump writes queued frames and periodic pings. When the queue is closed it
// sends the recorded close frame and closes the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}
			if !c.write(websocket.TextMessage, frame) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Debug().Err(err).Int("message_type", messageType).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Client) writeClose() {
	c.mu.Lock()
	code, text := c.closeCode, c.closeText
	c.mu.Unlock()

	c.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}

// processInbound decodes one client frame and dispatches it to the hub.
func (c *Client) processInbound(frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.logger.Warn().Err(err).Int("frame_bytes", len(frame)).Msg("Client sent invalid JSON")
		c.SendError(errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	switch env.Event {
	case EventJoinNote:
		var p NotePayload
		if !c.decode(env, &p) {
			return
		}
		if _, err := c.hub.Join(c.id, p.NoteID, c.identity(p.User)); err != nil {
			c.SendError(err)
		}

	case EventLeaveNote:
		var p NotePayload
		if !c.decode(env, &p) {
			return
		}
		c.hub.Leave(c.id, p.NoteID)

	case EventCursorMove:
		if c.cursorLimiter != nil && !c.cursorLimiter.Allow() {
			return
		}
		var p CursorMovePayload
		if !c.decode(env, &p) {
			return
		}
		if err := c.hub.MoveCursor(c.id, p.NoteID, c.identity(p.User), p.Position); err != nil {
			c.SendError(err)
		}

	case EventTextChange:
		var p TextChangePayload
		if !c.decode(env, &p) {
			return
		}
		c.hub.ChangeContent(c.id, p.NoteID, c.identity(p.User), p.Content)

	case EventTitleChange:
		var p TitleChangePayload
		if !c.decode(env, &p) {
			return
		}
		c.hub.ChangeTitle(c.id, p.NoteID, c.identity(p.User), p.Title)

	default:
		c.logger.Warn().Str("event", string(env.Event)).Msg("Client sent unsupported event")
		c.SendError(errs.NewError(errs.ErrUnsupportedEvent, env.Event))
	}
}

func (c *Client) decode(env Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.logger.Warn().Err(err).Str("event", string(env.Event)).Msg("Client sent invalid payload")
		c.SendError(errs.NewError(errs.ErrInvalidParams))
		return false
	}
	return true
}

// identity returns the verified user, borrowing the display name from the
// payload only when the token carried none.
func (c *Client) identity(claimed user.User) user.User {
	u := c.user
	if u.Username == "" {
		u.Username = claimed.Username
	}
	return u
}

// SendError sends an error event to the client.
func (c *Client) SendError(err error) {
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) {
		customErr = errs.NewError(errs.ErrUnknown, err)
	}

	frame, encErr := encode(EventError, customErr)
	if encErr != nil {
		c.logger.Error().Err(encErr).Msg("Failed to build error frame")
		return
	}

	if sendErr := c.Send(frame); sendErr != nil {
		c.logger.Debug().Err(sendErr).Int("code", customErr.Code).Msg("Failed to queue error frame")
	}
}

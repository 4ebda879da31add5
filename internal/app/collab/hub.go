package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"notesync/internal/app/bus"
	"notesync/internal/app/user"
	"notesync/internal/configs"
	"notesync/internal/pkg/errs"
	"notesync/internal/pkg/ident"
	"notesync/internal/pkg/logx"
)

const (
	defaultPublishTimeout = 2 * time.Second
	defaultPublishQueue   = 1024
)

// ErrUnknownConnection is returned when an operation names a connection that
// was never attached or has already disconnected.
var ErrUnknownConnection = errors.New("collab: unknown connection")

// Sender is the hub's view of a client connection.
type Sender interface {
	ID() ConnID

	// Send queues a complete frame without blocking. The hub may hold its own
	// locks while calling it, so Send must not call back into the hub.
	Send(frame []byte) error

	// Close asks the connection to shut down.
	Close()
}

// Options configures a Hub.
type Options struct {
	// Channel is the bus channel for change events.
	Channel string

	// InstanceID names this server instance on the bus.
	InstanceID string

	// EchoToSender also delivers a change back to the connection that made it.
	EchoToSender bool

	// PublishTimeout bounds each bus publish.
	PublishTimeout time.Duration

	// PublishQueue is the capacity of the outbox; changes beyond it are dropped.
	PublishQueue int

	// CursorTTL hides and sweeps cursors not moved for this long. Zero disables it.
	CursorTTL time.Duration

	// Now is the clock, for tests.
	Now func() time.Time
}

// OptionsFromConfig maps the application config onto hub options.
func OptionsFromConfig(cfg *configs.AppConfig, instanceID string) Options {
	return Options{
		Channel:        cfg.BusChannel,
		InstanceID:     instanceID,
		EchoToSender:   cfg.EchoToSender,
		PublishTimeout: cfg.BusPublishTimeout,
		CursorTTL:      cfg.CursorTTL,
	}
}

// Stats is a point-in-time view of the hub, reported by the health endpoint.
type Stats struct {
	Connections   int    `json:"connections"`
	Rooms         int    `json:"rooms"`
	Cursors       int    `json:"cursors"`
	Published     uint64 `json:"published"`
	PublishFailed uint64 `json:"publishFailed"`
	PublishDrops  uint64 `json:"publishDrops"`
	BusReceived   uint64 `json:"busReceived"`
	BusRejected   uint64 `json:"busRejected"`
}

// Hub coordinates presence, cursors and change fan-out for one server instance.
// Presence and cursor frames are queued while the registry lock is held, so a
// connection sees room events in the order the room changed. Queueing never
// blocks; see Sender.
type Hub struct {
	bus  bus.Bus
	opts Options

	// registry tracks room membership per note.
	registry *Registry

	// cursors holds the last cursor per (note, user).
	cursors *Tracker

	// conns maps attached connections by id.
	conns map[ConnID]Sender

	// connMu protects conns.
	connMu sync.RWMutex

	// outbox feeds the single publisher goroutine, which keeps publish order.
	outbox chan []byte

	// cancel stops the bus subscription, the publisher and the sweeper.
	cancel context.CancelFunc

	// wg waits for the background goroutines during shutdown.
	wg sync.WaitGroup

	shutdownOnce sync.Once

	// pubMu guards stopped; publishChange holds it shared while enqueueing.
	pubMu   sync.RWMutex
	stopped bool

	published     atomic.Uint64
	publishFailed atomic.Uint64
	publishDrops  atomic.Uint64
	busReceived   atomic.Uint64
	busRejected   atomic.Uint64

	// structured logger with hub context.
	logger zerolog.Logger
}

// NewHub constructs a Hub on top of b. Call Start before serving connections.
func NewHub(b bus.Bus, opts Options) *Hub {
	if opts.Channel == "" {
		opts.Channel = configs.DefaultBusChannel
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	if opts.PublishQueue <= 0 {
		opts.PublishQueue = defaultPublishQueue
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Hub{
		bus:      b,
		opts:     opts,
		registry: NewRegistry(),
		cursors:  NewTracker(opts.CursorTTL, opts.Now),
		conns:    make(map[ConnID]Sender),
		outbox:   make(chan []byte, opts.PublishQueue),
		logger: logx.Component("hub").With().
			Str("instance_id", opts.InstanceID).
			Logger(),
	}
}

// Start subscribes to the bus and launches the publisher and cursor sweeper.
// It returns once the subscription is active.
func (h *Hub) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	if err := h.bus.Subscribe(ctx, h.opts.Channel, h.HandleBusMessage); err != nil {
		cancel()
		return err
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.runPublisher(ctx)
	}()
	go func() {
		defer h.wg.Done()
		h.cursors.Run(ctx)
	}()

	h.logger.Info().Str("channel", h.opts.Channel).Msg("Hub started.")
	return nil
}

// Shutdown stops the subscription, flushes queued publishes and closes every
// attached connection.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.logger.Info().Msg("Shutting down hub...")

		h.pubMu.Lock()
		h.stopped = true
		h.pubMu.Unlock()

		if h.cancel != nil {
			h.cancel()
		}
		h.wg.Wait()

		h.connMu.Lock()
		conns := make([]Sender, 0, len(h.conns))
		for _, s := range h.conns {
			conns = append(conns, s)
		}
		h.connMu.Unlock()

		for _, s := range conns {
			s.Close()
		}

		h.logger.Info().Int("connections_closed", len(conns)).Msg("Hub shutdown complete.")
	})
}

// InstanceID returns the id this hub stamps on published changes.
func (h *Hub) InstanceID() string {
	return h.opts.InstanceID
}

// Attach makes s reachable for deliveries.
func (h *Hub) Attach(s Sender) {
	h.connMu.Lock()
	h.conns[s.ID()] = s
	h.connMu.Unlock()
}

// Join adds the connection to noteID. The joiner receives active-users with the
// entries already present and one cursor-move per known cursor of other users;
// the others receive user-joined unless this is a re-join.
func (h *Hub) Join(connID ConnID, noteID ident.ID, u user.User) (JoinResult, error) {
	s := h.sender(connID)
	if s == nil {
		return JoinResult{}, ErrUnknownConnection
	}
	if noteID.IsZero() {
		return JoinResult{}, errs.NewError(errs.ErrNoteIDMissing)
	}

	res := h.registry.JoinThen(noteID, connID, u, ColorFor(u.ID), func(res JoinResult) {
		h.deliverTo(s, EventActiveUsers, res.Snapshot)

		if !res.Rejoined {
			h.deliver(res.Recipients, EventUserJoined, UserJoinedPayload{
				User: ColoredUser{ID: u.ID, Username: u.Username, Color: res.Entry.Color},
			})
		}

		for _, c := range h.cursors.Cursors(noteID) {
			if c.UserID != u.ID {
				h.deliverTo(s, EventCursorMove, c)
			}
		}
	})

	h.logger.Debug().
		Str("note_id", noteID.String()).
		Str("conn_id", string(connID)).
		Str("user_id", u.ID.String()).
		Bool("rejoined", res.Rejoined).
		Int("room_size", len(res.Snapshot)+1).
		Msg("Connection joined note.")

	return res, nil
}

// Leave removes the connection from noteID. Leaving a note that was not joined
// does nothing.
func (h *Hub) Leave(connID ConnID, noteID ident.ID) {
	h.registry.LeaveThen(noteID, connID, h.depart)
}

// Disconnect detaches the connection and removes it from every room, emitting
// one user-left per room.
func (h *Hub) Disconnect(connID ConnID) {
	h.connMu.Lock()
	delete(h.conns, connID)
	h.connMu.Unlock()

	deps := h.registry.RemoveConnectionThen(connID, h.depart)

	h.logger.Debug().
		Str("conn_id", string(connID)).
		Int("rooms_left", len(deps)).
		Msg("Connection disconnected.")
}

// depart runs under the registry lock.
func (h *Hub) depart(dep Departure) {
	if !dep.UserRemains {
		h.cursors.Remove(dep.NoteID, dep.Entry.UserID)
	}

	h.deliver(dep.Remaining, EventUserLeft, UserLeftPayload{
		UserID:   dep.Entry.UserID,
		Username: dep.Entry.Username,
	})
}

// MoveCursor records the user's cursor and relays it to the other connections
// in the room. Moves from a connection that has not joined noteID are ignored.
func (h *Hub) MoveCursor(connID ConnID, noteID ident.ID, u user.User, position int) error {
	if position < 0 {
		return errs.NewError(errs.ErrInvalidCursorPosition)
	}

	// A move from outside the room is not recorded either; the tracker would
	// otherwise replay it to later joiners.
	h.registry.OthersInRoomThen(noteID, connID, func(others []ConnID) {
		state := h.cursors.RecordMove(noteID, u, position, h.opts.Now())
		h.deliver(others, EventCursorMove, state)
	})

	return nil
}

// ChangeContent publishes a content change for noteID.
func (h *Hub) ChangeContent(connID ConnID, noteID ident.ID, u user.User, content string) {
	h.publishChange(connID, ChangeEvent{
		Type:    ContentUpdate,
		NoteID:  noteID,
		Content: &content,
		UserID:  u.ID,
	})
}

// ChangeTitle publishes a title change for noteID.
func (h *Hub) ChangeTitle(connID ConnID, noteID ident.ID, u user.User, title string) {
	h.publishChange(connID, ChangeEvent{
		Type:   TitleUpdate,
		NoteID: noteID,
		Title:  &title,
		UserID: u.ID,
	})
}

// publishChange stamps ev and queues it for the bus. Changes from a connection
// that has not joined the note are dropped silently; changes arriving after
// Shutdown are dropped and counted.
func (h *Hub) publishChange(connID ConnID, ev ChangeEvent) {
	if !h.registry.IsMember(ev.NoteID, connID) {
		return
	}

	h.pubMu.RLock()
	defer h.pubMu.RUnlock()

	if h.stopped {
		h.publishDrops.Add(1)
		h.logger.Warn().Str("note_id", ev.NoteID.String()).Msg("Hub stopped, dropping change.")
		return
	}

	ev.Timestamp = h.opts.Now().UnixMilli()
	ev.InstanceID = h.opts.InstanceID
	ev.ConnectionID = connID

	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal change event.")
		return
	}

	select {
	case h.outbox <- payload:
	default:
		h.publishDrops.Add(1)
		h.logger.Warn().
			Str("note_id", ev.NoteID.String()).
			Int("queue_len", len(h.outbox)).
			Msg("Publish queue full, dropping change.")
	}
}

// runPublisher publishes queued changes in order. After ctx is done it flushes
// whatever is still queued.
func (h *Hub) runPublisher(ctx context.Context) {
	for {
		select {
		case payload := <-h.outbox:
			h.publish(payload)

		case <-ctx.Done():
			for {
				select {
				case payload := <-h.outbox:
					h.publish(payload)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) publish(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.PublishTimeout)
	defer cancel()

	if err := h.bus.Publish(ctx, h.opts.Channel, payload); err != nil {
		h.publishFailed.Add(1)
		h.logger.Error().Err(err).Str("channel", h.opts.Channel).Msg("Failed to publish change.")
		return
	}
	h.published.Add(1)
}

// HandleBusMessage rebroadcasts a change received from the bus as note-update to
// the local connections in its room. Malformed payloads are logged and dropped.
func (h *Hub) HandleBusMessage(payload []byte) {
	h.busReceived.Add(1)

	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.busRejected.Add(1)
		h.logger.Warn().Err(err).Int("payload_bytes", len(payload)).Msg("Dropping malformed bus message.")
		return
	}
	if err := ev.Validate(); err != nil {
		h.busRejected.Add(1)
		h.logger.Warn().Err(err).Msg("Dropping invalid bus message.")
		return
	}

	members := h.registry.Members(ev.NoteID)
	if len(members) == 0 {
		return
	}

	targets := members
	if !h.opts.EchoToSender && ev.InstanceID != "" && ev.InstanceID == h.opts.InstanceID {
		targets = make([]ConnID, 0, len(members))
		for _, id := range members {
			if id != ev.ConnectionID {
				targets = append(targets, id)
			}
		}
	}

	h.deliver(targets, EventNoteUpdate, ev.NoteUpdate())
}

// ActiveUsers returns the users present on noteID on this instance, one entry per user.
func (h *Hub) ActiveUsers(noteID ident.ID) []PresenceEntry {
	return UniqueUsers(h.registry.Entries(noteID))
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.connMu.RLock()
	conns := len(h.conns)
	h.connMu.RUnlock()

	return Stats{
		Connections:   conns,
		Rooms:         len(h.registry.Rooms()),
		Cursors:       h.cursors.Len(),
		Published:     h.published.Load(),
		PublishFailed: h.publishFailed.Load(),
		PublishDrops:  h.publishDrops.Load(),
		BusReceived:   h.busReceived.Load(),
		BusRejected:   h.busRejected.Load(),
	}
}

func (h *Hub) sender(connID ConnID) Sender {
	h.connMu.RLock()
	defer h.connMu.RUnlock()

	return h.conns[connID]
}

// deliver encodes the frame once and queues it on every target still attached.
func (h *Hub) deliver(targets []ConnID, event Event, data any) {
	if len(targets) == 0 {
		return
	}

	frame, err := encode(event, data)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode frame.")
		return
	}

	h.connMu.RLock()
	senders := make([]Sender, 0, len(targets))
	for _, id := range targets {
		if s, ok := h.conns[id]; ok {
			senders = append(senders, s)
		}
	}
	h.connMu.RUnlock()

	for _, s := range senders {
		h.send(s, event, frame)
	}
}

func (h *Hub) deliverTo(s Sender, event Event, data any) {
	frame, err := encode(event, data)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode frame.")
		return
	}
	h.send(s, event, frame)
}

func (h *Hub) send(s Sender, event Event, frame []byte) {
	if err := s.Send(frame); err != nil {
		h.logger.Debug().
			Err(err).
			Str("conn_id", string(s.ID())).
			Str("event", string(event)).
			Msg("Frame not delivered.")
	}
}

/*
Package collab is the realtime collaboration coordinator.

It tracks which connections are viewing which note (the Registry), remembers
each collaborator's last cursor per note (the Tracker), and fans cursor,
presence and content/title changes out to the right connections. Content and
title changes travel through the shared bus so that connections on other
server instances converge as well (the Hub).

This file defines the events exchanged with clients and the change event carried
on the bus.
*/
package collab

import (
	"encoding/json"
	"errors"
	"fmt"

	"notesync/internal/app/user"
	"notesync/internal/pkg/ident"
)

// Event names a client-facing message.
type Event string

// Client to server.
const (
	EventJoinNote    Event = "join-note"
	EventLeaveNote   Event = "leave-note"
	EventCursorMove  Event = "cursor-move"
	EventTextChange  Event = "text-change"
	EventTitleChange Event = "title-change"
)

// Server to client. cursor-move is used in both directions.
const (
	EventUserJoined  Event = "user-joined"
	EventUserLeft    Event = "user-left"
	EventActiveUsers Event = "active-users"
	EventNoteUpdate  Event = "note-update"
	EventError       Event = "error"
)

// ConnID identifies one client connection on one instance.
type ConnID string

// Envelope is the frame format on the WebSocket: {"event": ..., "data": ...}.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NotePayload is the body of join-note and leave-note.
type NotePayload struct {
	NoteID ident.ID  `json:"noteId"`
	User   user.User `json:"user"`
}

// CursorMovePayload is the body of an inbound cursor-move.
type CursorMovePayload struct {
	NoteID   ident.ID  `json:"noteId"`
	Position int       `json:"position"`
	User     user.User `json:"user"`
}

// TextChangePayload is the body of text-change.
type TextChangePayload struct {
	NoteID  ident.ID  `json:"noteId"`
	Content string    `json:"content"`
	User    user.User `json:"user"`
}

// TitleChangePayload is the body of title-change.
type TitleChangePayload struct {
	NoteID ident.ID  `json:"noteId"`
	Title  string    `json:"title"`
	User   user.User `json:"user"`
}

// ColoredUser is a collaborator with the color clients render for them.
type ColoredUser struct {
	ID       ident.ID `json:"id"`
	Username string   `json:"username"`
	Color    Color    `json:"color"`
}

// UserJoinedPayload is the body of user-joined.
type UserJoinedPayload struct {
	User ColoredUser `json:"user"`
}

// UserLeftPayload is the body of user-left.
type UserLeftPayload struct {
	UserID   ident.ID `json:"userId"`
	Username string   `json:"username"`
}

// ChangeKind distinguishes content from title changes.
type ChangeKind string

const (
	ContentUpdate ChangeKind = "content-update"
	TitleUpdate   ChangeKind = "title-update"
)

// NoteUpdatePayload is the body of note-update.
type NoteUpdatePayload struct {
	Type      ChangeKind `json:"type"`
	Content   *string    `json:"content,omitempty"`
	Title     *string    `json:"title,omitempty"`
	UserID    ident.ID   `json:"userId"`
	Timestamp int64      `json:"timestamp"`
}

// ChangeEvent is the message published on the bus. InstanceID and ConnectionID
// name the origin; receivers that predate them ignore the fields.
type ChangeEvent struct {
	Type         ChangeKind `json:"type"`
	NoteID       ident.ID   `json:"noteId"`
	Content      *string    `json:"content,omitempty"`
	Title        *string    `json:"title,omitempty"`
	UserID       ident.ID   `json:"userId"`
	Timestamp    int64      `json:"timestamp"`
	InstanceID   string     `json:"instanceId,omitempty"`
	ConnectionID ConnID     `json:"connectionId,omitempty"`
}

var (
	errUnknownChangeKind = errors.New("unknown change type")
	errMissingNoteID     = errors.New("missing noteId")
	errMissingContent    = errors.New("content-update without content")
	errMissingTitle      = errors.New("title-update without title")
)

// Validate checks the shape a bus message must have to be rebroadcast.
func (e ChangeEvent) Validate() error {
	if e.NoteID.IsZero() {
		return errMissingNoteID
	}

	switch e.Type {
	case ContentUpdate:
		if e.Content == nil {
			return errMissingContent
		}
	case TitleUpdate:
		if e.Title == nil {
			return errMissingTitle
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownChangeKind, e.Type)
	}

	return nil
}

// NoteUpdate is the client-facing view of the event.
func (e ChangeEvent) NoteUpdate() NoteUpdatePayload {
	return NoteUpdatePayload{
		Type:      e.Type,
		Content:   e.Content,
		Title:     e.Title,
		UserID:    e.UserID,
		Timestamp: e.Timestamp,
	}
}

// encode builds a complete frame for event with data as its body.
func encode(event Event, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}

	frame, err := json.Marshal(Envelope{Event: event, Data: body})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	return frame, nil
}

package collab

import (
	"sort"
	"sync"

	"notesync/internal/app/user"
	"notesync/internal/pkg/ident"
)

// PresenceEntry records one connection's participation in a note's room.
// The JSON names are the ones clients already render.
type PresenceEntry struct {
	UserID       ident.ID `json:"id"`
	Username     string   `json:"username"`
	ConnectionID ConnID   `json:"socketId"`
	Color        Color    `json:"color"`

	// join order inside the room
	seq uint64
}

// JoinResult is the outcome of Registry.Join.
type JoinResult struct {
	// Entry is the joiner's own entry.
	Entry PresenceEntry

	// Snapshot holds the entries that were already in the room, in join order.
	Snapshot []PresenceEntry

	// Recipients are the connections to notify with user-joined. Empty on a re-join.
	Recipients []ConnID

	// Rejoined is true when the connection was already in the room.
	Rejoined bool
}

// Departure describes a connection leaving one room.
type Departure struct {
	NoteID ident.ID
	Entry  PresenceEntry

	// Remaining are the connections still in the room.
	Remaining []ConnID

	// UserRemains is true when another connection of the same user is still in the room.
	UserRemains bool
}

// Registry tracks which connections are in which note rooms.
// Rooms are created on first join and pruned when their last entry leaves.
type Registry struct {
	mu sync.RWMutex

	// note -> connection -> entry
	rooms map[ident.ID]map[ConnID]PresenceEntry

	// connection -> notes joined, for disconnect cleanup
	memberships map[ConnID]map[ident.ID]struct{}

	seq uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:       make(map[ident.ID]map[ConnID]PresenceEntry),
		memberships: make(map[ConnID]map[ident.ID]struct{}),
	}
}

// Join adds connID to the room for noteID. Joining a room the connection is
// already in refreshes the entry and reports Rejoined.
func (r *Registry) Join(noteID ident.ID, connID ConnID, u user.User, color Color) JoinResult {
	return r.JoinThen(noteID, connID, u, color, nil)
}

// JoinThen is Join with fn called on the result before the lock is released.
// fn must not block or call back into the registry.
func (r *Registry) JoinThen(noteID ident.ID, connID ConnID, u user.User, color Color, fn func(JoinResult)) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[noteID]
	if !ok {
		room = make(map[ConnID]PresenceEntry)
		r.rooms[noteID] = room
	}

	entry := PresenceEntry{
		UserID:       u.ID,
		Username:     u.Username,
		ConnectionID: connID,
		Color:        color,
	}

	prev, rejoined := room[connID]
	if rejoined {
		entry.seq = prev.seq
	} else {
		r.seq++
		entry.seq = r.seq
	}
	room[connID] = entry

	joined, ok := r.memberships[connID]
	if !ok {
		joined = make(map[ident.ID]struct{})
		r.memberships[connID] = joined
	}
	joined[noteID] = struct{}{}

	res := JoinResult{
		Entry:    entry,
		Snapshot: sortedEntries(room, connID),
		Rejoined: rejoined,
	}
	if !rejoined {
		res.Recipients = connIDs(res.Snapshot)
	}

	if fn != nil {
		fn(res)
	}

	return res
}

// Leave removes connID from the room for noteID. ok is false when the
// connection was not in that room.
func (r *Registry) Leave(noteID ident.ID, connID ConnID) (dep Departure, ok bool) {
	return r.LeaveThen(noteID, connID, nil)
}

// LeaveThen is Leave with fn called on the departure, if any, before the lock
// is released.
func (r *Registry) LeaveThen(noteID ident.ID, connID ConnID, fn func(Departure)) (dep Departure, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dep, ok = r.leaveLocked(noteID, connID)
	if ok && fn != nil {
		fn(dep)
	}

	return dep, ok
}

// RemoveConnection removes connID from every room it joined. One Departure is
// returned per room, ordered by note id.
func (r *Registry) RemoveConnection(connID ConnID) []Departure {
	return r.RemoveConnectionThen(connID, nil)
}

// RemoveConnectionThen is RemoveConnection with fn called on each departure
// before the lock is released.
func (r *Registry) RemoveConnectionThen(connID ConnID, fn func(Departure)) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.memberships[connID]
	if len(joined) == 0 {
		delete(r.memberships, connID)
		return nil
	}

	notes := make([]ident.ID, 0, len(joined))
	for noteID := range joined {
		notes = append(notes, noteID)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i] < notes[j] })

	deps := make([]Departure, 0, len(notes))
	for _, noteID := range notes {
		if dep, ok := r.leaveLocked(noteID, connID); ok {
			if fn != nil {
				fn(dep)
			}
			deps = append(deps, dep)
		}
	}

	return deps
}

func (r *Registry) leaveLocked(noteID ident.ID, connID ConnID) (Departure, bool) {
	room, ok := r.rooms[noteID]
	if !ok {
		return Departure{}, false
	}

	entry, ok := room[connID]
	if !ok {
		return Departure{}, false
	}

	delete(room, connID)
	if joined := r.memberships[connID]; joined != nil {
		delete(joined, noteID)
		if len(joined) == 0 {
			delete(r.memberships, connID)
		}
	}

	dep := Departure{NoteID: noteID, Entry: entry}
	remaining := sortedEntries(room, "")
	dep.Remaining = connIDs(remaining)
	for _, e := range remaining {
		if e.UserID == entry.UserID {
			dep.UserRemains = true
			break
		}
	}

	if len(room) == 0 {
		delete(r.rooms, noteID)
	}

	return dep, true
}

// Entries returns the room's entries in join order.
func (r *Registry) Entries(noteID ident.ID) []PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedEntries(r.rooms[noteID], "")
}

// Members returns the connections in the room, in join order.
func (r *Registry) Members(noteID ident.ID) []ConnID {
	return connIDs(r.Entries(noteID))
}

// IsMember reports whether connID has joined noteID.
func (r *Registry) IsMember(noteID ident.ID, connID ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[noteID][connID]
	return ok
}

// OthersInRoom returns the room's connections except connID. member reports
// whether connID itself is in the room; when it is not, others is nil.
func (r *Registry) OthersInRoom(noteID ident.ID, connID ConnID) (others []ConnID, member bool) {
	member = r.OthersInRoomThen(noteID, connID, func(o []ConnID) { others = o })
	return others, member
}

// OthersInRoomThen calls fn with the room's connections except connID while
// the room cannot change, and only when connID is in the room.
func (r *Registry) OthersInRoomThen(noteID ident.ID, connID ConnID, fn func(others []ConnID)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[noteID]
	if _, ok := room[connID]; !ok {
		return false
	}

	fn(connIDs(sortedEntries(room, connID)))
	return true
}

// RoomsOf returns the notes connID has joined, sorted.
func (r *Registry) RoomsOf(connID ConnID) []ident.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	notes := make([]ident.ID, 0, len(r.memberships[connID]))
	for noteID := range r.memberships[connID] {
		notes = append(notes, noteID)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i] < notes[j] })

	return notes
}

// Rooms returns the notes that currently have at least one entry, sorted.
func (r *Registry) Rooms() []ident.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	notes := make([]ident.ID, 0, len(r.rooms))
	for noteID := range r.rooms {
		notes = append(notes, noteID)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i] < notes[j] })

	return notes
}

// UniqueUsers keeps the first entry of each user, preserving order.
func UniqueUsers(entries []PresenceEntry) []PresenceEntry {
	seen := make(map[ident.ID]struct{}, len(entries))
	out := make([]PresenceEntry, 0, len(entries))

	for _, e := range entries {
		if _, dup := seen[e.UserID]; dup {
			continue
		}
		seen[e.UserID] = struct{}{}
		out = append(out, e)
	}

	return out
}

// sortedEntries copies room in join order, leaving out skip.
func sortedEntries(room map[ConnID]PresenceEntry, skip ConnID) []PresenceEntry {
	out := make([]PresenceEntry, 0, len(room))
	for id, e := range room {
		if id == skip {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })

	return out
}

func connIDs(entries []PresenceEntry) []ConnID {
	ids := make([]ConnID, len(entries))
	for i, e := range entries {
		ids[i] = e.ConnectionID
	}
	return ids
}

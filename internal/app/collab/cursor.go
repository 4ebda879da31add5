package collab

import (
	"context"
	"sort"
	"sync"
	"time"

	"notesync/internal/app/user"
	"notesync/internal/pkg/ident"
	"notesync/internal/pkg/logx"
)

// CursorState is the last known caret position of a user in a note.
type CursorState struct {
	UserID    ident.ID  `json:"userId"`
	Username  string    `json:"username"`
	Position  int       `json:"position"`
	Color     Color     `json:"color"`
	UpdatedAt time.Time `json:"-"`
}

// Tracker keeps one cursor per (note, user). Positions are not checked against
// the note's length.
type Tracker struct {
	mu      sync.Mutex
	cursors map[ident.ID]map[ident.ID]CursorState

	// zero disables expiry
	ttl time.Duration
	now func() time.Time
}

// NewTracker returns an empty tracker. With ttl > 0, cursors not moved for ttl
// are hidden from Cursors and dropped by Sweep.
func NewTracker(ttl time.Duration, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		cursors: make(map[ident.ID]map[ident.ID]CursorState),
		ttl:     ttl,
		now:     now,
	}
}

// RecordMove overwrites the user's cursor in noteID and returns the stored state.
func (t *Tracker) RecordMove(noteID ident.ID, u user.User, position int, at time.Time) CursorState {
	state := CursorState{
		UserID:    u.ID,
		Username:  u.Username,
		Position:  position,
		Color:     ColorFor(u.ID),
		UpdatedAt: at,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	note, ok := t.cursors[noteID]
	if !ok {
		note = make(map[ident.ID]CursorState)
		t.cursors[noteID] = note
	}
	note[u.ID] = state

	return state
}

// Remove forgets the user's cursor in noteID.
func (t *Tracker) Remove(noteID, userID ident.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	note := t.cursors[noteID]
	delete(note, userID)
	if len(note) == 0 {
		delete(t.cursors, noteID)
	}
}

// Cursors returns the live cursors in noteID ordered by user id.
func (t *Tracker) Cursors(noteID ident.ID) []CursorState {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]CursorState, 0, len(t.cursors[noteID]))
	for _, c := range t.cursors[noteID] {
		if t.expired(c, now) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })

	return out
}

// Sweep drops expired cursors and returns how many were removed.
func (t *Tracker) Sweep(now time.Time) int {
	if t.ttl <= 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for noteID, note := range t.cursors {
		for userID, c := range note {
			if t.expired(c, now) {
				delete(note, userID)
				removed++
			}
		}
		if len(note) == 0 {
			delete(t.cursors, noteID)
		}
	}

	return removed
}

// Run sweeps every half TTL until ctx is done. It returns immediately when
// expiry is disabled.
func (t *Tracker) Run(ctx context.Context) {
	if t.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(t.now()); n > 0 {
				logx.Debug("Expired cursors swept.", "removed", n)
			}
		}
	}
}

// Len returns the number of stored cursors across all notes.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, note := range t.cursors {
		n += len(note)
	}
	return n
}

func (t *Tracker) expired(c CursorState, now time.Time) bool {
	return t.ttl > 0 && now.Sub(c.UpdatedAt) > t.ttl
}

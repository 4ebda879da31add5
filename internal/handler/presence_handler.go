package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"notesync/internal/app/collab"
	"notesync/internal/pkg/errs"
	"notesync/internal/pkg/ident"
	"notesync/internal/pkg/resp"
)

// PresenceResponse lists who is viewing a note on this instance.
type PresenceResponse struct {
	NoteID ident.ID               `json:"noteId"`
	Users  []collab.PresenceEntry `json:"users"`
}

// HandleGetPresence returns the users present on a note, one entry per user.
func HandleGetPresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noteID := ident.ID(chi.URLParam(r, "noteId"))
		if noteID.IsZero() {
			resp.RespondError(w, r, errs.NewError(errs.ErrNoteIDMissing))
			return
		}

		resp.RespondSuccess(w, r, PresenceResponse{
			NoteID: noteID,
			Users:  deps.Hub.ActiveUsers(noteID),
		})
	}
}

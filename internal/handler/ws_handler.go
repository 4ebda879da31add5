package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"notesync/internal/app/collab"
	"notesync/internal/pkg/auth/jwt"
	"notesync/internal/pkg/errs"
	"notesync/internal/pkg/logx"
	"notesync/internal/pkg/resp"
)

// HandleWebSocket upgrades an authenticated request and serves the connection
// until it closes. Rate limiting and token checks run as middleware before it.
func HandleWebSocket(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}
		currentUser := payload.User()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket", "user_id", currentUser.ID.String())
			return
		}

		client := collab.NewClient(deps.Hub, conn, currentUser, collab.ClientOptions{
			MaxMessageBytes: deps.Config.WSMaxMessageBytes,
			WriteTimeout:    deps.Config.WSWriteTimeout,
			CursorRate:      deps.Config.CursorRate,
			CursorBurst:     deps.Config.CursorBurst,
		})

		client.Serve()
	}
}

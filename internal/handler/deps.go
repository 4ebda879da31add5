package handler

import (
	"notesync/internal/app/collab"
	"notesync/internal/configs"
)

// AppDeps holds what the HTTP handlers need.
type AppDeps struct {
	Hub    *collab.Hub
	Config *configs.AppConfig
}

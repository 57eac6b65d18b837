package models

import "time"

// Editing modes carried in presence state.
const (
	ModeEdit = "edit"
	ModeView = "view"
)

// PresenceEntry is the ephemeral per-connection state broadcast to room
// peers. It is never persisted; entries expire when the heartbeat goes quiet.
type PresenceEntry struct {
	ConnectionID  string    `json:"connectionId"`
	UserID        string    `json:"userId"`
	UserName      string    `json:"userName"`
	Color         string    `json:"color"`
	Cursor        *Point    `json:"cursor,omitempty"`
	Selection     []string  `json:"selection,omitempty"`
	Mode          string    `json:"mode"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// AvatarColors is the fixed palette assigned to room members, first unused
// then index-modulo round robin.
var AvatarColors = []string{
	"#6366f1", // indigo
	"#14b8a6", // teal
	"#a855f7", // purple
	"#f43f5e", // rose
	"#f59e0b", // amber
	"#10b981", // emerald
	"#0ea5e9", // sky
	"#ec4899", // pink
	"#f97316", // orange
	"#06b6d4", // cyan
}

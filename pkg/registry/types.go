package registry

import "github.com/sage3/foresight/pkg/smartbits"

// ChangeType classifies a registry change.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeRemoved ChangeType = "removed"
)

// Change is broadcast to subscribers after the registry is modified.
type Change struct {
	Type      ChangeType `json:"type"`
	AppID     string     `json:"app_id"`
	AppType   string     `json:"app_type,omitempty"`
	RoomID    string     `json:"room_id,omitempty"`
	BoardID   string     `json:"board_id,omitempty"`
	UpdatedAt int64      `json:"updated_at,omitempty"`
}

// Room owns its boards. It is a lookup structure only.
type Room struct {
	ID     string
	Boards map[string]*Board
}

// Board owns the SmartBits placed on it.
type Board struct {
	ID     string
	RoomID string
	Apps   map[string]smartbits.SmartBit
}

// AppInfo is a point-in-time view of one SmartBit.
type AppInfo struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	RoomID    string                 `json:"room_id"`
	BoardID   string                 `json:"board_id"`
	UpdatedAt int64                  `json:"updated_at"`
	State     map[string]interface{} `json:"state,omitempty"`
}

// BoardInfo summarizes one board.
type BoardInfo struct {
	ID     string   `json:"id"`
	RoomID string   `json:"room_id"`
	Apps   []string `json:"apps"`
}

func infoOf(sb smartbits.SmartBit, withState bool) AppInfo {
	info := AppInfo{
		ID:        sb.ID(),
		Type:      sb.Type(),
		RoomID:    sb.RoomID(),
		BoardID:   sb.BoardID(),
		UpdatedAt: sb.UpdatedAt(),
	}
	if withState {
		info.State = sb.State()
	}
	return info
}

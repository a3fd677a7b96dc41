package dto

// WSEvent is a WebSocket message for real-time status delivery.
type WSEvent struct {
	Type      string        `json:"type"` // photo_status
	EventCode string        `json:"event_code"`
	Data      PhotoResponse `json:"data"`
	Timestamp string        `json:"timestamp"`
}

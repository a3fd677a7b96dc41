package dto

type EventResponse struct {
	EventCode string `json:"event_code"`
	Revision  int64  `json:"revision"`
	CreatedAt string `json:"created_at"`
}

type EventStatsResponse struct {
	EventCode   string         `json:"event_code"`
	TotalPhotos int            `json:"total_photos"`
	TotalFaces  int            `json:"total_faces"`
	ByStatus    map[string]int `json:"by_status"`
	PhotoIDs    []string       `json:"photo_ids"`
}

// ErrorResponse is the body of every non-2xx reply. Code is a stable
// machine-readable identifier such as "corrupt_image" or "no_face_in_selfie".
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

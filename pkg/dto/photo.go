package dto

type PhotoResponse struct {
	PhotoID     string `json:"photo_id"`
	EventCode   string `json:"event_code"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	FaceCount   int    `json:"face_count"`
	Duplicate   bool   `json:"duplicate"`
	UploadedAt  string `json:"uploaded_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

// IngestErrorResponse is returned when processing ended in a failed status.
type IngestErrorResponse struct {
	ErrorResponse
	Photo *PhotoResponse `json:"photo,omitempty"`
}

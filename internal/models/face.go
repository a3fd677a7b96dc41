package models

// Vector is a face descriptor. Its length is fixed per deployment.
type Vector []float32

// Rect is a face bounding box in source pixel coordinates.
type Rect struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// Area returns the box area; degenerate boxes have zero area.
func (r Rect) Area() float64 {
	w := float64(r.X2 - r.X1)
	h := float64(r.Y2 - r.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Face is one detected face: its descriptor plus where it was found.
type Face struct {
	Descriptor Vector `json:"descriptor"`
	BBox       Rect   `json:"bbox"`
}

// StoredFace is a descriptor as persisted for a photo.
type StoredFace struct {
	EventCode string `json:"event_code" db:"event_code"`
	PhotoID   string `json:"photo_id" db:"photo_id"`
	Index     int    `json:"index" db:"face_index"`
	Face
}

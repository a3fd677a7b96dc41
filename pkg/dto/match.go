package dto

type MatchItem struct {
	PhotoID  string  `json:"photo_id"`
	Distance float64 `json:"distance"`
}

type MatchResponse struct {
	Matches []MatchItem `json:"matches"`
	Total   int         `json:"total"`
}

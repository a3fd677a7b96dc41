package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventface/internal/pipeline"
	"github.com/your-org/eventface/pkg/dto"
)

type MatchHandler struct {
	querier  *pipeline.Querier
	maxBytes int64
}

// NewMatchHandler builds the selfie endpoint. querier may be nil when no
// extractor is available.
func NewMatchHandler(querier *pipeline.Querier, maxBytes int64) *MatchHandler {
	return &MatchHandler{querier: querier, maxBytes: maxBytes}
}

// Match handles POST /v1/events/:code/match.
func (h *MatchHandler) Match(c *gin.Context) {
	code, ok := eventCode(c)
	if !ok {
		return
	}
	selfie, ok := readImage(c, h.maxBytes)
	if !ok {
		return
	}

	maxResults := 0
	if v := c.PostForm("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			abortWith(c, http.StatusBadRequest, "invalid_max_results", "max_results must be a non-negative integer")
			return
		}
		maxResults = n
	}

	if h.querier == nil {
		abortWith(c, http.StatusServiceUnavailable, "extractor_unavailable", "face extractor not initialized")
		return
	}

	result, err := h.querier.Query(c.Request.Context(), code, selfie, maxResults)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.MatchResponse{Matches: make([]dto.MatchItem, 0, len(result)), Total: len(result)}
	for _, m := range result {
		resp.Matches = append(resp.Matches, dto.MatchItem{PhotoID: m.PhotoID, Distance: m.Distance})
	}
	c.JSON(http.StatusOK, resp)
}

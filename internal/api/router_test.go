package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventface/internal/api/handlers"
	"github.com/your-org/eventface/internal/matching"
	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/pipeline"
	"github.com/your-org/eventface/internal/storage"
	"github.com/your-org/eventface/pkg/dto"
)

// stubExtractor returns faces keyed by the red value of pixel (0,0).
type stubExtractor struct {
	faces map[uint8][]models.Face
	err   error
}

func (s *stubExtractor) Extract(_ context.Context, img image.Image) ([]models.Face, error) {
	if s.err != nil {
		return nil, s.err
	}
	r, _, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	return s.faces[uint8(r>>8)], nil
}

func pngOf(t *testing.T, red uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = red, 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func multipartRequest(t *testing.T, method, path string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if image != nil {
		part, err := w.CreateFormFile("image", "photo.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write(image)
	}
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	_ = w.Close()

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

type testEnv struct {
	router *gin.Engine
	store  *storage.MemoryStore
	ex     *stubExtractor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore(2)
	if _, err := store.CreateEvent(context.Background(), "E1"); err != nil {
		t.Fatalf("create event: %v", err)
	}
	ex := &stubExtractor{faces: map[uint8][]models.Face{
		1: {{Descriptor: models.Vector{0.3, 0}, BBox: models.Rect{X2: 2, Y2: 2}}},
		2: {{Descriptor: models.Vector{0.8, 0}, BBox: models.Rect{X2: 2, Y2: 2}}, {Descriptor: models.Vector{0, 0.1}, BBox: models.Rect{X1: 2, X2: 4, Y2: 2}}},
		9: {{Descriptor: models.Vector{0, 0}, BBox: models.Rect{X2: 3, Y2: 3}}},
	}}
	cfg := pipeline.IngestConfig{ExtractionTimeout: time.Second}
	engine := matching.NewEngine(store, matching.Config{Threshold: 0.5})

	router := NewRouter(RouterConfig{
		APIKey:         "admin-key",
		MaxUploadBytes: 64 << 10,
		Store:          store,
		Ingestor:       pipeline.NewIngestor(store, ex, cfg),
		Querier:        pipeline.NewQuerier(ex, engine, cfg),
		Index:          engine,
		ReadyChecks:    map[string]handlers.Pinger{"store": store},
	})
	return &testEnv{router: router, store: store, ex: ex}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestUploadAndMatch(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(multipartRequest(t, http.MethodPost, "/v1/events/E1/photos", pngOf(t, 1), nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload p1: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	p1 := decode[dto.PhotoResponse](t, w)
	if p1.Status != "processed" || p1.FaceCount != 1 || p1.Duplicate {
		t.Errorf("unexpected upload response: %+v", p1)
	}

	w = env.do(multipartRequest(t, http.MethodPost, "/v1/events/E1/photos", pngOf(t, 2), nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload p2: expected 201, got %d", w.Code)
	}
	p2 := decode[dto.PhotoResponse](t, w)

	w = env.do(multipartRequest(t, http.MethodPost, "/v1/events/E1/match", pngOf(t, 9), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("match: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[dto.MatchResponse](t, w)
	if resp.Total != 2 || resp.Matches[0].PhotoID != p2.PhotoID || resp.Matches[1].PhotoID != p1.PhotoID {
		t.Errorf("unexpected matches: %+v", resp)
	}

	w = env.do(multipartRequest(t, http.MethodPost, "/v1/events/E1/match", pngOf(t, 9), map[string]string{"max_results": "1"}))
	if resp := decode[dto.MatchResponse](t, w); resp.Total != 1 {
		t.Errorf("expected 1 capped match, got %+v", resp)
	}
}

func TestUpload_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	img := pngOf(t, 1)

	first := env.do(multipartRequest(t, http.MethodPost, "/v1/events/E1/photos", img, nil))
	second := env.do(multipartRequest(t, http.MethodPost, "/v1/events/E1/photos", img, nil))

	if first.Code != http.StatusCreated || second.Code != http.StatusOK {
		t.Fatalf("expected 201 then 200, got %d then %d", first.Code, second.Code)
	}
	a := decode[dto.PhotoResponse](t, first)
	b := decode[dto.PhotoResponse](t, second)
	if a.PhotoID != b.PhotoID || !b.Duplicate || b.Status != "processed" {
		t.Errorf("unexpected duplicate response: %+v", b)
	}
	snap, _ := env.store.DescriptorsFor(context.Background(), "E1")
	if snap.Len() != 1 {
		t.Errorf("expected 1 descriptor, got %d", snap.Len())
	}
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		image    []byte
		extErr   error
		wantCode int
		wantErr  string
	}{
		{"missing image", "/v1/events/E1/photos", nil, nil, http.StatusBadRequest, "image_required"},
		{"unknown event", "/v1/events/nope/photos", []byte("x"), nil, http.StatusNotFound, "event_not_found"},
		{"invalid code", "/v1/events/bad%20code/photos", []byte("x"), nil, http.StatusBadRequest, "invalid_event_code"},
		{"unsupported", "/v1/events/E1/photos", []byte("not an image at all"), nil, http.StatusUnprocessableEntity, "unsupported_format"},
		{"too large", "/v1/events/E1/photos", make([]byte, 128<<10), nil, http.StatusRequestEntityTooLarge, "image_too_large"},
		{"extractor down", "/v1/events/E1/photos", nil, errors.New("boom"), http.StatusServiceUnavailable, "extraction_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.ex.err = tt.extErr
			img := tt.image
			if tt.extErr != nil {
				img = pngOf(t, 1)
			}

			w := env.do(multipartRequest(t, http.MethodPost, tt.path, img, nil))
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if body := decode[dto.ErrorResponse](t, w); body.Code != tt.wantErr {
				t.Errorf("expected code %q, got %q", tt.wantErr, body.Code)
			}
		})
	}
}

func TestMatch_NoFace(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(multipartRequest(t, http.MethodPost, "/v1/events/E1/match", pngOf(t, 5), nil))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if body := decode[dto.ErrorResponse](t, w); body.Code != "no_face_in_selfie" {
		t.Errorf("unexpected code %q", body.Code)
	}
}

func TestMatch_InvalidMaxResults(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(multipartRequest(t, http.MethodPost, "/v1/events/E1/match", pngOf(t, 9), map[string]string{"max_results": "-1"}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPhotoStatusAndStats(t *testing.T) {
	env := newTestEnv(t)
	up := decode[dto.PhotoResponse](t, env.do(multipartRequest(t, http.MethodPost, "/v1/events/E1/photos", pngOf(t, 5), nil)))
	if up.Status != "no_face_detected" {
		t.Fatalf("expected no_face_detected, got %s", up.Status)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/events/E1/photos/"+up.PhotoID, nil))
	if w.Code != http.StatusOK || decode[dto.PhotoResponse](t, w).Status != "no_face_detected" {
		t.Errorf("status poll failed: %d %s", w.Code, w.Body.String())
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/events/E1/photos/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown photo, got %d", w.Code)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/events/E1/stats", nil))
	stats := decode[dto.EventStatsResponse](t, w)
	if stats.TotalPhotos != 1 || stats.ByStatus["no_face_detected"] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/events/missing/stats", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown event stats, got %d", w.Code)
	}
}

func TestEventAdmin(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/events/E2", nil)
	if w := env.do(req); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/v1/events/E2", nil)
	req.Header.Set("X-API-Key", "admin-key")
	if w := env.do(req); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/v1/events/E2", nil)
	req.Header.Set("X-API-Key", "admin-key")
	if w := env.do(req); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat create, got %d", w.Code)
	}

	env.do(multipartRequest(t, http.MethodPost, "/v1/events/E2/photos", pngOf(t, 1), nil))

	req = httptest.NewRequest(http.MethodDelete, "/v1/events/E2", nil)
	req.Header.Set("X-API-Key", "admin-key")
	if w := env.do(req); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	// Queries against a deleted event come back empty.
	w := env.do(multipartRequest(t, http.MethodPost, "/v1/events/E2/match", pngOf(t, 9), nil))
	if w.Code != http.StatusOK || decode[dto.MatchResponse](t, w).Total != 0 {
		t.Errorf("expected empty match for deleted event, got %d %s", w.Code, w.Body.String())
	}
}

func TestDeletePhoto(t *testing.T) {
	env := newTestEnv(t)
	up := decode[dto.PhotoResponse](t, env.do(multipartRequest(t, http.MethodPost, "/v1/events/E1/photos", pngOf(t, 1), nil)))

	req := httptest.NewRequest(http.MethodDelete, "/v1/events/E1/photos/"+up.PhotoID, nil)
	req.Header.Set("X-API-Key", "admin-key")
	if w := env.do(req); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	snap, _ := env.store.DescriptorsFor(context.Background(), "E1")
	if snap.Len() != 0 {
		t.Errorf("descriptors survived photo delete: %d", snap.Len())
	}
}

func TestSystemEndpoints(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		if w := env.do(httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
	}
}

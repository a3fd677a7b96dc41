package vision

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 30), uint8(y * 30), 100, 255})
		}
	}
	return img
}

func TestRemoteExtractor_Extract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/faces" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			http.Error(w, "missing image", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if len(data) == 0 {
			http.Error(w, "empty image", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"faces":[
			{"descriptor":[0.1,0.2,0.3],"box":{"x1":1,"y1":2,"x2":5,"y2":6}},
			{"descriptor":[0.4,0.5,0.6],"box":{"x1":0,"y1":0,"x2":2,"y2":2}}
		]}`))
	}))
	defer server.Close()

	e := NewRemoteExtractor(server.URL+"/", 3, 5*time.Second)
	faces, err := e.Extract(context.Background(), testImage())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	if faces[0].BBox.X2 != 5 || faces[0].Descriptor[2] != 0.3 {
		t.Errorf("unexpected first face: %+v", faces[0])
	}
}

func TestRemoteExtractor_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusServiceUnavailable, "down", ErrUnavailable},
		{"wrong dimension", http.StatusOK, `{"faces":[{"descriptor":[1,2],"box":{}}]}`, nil},
		{"bad json", http.StatusOK, `{`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewRemoteExtractor(server.URL, 3, time.Second).Extract(context.Background(), testImage())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRemoteExtractor_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewRemoteExtractor(url, 3, time.Second).Extract(context.Background(), testImage())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRemoteExtractor_OversizedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Valid JSON padded with whitespace past the limit.
		_, _ = w.Write([]byte(`{"faces":[` + strings.Repeat(" ", maxResponseBytes) + `]}`))
	}))
	defer server.Close()

	_, err := NewRemoteExtractor(server.URL, 3, 5*time.Second).Extract(context.Background(), testImage())
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}
}

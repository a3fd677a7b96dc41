package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/your-org/eventface/internal/models"
)

// maxResponseBytes bounds a face service reply. A 128-d descriptor with its
// box is well under 4KiB, so this leaves room for thousands of faces.
const maxResponseBytes = 8 << 20

// ErrResponseTooLarge is returned when the face service reply exceeds
// maxResponseBytes.
var ErrResponseTooLarge = errors.New("face service response too large")

// RemoteExtractor delegates detection and recognition to an HTTP face
// service that accepts a multipart "image" and answers
// {"faces":[{"descriptor":[...],"box":{"x1":..,"y1":..,"x2":..,"y2":..}}]}.
// This is our own contract: a bare {"descriptors":[...]} list has no boxes,
// and every stored face needs one.
type RemoteExtractor struct {
	baseURL string
	dim     int
	client  *http.Client
}

func NewRemoteExtractor(baseURL string, dim int, timeout time.Duration) *RemoteExtractor {
	return &RemoteExtractor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{Timeout: timeout},
	}
}

type remoteFace struct {
	Descriptor []float32   `json:"descriptor"`
	Box        models.Rect `json:"box"`
}

type remoteResponse struct {
	Faces []remoteFace `json:"faces"`
}

func (r *RemoteExtractor) Extract(ctx context.Context, img image.Image) ([]models.Face, error) {
	// PNG keeps the pixels the service sees identical to ours.
	var encoded bytes.Buffer
	if err := png.Encode(&encoded, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	body, err := r.postImage(ctx, "/faces", encoded.Bytes())
	if err != nil {
		return nil, err
	}

	var resp remoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse face response: %w", err)
	}

	faces := make([]models.Face, 0, len(resp.Faces))
	for i, f := range resp.Faces {
		if len(f.Descriptor) != r.dim {
			return nil, fmt.Errorf("face %d: service returned %d values, want %d", i, len(f.Descriptor), r.dim)
		}
		faces = append(faces, models.Face{Descriptor: f.Descriptor, BBox: f.Box})
	}
	return faces, nil
}

func (r *RemoteExtractor) postImage(ctx context.Context, endpoint string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("face service: %w", context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read face response: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxResponseBytes)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	default:
		return nil, fmt.Errorf("face service error (status %d): %s", resp.StatusCode, string(body))
	}
}

// Ping checks that the face service answers.
func (r *RemoteExtractor) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

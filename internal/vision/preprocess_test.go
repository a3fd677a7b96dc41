package vision

import (
	"image"
	"testing"

	"github.com/your-org/eventface/internal/models"
)

func TestCropFace(t *testing.T) {
	img := testImage()

	tests := []struct {
		name  string
		box   models.Rect
		wantW int
		nilOK bool
	}{
		{"inside", models.Rect{X1: 2, Y1: 2, X2: 6, Y2: 6}, 4, false},
		{"clamped", models.Rect{X1: -5, Y1: -5, X2: 4, Y2: 4}, 4, false},
		{"outside", models.Rect{X1: 20, Y1: 20, X2: 30, Y2: 30}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crop := cropFace(img, tt.box)
			if tt.nilOK {
				if crop != nil {
					t.Fatalf("expected nil crop, got %v", crop.Bounds())
				}
				return
			}
			if crop == nil {
				t.Fatal("unexpected nil crop")
			}
			if crop.Bounds().Dx() != tt.wantW {
				t.Errorf("expected width %d, got %d", tt.wantW, crop.Bounds().Dx())
			}
		})
	}
}

func TestImageToFloat32CHW(t *testing.T) {
	src := testImage()
	before := src.(*image.RGBA).Pix[0]

	data := imageToFloat32CHW(src, 4, 4, [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
	if len(data) != 3*4*4 {
		t.Fatalf("expected %d values, got %d", 3*4*4, len(data))
	}
	if src.(*image.RGBA).Pix[0] != before {
		t.Error("preprocessing modified the source image")
	}
	// Blue channel is constant 100 in the test image.
	if data[2*16] != 100 {
		t.Errorf("expected blue plane value 100, got %f", data[2*16])
	}
}

func TestNMS(t *testing.T) {
	dets := []Detection{
		{Box: models.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.8},
		{Box: models.Rect{X1: 1, Y1: 1, X2: 10, Y2: 10}, Confidence: 0.9},
		{Box: models.Rect{X1: 50, Y1: 50, X2: 60, Y2: 60}, Confidence: 0.7},
	}
	kept := nms(dets, 0.4)
	if len(kept) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(kept))
	}
	if kept[0].Confidence != 0.9 {
		t.Errorf("expected most confident box first, got %f", kept[0].Confidence)
	}
}

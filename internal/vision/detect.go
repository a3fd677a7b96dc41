package vision

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/eventface/internal/models"
)

// Detection is one face found by the detector.
type Detection struct {
	Box        models.Rect
	Confidence float32
}

// Detector runs RetinaFace face detection using ONNX Runtime.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// stride configuration for RetinaFace det_10g
var strides = []int{8, 16, 32}

const anchorsPerStride = 2

const nmsIoU = 0.4

// NewDetector loads the RetinaFace ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// det_10g emits scores [N,1] then boxes [N,4] for strides 8, 16, 32,
	// with N = (640/stride)^2 * 2. Landmark heads are not bound.
	type outputSpec struct {
		name  string
		shape ort.Shape
	}
	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))
	destroy := func() {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			if t != nil {
				t.Destroy()
			}
		}
	}

	for i, out := range outputs {
		outputNames[i] = out.name
		t, err := ort.NewEmptyTensor[float32](out.shape)
		if err != nil {
			destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", out.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect runs face detection on a preprocessed CHW image. origW and origH
// are the source dimensions the boxes are scaled back to. Results are
// ordered top-to-bottom, then left-to-right.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	detections := nms(d.decode(origW, origH), nmsIoU)
	slices.SortStableFunc(detections, func(a, b Detection) int {
		if c := cmp.Compare(a.Box.Y1, b.Box.Y1); c != 0 {
			return c
		}
		return cmp.Compare(a.Box.X1, b.Box.X1)
	})
	return detections, nil
}

// decode turns anchor-relative RetinaFace outputs into pixel boxes.
func (d *Detector) decode(origW, origH int) []Detection {
	var detections []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		boxes := d.outputTensors[si+len(strides)].GetData()
		st := float32(stride)
		fmW := d.inputW / stride
		fmH := d.inputH / stride

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a, idx = a+1, idx+1 {
					if scores[idx] < d.threshold {
						continue
					}
					ax := float32(cx) * st
					ay := float32(cy) * st
					box := models.Rect{
						X1: clampF((ax-boxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
						Y1: clampF((ay-boxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
						X2: clampF((ax+boxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
						Y2: clampF((ay+boxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
					}
					if box.Area() == 0 {
						continue
					}
					detections = append(detections, Detection{Box: box, Confidence: scores[idx]})
				}
			}
		}
	}
	return detections
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms performs Non-Maximum Suppression, keeping the most confident box of
// each overlapping group.
func nms(detections []Detection, iouThreshold float64) []Detection {
	if len(detections) == 0 {
		return detections
	}

	slices.SortStableFunc(detections, func(a, b Detection) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}
	for i := range detections {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if keep[j] && iou(detections[i].Box, detections[j].Box) > iouThreshold {
				keep[j] = false
			}
		}
	}

	result := detections[:0]
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b models.Rect) float64 {
	inter := models.Rect{
		X1: float32(math.Max(float64(a.X1), float64(b.X1))),
		Y1: float32(math.Max(float64(a.Y1), float64(b.Y1))),
		X2: float32(math.Min(float64(a.X2), float64(b.X2))),
		Y2: float32(math.Min(float64(a.Y2), float64(b.Y2))),
	}.Area()

	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}

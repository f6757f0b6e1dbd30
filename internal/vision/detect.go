package vision

import (
	"fmt"
	"image"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face located by the detector, in source-image pixel coordinates.
type Detection struct {
	Box       [4]float32    // x1, y1, x2, y2
	Score     float32
	Landmarks [5][2]float32 // eyes, nose, mouth corners
}

// RetinaFace det_10g: 640x640 input, three strides, two anchors per cell.
const (
	detInputSize     = 640
	anchorsPerCell   = 2
	nmsIoUThreshold  = 0.4
	detInputName     = "input.1"
	landmarksPerFace = 5
)

var detStrides = []int{8, 16, 32}

// Output tensor names in det_10g, grouped per stride: scores, boxes, landmarks.
var detOutputNames = [3][3]string{
	{"448", "451", "454"}, // stride 8
	{"471", "474", "477"}, // stride 16
	{"494", "497", "500"}, // stride 32
}

type strideOutput struct {
	stride int
	scores *ort.Tensor[float32] // [N, 1]
	boxes  *ort.Tensor[float32] // [N, 4]
	marks  *ort.Tensor[float32] // [N, 10]
}

// Detector runs RetinaFace over a full frame. It owns fixed tensors and is not
// safe for concurrent use; Extractor pools instances.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	outputs   []strideOutput
	threshold float32
}

// NewDetector loads the detection model. opts may be nil for ORT defaults.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	d.input = input

	var (
		names  []string
		values []ort.Value
	)
	for i, stride := range detStrides {
		cells := int64((detInputSize / stride) * (detInputSize / stride) * anchorsPerCell)
		out := strideOutput{stride: stride}
		shapes := []struct {
			dst  **ort.Tensor[float32]
			cols int64
		}{
			{&out.scores, 1},
			{&out.boxes, 4},
			{&out.marks, landmarksPerFace * 2},
		}
		for j, s := range shapes {
			t, err := ort.NewEmptyTensor[float32](ort.NewShape(cells, s.cols))
			if err != nil {
				d.Close()
				return nil, fmt.Errorf("create output tensor %s: %w", detOutputNames[i][j], err)
			}
			*s.dst = t
			names = append(names, detOutputNames[i][j])
			values = append(values, t)
		}
		d.outputs = append(d.outputs, out)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{detInputName}, names,
		[]ort.Value{input}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	d.session = session
	return d, nil
}

// Detect returns faces above the confidence threshold after non-maximum suppression,
// ordered by descending score.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	copy(d.input.GetData(), toCHW(img, detInputSize, detInputSize, detNorm))
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	sx := float32(w) / detInputSize
	sy := float32(h) / detInputSize

	var found []Detection
	for _, out := range d.outputs {
		found = append(found, decodeStride(
			out.scores.GetData(), out.boxes.GetData(), out.marks.GetData(),
			out.stride, d.threshold, sx, sy, w, h,
		)...)
	}
	return suppress(found, nmsIoUThreshold), nil
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, out := range d.outputs {
		for _, t := range []*ort.Tensor[float32]{out.scores, out.boxes, out.marks} {
			if t != nil {
				t.Destroy()
			}
		}
	}
}

// decodeStride turns anchor-relative distances at one stride into pixel boxes.
// Outputs are laid out row-major over the feature map with anchorsPerCell anchors per cell.
func decodeStride(scores, boxes, marks []float32, stride int, threshold, sx, sy float32, w, h int) []Detection {
	var out []Detection
	side := detInputSize / stride
	st := float32(stride)

	idx := 0
	for cy := 0; cy < side; cy++ {
		for cx := 0; cx < side; cx++ {
			ax := float32(cx) * st
			ay := float32(cy) * st
			for a := 0; a < anchorsPerCell; a++ {
				if idx >= len(scores) {
					return out
				}
				if scores[idx] >= threshold {
					bx := boxes[idx*4 : idx*4+4]
					det := Detection{
						Box: [4]float32{
							clamp((ax-bx[0]*st)*sx, 0, float32(w)),
							clamp((ay-bx[1]*st)*sy, 0, float32(h)),
							clamp((ax+bx[2]*st)*sx, 0, float32(w)),
							clamp((ay+bx[3]*st)*sy, 0, float32(h)),
						},
						Score: scores[idx],
					}
					for l := 0; l < landmarksPerFace; l++ {
						det.Landmarks[l][0] = (ax + marks[idx*10+l*2]*st) * sx
						det.Landmarks[l][1] = (ay + marks[idx*10+l*2+1]*st) * sy
					}
					out = append(out, det)
				}
				idx++
			}
		}
	}
	return out
}

// suppress keeps the strongest detection of every overlapping cluster.
// Ties are broken by position so that the output order is stable for a given image.
func suppress(dets []Detection, iouThreshold float32) []Detection {
	if len(dets) == 0 {
		return nil
	}

	sort.SliceStable(dets, func(i, j int) bool {
		if dets[i].Score != dets[j].Score {
			return dets[i].Score > dets[j].Score
		}
		if dets[i].Box[0] != dets[j].Box[0] {
			return dets[i].Box[0] < dets[j].Box[0]
		}
		return dets[i].Box[1] < dets[j].Box[1]
	})

	kept := make([]Detection, 0, len(dets))
	for _, cand := range dets {
		overlapping := false
		for _, k := range kept {
			if iou(cand.Box, k.Box) > iouThreshold {
				overlapping = true
				break
			}
		}
		if !overlapping {
			kept = append(kept, cand)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	ix := max(0, min(a[2], b[2])-max(a[0], b[0]))
	iy := max(0, min(a[3], b[3])-max(a[1], b[1]))
	inter := ix * iy

	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}

package vision

import (
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// channelNorm maps an 8-bit channel value v to (v - mean) / std.
type channelNorm struct {
	mean, std float32
}

var (
	detNorm = channelNorm{mean: 127.5, std: 128}
	embNorm = channelNorm{mean: 127.5, std: 127.5}
)

// cropPadding widens detector boxes so the crop includes the whole face outline.
const cropPadding = 0.1

// toCHW resizes img to w x h and lays it out as planar R, G, B float32 values.
func toCHW(img image.Image, w, h int, n channelNorm) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			i := y*w + x
			out[i] = (float32(px[0]) - n.mean) / n.std
			out[plane+i] = (float32(px[1]) - n.mean) / n.std
			out[2*plane+i] = (float32(px[2]) - n.mean) / n.std
		}
	}
	return out
}

// cropFace copies the padded box region out of img. It returns nil when the box
// does not intersect the image.
func cropFace(img image.Image, box [4]float32) image.Image {
	b := img.Bounds()
	r := image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3])).Intersect(b)
	if r.Empty() {
		return nil
	}

	padX := int(float32(r.Dx()) * cropPadding)
	padY := int(float32(r.Dy()) * cropPadding)
	r = image.Rect(r.Min.X-padX, r.Min.Y-padY, r.Max.X+padX, r.Max.Y+padY).Intersect(b)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop
}

// arcfaceReference holds the canonical five-point landmark positions in a
// 112x112 ArcFace crop.
var arcfaceReference = [5][2]float64{
	{38.2946, 51.6963},
	{73.5318, 51.5014},
	{56.0252, 71.7366},
	{41.5493, 92.3655},
	{70.7299, 92.2041},
}

// similarityTransform fits scale, rotation and translation mapping src onto dst
// in the least-squares sense. ok is false for degenerate (coincident) points.
func similarityTransform(src [5][2]float32, dst [5][2]float64) (m f64.Aff3, ok bool) {
	var sx, sy, dx, dy float64
	for i := range src {
		sx += float64(src[i][0])
		sy += float64(src[i][1])
		dx += dst[i][0]
		dy += dst[i][1]
	}
	n := float64(len(src))
	sx, sy, dx, dy = sx/n, sy/n, dx/n, dy/n

	var num1, num2, den float64
	for i := range src {
		px, py := float64(src[i][0])-sx, float64(src[i][1])-sy
		qx, qy := dst[i][0]-dx, dst[i][1]-dy
		num1 += px*qx + py*qy
		num2 += px*qy - py*qx
		den += px*px + py*py
	}
	if den < 1e-9 {
		return f64.Aff3{}, false
	}
	a, b := num1/den, num2/den
	tx := dx - (a*sx - b*sy)
	ty := dy - (b*sx + a*sy)
	return f64.Aff3{a, -b, tx, b, a, ty}, true
}

// alignFace warps img so the landmarks land on the ArcFace reference points.
func alignFace(img image.Image, landmarks [5][2]float32) (image.Image, bool) {
	m, ok := similarityTransform(landmarks, arcfaceReference)
	if !ok {
		return nil, false
	}
	dst := image.NewRGBA(image.Rect(0, 0, embInputSize, embInputSize))
	draw.BiLinear.Transform(dst, m, img, img.Bounds(), draw.Src, nil)
	return dst, true
}

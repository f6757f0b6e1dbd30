package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrDecode marks payloads that are not a decodable image.
var ErrDecode = errors.New("image payload is not decodable")

// Payload is the decoded body of a data URI.
type Payload struct {
	MIME string
	Data []byte
}

// ParseDataURI splits "<mime-descriptor>,<base64>" as sent by browser capture widgets,
// e.g. "data:image/jpeg;base64,/9j/4AAQ...". A bare base64 string without a header is accepted.
func ParseDataURI(uri string) (*Payload, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	header, encoded, found := strings.Cut(uri, ",")
	if !found {
		header, encoded = "", uri
	}

	mime := strings.TrimPrefix(header, "data:")
	mime, _, _ = strings.Cut(mime, ";")

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Some encoders strip padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	return &Payload{MIME: mime, Data: data}, nil
}

// Normalizer decodes inbound payloads into RGBA rasters for extraction.
type Normalizer struct {
	// ScratchDir, when set, makes Normalize stage the payload in a temp file there
	// before decoding. The file is always removed before Normalize returns.
	ScratchDir string
	// MaxBytes rejects larger payloads. Zero means unlimited.
	MaxBytes int64
	// MaxDimension downscales rasters whose longer side exceeds it. Zero disables.
	MaxDimension int
	// MaxPixels rejects images whose header declares more pixels than this,
	// before the raster is allocated. Zero means unlimited.
	MaxPixels int64
}

// NormalizeDataURI parses a data URI and normalizes its image.
func (n *Normalizer) NormalizeDataURI(uri, hint string) (*image.RGBA, error) {
	payload, err := ParseDataURI(uri)
	if err != nil {
		return nil, err
	}
	return n.Normalize(payload.Data, hint)
}

// Normalize decodes data (JPEG, PNG, GIF, WebP or BMP) into an RGBA raster anchored at (0,0).
// hint is a short prefix used to name scratch files, e.g. "reg" or "login".
func (n *Normalizer) Normalize(data []byte, hint string) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if n.MaxBytes > 0 && int64(len(data)) > n.MaxBytes {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrDecode, len(data), n.MaxBytes)
	}
	if err := n.checkPixels(data); err != nil {
		return nil, err
	}

	var (
		img image.Image
		err error
	)
	if n.ScratchDir != "" {
		img, err = decodeViaScratch(n.ScratchDir, hint, data)
	} else {
		img, err = decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, err
	}

	return toRGBA(img, n.MaxDimension), nil
}

// checkPixels reads only the image header. A compressed payload of a few KB can
// declare a raster of many gigabytes.
func (n *Normalizer) checkPixels(data []byte) error {
	if n.MaxPixels <= 0 {
		return nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: empty raster", ErrDecode)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > n.MaxPixels {
		return fmt.Errorf("%w: %dx%d raster exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, n.MaxPixels)
	}
	return nil
}

func decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty raster", ErrDecode)
	}
	return img, nil
}

func decodeViaScratch(dir, hint string, data []byte) (image.Image, error) {
	if hint == "" {
		hint = "face"
	}
	f, err := os.CreateTemp(dir, hint+"_*.img")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("write scratch file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind scratch file: %w", err)
	}
	return decode(f)
}

// toRGBA copies img onto an opaque RGBA canvas, downscaling when maxDim is exceeded.
func toRGBA(img image.Image, maxDim int) *image.RGBA {
	src := img.Bounds()
	w, h := src.Dx(), src.Dy()

	if maxDim > 0 && (w > maxDim || h > maxDim) {
		if w >= h {
			h = max(1, h*maxDim/w)
			w = maxDim
		} else {
			w = max(1, w*maxDim/h)
			h = maxDim
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// Flatten transparency onto white so PNG captures with alpha look like camera frames.
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == src.Dx() && h == src.Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	}
	return dst
}

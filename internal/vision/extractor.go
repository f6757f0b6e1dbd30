package vision

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
)

const (
	detectorModel = "det_10g.onnx"
	embedderModel = "w600k_r50.onnx"
)

var (
	errEmptyRaster       = errors.New("empty image")
	errUnusableDetection = errors.New("detected face has no usable region")
)

type modelSet struct {
	det *Detector
	emb *Embedder
}

func (m *modelSet) close() {
	if m.det != nil {
		m.det.Close()
	}
	if m.emb != nil {
		m.emb.Close()
	}
}

// Extractor turns a raster into one embedding per detected face. It keeps a
// fixed pool of model sets so concurrent calls run in parallel up to the pool size.
type Extractor struct {
	pool chan *modelSet
	sets []*modelSet
}

// NewExtractor loads cfg.WorkerCount detector/embedder pairs from cfg.ModelsDir.
// The ONNX runtime environment must already be initialized.
func NewExtractor(cfg config.VisionConfig) (*Extractor, error) {
	workers := max(cfg.WorkerCount, 1)
	detPath := filepath.Join(cfg.ModelsDir, detectorModel)
	embPath := filepath.Join(cfg.ModelsDir, embedderModel)

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}

	e := &Extractor{pool: make(chan *modelSet, workers)}
	for i := 0; i < workers; i++ {
		set := &modelSet{}
		set.det, err = NewDetector(detPath, float32(cfg.DetectionThreshold), opts)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("load detector: %w", err)
		}
		set.emb, err = NewEmbedder(embPath, cfg.EmbeddingDim, opts)
		if err != nil {
			set.close()
			e.Close()
			return nil, fmt.Errorf("load embedder: %w", err)
		}
		e.sets = append(e.sets, set)
		e.pool <- set
	}

	slog.Info("face extractor ready", "workers", workers, "models_dir", cfg.ModelsDir, "dim", cfg.EmbeddingDim)
	return e, nil
}

// Extract detects faces and returns their embeddings in detection order.
// An image without faces yields an empty slice and no error.
func (e *Extractor) Extract(img image.Image) ([]models.Embedding, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errEmptyRaster
	}

	set := <-e.pool
	defer func() { e.pool <- set }()

	start := time.Now()
	dets, err := set.det.Detect(img)
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	out := make([]models.Embedding, 0, len(dets))
	for i, d := range dets {
		start = time.Now()
		face, err := faceRegion(img, d)
		if err != nil {
			return nil, fmt.Errorf("detection %d of %d: %w", i+1, len(dets), err)
		}
		observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

		start = time.Now()
		vec, err := set.emb.Embed(face)
		if err != nil {
			return nil, err
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
		out = append(out, vec)
	}
	return out, nil
}

// faceRegion returns the aligned face for d, or a padded box crop when the
// landmarks are degenerate. A detection with neither is an error: dropping it
// would under-count the faces in the image.
func faceRegion(img image.Image, d Detection) (image.Image, error) {
	if face, ok := alignFace(img, d.Landmarks); ok {
		return face, nil
	}
	if face := cropFace(img, d.Box); face != nil {
		return face, nil
	}
	return nil, errUnusableDetection
}

// Close releases every pooled model set. It must not race with Extract.
func (e *Extractor) Close() {
	for _, s := range e.sets {
		s.close()
	}
	e.sets = nil
}

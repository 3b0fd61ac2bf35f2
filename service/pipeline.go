package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/mesh"
	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/adnanwahab/vizcom-trial/utils"
	"go.uber.org/zap"
)

// Artifact file names inside a job directory.
const (
	CutoutFile = "cutout.png"
	OBJFile    = "model.obj"
	STLFile    = "model.stl"
)

// ErrQueueFull is returned when no pipeline slot frees up within the queue
// timeout.
var ErrQueueFull = errors.New("processing queue is full, try again later")

// Pipeline runs segmentation, selection, cutout, contour and revolve in order
// and persists the artifacts of successful runs.
type Pipeline struct {
	provider     SegmentationProvider
	processor    *MaskProcessor
	options      model.SegmentOptions
	segments     int
	outputDir    string
	writeSTL     bool
	semaphore    chan struct{}
	queueTimeout time.Duration
	newID        func() string
}

func NewPipeline(cfg *config.Config, provider SegmentationProvider) *Pipeline {
	maxConcurrent := cfg.Pipeline.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	queueTimeout := time.Duration(cfg.Pipeline.QueueTimeout) * time.Second
	if queueTimeout <= 0 {
		queueTimeout = time.Minute
	}

	return &Pipeline{
		provider:     provider,
		processor:    NewMaskProcessor(),
		options:      cfg.Provider.Options,
		segments:     cfg.Pipeline.Segments,
		outputDir:    cfg.Pipeline.OutputDir,
		writeSTL:     cfg.Pipeline.WriteSTL,
		semaphore:    make(chan struct{}, maxConcurrent),
		queueTimeout: queueTimeout,
		newID:        utils.NewJobID,
	}
}

// Provider returns the segmentation provider the pipeline was built with.
func (p *Pipeline) Provider() SegmentationProvider {
	return p.provider
}

// OutputDir is the directory job artifacts are written under.
func (p *Pipeline) OutputDir() string {
	return p.outputDir
}

func (p *Pipeline) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, p.queueTimeout)
	defer cancel()

	select {
	case p.semaphore <- struct{}{}:
		return func() { <-p.semaphore }, nil
	case <-ctx.Done():
		return nil, ErrQueueFull
	}
}

// SegmentMask segments img around its center point and returns the best mask
// encoded as a single channel PNG.
func (p *Pipeline) SegmentMask(ctx context.Context, img image.Image) ([]byte, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	bounds := img.Bounds()
	mask, _, err := p.segment(ctx, img, model.CenterPrompt(bounds.Dx(), bounds.Dy()))
	if err != nil {
		return nil, err
	}

	if _, err := ExtractCutout(img, mask); err != nil {
		return nil, err
	}
	return p.processor.EncodePNG(mask)
}

func (p *Pipeline) segment(ctx context.Context, img image.Image, prompt model.Prompt) (*model.Mask, float64, error) {
	candidates, err := p.provider.Segment(ctx, img, prompt, p.options)
	if err != nil {
		return nil, 0, err
	}
	mask, err := SelectBest(candidates)
	if err != nil {
		return nil, 0, err
	}

	score := 0.0
	for _, c := range candidates {
		if c.Mask == mask {
			score = c.Score
			break
		}
	}
	return mask, score, nil
}

// Run executes the whole pipeline for one image. A nil prompt means a
// foreground point at the image center; segments <= 0 uses the configured
// default. Artifacts are written only once every stage has succeeded.
func (p *Pipeline) Run(ctx context.Context, img image.Image, prompt *model.Prompt, segments int) (*model.PipelineResult, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	startTime := time.Now()
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	pr := model.CenterPrompt(width, height)
	if prompt != nil {
		pr = *prompt
	}
	if segments <= 0 {
		segments = p.segments
	}

	log := utils.Component("pipeline")
	log.Info("processing image",
		zap.String("provider", p.provider.Name()),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("segments", segments))

	mask, score, err := p.segment(ctx, img, pr)
	if err != nil {
		return nil, err
	}

	cutout, err := ExtractCutout(img, mask)
	if err != nil {
		return nil, err
	}

	contour, err := p.processor.LargestContour(mask)
	if err != nil {
		return nil, err
	}

	cx, cy := cutout.Box.Center()
	lathe, err := mesh.Revolve(contour, mesh.Point2{X: cx, Y: cy}, segments)
	if err != nil {
		return nil, err
	}

	id := p.newID()
	artifacts, err := p.writeArtifacts(id, cutout, lathe)
	if err != nil {
		return nil, err
	}

	result := &model.PipelineResult{
		ID:            id,
		Provider:      p.provider.Name(),
		Width:         width,
		Height:        height,
		Prompt:        pr,
		Score:         score,
		BoundingBox:   cutout.Box,
		ContourPoints: len(contour.Points),
		ContourArea:   contour.Area,
		Segments:      len(lathe.Vertices) / len(contour.Points),
		VertexCount:   len(lathe.Vertices),
		FaceCount:     len(lathe.Faces),
		Artifacts:     artifacts,
		Timestamp:     time.Now().Unix(),
	}

	log.Info("pipeline finished",
		zap.String("id", id),
		zap.Int("contour_points", result.ContourPoints),
		zap.Float64("contour_area", result.ContourArea),
		zap.Int("vertices", result.VertexCount),
		zap.Int("faces", result.FaceCount),
		zap.Duration("cost", time.Since(startTime)))

	return result, nil
}

// writeArtifacts saves the cutout and the mesh under <output dir>/<id>. On
// any failure the job directory is removed.
func (p *Pipeline) writeArtifacts(id string, cutout *model.Cutout, lathe *mesh.Mesh) (artifacts model.Artifacts, err error) {
	dir := filepath.Join(p.outputDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return artifacts, fmt.Errorf("failed to create job directory: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				utils.Component("pipeline").Warn("failed to remove job directory",
					zap.String("dir", dir), zap.Error(rmErr))
			}
		}
	}()

	if err = SaveCutout(filepath.Join(dir, CutoutFile), cutout); err != nil {
		return artifacts, fmt.Errorf("failed to save cutout: %w", err)
	}
	artifacts.Cutout = filepath.ToSlash(filepath.Join(id, CutoutFile))

	if err = mesh.SaveOBJ(filepath.Join(dir, OBJFile), lathe); err != nil {
		return artifacts, fmt.Errorf("failed to save obj: %w", err)
	}
	artifacts.OBJ = filepath.ToSlash(filepath.Join(id, OBJFile))

	if p.writeSTL {
		if err = lathe.SaveSTL(filepath.Join(dir, STLFile)); err != nil {
			return artifacts, fmt.Errorf("failed to save stl: %w", err)
		}
		artifacts.STL = filepath.ToSlash(filepath.Join(id, STLFile))
	}

	return artifacts, nil
}

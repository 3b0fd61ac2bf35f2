package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/mesh"
	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, provider SegmentationProvider) *Pipeline {
	cfg := config.Default()
	cfg.Pipeline.OutputDir = t.TempDir()
	cfg.Pipeline.QueueTimeout = 1
	return NewPipeline(cfg, provider)
}

func assertNoArtifacts(t *testing.T, dir string) {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPipeline_Run(t *testing.T) {
	mask := circleMask(100, 100, 50, 50, 30)
	provider := &fakeProvider{candidates: []model.Candidate{
		{Mask: rectMask(100, 100, image.Rect(0, 0, 10, 10)), Score: 0.2},
		{Mask: mask, Score: 0.9},
	}}
	p := newTestPipeline(t, provider)

	result, err := p.Run(context.Background(), solidImage(100, 100, color.NRGBA{R: 10, G: 20, B: 30, A: 255}), nil, 64)
	require.NoError(t, err)

	require.Len(t, provider.prompts, 1)
	assert.Equal(t, model.CenterPrompt(100, 100), provider.prompts[0])

	assert.Equal(t, "fake", result.Provider)
	assert.Equal(t, 0.9, result.Score)
	assert.Equal(t, model.BBox{XMin: 20, XMax: 80, YMin: 20, YMax: 80}, result.BoundingBox)
	assert.InDelta(t, circleArea(30), result.ContourArea, circleArea(30)*0.05)
	assert.Equal(t, 64, result.Segments)
	assert.Equal(t, result.ContourPoints*64, result.VertexCount)
	assert.Positive(t, result.FaceCount)

	dir := filepath.Join(p.OutputDir(), result.ID)
	cutout, err := imaging.Open(filepath.Join(dir, CutoutFile))
	require.NoError(t, err)
	assert.Equal(t, 61, cutout.Bounds().Dx())
	assert.Equal(t, 61, cutout.Bounds().Dy())

	lathe, err := mesh.LoadOBJ(filepath.Join(dir, OBJFile))
	require.NoError(t, err)
	assert.Len(t, lathe.Vertices, result.VertexCount)
	assert.Len(t, lathe.Faces, result.FaceCount)

	assert.FileExists(t, filepath.Join(dir, STLFile))
	assert.Equal(t, filepath.ToSlash(filepath.Join(result.ID, OBJFile)), result.Artifacts.OBJ)
}

func TestPipeline_Run_DefaultSegments(t *testing.T) {
	provider := &fakeProvider{candidates: []model.Candidate{
		{Mask: rectMask(40, 40, image.Rect(20, 10, 30, 30)), Score: 1},
	}}
	p := newTestPipeline(t, provider)
	p.writeSTL = false

	result, err := p.Run(context.Background(), solidImage(40, 40, color.White), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 64, result.Segments)
	assert.Empty(t, result.Artifacts.STL)
	assert.NoFileExists(t, filepath.Join(p.OutputDir(), result.ID, STLFile))
}

func TestPipeline_Run_ExplicitPrompt(t *testing.T) {
	provider := &fakeProvider{candidates: []model.Candidate{
		{Mask: circleMask(50, 50, 25, 25, 10), Score: 1},
	}}
	p := newTestPipeline(t, provider)

	prompt := &model.Prompt{Box: &model.Box{X1: 10, Y1: 10, X2: 40, Y2: 40}}
	_, err := p.Run(context.Background(), solidImage(50, 50, color.White), prompt, 16)
	require.NoError(t, err)
	assert.Equal(t, *prompt, provider.prompts[0])
}

func TestPipeline_Run_Failures(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		segments int
		want     error
	}{
		{
			name:     "empty mask",
			provider: &fakeProvider{candidates: []model.Candidate{{Mask: model.NewMask(20, 20), Score: 1}}},
			want:     model.ErrEmptyMask,
		},
		{
			name:     "no candidates",
			provider: &fakeProvider{},
			want:     model.ErrEmptyCandidateSet,
		},
		{
			name:     "provider unavailable",
			provider: &fakeProvider{err: model.NewProviderUnavailableError("down", nil)},
			want:     model.ErrProviderUnavailable,
		},
		{
			name:     "no contour",
			provider: &fakeProvider{candidates: []model.Candidate{{Mask: rectMask(20, 20, image.Rect(5, 5, 6, 6)), Score: 1}}},
			want:     model.ErrNoContourFound,
		},
		{
			name:     "too few segments",
			provider: &fakeProvider{candidates: []model.Candidate{{Mask: rectMask(20, 20, image.Rect(5, 5, 15, 15)), Score: 1}}},
			segments: 2,
			want:     model.ErrDegenerateProfile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, tt.provider)

			result, err := p.Run(context.Background(), solidImage(20, 20, color.White), nil, tt.segments)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.want)
			assertNoArtifacts(t, p.OutputDir())
		})
	}
}

func TestPipeline_Run_WriteFailureLeavesNothing(t *testing.T) {
	provider := &fakeProvider{candidates: []model.Candidate{
		{Mask: rectMask(20, 20, image.Rect(10, 5, 15, 15)), Score: 1},
	}}
	p := newTestPipeline(t, provider)

	// A file where the output directory should be makes every write fail.
	blocked := filepath.Join(p.OutputDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0644))
	p.outputDir = blocked

	_, err := p.Run(context.Background(), solidImage(20, 20, color.White), nil, 8)
	require.Error(t, err)
	_, coded := model.CodeOf(err)
	assert.False(t, coded)

	entries, err := os.ReadDir(filepath.Dir(blocked))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "blocked", entries[0].Name())
}

func TestPipeline_Run_LateWriteFailureRemovesJobDir(t *testing.T) {
	provider := &fakeProvider{candidates: []model.Candidate{
		{Mask: rectMask(20, 20, image.Rect(10, 5, 15, 15)), Score: 1},
	}}
	p := newTestPipeline(t, provider)
	require.True(t, p.writeSTL)
	p.newID = func() string { return "job-1" }

	// The cutout and OBJ succeed; a directory in place of the STL file fails
	// the last write.
	require.NoError(t, os.MkdirAll(filepath.Join(p.OutputDir(), "job-1", STLFile), 0755))

	_, err := p.Run(context.Background(), solidImage(20, 20, color.White), nil, 8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save stl")

	assertNoArtifacts(t, p.OutputDir())
}

func TestPipeline_QueueFull(t *testing.T) {
	p := newTestPipeline(t, &fakeProvider{})
	p.queueTimeout = 10 * time.Millisecond
	p.semaphore <- struct{}{}
	defer func() { <-p.semaphore }()

	_, err := p.Run(context.Background(), solidImage(10, 10, color.White), nil, 0)
	assert.True(t, errors.Is(err, ErrQueueFull))

	_, err = p.SegmentMask(context.Background(), solidImage(10, 10, color.White))
	assert.True(t, errors.Is(err, ErrQueueFull))
}

func TestPipeline_SegmentMask(t *testing.T) {
	mask := circleMask(60, 40, 30, 20, 12)
	provider := &fakeProvider{candidates: []model.Candidate{{Mask: mask, Score: 1}}}
	p := newTestPipeline(t, provider)

	data, err := p.SegmentMask(context.Background(), solidImage(60, 40, color.White))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 60, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())
	assert.Equal(t, mask.Pix, model.MaskFromImage(img, 127).Pix)
	assert.Equal(t, model.CenterPrompt(60, 40), provider.prompts[0])

	assertNoArtifacts(t, p.OutputDir())
}

func TestPipeline_SegmentMask_EmptyMask(t *testing.T) {
	provider := &fakeProvider{candidates: []model.Candidate{{Mask: model.NewMask(10, 10), Score: 1}}}
	p := newTestPipeline(t, provider)

	_, err := p.SegmentMask(context.Background(), solidImage(10, 10, color.White))
	assert.ErrorIs(t, err, model.ErrEmptyMask)
}

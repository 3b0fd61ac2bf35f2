package service

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSAM2Provider_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.SAM2Config{
		LibraryPath: filepath.Join(dir, "onnxruntime.so"),
		EncoderPath: filepath.Join(dir, "encoder.onnx"),
		DecoderPath: filepath.Join(dir, "decoder.onnx"),
	}

	p, err := NewSAM2Provider(cfg)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestSAM2Provider_LoadOnce(t *testing.T) {
	dir := t.TempDir()
	p := &SAM2Provider{cfg: config.SAM2Config{
		LibraryPath: filepath.Join(dir, "onnxruntime.so"),
		EncoderPath: filepath.Join(dir, "encoder.onnx"),
		DecoderPath: filepath.Join(dir, "decoder.onnx"),
	}}

	first := p.Load()
	require.ErrorIs(t, first, model.ErrProviderUnavailable)

	// Once the files exist a fresh load would get further; a memoized one
	// keeps reporting the missing file.
	for _, path := range []string{p.cfg.LibraryPath, p.cfg.EncoderPath, p.cfg.DecoderPath} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	}

	second := p.Load()
	assert.Same(t, first, second)
	assert.ErrorContains(t, second, "model file not found")
}

func TestSAM2Provider_SegmentSerialized(t *testing.T) {
	p := &SAM2Provider{cfg: config.SAM2Config{InputSize: 8, LowResSize: 2}}
	p.loadOnce.Do(func() {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.mu.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := p.Segment(ctx, solidImage(8, 8, color.White), model.CenterPrompt(8, 8), model.SegmentOptions{})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("Segment returned while inference was in progress: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	p.mu.Unlock()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Segment did not return after the lock was released")
	}
}

func TestSAM2Input(t *testing.T) {
	img := solidImage(8, 4, color.NRGBA{R: 255, G: 0, B: 128, A: 255})

	data := sam2Input(img, 4)
	require.Len(t, data, 3*4*4)

	wantR := (1 - sam2Mean[0]) / sam2Std[0]
	wantG := (0 - sam2Mean[1]) / sam2Std[1]
	wantB := (float32(128)/255 - sam2Mean[2]) / sam2Std[2]
	for i := 0; i < 16; i++ {
		assert.InDelta(t, wantR, data[i], 0.02)
		assert.InDelta(t, wantG, data[16+i], 0.02)
		assert.InDelta(t, wantB, data[32+i], 0.02)
	}
}

func TestSAM2Prompt_Point(t *testing.T) {
	coords, labels := sam2Prompt(model.Prompt{
		Point: &model.PromptPoint{X: 100, Y: 50, Label: model.LabelForeground},
	}, 200, 100, 1024)

	assert.Equal(t, []float32{512, 512}, coords)
	assert.Equal(t, []float32{sam2LabelForeground}, labels)

	_, labels = sam2Prompt(model.Prompt{
		Point: &model.PromptPoint{X: 1, Y: 1, Label: model.LabelBackground},
	}, 200, 100, 1024)
	assert.Equal(t, []float32{sam2LabelBackground}, labels)
}

func TestSAM2Prompt_Box(t *testing.T) {
	coords, labels := sam2Prompt(model.Prompt{
		Box: &model.Box{X1: 0, Y1: 25, X2: 100, Y2: 75},
	}, 200, 100, 1024)

	assert.Equal(t, []float32{0, 256, 512, 768}, coords)
	assert.Equal(t, []float32{sam2LabelBoxTopLeft, sam2LabelBoxBotRight}, labels)
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 1, argmax([]float32{0.1, 0.9, 0.5}))
	assert.Equal(t, 0, argmax([]float32{0.7, 0.7}))
}

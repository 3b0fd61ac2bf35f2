package service

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/adnanwahab/vizcom-trial/utils"
	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Normalization constants of the SAM2 image encoder.
var (
	sam2Mean = [3]float32{0.485, 0.456, 0.406}
	sam2Std  = [3]float32{0.229, 0.224, 0.225}
)

// Point labels understood by the SAM2 prompt encoder.
const (
	sam2LabelBackground  float32 = 0
	sam2LabelForeground  float32 = 1
	sam2LabelBoxTopLeft  float32 = 2
	sam2LabelBoxBotRight float32 = 3
)

// The decoder is exported in multimask mode and always yields this many masks;
// mask 0 is the single-mask answer.
const sam2DecoderMasks = 3

var (
	encoderInputs  = []string{"image"}
	encoderOutputs = []string{"high_res_feats_0", "high_res_feats_1", "image_embed"}
	decoderInputs  = []string{"image_embed", "high_res_feats_0", "high_res_feats_1",
		"point_coords", "point_labels", "mask_input", "has_mask_input"}
	decoderOutputs = []string{"masks", "iou_predictions"}
)

// The ONNX Runtime environment is process wide and is initialized at most once.
var (
	ortEnvOnce sync.Once
	ortEnvErr  error
)

// SAM2Provider runs SAM2 in-process from ONNX exports of the image encoder and
// the prompt decoder. The sessions are created once, when the provider is
// built, and live for the rest of the process. Inference is serialized
// because the sessions and their buffers are shared.
type SAM2Provider struct {
	cfg       config.SAM2Config
	processor *MaskProcessor

	loadOnce sync.Once
	loadErr  error

	mu      sync.Mutex
	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession
}

func NewSAM2Provider(cfg *config.SAM2Config) (*SAM2Provider, error) {
	c := *cfg
	if c.InputSize <= 0 {
		c.InputSize = 1024
	}
	if c.LowResSize <= 0 {
		c.LowResSize = c.InputSize / 4
	}

	p := &SAM2Provider{
		cfg:       c,
		processor: NewMaskProcessor(),
	}
	if err := p.Load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *SAM2Provider) Name() string {
	return "sam2-onnx"
}

// Load creates the encoder and decoder sessions. Only the first call does
// any work; later calls return its result.
func (p *SAM2Provider) Load() error {
	p.loadOnce.Do(func() {
		p.loadErr = p.load()
	})
	return p.loadErr
}

func (p *SAM2Provider) load() error {
	for _, path := range []string{p.cfg.LibraryPath, p.cfg.EncoderPath, p.cfg.DecoderPath} {
		if _, err := os.Stat(path); err != nil {
			return model.NewProviderUnavailableError("sam2 model file not found: "+path, err)
		}
	}

	ortEnvOnce.Do(func() {
		ort.SetSharedLibraryPath(p.cfg.LibraryPath)
		ortEnvErr = ort.InitializeEnvironment()
	})
	if ortEnvErr != nil {
		return model.NewProviderUnavailableError("failed to initialize onnxruntime", ortEnvErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return model.NewProviderUnavailableError("failed to create session options", err)
	}
	defer options.Destroy()

	if p.cfg.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(p.cfg.NumThreads); err != nil {
			return model.NewProviderUnavailableError("failed to set thread count", err)
		}
	}
	if p.cfg.UseCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return model.NewProviderUnavailableError("failed to create cuda options", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return model.NewProviderUnavailableError("failed to enable cuda", err)
		}
	}

	encoder, err := ort.NewDynamicAdvancedSession(p.cfg.EncoderPath, encoderInputs, encoderOutputs, options)
	if err != nil {
		return model.NewProviderUnavailableError("failed to load sam2 encoder", err)
	}
	decoder, err := ort.NewDynamicAdvancedSession(p.cfg.DecoderPath, decoderInputs, decoderOutputs, options)
	if err != nil {
		encoder.Destroy()
		return model.NewProviderUnavailableError("failed to load sam2 decoder", err)
	}

	p.encoder = encoder
	p.decoder = decoder

	utils.Component("sam2").Info("sam2 model loaded",
		zap.String("encoder", p.cfg.EncoderPath),
		zap.String("decoder", p.cfg.DecoderPath),
		zap.Bool("cuda", p.cfg.UseCUDA))
	return nil
}

// Segment encodes img, decodes the prompt and returns the filtered masks.
func (p *SAM2Provider) Segment(ctx context.Context, img image.Image, prompt model.Prompt, opts model.SegmentOptions) ([]model.Candidate, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if err := prompt.Validate(width, height); err != nil {
		return nil, err
	}
	if err := p.Load(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := int64(p.cfg.InputSize)
	low := int64(p.cfg.LowResSize)

	input, err := ort.NewTensor(ort.NewShape(1, 3, size, size), sam2Input(img, p.cfg.InputSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create image tensor: %w", err)
	}
	defer input.Destroy()

	feats0, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 32, size/4, size/4))
	if err != nil {
		return nil, fmt.Errorf("failed to create feature tensor: %w", err)
	}
	defer feats0.Destroy()
	feats1, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 64, size/8, size/8))
	if err != nil {
		return nil, fmt.Errorf("failed to create feature tensor: %w", err)
	}
	defer feats1.Destroy()
	embed, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 256, size/16, size/16))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding tensor: %w", err)
	}
	defer embed.Destroy()

	if err := p.encoder.Run([]ort.Value{input}, []ort.Value{feats0, feats1, embed}); err != nil {
		return nil, fmt.Errorf("sam2 encoder failed: %w", err)
	}

	coords, labels := sam2Prompt(prompt, width, height, p.cfg.InputSize)
	n := int64(len(labels))

	coordTensor, err := ort.NewTensor(ort.NewShape(1, n, 2), coords)
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt tensor: %w", err)
	}
	defer coordTensor.Destroy()
	labelTensor, err := ort.NewTensor(ort.NewShape(1, n), labels)
	if err != nil {
		return nil, fmt.Errorf("failed to create label tensor: %w", err)
	}
	defer labelTensor.Destroy()

	logits, scores, err := p.decode(embed, feats0, feats1, coordTensor, labelTensor, nil)
	if err != nil {
		return nil, err
	}

	// Feed the best low-res logits back in as a dense prompt.
	if opts.Mask2Mask {
		best := argmax(scores)
		prev := logits[best*int(low*low) : (best+1)*int(low*low)]
		logits, scores, err = p.decode(embed, feats0, feats1, coordTensor, labelTensor, prev)
		if err != nil {
			return nil, err
		}
	}

	count := sam2DecoderMasks
	if !opts.MultimaskOutput {
		count = 1
	}

	threshold := float32(p.cfg.MaskThreshold)
	candidates := make([]model.Candidate, 0, count)
	for k := 0; k < count; k++ {
		plane := logits[k*int(low*low) : (k+1)*int(low*low)]
		mask, full, err := p.processor.UpscaleLogits(plane, int(low), width, height, threshold)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, model.Candidate{
			Mask:      mask,
			Score:     float64(scores[k]),
			Stability: StabilityScore(full, threshold, float32(opts.StabilityScoreOffset)),
		})
	}

	return FilterCandidates(candidates, opts), nil
}

// decode runs the prompt decoder and returns copies of the low-res mask
// logits and the predicted IoU scores. prevMask, when set, is passed as the
// dense mask prompt.
func (p *SAM2Provider) decode(embed, feats0, feats1, coords, labels ort.Value, prevMask []float32) ([]float32, []float32, error) {
	low := int64(p.cfg.LowResSize)

	maskData := make([]float32, low*low)
	hasMask := float32(0)
	if prevMask != nil {
		copy(maskData, prevMask)
		hasMask = 1
	}

	maskInput, err := ort.NewTensor(ort.NewShape(1, 1, low, low), maskData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create mask tensor: %w", err)
	}
	defer maskInput.Destroy()
	hasMaskInput, err := ort.NewTensor(ort.NewShape(1), []float32{hasMask})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create mask flag tensor: %w", err)
	}
	defer hasMaskInput.Destroy()

	masks, err := ort.NewEmptyTensor[float32](ort.NewShape(1, sam2DecoderMasks, low, low))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create mask output tensor: %w", err)
	}
	defer masks.Destroy()
	iou, err := ort.NewEmptyTensor[float32](ort.NewShape(1, sam2DecoderMasks))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create score output tensor: %w", err)
	}
	defer iou.Destroy()

	inputs := []ort.Value{embed, feats0, feats1, coords, labels, maskInput, hasMaskInput}
	if err := p.decoder.Run(inputs, []ort.Value{masks, iou}); err != nil {
		return nil, nil, fmt.Errorf("sam2 decoder failed: %w", err)
	}

	logits := append([]float32(nil), masks.GetData()...)
	scores := append([]float32(nil), iou.GetData()...)
	return logits, scores, nil
}

// sam2Input resizes img to size x size and lays it out as normalized CHW
// floats.
func sam2Input(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	b := resized.Bounds()

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*size + x
			data[i] = (float32(r>>8)/255 - sam2Mean[0]) / sam2Std[0]
			data[plane+i] = (float32(g>>8)/255 - sam2Mean[1]) / sam2Std[1]
			data[2*plane+i] = (float32(bl>>8)/255 - sam2Mean[2]) / sam2Std[2]
		}
	}
	return data
}

// sam2Prompt maps the prompt into model input coordinates. A box becomes its
// two corners with the corner labels.
func sam2Prompt(prompt model.Prompt, width, height, size int) ([]float32, []float32) {
	sx := float32(size) / float32(width)
	sy := float32(size) / float32(height)

	if prompt.Box != nil {
		b := prompt.Box
		return []float32{float32(b.X1) * sx, float32(b.Y1) * sy, float32(b.X2) * sx, float32(b.Y2) * sy},
			[]float32{sam2LabelBoxTopLeft, sam2LabelBoxBotRight}
	}

	label := sam2LabelForeground
	if prompt.Point.Label == model.LabelBackground {
		label = sam2LabelBackground
	}
	return []float32{float32(prompt.Point.X) * sx, float32(prompt.Point.Y) * sy}, []float32{label}
}

func argmax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/adnanwahab/vizcom-trial/utils"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	predictionSucceeded = "succeeded"
	predictionFailed    = "failed"
	predictionCanceled  = "canceled"
)

// ReplicateProvider runs the hosted SAM2 automatic mask generator on
// Replicate. The hosted model takes no prompt, so the returned masks are
// narrowed to the ones that agree with the prompt and scored by their rank in
// the model output.
type ReplicateProvider struct {
	baseURL      string
	token        string
	version      string
	userAgent    string
	pollInterval time.Duration
	timeout      time.Duration
	options      model.SegmentOptions
	httpClient   *http.Client
}

type imageURLKey struct{}

// WithImageURL attaches a publicly reachable URL of the image being
// segmented. The hosted provider then passes the URL instead of uploading
// the pixels inline.
func WithImageURL(ctx context.Context, url string) context.Context {
	if url == "" {
		return ctx
	}
	return context.WithValue(ctx, imageURLKey{}, url)
}

// ImageURL returns the URL set by WithImageURL, or "".
func ImageURL(ctx context.Context) string {
	url, _ := ctx.Value(imageURLKey{}).(string)
	return url
}

type replicateInput struct {
	Image string `json:"image"`
	model.SegmentOptions
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

type replicateMaskOutput struct {
	CombinedMask    string   `json:"combined_mask"`
	IndividualMasks []string `json:"individual_masks"`
}

func NewReplicateProvider(cfg *config.ReplicateConfig) (*ReplicateProvider, error) {
	if cfg.APIToken == "" {
		return nil, model.NewProviderUnavailableError("replicate api token is not configured", nil)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &ReplicateProvider{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.APIToken,
		version:      cfg.Version,
		userAgent:    cfg.UserAgent,
		pollInterval: pollInterval,
		timeout:      cfg.Timeout,
		options:      cfg.Options,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

func (p *ReplicateProvider) Name() string {
	return "replicate"
}

// Segment sends img (inline as a data URI unless the context carries a public
// URL), waits for the prediction and downloads the individual masks. The
// generator runs with the configured Replicate options; opts filters the
// resulting candidates.
func (p *ReplicateProvider) Segment(ctx context.Context, img image.Image, prompt model.Prompt, opts model.SegmentOptions) ([]model.Candidate, error) {
	bounds := img.Bounds()
	if err := prompt.Validate(bounds.Dx(), bounds.Dy()); err != nil {
		return nil, err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	imageRef := ImageURL(ctx)
	if imageRef == "" {
		var err error
		if imageRef, err = encodeDataURI(img); err != nil {
			return nil, err
		}
	}

	pred, err := p.createPrediction(ctx, replicateInput{Image: imageRef, SegmentOptions: p.options})
	if err != nil {
		return nil, err
	}
	utils.Component("replicate").Info("prediction created",
		zap.String("id", pred.ID),
		zap.String("status", pred.Status))

	pred, err = p.wait(ctx, pred)
	if err != nil {
		return nil, err
	}

	urls, err := parseMaskURLs(pred.Output)
	if err != nil {
		return nil, model.NewProviderUnavailableError("unexpected replicate output", err)
	}

	candidates := make([]model.Candidate, 0, len(urls))
	for _, u := range urls {
		mask, err := p.downloadMask(ctx, u, bounds.Dx(), bounds.Dy())
		if err != nil {
			return nil, err
		}
		if !prompt.Hits(mask) {
			continue
		}
		candidates = append(candidates, model.Candidate{
			Mask:      mask,
			Score:     1 / float64(1+len(candidates)),
			Stability: 1,
		})
	}

	filtered := FilterCandidates(candidates, opts)
	utils.Component("replicate").Info("prediction finished",
		zap.String("id", pred.ID),
		zap.Int("masks", len(urls)),
		zap.Int("candidates", len(filtered)))

	return filtered, nil
}

func (p *ReplicateProvider) createPrediction(ctx context.Context, input replicateInput) (*replicatePrediction, error) {
	body, err := json.Marshal(map[string]any{
		"version": p.version,
		"input":   input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "wait")
	return p.doPrediction(req)
}

func (p *ReplicateProvider) getPrediction(ctx context.Context, pred *replicatePrediction) (*replicatePrediction, error) {
	url := pred.URLs.Get
	if url == "" {
		url = p.baseURL + "/v1/predictions/" + pred.ID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	return p.doPrediction(req)
}

func (p *ReplicateProvider) doPrediction(req *http.Request) (*replicatePrediction, error) {
	req.Header.Set("Authorization", "Bearer "+p.token)
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, model.NewProviderUnavailableError("replicate request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, model.NewProviderUnavailableError(
			fmt.Sprintf("replicate returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var pred replicatePrediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, model.NewProviderUnavailableError("failed to decode replicate response", err)
	}
	return &pred, nil
}

func (p *ReplicateProvider) wait(ctx context.Context, pred *replicatePrediction) (*replicatePrediction, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for !isTerminal(pred.Status) {
		select {
		case <-ctx.Done():
			return nil, model.NewProviderUnavailableError("gave up waiting for prediction "+pred.ID, ctx.Err())
		case <-ticker.C:
		}

		next, err := p.getPrediction(ctx, pred)
		if err != nil {
			return nil, err
		}
		pred = next
	}

	if pred.Status != predictionSucceeded {
		return nil, model.NewProviderUnavailableError(
			fmt.Sprintf("prediction %s %s: %v", pred.ID, pred.Status, pred.Error), nil)
	}
	return pred, nil
}

func (p *ReplicateProvider) downloadMask(ctx context.Context, url string, width, height int) (*model.Mask, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mask request: %w", err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, model.NewProviderUnavailableError("failed to download mask", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewProviderUnavailableError(
			fmt.Sprintf("mask download returned status %d", resp.StatusCode), nil)
	}

	img, err := imaging.Decode(resp.Body)
	if err != nil {
		return nil, model.NewProviderUnavailableError("failed to decode mask", err)
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		img = imaging.Resize(img, width, height, imaging.NearestNeighbor)
	}
	return model.MaskFromImage(img, 127), nil
}

func isTerminal(status string) bool {
	return status == predictionSucceeded || status == predictionFailed || status == predictionCanceled
}

// parseMaskURLs accepts the {combined_mask, individual_masks} object of the
// SAM2 model as well as a bare URL or URL list.
func parseMaskURLs(raw json.RawMessage) ([]string, error) {
	var out replicateMaskOutput
	if err := json.Unmarshal(raw, &out); err == nil {
		if len(out.IndividualMasks) > 0 {
			return out.IndividualMasks, nil
		}
		if out.CombinedMask != "" {
			return []string{out.CombinedMask}, nil
		}
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}, nil
	}

	return nil, fmt.Errorf("no mask urls in output %s", string(raw))
}

func encodeDataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

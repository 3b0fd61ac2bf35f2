package service

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replicateServer struct {
	*httptest.Server
	masks   map[string]*model.Mask
	status  string
	polls   atomic.Int32
	created map[string]any
}

func newReplicateServer(t *testing.T, status string, masks map[string]*model.Mask) *replicateServer {
	rs := &replicateServer{masks: masks, status: status}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "wait", r.Header.Get("Prefer"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&rs.created))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"p1","status":"starting","urls":{"get":"%s/v1/predictions/p1"}}`, rs.URL)
	})
	mux.HandleFunc("/v1/predictions/p1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		rs.polls.Add(1)

		w.Header().Set("Content-Type", "application/json")
		if rs.status != predictionSucceeded {
			fmt.Fprintf(w, `{"id":"p1","status":"%s","error":"boom"}`, rs.status)
			return
		}
		urls := make([]string, 0, len(rs.masks))
		for i := 0; i < len(rs.masks); i++ {
			urls = append(urls, fmt.Sprintf("%s/masks/%d.png", rs.URL, i))
		}
		out, _ := json.Marshal(map[string]any{
			"combined_mask":    rs.URL + "/masks/combined.png",
			"individual_masks": urls,
		})
		fmt.Fprintf(w, `{"id":"p1","status":"succeeded","output":%s}`, out)
	})
	mux.HandleFunc("/masks/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/masks/"), ".png")
		m, ok := rs.masks[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		assert.NoError(t, png.Encode(w, m.Gray()))
	})

	rs.Server = httptest.NewServer(mux)
	t.Cleanup(rs.Close)
	return rs
}

func newTestReplicateProvider(t *testing.T, baseURL string) *ReplicateProvider {
	p, err := NewReplicateProvider(&config.ReplicateConfig{
		BaseURL:      baseURL,
		APIToken:     "test-token",
		Version:      "test-version",
		UserAgent:    "vizcom-trial-test",
		PollInterval: 5 * time.Millisecond,
		Timeout:      5 * time.Second,
		Options:      model.SegmentOptions{MaskLimit: 2, PointsPerSide: 64},
	})
	require.NoError(t, err)
	return p
}

func TestReplicateProvider_Segment(t *testing.T) {
	center := circleMask(64, 48, 32, 24, 10)
	corner := rectMask(64, 48, image.Rect(0, 0, 8, 8))
	srv := newReplicateServer(t, predictionSucceeded, map[string]*model.Mask{
		"0": corner,
		"1": center,
	})

	p := newTestReplicateProvider(t, srv.URL)
	img := solidImage(64, 48, color.White)

	candidates, err := p.Segment(context.Background(), img, model.CenterPrompt(64, 48), model.SegmentOptions{})
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, center.Pix, candidates[0].Mask.Pix)
	assert.Equal(t, 1.0, candidates[0].Score)
	assert.GreaterOrEqual(t, srv.polls.Load(), int32(1))

	assert.Equal(t, "test-version", srv.created["version"])
	input, ok := srv.created["input"].(map[string]any)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(input["image"].(string), "data:image/png;base64,"))
	assert.EqualValues(t, 2, input["mask_limit"])
	assert.EqualValues(t, 64, input["points_per_side"])
}

func TestReplicateProvider_PublicImageURL(t *testing.T) {
	srv := newReplicateServer(t, predictionSucceeded, map[string]*model.Mask{
		"0": circleMask(64, 48, 32, 24, 10),
	})

	p := newTestReplicateProvider(t, srv.URL)
	ctx := WithImageURL(context.Background(), "https://example.com/cup.png")

	candidates, err := p.Segment(ctx, solidImage(64, 48, color.White), model.CenterPrompt(64, 48), model.SegmentOptions{})
	require.NoError(t, err)
	assert.Len(t, candidates, 1)

	input, ok := srv.created["input"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/cup.png", input["image"])
}

func TestReplicateProvider_FiltersCandidates(t *testing.T) {
	big := circleMask(64, 48, 32, 24, 12)
	small := circleMask(64, 48, 32, 24, 2)
	srv := newReplicateServer(t, predictionSucceeded, map[string]*model.Mask{
		"0": small,
		"1": big,
	})

	p := newTestReplicateProvider(t, srv.URL)
	candidates, err := p.Segment(context.Background(), solidImage(64, 48, color.White), model.CenterPrompt(64, 48),
		model.SegmentOptions{MinMaskRegionArea: 50})
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, big.Pix, candidates[0].Mask.Pix)
	assert.Equal(t, 0.5, candidates[0].Score)
}

func TestReplicateProvider_ResizesMasks(t *testing.T) {
	srv := newReplicateServer(t, predictionSucceeded, map[string]*model.Mask{
		"0": rectMask(32, 24, image.Rect(0, 0, 32, 24)),
	})

	p := newTestReplicateProvider(t, srv.URL)
	candidates, err := p.Segment(context.Background(), solidImage(64, 48, color.White), model.CenterPrompt(64, 48), model.SegmentOptions{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 64, candidates[0].Mask.Width)
	assert.Equal(t, 48, candidates[0].Mask.Height)
	assert.Equal(t, 64*48, candidates[0].Mask.Count())
}

func TestReplicateProvider_FailedPrediction(t *testing.T) {
	srv := newReplicateServer(t, predictionFailed, nil)

	p := newTestReplicateProvider(t, srv.URL)
	_, err := p.Segment(context.Background(), solidImage(16, 16, color.White), model.CenterPrompt(16, 16), model.SegmentOptions{})
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestReplicateProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newTestReplicateProvider(t, url)
	_, err := p.Segment(context.Background(), solidImage(16, 16, color.White), model.CenterPrompt(16, 16), model.SegmentOptions{})
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestReplicateProvider_InvalidPrompt(t *testing.T) {
	p := newTestReplicateProvider(t, "http://127.0.0.1:1")

	prompt := model.Prompt{Point: &model.PromptPoint{X: 100, Y: 5, Label: model.LabelForeground}}
	_, err := p.Segment(context.Background(), solidImage(16, 16, color.White), prompt, model.SegmentOptions{})
	assert.ErrorIs(t, err, model.ErrInvalidPrompt)
}

func TestNewReplicateProvider_MissingToken(t *testing.T) {
	_, err := NewReplicateProvider(&config.ReplicateConfig{BaseURL: "https://api.replicate.com"})
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestParseMaskURLs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"object", `{"combined_mask":"c","individual_masks":["a","b"]}`, []string{"a", "b"}},
		{"combined only", `{"combined_mask":"c"}`, []string{"c"}},
		{"list", `["a","b"]`, []string{"a", "b"}},
		{"single", `"a"`, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMaskURLs(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseMaskURLs(json.RawMessage(`null`))
	assert.Error(t, err)
}

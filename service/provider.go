package service

import (
	"context"
	"fmt"
	"image"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/model"
)

// SegmentationProvider turns an image and a prompt into candidate masks.
type SegmentationProvider interface {
	Name() string
	Segment(ctx context.Context, img image.Image, prompt model.Prompt, opts model.SegmentOptions) ([]model.Candidate, error)
}

// NewProvider builds the provider selected by cfg.Provider.Kind.
func NewProvider(cfg *config.Config) (SegmentationProvider, error) {
	switch cfg.Provider.Kind {
	case "local", "":
		return NewSAM2Provider(&cfg.SAM2)
	case "replicate":
		return NewReplicateProvider(&cfg.Replicate)
	case "grabcut":
		return NewGrabCutProvider(&cfg.GrabCut), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

// UnavailableProvider stands in for a provider that failed to start. Every
// call reports the startup error as ProviderUnavailable.
type UnavailableProvider struct {
	name string
	err  error
}

func NewUnavailableProvider(name string, err error) *UnavailableProvider {
	return &UnavailableProvider{name: name, err: err}
}

func (p *UnavailableProvider) Name() string {
	return p.name
}

func (p *UnavailableProvider) Segment(ctx context.Context, img image.Image, prompt model.Prompt, opts model.SegmentOptions) ([]model.Candidate, error) {
	bounds := img.Bounds()
	if err := prompt.Validate(bounds.Dx(), bounds.Dy()); err != nil {
		return nil, err
	}
	if _, ok := model.CodeOf(p.err); ok {
		return nil, p.err
	}
	return nil, model.NewProviderUnavailableError(p.name+" failed to start", p.err)
}

// Command lathe runs the segmentation pipeline on a local image and writes the
// cutout and the revolved mesh to disk.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/adnanwahab/vizcom-trial/service"
	"github.com/adnanwahab/vizcom-trial/utils"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to the config file")
		imagePath  = flag.String("image", "", "input image (required)")
		outputDir  = flag.String("out", "", "artifact directory (overrides pipeline.output_dir)")
		provider   = flag.String("provider", "", "segmentation provider: local or replicate")
		segments   = flag.Int("segments", 0, "angular segments of the revolved mesh")
		x          = flag.Float64("x", -1, "prompt point x (default: image center)")
		y          = flag.Float64("y", -1, "prompt point y (default: image center)")
	)
	flag.Parse()

	if *imagePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}
	if *outputDir != "" {
		cfg.Pipeline.OutputDir = *outputDir
	}
	if *provider != "" {
		cfg.Provider.Kind = *provider
	}

	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	if err := run(cfg, *imagePath, *x, *y, *segments); err != nil {
		utils.Logger.Error("lathe failed", zap.Error(err))
		utils.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, imagePath string, x, y float64, segments int) error {
	img, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}

	var prompt *model.Prompt
	if x >= 0 && y >= 0 {
		prompt = &model.Prompt{Point: &model.PromptPoint{X: x, Y: y, Label: model.LabelForeground}}
	}

	provider, err := service.NewProvider(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Pipeline.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := service.NewPipeline(cfg, provider).Run(ctx, img, prompt, segments)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

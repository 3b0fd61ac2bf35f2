package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "VIZCOM"

var lookupEnv = os.LookupEnv

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	SAM2      SAM2Config      `mapstructure:"sam2"`
	Replicate ReplicateConfig `mapstructure:"replicate"`
	GrabCut   GrabCutConfig   `mapstructure:"grabcut"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// ProviderConfig selects the segmentation backend ("local", "replicate" or
// "grabcut"). Options filter the candidates every provider returns; all
// thresholds are off by default.
type ProviderConfig struct {
	Kind    string               `mapstructure:"kind"`
	Options model.SegmentOptions `mapstructure:"options"`
}

// SAM2Config locates the ONNX exports of the SAM2 image encoder and the
// prompt encoder/mask decoder.
type SAM2Config struct {
	LibraryPath   string  `mapstructure:"library_path"`
	EncoderPath   string  `mapstructure:"encoder_path"`
	DecoderPath   string  `mapstructure:"decoder_path"`
	UseCUDA       bool    `mapstructure:"use_cuda"`
	NumThreads    int     `mapstructure:"num_threads"`
	InputSize     int     `mapstructure:"input_size"`
	LowResSize    int     `mapstructure:"low_res_size"`
	MaskThreshold float64 `mapstructure:"mask_threshold"`
}

// ReplicateConfig configures the hosted automatic mask generator. Options is
// the generator's own input bag, sent with every prediction.
type ReplicateConfig struct {
	BaseURL      string               `mapstructure:"base_url"`
	APIToken     string               `mapstructure:"api_token"`
	Version      string               `mapstructure:"version"`
	UserAgent    string               `mapstructure:"user_agent"`
	PollInterval time.Duration        `mapstructure:"poll_interval"`
	Timeout      time.Duration        `mapstructure:"timeout"`
	Options      model.SegmentOptions `mapstructure:"options"`
}

// GrabCutConfig tunes the offline GrabCut provider.
type GrabCutConfig struct {
	Iterations int `mapstructure:"iterations"`
	MaxSize    int `mapstructure:"max_size"`
	KernelSize int `mapstructure:"kernel_size"`
}

type PipelineConfig struct {
	OutputDir     string `mapstructure:"output_dir"`
	Segments      int    `mapstructure:"segments"`
	WriteSTL      bool   `mapstructure:"write_stl"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	QueueTimeout  int    `mapstructure:"queue_timeout"`
}

// Load reads a YAML config file. Environment variables prefixed with VIZCOM_
// override file values, e.g. VIZCOM_PROVIDER_KIND=replicate.
func Load(configPath string) (*Config, error) {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyEnvSecrets()

	return &cfg, nil
}

// New loads config.yaml and falls back to the built-in defaults.
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		cfg = getDefaultConfig()
		cfg.applyEnvSecrets()
	}
	return cfg
}

// applyEnvSecrets picks up the conventional Replicate token variable when no
// token was configured.
func (c *Config) applyEnvSecrets() {
	if c.Replicate.APIToken != "" {
		return
	}
	if token, ok := lookupEnv("REPLICATE_API_TOKEN"); ok {
		c.Replicate.APIToken = token
	}
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("provider.kind", d.Provider.Kind)
	setOptionDefaults(v, "provider.options", d.Provider.Options)

	v.SetDefault("sam2.library_path", d.SAM2.LibraryPath)
	v.SetDefault("sam2.encoder_path", d.SAM2.EncoderPath)
	v.SetDefault("sam2.decoder_path", d.SAM2.DecoderPath)
	v.SetDefault("sam2.use_cuda", d.SAM2.UseCUDA)
	v.SetDefault("sam2.num_threads", d.SAM2.NumThreads)
	v.SetDefault("sam2.input_size", d.SAM2.InputSize)
	v.SetDefault("sam2.low_res_size", d.SAM2.LowResSize)
	v.SetDefault("sam2.mask_threshold", d.SAM2.MaskThreshold)

	v.SetDefault("replicate.base_url", d.Replicate.BaseURL)
	v.SetDefault("replicate.api_token", d.Replicate.APIToken)
	v.SetDefault("replicate.version", d.Replicate.Version)
	v.SetDefault("replicate.user_agent", d.Replicate.UserAgent)
	v.SetDefault("replicate.poll_interval", d.Replicate.PollInterval)
	v.SetDefault("replicate.timeout", d.Replicate.Timeout)
	setOptionDefaults(v, "replicate.options", d.Replicate.Options)

	v.SetDefault("grabcut.iterations", d.GrabCut.Iterations)
	v.SetDefault("grabcut.max_size", d.GrabCut.MaxSize)
	v.SetDefault("grabcut.kernel_size", d.GrabCut.KernelSize)

	v.SetDefault("pipeline.output_dir", d.Pipeline.OutputDir)
	v.SetDefault("pipeline.segments", d.Pipeline.Segments)
	v.SetDefault("pipeline.write_stl", d.Pipeline.WriteSTL)
	v.SetDefault("pipeline.max_concurrent", d.Pipeline.MaxConcurrent)
	v.SetDefault("pipeline.queue_timeout", d.Pipeline.QueueTimeout)
}

func setOptionDefaults(v *viper.Viper, prefix string, o model.SegmentOptions) {
	v.SetDefault(prefix+".mask_limit", o.MaskLimit)
	v.SetDefault(prefix+".multimask_output", o.MultimaskOutput)
	v.SetDefault(prefix+".mask_2_mask", o.Mask2Mask)
	v.SetDefault(prefix+".pred_iou_thresh", o.PredIoUThresh)
	v.SetDefault(prefix+".stability_score_thresh", o.StabilityScoreThresh)
	v.SetDefault(prefix+".stability_score_offset", o.StabilityScoreOffset)
	v.SetDefault(prefix+".points_per_side", o.PointsPerSide)
	v.SetDefault(prefix+".points_per_batch", o.PointsPerBatch)
	v.SetDefault(prefix+".box_nms_thresh", o.BoxNMSThresh)
	v.SetDefault(prefix+".min_mask_region_area", o.MinMaskRegionArea)
	v.SetDefault(prefix+".crop_n_layers", o.CropNLayers)
	v.SetDefault(prefix+".crop_n_points_downscale_factor", o.CropNPointsDownscaleFactor)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8000",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg"},
		},
		Provider: ProviderConfig{
			Kind: "local",
			// No filtering: a prompted predictor always answers with its masks.
			Options: model.SegmentOptions{
				MultimaskOutput:      true,
				StabilityScoreOffset: 1,
			},
		},
		SAM2: SAM2Config{
			LibraryPath:   "./third_party/onnxruntime.so",
			EncoderPath:   "./checkpoints/sam2.1_hiera_large_encoder.onnx",
			DecoderPath:   "./checkpoints/sam2.1_hiera_large_decoder.onnx",
			InputSize:     1024,
			LowResSize:    256,
			MaskThreshold: 0,
		},
		Replicate: ReplicateConfig{
			BaseURL:      "https://api.replicate.com",
			Version:      "be7cbde9fdf0eecdc8b20ffec9dd0d1cfeace0832d4d0b58a071d993182e1be0",
			UserAgent:    "vizcom-trial/1.0",
			PollInterval: time.Second,
			Timeout:      5 * time.Minute,
			Options: model.SegmentOptions{
				MaskLimit:                  2,
				MultimaskOutput:            true,
				Mask2Mask:                  true,
				PredIoUThresh:              0.7,
				StabilityScoreThresh:       0.92,
				StabilityScoreOffset:       0.7,
				PointsPerSide:              64,
				PointsPerBatch:             128,
				BoxNMSThresh:               0.7,
				MinMaskRegionArea:          25,
				CropNLayers:                1,
				CropNPointsDownscaleFactor: 2,
			},
		},
		GrabCut: GrabCutConfig{
			Iterations: 5,
			MaxSize:    1200,
			KernelSize: 3,
		},
		Pipeline: PipelineConfig{
			OutputDir:     "./public/models",
			Segments:      64,
			WriteSTL:      true,
			MaxConcurrent: 1,
			QueueTimeout:  60,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return getDefaultConfig()
}

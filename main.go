package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/handler"
	"github.com/adnanwahab/vizcom-trial/middleware"
	"github.com/adnanwahab/vizcom-trial/service"
	"github.com/adnanwahab/vizcom-trial/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg := config.New()

	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting vizcom-trial server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("provider", cfg.Provider.Kind))

	if err := os.MkdirAll(cfg.Pipeline.OutputDir, 0755); err != nil {
		utils.Logger.Fatal("failed to create output directory", zap.Error(err))
	}

	// The provider is built once and shared by every request.
	provider, err := service.NewProvider(cfg)
	if err != nil {
		utils.Logger.Error("segmentation provider unavailable", zap.Error(err))
		provider = service.NewUnavailableProvider(cfg.Provider.Kind, err)
	}

	var store service.ResultStore
	redisService := service.NewRedisService(&cfg.Redis)
	if err := redisService.Ping(context.Background()); err != nil {
		utils.Logger.Warn("redis connection failed, result lookup disabled", zap.Error(err))
	} else {
		utils.Logger.Info("redis connected successfully")
		store = redisService
	}
	defer redisService.Close()

	pipeline := service.NewPipeline(cfg, provider)
	pipelineHandler := handler.NewPipelineHandler(cfg, pipeline, store)

	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	r.Static("/artifacts", cfg.Pipeline.OutputDir)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  Version,
			"provider": provider.Name(),
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})

	r.POST("/segment", pipelineHandler.Segment)

	api := r.Group("/api/v1")
	{
		api.POST("/pipeline", pipelineHandler.Run)
		api.GET("/pipeline/:id", pipelineHandler.Get)
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		utils.Logger.Fatal("failed to start server", zap.Error(err))
	}
}

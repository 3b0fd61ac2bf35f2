package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/adnanwahab/vizcom-trial/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const resultKeyPrefix = "pipeline:"

// ResultStore keeps finished pipeline results by job ID.
type ResultStore interface {
	GetPipelineResult(ctx context.Context, id string) (*model.PipelineResult, error)
	SetPipelineResult(ctx context.Context, result *model.PipelineResult) error
}

// RedisService stores pipeline results in Redis as JSON with a TTL.
type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetPipelineResult returns the stored result, or nil if there is none.
func (s *RedisService) GetPipelineResult(ctx context.Context, id string) (*model.PipelineResult, error) {
	data, err := s.client.Get(ctx, resultKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var result model.PipelineResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal pipeline result",
			zap.String("id", id), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

func (s *RedisService) SetPipelineResult(ctx context.Context, result *model.PipelineResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, resultKeyPrefix+result.ID, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

package ratelimit

import (
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/energyledger/internal/clock"
	"github.com/smallbiznis/energyledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewLimiters),
)

const (
	PolicyAPI    = "api"
	PolicyUpload = "upload"
)

// Limiters holds the per-client policies applied to /api/records. A nil
// *Limiters means rate limiting is disabled.
type Limiters struct {
	API    Limiter
	Upload Limiter
}

func (l *Limiters) Enabled() bool {
	return l != nil && l.API != nil && l.Upload != nil
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Clock     clock.Clock
	Log       *zap.Logger
}

func NewLimiters(p Params) (*Limiters, error) {
	cfg := p.Config.RateLimit
	if !cfg.Enabled {
		p.Log.Info("rate limiting disabled")
		return nil, nil
	}

	api := Policy{Name: PolicyAPI, Limit: cfg.APIPerMinute, Window: time.Minute}
	upload := Policy{Name: PolicyUpload, Limit: cfg.UploadPerWindow, Window: cfg.UploadWindow}

	if cfg.Backend == config.RateLimitBackendRedis {
		addr := strings.TrimSpace(cfg.RedisAddr)
		if addr == "" {
			return nil, fmt.Errorf("%w: redis addr is required", ErrNotConfigured)
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: strings.TrimSpace(cfg.RedisPassword),
			DB:       cfg.RedisDB,
		})
		p.Lifecycle.Append(fx.StopHook(client.Close))

		limiters, err := NewRedisLimiters(client, api, upload)
		if err != nil {
			return nil, err
		}
		p.Log.Info("rate limiting enabled", zap.String("backend", cfg.Backend), zap.String("redis_addr", addr))
		return limiters, nil
	}

	limiters, err := NewMemoryLimiters(p.Clock, api, upload)
	if err != nil {
		return nil, err
	}
	p.Log.Info("rate limiting enabled", zap.String("backend", config.RateLimitBackendMemory))
	return limiters, nil
}

func NewMemoryLimiters(clk clock.Clock, api, upload Policy) (*Limiters, error) {
	apiLimiter, err := NewMemoryLimiter(api, clk)
	if err != nil {
		return nil, fmt.Errorf("%s policy: %w", api.Name, err)
	}
	uploadLimiter, err := NewMemoryLimiter(upload, clk)
	if err != nil {
		return nil, fmt.Errorf("%s policy: %w", upload.Name, err)
	}
	return &Limiters{API: apiLimiter, Upload: uploadLimiter}, nil
}

func NewRedisLimiters(client redis.Scripter, api, upload Policy) (*Limiters, error) {
	apiLimiter, err := NewRedisLimiter(client, api)
	if err != nil {
		return nil, fmt.Errorf("%s policy: %w", api.Name, err)
	}
	uploadLimiter, err := NewRedisLimiter(client, upload)
	if err != nil {
		return nil, fmt.Errorf("%s policy: %w", upload.Name, err)
	}
	return &Limiters{API: apiLimiter, Upload: uploadLimiter}, nil
}

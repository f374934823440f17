package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/smallbiznis/energyledger/internal/clock"
	"github.com/smallbiznis/energyledger/internal/config"
	"github.com/smallbiznis/energyledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/energyledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/energyledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/energyledger/internal/observability/tracing"
	"github.com/smallbiznis/energyledger/internal/ratelimit"
	"github.com/smallbiznis/energyledger/internal/record"
	recorddomain "github.com/smallbiznis/energyledger/internal/record/domain"
	"github.com/smallbiznis/energyledger/internal/upload"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	config.Module,
	observability.Module,
	clock.Module,
	record.Module,
	upload.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// EngineConfig carries the settings NewEngine needs beyond observability.
type EngineConfig struct {
	CORSOrigin string
}

func NewEngine(obsCfg observability.Config, engineCfg EngineConfig, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(engineCfg.CORSOrigin))
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, EngineConfig{CORSOrigin: cfg.CORSOrigin}, httpMetrics)
}

func corsMiddleware(origin string) gin.HandlerFunc {
	origins := []string{"*"}
	if trimmed := strings.TrimSpace(origin); trimmed != "" {
		origins = strings.Split(trimmed, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"ETag", "Retry-After", obsmiddleware.RequestIDHeader},
	})

	return func(c *gin.Context) {
		handler.HandlerFunc(c.Writer, c.Request)
		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.Abort()
			return
		}
		c.Next()
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + strings.TrimPrefix(strings.TrimSpace(cfg.Port), ":"),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	recordSvc  recorddomain.Service
	uploadSvc  *upload.Service
	limiters   *ratelimit.Limiters
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	RecordSvc  recorddomain.Service
	UploadSvc  *upload.Service
	Limiters   *ratelimit.Limiters `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        log.Named("http.server"),
		recordSvc:  p.RecordSvc,
		uploadSvc:  p.UploadSvc,
		limiters:   p.Limiters,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	records := s.engine.Group("/api/records", s.RateLimit(ratelimit.PolicyAPI))
	{
		records.GET("", s.ListRecords)
		records.POST("/upload", s.RateLimit(ratelimit.PolicyUpload), s.UploadRecords)
		records.GET("/:id", s.GetRecord)
		records.PUT("/:id", s.UpdateRecord)
		records.PATCH("/:id", s.UpdateRecord)
		records.DELETE("/:id", s.DeleteRecord)
	}
}

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"preptracker/internal/api/auth"
	"preptracker/internal/api/middleware"
	"preptracker/internal/api/scheduler"
	"preptracker/internal/config"
	"preptracker/internal/pkg/dedup"
	"preptracker/internal/pkg/ratelimit"
	"preptracker/internal/pkg/taskqueue"
	"preptracker/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const authRateLimitKey = "preptracker:ratelimit:auth"

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、提醒调度器以及 Gin 路由引擎。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine
	sched  *scheduler.Scheduler
	auth   *auth.Handler

	authLimiter    middleware.Limiter
	companyStore   CompanyStore
	taskStore      TaskStore
	dashboardStore DashboardStore
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 打开数据库并执行自动迁移
// 2. 连接 Redis
// 3. 按配置创建提醒调度器
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	st := store.New(db)
	limiter := ratelimit.NewRedisRateLimiter(rdb, logger, authRateLimitKey, cfg.App.RateLimit, cfg.App.RateBurst)

	gin.SetMode(gin.ReleaseMode)
	s := newServer(cfg, logger, st, limiter)
	s.db = db
	s.rdb = rdb

	if cfg.Reminder.Enabled {
		s.sched = scheduler.NewScheduler(
			st,
			dedup.NewDeduplicator(rdb, cfg.Reminder.DedupTTL),
			taskqueue.NewProducer(rdb, logger, cfg.Reminder.Stream),
			logger,
			cfg.Reminder.Interval,
			cfg.Reminder.Lookahead,
			cfg.Reminder.BatchSize,
		)
	}
	return s, nil
}

// dataStore 是 API 所需的全部存储能力，*store.Store 满足该接口。
type dataStore interface {
	auth.UserStore
	CompanyStore
	TaskStore
	DashboardStore
}

// newServer 组装路由，不触碰外部连接。
func newServer(cfg *config.Config, logger *slog.Logger, st dataStore, limiter middleware.Limiter) *Server {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Metrics())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: r,
		auth: auth.NewHandler(st, auth.Options{
			JWTSecret:    cfg.Security.JWTSecret,
			SessionTTL:   cfg.Security.SessionTTL,
			CookieName:   cfg.Security.CookieName,
			CookieSecure: cfg.Security.CookieSecure,
		}, logger),
		authLimiter:    limiter,
		companyStore:   st,
		taskStore:      st,
		dashboardStore: st,
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartScheduler 启动提醒调度器；未启用时直接返回。
func (s *Server) StartScheduler(ctx context.Context) {
	if s.sched == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in reminder scheduler", slog.Any("panic", r))
			}
		}()
		s.sched.Run(ctx)
	}()
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")

	authGroup := api.Group("/auth")
	limited := authGroup.Group("")
	if s.authLimiter != nil {
		limited.Use(middleware.RateLimitByIP(s.authLimiter, s.logger))
	}
	limited.POST("/signup", s.auth.Signup)
	limited.POST("/login", s.auth.Login)
	authGroup.POST("/logout", s.auth.Logout)

	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret, s.cfg.Security.CookieName))
	authed.GET("/auth/session", s.auth.Session)

	authed.GET("/companies", s.handleListCompanies)
	authed.POST("/companies", s.handleCreateCompany)
	authed.GET("/companies/:id", s.handleGetCompany)
	authed.PATCH("/companies/:id", s.handleUpdateCompany)
	authed.DELETE("/companies/:id", s.handleDeleteCompany)

	authed.GET("/tasks", s.handleListTasks)
	authed.POST("/tasks", s.handleCreateTask)
	authed.PATCH("/tasks/:id", s.handleUpdateTask)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)

	authed.GET("/dashboard", s.handleDashboard)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

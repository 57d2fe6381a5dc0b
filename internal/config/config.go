// Package config 加载 API 与提醒进程共用的配置。
//
// 优先级从低到高：内置默认值 < configs/config.json < 环境变量。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.json"
	defaultJWTSecret  = "dev_secret_change_me"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Email    EmailConfig    `mapstructure:"email"`
	Security SecurityConfig `mapstructure:"security"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Reminder ReminderConfig `mapstructure:"reminder"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env       string  `mapstructure:"env"`        // local / prod
	LogLevel  string  `mapstructure:"log_level"`  // debug / info / warn / error
	HTTPAddr  string  `mapstructure:"http_addr"`  // API 监听地址
	SeedDemo  bool    `mapstructure:"seed_demo"`  // 启动时写入演示账号
	RateLimit float64 `mapstructure:"rate_limit"` // 登录/注册每秒令牌数（按客户端 IP）
	RateBurst float64 `mapstructure:"rate_burst"`
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // mysql / postgres / sqlite
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EmailConfig 提醒邮件的 SMTP 配置。
type EmailConfig struct {
	SMTPHost  string `mapstructure:"smtp_host"`
	SMTPPort  int    `mapstructure:"smtp_port"`
	SMTPUser  string `mapstructure:"smtp_user"`
	SMTPPass  string `mapstructure:"smtp_pass"`
	FromEmail string `mapstructure:"from_email"`
}

// SecurityConfig 会话相关配置。
type SecurityConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"` // 如 "720h"
	CookieName   string        `mapstructure:"cookie_name"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
}

// CORSConfig 跨域配置。
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// ReminderConfig 截止日期提醒配置。
type ReminderConfig struct {
	Enabled       bool          `mapstructure:"enabled"`        // API 进程内是否运行扫描
	Interval      time.Duration `mapstructure:"interval"`       // 扫描间隔
	Lookahead     time.Duration `mapstructure:"lookahead"`      // 提前提醒窗口
	DedupTTL      time.Duration `mapstructure:"dedup_ttl"`      // 去重标记有效期
	BatchSize     int           `mapstructure:"batch_size"`     // 单批加载任务数
	Stream        string        `mapstructure:"stream"`         // Redis Stream 名称
	Group         string        `mapstructure:"group"`          // Consumer Group 名称
	MaxRetry      int           `mapstructure:"max_retry"`      // 超过后进入死信队列
	Workers       int           `mapstructure:"workers"`        // 发信 worker 数
	QueueCapacity int           `mapstructure:"queue_capacity"` // 内存队列容量
	SendRate      float64       `mapstructure:"send_rate"`      // 每秒发信数
	SendBurst     float64       `mapstructure:"send_burst"`
	MetricsAddr   string        `mapstructure:"metrics_addr"` // 提醒进程 /metrics 地址
}

var defaults = map[string]any{
	"app.env":        "local",
	"app.log_level":  "info",
	"app.http_addr":  ":8080",
	"app.seed_demo":  false,
	"app.rate_limit": 1.0,
	"app.rate_burst": 10.0,

	"database.driver": "mysql",
	"database.dsn":    "root:password@tcp(localhost:3306)/preptracker?parseTime=true&loc=UTC&clientFoundRows=true",

	"redis.addr":     "localhost:6379",
	"redis.password": "",
	"redis.db":       0,

	"email.smtp_host":  "smtp.gmail.com",
	"email.smtp_port":  587,
	"email.smtp_user":  "",
	"email.smtp_pass":  "",
	"email.from_email": "",

	"security.jwt_secret":    defaultJWTSecret,
	"security.session_ttl":   30 * 24 * time.Hour,
	"security.cookie_name":   "preptracker_session",
	"security.cookie_secure": false,

	"cors.allow_origins": []string{"http://localhost:3000"},

	"reminder.enabled":        false,
	"reminder.interval":       15 * time.Minute,
	"reminder.lookahead":      24 * time.Hour,
	"reminder.dedup_ttl":      48 * time.Hour,
	"reminder.batch_size":     200,
	"reminder.stream":         "preptracker:reminder:queue",
	"reminder.group":          "reminder_group",
	"reminder.max_retry":      3,
	"reminder.workers":        4,
	"reminder.queue_capacity": 100,
	"reminder.send_rate":      2.0,
	"reminder.send_burst":     5.0,
	"reminder.metrics_addr":   ":2112",
}

// envBindings 把环境变量映射到配置键。
var envBindings = map[string]string{
	"app.env":        "APP_ENV",
	"app.log_level":  "APP_LOG_LEVEL",
	"app.http_addr":  "APP_HTTP_ADDR",
	"app.seed_demo":  "APP_SEED_DEMO",
	"app.rate_limit": "APP_RATE_LIMIT",
	"app.rate_burst": "APP_RATE_BURST",

	"database.driver": "DB_DRIVER",
	"database.dsn":    "DB_DSN",

	"redis.addr":     "REDIS_ADDR",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"email.smtp_host":  "SMTP_HOST",
	"email.smtp_port":  "SMTP_PORT",
	"email.smtp_user":  "SMTP_USER",
	"email.smtp_pass":  "SMTP_PASS",
	"email.from_email": "SMTP_FROM",

	"security.jwt_secret":    "JWT_SECRET",
	"security.session_ttl":   "SESSION_TTL",
	"security.cookie_name":   "SESSION_COOKIE_NAME",
	"security.cookie_secure": "SESSION_COOKIE_SECURE",

	"cors.allow_origins": "CORS_ALLOW_ORIGINS",

	"reminder.enabled":        "REMINDER_ENABLED",
	"reminder.interval":       "REMINDER_INTERVAL",
	"reminder.lookahead":      "REMINDER_LOOKAHEAD",
	"reminder.dedup_ttl":      "REMINDER_DEDUP_TTL",
	"reminder.batch_size":     "REMINDER_BATCH_SIZE",
	"reminder.stream":         "REMINDER_STREAM",
	"reminder.group":          "REMINDER_GROUP",
	"reminder.max_retry":      "REMINDER_MAX_RETRY",
	"reminder.workers":        "REMINDER_WORKERS",
	"reminder.queue_capacity": "REMINDER_QUEUE_CAPACITY",
	"reminder.send_rate":      "REMINDER_SEND_RATE",
	"reminder.send_burst":     "REMINDER_SEND_BURST",
	"reminder.metrics_addr":   "REMINDER_METRICS_ADDR",
}

// MySQL DSN 的拆分变量，仅在未设置 DB_DSN 时生效。
var mysqlParts = map[string]string{
	"mysql.host":     "DB_HOST",
	"mysql.port":     "DB_PORT",
	"mysql.user":     "DB_USER",
	"mysql.password": "DB_PASSWORD",
	"mysql.name":     "DB_NAME",
}

// Load 读取配置。
//
// 默认读取 configs/config.json，文件不存在时只使用默认值和环境变量。
func Load(configPath ...string) (*Config, error) {
	path := defaultConfigPath
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	for _, bindings := range []map[string]string{envBindings, mysqlParts} {
		for key, env := range bindings {
			if err := v.BindEnv(key, env); err != nil {
				return nil, fmt.Errorf("bind env %s: %w", env, err)
			}
		}
	}

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.CORS.AllowOrigins = trimList(cfg.CORS.AllowOrigins)
	if cfg.Database.Driver == "mysql" && os.Getenv("DB_DSN") == "" {
		cfg.Database.DSN = composeMySQLDSN(v, cfg.Database.DSN)
	}
	return cfg, nil
}

// Validate 检查配置是否可用于启动服务。
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		return errors.New("jwt secret is empty")
	}
	if c.App.Env == "prod" && c.Security.JWTSecret == defaultJWTSecret {
		return errors.New("jwt secret must be changed in prod")
	}
	if c.Security.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.Reminder.Enabled && c.Reminder.Interval <= 0 {
		return errors.New("reminder interval must be positive")
	}
	return nil
}

func trimList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// composeMySQLDSN 用 DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME 覆盖 DSN 的对应部分。
//
// clientFoundRows 始终开启，UPDATE 返回匹配行数而不是实际变更行数。
func composeMySQLDSN(v *viper.Viper, dsn string) string {
	parsed, err := mysql.ParseDSN(dsn)
	if dsn == "" || err != nil {
		parsed = mysql.NewConfig()
		parsed.User = "root"
		parsed.Net = "tcp"
		parsed.Addr = "localhost:3306"
		parsed.DBName = "preptracker"
		parsed.ParseTime = true
		parsed.Loc = time.UTC
	}
	parsed.ClientFoundRows = true

	host, port := parsed.Addr, "3306"
	if i := strings.LastIndex(parsed.Addr, ":"); i >= 0 {
		host, port = parsed.Addr[:i], parsed.Addr[i+1:]
	}
	if h := v.GetString("mysql.host"); h != "" {
		host = h
	}
	if p := v.GetString("mysql.port"); p != "" {
		port = p
	}
	parsed.Addr = host + ":" + port
	if u := v.GetString("mysql.user"); u != "" {
		parsed.User = u
	}
	if p := v.GetString("mysql.password"); p != "" {
		parsed.Passwd = p
	}
	if n := v.GetString("mysql.name"); n != "" {
		parsed.DBName = n
	}
	return parsed.FormatDSN()
}

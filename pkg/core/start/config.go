package start

import (
	"fmt"
	"net"
	"os"
	"time"

	"academyops/pkg/core/config"
	errorc "academyops/pkg/core/err"
	"academyops/pkg/core/logger"
	"academyops/utils"

	"github.com/bsm/redislock"
	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type Config struct {
	AppName     string                   `yaml:"app-name"`
	Env         string                   `yaml:"env"`
	Host        string                   `yaml:"host"`
	Port        int                      `yaml:"port"`
	Version     string                   `yaml:"version"`
	Log         config.LogConfig         `yaml:"log"`
	Redis       config.RedisConfig       `yaml:"redis"`
	Database    config.Database          `yaml:"db"`
	Proxy       config.ProxyConfig       `yaml:"proxy"`
	Zipkin      config.ZipkinConfig      `yaml:"zipkin"`
	ES          config.ES                `yaml:"es"`
	Alert       config.AlertConfig       `yaml:"alert"`
	Performance config.PerformanceConfig `yaml:"performance"`
	Uptime      config.UptimeConfig      `yaml:"uptime"`
	Backup      config.BackupConfig      `yaml:"backup"`
	Maintenance config.MaintenanceConfig `yaml:"maintenance"`
}

type Configures struct {
	Config Config
	Logger *logger.Log
}

// ParseConfig 解析 yaml 配置，文件中的 ${VAR} 会先按环境变量展开
func ParseConfig(file []byte, env string) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(file))), &cfg); err != nil {
		return cfg, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if env != "" {
		cfg.Env = env
	}
	if cfg.AppName == "" {
		cfg.AppName = "academyops"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Host == "" {
		cfg.Host = getLocalIP()
	}

	cfg.Log = cfg.Log.WithDefaults()
	cfg.Alert = cfg.Alert.WithDefaults()
	cfg.Performance = cfg.Performance.WithDefaults()
	cfg.Uptime = cfg.Uptime.WithDefaults()
	cfg.Backup = cfg.Backup.WithDefaults()
	cfg.Maintenance = cfg.Maintenance.WithDefaults()
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}

	if err := utils.Check(cfg); err != nil {
		return cfg, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}

func NewConfigures(file []byte, env string) *Configures {
	cfg, err := ParseConfig(file, env)
	if err != nil {
		panic(fmt.Sprintf("读取文件信息失败，因为%v", err))
	}

	c := &Configures{
		Config: cfg,
		Logger: logger.InitLogger(cfg.Log.Level),
	}
	errorc.SetStackTraceEnabled(!c.IsProduction())
	if cfg.Log.Sls {
		c.Logger.Send2Cloud(cfg.AppName, cfg.Host, cfg.Log)
	}
	return c
}

// IsProduction 是否生产环境
func (c *Configures) IsProduction() bool {
	return c.Config.Env == "prod" || c.Config.Env == "production"
}

// getLocalIP 获取本机IP地址（优先获取内网IP）
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	var fallback string
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		if ipnet.IP.IsPrivate() {
			return ipnet.IP.String()
		}
		if fallback == "" {
			fallback = ipnet.IP.String()
		}
	}
	if fallback != "" {
		return fallback
	}
	return "127.0.0.1"
}

// NewZapLogger 按环境创建组件使用的 zap logger
func (c *Configures) NewZapLogger() (*zap.Logger, error) {
	var zc zap.Config
	if c.IsProduction() {
		zc = zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build(zap.Fields(zap.String("app", c.Config.AppName)))
}

func (c *Configures) EnableRedis() redis.UniversalClient {
	return config.InitRDB(c.Config.Redis, c.Config.Proxy)
}

// EnableCache 创建本地 TinyLFU 缓存，传入 Redis 时作为二级缓存
func (c *Configures) EnableCache(rdb redis.UniversalClient, ttl time.Duration) *cache.Cache {
	opts := &cache.Options{LocalCache: cache.NewTinyLFU(1000, ttl)}
	if rdb != nil {
		opts.Redis = rdb
	}
	return cache.New(opts)
}

func (c *Configures) EnableLocker(rdb redis.UniversalClient) *redislock.Client {
	return redislock.New(rdb)
}

func (c *Configures) EnableDB() *gorm.DB {
	db, err := config.InitDB(c.Config.Database, c.Config.Proxy)
	if err != nil {
		c.Logger.WithField("database", c.Config.Database.Host).WithErr(err).Panic("failed connect database")
	}
	c.Logger.Info("connect database success")
	return db
}

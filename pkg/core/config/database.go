package config

import (
	"context"
	"fmt"
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Database struct {
	Driver   string `yaml:"driver" json:"driver,omitempty"`
	Host     string `yaml:"host" json:"host,omitempty"`
	Port     int64  `yaml:"port" json:"port,omitempty"`
	User     string `yaml:"user" json:"user,omitempty"`
	Password string `yaml:"password" json:"-"`
	DbName   string `yaml:"db-name" json:"db-name,omitempty"`
	MaxOpen  int    `yaml:"max-open" json:"max-open,omitempty"`
}

// Enabled 是否配置了数据库
func (d Database) Enabled() bool {
	return d.Host != "" && d.DbName != ""
}

// IsPostgres 是否为 PostgreSQL
func (d Database) IsPostgres() bool {
	return d.Driver == "postgres" || d.Driver == "pg"
}

// InitDB 按驱动类型初始化数据库连接
func InitDB(database Database, proxyConfig ProxyConfig) (*gorm.DB, error) {
	if database.IsPostgres() {
		return InitPg(database, proxyConfig)
	}
	return InitMysql(database, proxyConfig)
}

func InitPg(database Database, proxyConfig ProxyConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable password=%s",
		database.Host, database.Port, database.User, database.DbName, database.Password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PostgreSQL 驱动不支持自定义 dialer，代理需在网络层配置
	return db, configurePool(db, database)
}

func InitMysql(database Database, proxyConfig ProxyConfig) (*gorm.DB, error) {
	cfg := mysqldriver.NewConfig()
	cfg.User = database.User
	cfg.Passwd = database.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", database.Host, database.Port)
	cfg.DBName = database.DbName
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	if proxyConfig.Enabled {
		// 注册自定义dialer到MySQL驱动
		dialerName := fmt.Sprintf("proxy_%d", time.Now().UnixNano())
		dialer := proxyConfig.GetDialer()
		mysqldriver.RegisterDialContext(dialerName, func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.Dial("tcp", addr)
		})
		cfg.Net = dialerName
	}

	db, err := gorm.Open(mysql.Open(cfg.FormatDSN()), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, configurePool(db, database)
}

func configurePool(db *gorm.DB, database Database) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	maxOpen := database.MaxOpen
	if maxOpen <= 0 {
		maxOpen = 100
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}

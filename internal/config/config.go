package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
	Log      LogConfig      `mapstructure:"log"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	WorkerID int `mapstructure:"worker_id"`
}

// StorageConfig 存储驱动：mysql 或 memory（本地调试用）
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

// DSN 组装 MySQL 连接串
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	OrderStatus string `mapstructure:"order_status"`
	Ledger      string `mapstructure:"ledger"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type FirebaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type BusinessConfig struct {
	// 运费差额小于等于该值时视为浮点误差，不记账
	CostEpsilon         float64       `mapstructure:"cost_epsilon"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	LockRetryInterval   time.Duration `mapstructure:"lock_retry_interval"`
	LockMaxRetries      int           `mapstructure:"lock_max_retries"`
	MaxRetryCount       int           `mapstructure:"max_retry_count"`
	OutboxInterval      time.Duration `mapstructure:"outbox_interval"`
	LedgerAuditInterval time.Duration `mapstructure:"ledger_audit_interval"`
	RateCacheTTL        time.Duration `mapstructure:"rate_cache_ttl"`
	NotificationTimeout time.Duration `mapstructure:"notification_timeout"`
}

// Default 返回带默认值的配置，配置文件中缺省的字段沿用这里的值
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8080, WorkerID: 1},
		Storage: StorageConfig{Driver: "mysql"},
		MySQL: MySQLConfig{
			Host:         "127.0.0.1",
			Port:         3306,
			MaxOpenConns: 50,
			MaxIdleConns: 10,
			LogLevel:     "warn",
		},
		Redis: RedisConfig{Host: "127.0.0.1", Port: 6379},
		Kafka: KafkaConfig{
			Topic: KafkaTopicConfig{OrderStatus: "order.status", Ledger: "ledger"},
		},
		Auth: AuthConfig{Issuer: "freightdesk"},
		Log:  LogConfig{Level: "info"},
		Business: BusinessConfig{
			CostEpsilon:         0.01,
			LockTTL:             30 * time.Second,
			LockRetryInterval:   100 * time.Millisecond,
			LockMaxRetries:      30,
			MaxRetryCount:       5,
			OutboxInterval:      500 * time.Millisecond,
			LedgerAuditInterval: 10 * time.Minute,
			RateCacheTTL:        5 * time.Minute,
			NotificationTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig 加载配置文件，环境变量 FREIGHTDESK_* 可覆盖同名配置项
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("freightdesk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret 不能为空")
	}
	return cfg, nil
}

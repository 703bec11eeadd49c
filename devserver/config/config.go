// Package config 加载开发服务端配置。
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/config"
	"github.com/joshyvodetaene/chatual-sub002/devserver/observability"
)

// Config 开发服务端配置
type Config struct {
	// 服务基础配置
	Service struct {
		Name     string `mapstructure:"name"`      // 服务名称
		HTTPPort int    `mapstructure:"http_port"` // HTTP 服务端口
	} `mapstructure:"service"`

	// 数据库配置
	DB DBConfig `mapstructure:"db"`

	// 认证配置
	Auth AuthConfig `mapstructure:"auth"`

	// 基础组件配置
	Log           clog.Config          `mapstructure:"log"`           // 日志配置
	Observability observability.Config `mapstructure:"observability"` // 可观测性配置

	// WorkerID 配置（消息 ID 生成）
	WorkerID int `mapstructure:"worker_id"`
}

// DBConfig SQLite 数据库配置
type DBConfig struct {
	Path string `mapstructure:"path"` // 数据库文件路径
}

// GetPath 获取数据库路径，默认 "./data/devserver.db"
func (c *DBConfig) GetPath() string {
	if c.Path != "" {
		return c.Path
	}
	return "./data/devserver.db"
}

// AuthConfig 认证配置
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`    // JWT 签名密钥
	TokenTTL time.Duration `mapstructure:"token_ttl"` // token 有效期
}

// GetSecret 获取 JWT 密钥，未配置时使用开发默认值
func (c *AuthConfig) GetSecret() string {
	if c.Secret != "" {
		return c.Secret
	}
	return "chatual-dev-secret"
}

// GetHTTPPort 获取 HTTP 端口
func (c *Config) GetHTTPPort() int {
	if c.Service.HTTPPort > 0 && c.Service.HTTPPort < 65536 {
		return c.Service.HTTPPort
	}
	return 8080
}

// GetHTTPAddr 获取 HTTP 绑定地址
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.GetHTTPPort())
}

// GetWorkerID 获取 workerID，单机开发服务固定即可
func (c *Config) GetWorkerID() int {
	if c.WorkerID > 0 {
		return c.WorkerID
	}
	return 1
}

// Load 创建并加载开发服务端配置（无参数）
// 配置加载顺序：环境变量 > .env > devserver.{env}.yaml > devserver.yaml
func Load() (*Config, error) {
	loader, err := config.New(&config.Config{
		Name:      "devserver",
		Paths:     []string{"./configs"},
		FileType:  "yaml",
		EnvPrefix: "CHATUAL",
	})
	if err != nil {
		return nil, err
	}

	// 必须先 Load 才能读取配置
	ctx := context.Background()
	if err := loader.Load(ctx); err != nil {
		return nil, err
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if os.Getenv("DEBUG_CONFIG") == "true" || os.Getenv("CHATUAL_DEBUG_CONFIG") == "true" {
		dumpConfig(&cfg)
	}

	return &cfg, nil
}

// dumpConfig 以 JSON 格式打印配置（脱敏敏感字段）
func dumpConfig(cfg *Config) {
	sanitized := *cfg
	if sanitized.Auth.Secret != "" {
		sanitized.Auth.Secret = "***"
	}

	data, _ := json.MarshalIndent(sanitized, "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== Devserver Configuration ===\n%s\n=== End of Configuration ===\n\n", data)
}

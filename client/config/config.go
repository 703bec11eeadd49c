// Package config 加载客户端引擎的运行配置。
package config

import (
	"context"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/config"
)

// Config 客户端配置
type Config struct {
	// 服务端地址
	Server struct {
		BaseURL string `mapstructure:"base_url"` // HTTP 接口地址
		WSURL   string `mapstructure:"ws_url"`   // WebSocket 地址
	} `mapstructure:"server"`

	// 登录凭据（仅用于本地联调）
	Auth struct {
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
	} `mapstructure:"auth"`

	// 分页大小
	PageSize int `mapstructure:"page_size"`

	// 日志配置
	Log clog.Config `mapstructure:"log"`
}

// GetBaseURL 获取 HTTP 接口地址，默认本地开发服务端
func (c *Config) GetBaseURL() string {
	if c.Server.BaseURL != "" {
		return c.Server.BaseURL
	}
	return "http://localhost:8080"
}

// GetWSURL 获取 WebSocket 地址，默认由 BaseURL 推导
func (c *Config) GetWSURL() string {
	if c.Server.WSURL != "" {
		return c.Server.WSURL
	}
	return "ws://localhost:8080/ws"
}

// Load 创建并加载客户端配置（无参数）
// 配置加载顺序：环境变量 > .env > client.{env}.yaml > client.yaml
func Load() (*Config, error) {
	loader, err := config.New(&config.Config{
		Name:      "client",
		Paths:     []string{"./configs"},
		FileType:  "yaml",
		EnvPrefix: "CHATUAL",
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := loader.Load(ctx); err != nil {
		return nil, err
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Auth.Username == "" {
		return nil, fmt.Errorf("auth.username cannot be empty")
	}
	if cfg.Auth.Password == "" {
		return nil, fmt.Errorf("auth.password cannot be empty")
	}

	return &cfg, nil
}

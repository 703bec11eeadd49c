// Package client 组装客户端引擎：
// 登录取得凭据后，把历史拉取服务、实时事件源与会话引擎接到一起。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/joshyvodetaene/chatual-sub002/chat"
	"github.com/joshyvodetaene/chatual-sub002/client/config"
	"github.com/joshyvodetaene/chatual-sub002/fetch"
	"github.com/joshyvodetaene/chatual-sub002/live"
)

// Client 客户端引擎生命周期管理器
type Client struct {
	config  *config.Config
	logger  clog.Logger
	session *chat.Session
	source  *live.WSSource

	mu    sync.RWMutex
	token string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建 Client 实例：登录并组装各组件
func New() (*Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := clog.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: cfg,
		logger: logger.WithNamespace("client"),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := c.initComponents(); err != nil {
		cancel()
		return nil, err
	}

	return c, nil
}

// initComponents 登录并初始化拉取服务、事件源与会话
func (c *Client) initComponents() error {
	token, err := c.login()
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.setToken(token)

	fetcher, err := fetch.NewHTTPService(c.config.GetBaseURL(),
		fetch.WithHTTPLogger(c.logger),
		fetch.WithTokenProvider(c.getToken),
		fetch.WithPageSize(c.config.PageSize),
	)
	if err != nil {
		return fmt.Errorf("fetch service init: %w", err)
	}

	source, err := live.NewWSSource(c.config.GetWSURL(),
		live.WithWSLogger(c.logger),
		live.WithWSTokenProvider(c.getToken),
	)
	if err != nil {
		return fmt.Errorf("ws source init: %w", err)
	}
	c.source = source

	session, err := chat.NewSession(fetcher,
		chat.WithSessionLogger(c.logger),
		chat.WithPageSize(c.config.PageSize),
	)
	if err != nil {
		return fmt.Errorf("session init: %w", err)
	}
	c.session = session

	return nil
}

// login 用配置里的凭据换取 token
func (c *Client) login() (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.config.Auth.Username,
		"password": c.config.Auth.Password,
	})
	if err != nil {
		return "", err
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Post(
		c.config.GetBaseURL()+"/api/auth/login",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("login failed with status %d: %s", resp.StatusCode, data)
	}

	var authResp struct {
		Username string `json:"username"`
		Token    string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if authResp.Token == "" {
		return "", fmt.Errorf("login response missing token")
	}

	c.logger.Info("登录成功", clog.String("username", authResp.Username))
	return authResp.Token, nil
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) getToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Session 返回会话引擎，调用方通过它完成切房、分页与读取
func (c *Client) Session() *chat.Session {
	return c.session
}

// Run 启动实时事件源并把新消息事件转发进会话
func (c *Client) Run() error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.source.Run(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Error("event source stopped", clog.Error(err))
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case event, ok := <-c.source.Events():
				if !ok {
					return
				}
				c.session.AddMessage(event.Message)
			case <-c.ctx.Done():
				return
			}
		}
	}()

	c.logger.Info("client engine running",
		clog.String("server", c.config.GetBaseURL()))
	return nil
}

// Close 停止事件源并等待转发协程退出
func (c *Client) Close() error {
	c.cancel()
	if c.source != nil {
		_ = c.source.Close()
	}
	c.wg.Wait()
	if c.logger != nil {
		c.logger.Info("client engine stopped")
	}
	return nil
}

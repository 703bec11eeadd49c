package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/joshyvodetaene/chatual-sub002/model"
)

// HTTPOption 配置 HTTPService 的选项
type HTTPOption func(*httpOptions)

type httpOptions struct {
	logger     clog.Logger
	httpClient *http.Client
	token      func() string
	pageSize   int
}

// WithHTTPLogger 设置日志记录器
func WithHTTPLogger(logger clog.Logger) HTTPOption {
	return func(o *httpOptions) {
		o.logger = logger
	}
}

// WithHTTPClient 设置自定义 http.Client
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(o *httpOptions) {
		o.httpClient = client
	}
}

// WithTokenProvider 设置访问令牌提供函数，附加为 Bearer 头
func WithTokenProvider(fn func() string) HTTPOption {
	return func(o *httpOptions) {
		o.token = fn
	}
}

// WithPageSize 设置初始拉取的页大小
func WithPageSize(n int) HTTPOption {
	return func(o *httpOptions) {
		o.pageSize = n
	}
}

// HTTPService 基于 HTTP/JSON 的消息拉取实现。
// 路径约定：GET {base}/api/rooms/{id}/messages?cursor=&limit=
type HTTPService struct {
	baseURL    string
	httpClient *http.Client
	logger     clog.Logger
	token      func() string
	pageSize   int
}

// NewHTTPService 创建 HTTP 拉取服务
func NewHTTPService(baseURL string, opts ...HTTPOption) (*HTTPService, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base url cannot be empty")
	}

	options := &httpOptions{
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}

	httpClient := options.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &HTTPService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.WithNamespace("fetch"),
		token:      options.token,
		pageSize:   options.pageSize,
	}, nil
}

// FetchInitial 实现 Service 接口
func (s *HTTPService) FetchInitial(ctx context.Context, roomID string) (*model.Page, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room_id cannot be empty")
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(s.pageSize))
	return s.fetchPage(ctx, "fetch_initial", roomID, query)
}

// FetchOlder 实现 Service 接口
func (s *HTTPService) FetchOlder(ctx context.Context, roomID, cursor string, limit int) (*model.Page, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room_id cannot be empty")
	}
	if cursor == "" {
		return nil, fmt.Errorf("cursor cannot be empty")
	}
	if limit <= 0 {
		limit = s.pageSize
	}

	query := url.Values{}
	query.Set("cursor", cursor)
	query.Set("limit", strconv.Itoa(limit))
	return s.fetchPage(ctx, "fetch_older", roomID, query)
}

// fetchPage 执行一次分页请求并在边界处校验载荷
func (s *HTTPService) fetchPage(ctx context.Context, op, roomID string, query url.Values) (*model.Page, error) {
	endpoint := fmt.Sprintf("%s/api/rooms/%s/messages?%s",
		s.baseURL, url.PathEscape(roomID), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Op: op, RoomID: roomID, Err: err}
	}
	if s.token != nil {
		if token := s.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("fetch request failed",
			clog.String("op", op),
			clog.String("room_id", roomID),
			clog.Error(err))
		return nil, &Error{Op: op, RoomID: roomID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("fetch returned non-success status",
			clog.String("op", op),
			clog.String("room_id", roomID),
			clog.Int("status", resp.StatusCode))
		return nil, &Error{
			Op:     op,
			RoomID: roomID,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status"),
		}
	}

	page := &model.Page{}
	if err := json.NewDecoder(resp.Body).Decode(page); err != nil {
		return nil, &Error{Op: op, RoomID: roomID, Status: resp.StatusCode, Err: fmt.Errorf("decode page: %w", err)}
	}
	if err := page.Validate(); err != nil {
		return nil, &Error{Op: op, RoomID: roomID, Status: resp.StatusCode, Err: fmt.Errorf("malformed page: %w", err)}
	}

	s.logger.Debug("page fetched",
		clog.String("op", op),
		clog.String("room_id", roomID),
		clog.Int("count", len(page.Messages)),
		clog.Any("has_more", page.HasMore))
	return page, nil
}

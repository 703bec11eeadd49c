// Package observability 提供开发服务端的可观测性支持
// 包括 Trace（分布式追踪）和 Metrics（指标收集）
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ServiceName 服务名称
	ServiceName = "chatual-devserver"

	// TracerName Tracer 名称
	TracerName = "devserver"
)

var (
	meter     metrics.Meter
	traceOnce sync.Once
	shutdown  func(context.Context) error

	// 业务指标 - WebSocket
	websocketConnectionsActive metrics.Gauge
	websocketConnectionsTotal  metrics.Counter

	// 业务指标 - 消息
	messagesSavedTotal  metrics.Counter
	messagesPushedTotal metrics.Counter
	historyPagesTotal   metrics.Counter

	// 业务指标 - HTTP
	httpRequestsTotal   metrics.Counter
	httpRequestDuration metrics.Histogram
	httpErrorsTotal     metrics.Counter
)

// Init 初始化可观测性组件
func Init(cfg *Config) error {
	var initErr error

	traceOnce.Do(func() {
		shutdownFunc, err := initTrace(cfg)
		if err != nil {
			initErr = fmt.Errorf("init trace: %w", err)
			return
		}
		shutdown = shutdownFunc

		meter, err = initMetrics(cfg)
		if err != nil {
			initErr = fmt.Errorf("init metrics: %w", err)
			return
		}

		initBusinessMetrics()
	})

	return initErr
}

// Shutdown 优雅关闭
func Shutdown(ctx context.Context) error {
	if shutdown != nil {
		return shutdown(ctx)
	}
	if meter != nil {
		return meter.Shutdown(ctx)
	}
	return nil
}

// initTrace 初始化 Trace
func initTrace(cfg *Config) (func(context.Context) error, error) {
	if cfg.Trace.Disable {
		// 禁用 Trace，只生成 TraceID 不上报
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String(ServiceName),
			)),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		return tp.Shutdown, nil
	}

	endpoint := cfg.Trace.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	sampler := cfg.Trace.Sampler
	if sampler == 0 {
		sampler = 1.0
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithTimeout(5 * time.Second),
	}
	if cfg.Trace.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampler))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// initMetrics 初始化 Metrics
func initMetrics(cfg *Config) (metrics.Meter, error) {
	metricsCfg := &metrics.Config{
		ServiceName:   ServiceName,
		Port:          cfg.Metrics.Port,
		Path:          cfg.Metrics.Path,
		EnableRuntime: cfg.Metrics.EnableRuntime,
	}
	if metricsCfg.Port == 0 {
		metricsCfg.Port = 9092
	}
	if metricsCfg.Path == "" {
		metricsCfg.Path = "/metrics"
	}

	return metrics.New(metricsCfg)
}

// initBusinessMetrics 初始化业务指标
func initBusinessMetrics() {
	websocketConnectionsActive, _ = meter.Gauge(
		"devserver_websocket_connections_active",
		"Current number of active WebSocket connections",
	)

	websocketConnectionsTotal, _ = meter.Counter(
		"devserver_websocket_connections_total",
		"Total number of WebSocket connections established",
	)

	messagesSavedTotal, _ = meter.Counter(
		"devserver_messages_saved_total",
		"Total number of messages persisted",
	)

	messagesPushedTotal, _ = meter.Counter(
		"devserver_messages_pushed_total",
		"Total number of message events pushed to clients",
	)

	historyPagesTotal, _ = meter.Counter(
		"devserver_history_pages_total",
		"Total number of history pages served",
	)

	httpRequestsTotal, _ = meter.Counter(
		"devserver_http_requests_total",
		"Total number of HTTP requests",
	)

	httpRequestDuration, _ = meter.Histogram(
		"devserver_http_request_duration_seconds",
		"HTTP request latency",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}),
	)

	httpErrorsTotal, _ = meter.Counter(
		"devserver_http_errors_total",
		"Total number of HTTP errors",
	)
}

// ============================================================================
// Trace 辅助函数
// ============================================================================

// GetTraceID 返回 Context 中当前 Span 的 TraceID，没有则返回空串
func GetTraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// ============================================================================
// Metrics 记录函数
// ============================================================================

// SetWebSocketConnectionsActive 设置当前活跃的 WebSocket 连接数
func SetWebSocketConnectionsActive(ctx context.Context, count int) {
	if websocketConnectionsActive != nil {
		websocketConnectionsActive.Set(ctx, float64(count))
	}
}

// RecordWebSocketConnectionEstablished 记录新建 WebSocket 连接
func RecordWebSocketConnectionEstablished(ctx context.Context) {
	if websocketConnectionsTotal != nil {
		websocketConnectionsTotal.Inc(ctx)
	}
}

// RecordMessageSaved 记录消息落库
func RecordMessageSaved(ctx context.Context) {
	if messagesSavedTotal != nil {
		messagesSavedTotal.Inc(ctx)
	}
}

// RecordMessagesPushed 记录推送的消息事件数
func RecordMessagesPushed(ctx context.Context, count int, labels ...metrics.Label) {
	if messagesPushedTotal != nil {
		for i := 0; i < count; i++ {
			messagesPushedTotal.Inc(ctx, labels...)
		}
	}
}

// RecordHistoryPage 记录一次历史分页查询
func RecordHistoryPage(ctx context.Context, labels ...metrics.Label) {
	if historyPagesTotal != nil {
		historyPagesTotal.Inc(ctx, labels...)
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(ctx context.Context) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.Inc(ctx)
	}
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(ctx context.Context, duration time.Duration, labels ...metrics.Label) {
	if httpRequestDuration != nil {
		httpRequestDuration.Record(ctx, duration.Seconds(), labels...)
	}
}

// RecordHTTPError 记录 HTTP 错误
func RecordHTTPError(ctx context.Context, labels ...metrics.Label) {
	if httpErrorsTotal != nil {
		httpErrorsTotal.Inc(ctx, labels...)
	}
}

// ============================================================================
// Logger 创建辅助函数
// ============================================================================

// NewLogger 创建带有 Trace Context 的 Logger
func NewLogger(cfg *clog.Config) (clog.Logger, error) {
	return clog.New(cfg, clog.WithTraceContext())
}

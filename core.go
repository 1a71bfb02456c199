// Package rxflow provides backpressured reactive streams and the ConcatMap operator for Go
// 支持背压的响应式数据流，ConcatMap按顺序订阅内部序列，支持融合与标量快速路径
package rxflow

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

// ============================================================================
// 核心类型定义
// ============================================================================

// Item 表示流中的一个数据项
type Item struct {
	Value interface{} // 数据值
}

// CreateItem 创建包含值的项目
func CreateItem(value interface{}) Item {
	return Item{Value: value}
}

// ============================================================================
// 函数类型定义
// ============================================================================

// OnNext 处理下一个值的函数
type OnNext func(value interface{})

// OnError 处理错误的函数
type OnError func(err error)

// OnComplete 处理完成的函数
type OnComplete func()

// Predicate 谓词函数，用于过滤
type Predicate func(value interface{}) bool

// Transformer 转换函数，用于映射
type Transformer func(value interface{}) (interface{}, error)

// ============================================================================
// 生命周期管理
// ============================================================================

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed onceFlag
	action   func()
}

// NewBaseDisposable 创建基础可释放资源
func NewBaseDisposable(action func()) Disposable {
	return &baseDisposable{action: action}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if d.disposed.fire() && d.action != nil {
		d.action()
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return d.disposed.fired()
}

// ============================================================================
// 工具函数
// ============================================================================

// SafeExecute 安全执行函数，将panic转换为错误返回
func SafeExecute(action func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("%w: %w", ErrPanic, e)
				return
			}
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	return action()
}

// ============================================================================
// 错误模式
// ============================================================================

// ErrorMode 错误上报时机
type ErrorMode int

const (
	// ErrorModeImmediate 立即上报错误并取消内部序列（默认）
	ErrorModeImmediate ErrorMode = iota
	// ErrorModeBoundary 在当前内部序列结束后上报错误
	ErrorModeBoundary
	// ErrorModeEnd 在所有序列结束后上报错误
	ErrorModeEnd
)

// String 返回错误模式名称
func (m ErrorMode) String() string {
	switch m {
	case ErrorModeImmediate:
		return "immediate"
	case ErrorModeBoundary:
		return "boundary"
	case ErrorModeEnd:
		return "end"
	default:
		return fmt.Sprintf("ErrorMode(%d)", int(m))
	}
}

// valid 检查是否为已知模式
func (m ErrorMode) valid() bool {
	return m >= ErrorModeImmediate && m <= ErrorModeEnd
}

// ParseErrorMode 从字符串解析错误模式，大小写不敏感
func ParseErrorMode(s string) (ErrorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "immediate":
		return ErrorModeImmediate, nil
	case "boundary":
		return ErrorModeBoundary, nil
	case "end":
		return ErrorModeEnd, nil
	default:
		return ErrorModeImmediate, fmt.Errorf("%w: %q", ErrInvalidErrorMode, s)
	}
}

// ============================================================================
// 配置选项
// ============================================================================

const (
	// DefaultPrefetch 默认预取数量
	DefaultPrefetch = 32
	// UnboundedPrefetch 无界预取：上游只请求一次Unbounded，不再补充
	UnboundedPrefetch = math.MaxInt32
)

// Option 配置选项接口
type Option interface {
	Apply(config *Config)
}

// Config 配置结构
type Config struct {
	Prefetch       int
	ErrorMode      ErrorMode
	QueueSupplier  QueueSupplier
	Logger         *zerolog.Logger
	Meter          metric.Meter
	OnErrorDropped func(err error)
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Prefetch:      DefaultPrefetch,
		ErrorMode:     ErrorModeImmediate,
		QueueSupplier: DefaultQueueSupplier,
	}
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	if c.Prefetch <= 0 {
		return fmt.Errorf("%w: prefetch > 0 required but it was %d", ErrInvalidPrefetch, c.Prefetch)
	}
	if c.QueueSupplier == nil {
		return ErrNilQueueSupplier
	}
	if !c.ErrorMode.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidErrorMode, c.ErrorMode)
	}
	return nil
}

// logger 返回有效的日志记录器
func (c *Config) logger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return Logger()
}

// dropError 将无法投递的错误交给丢弃处理器
func (c *Config) dropError(err error) {
	if c.OnErrorDropped != nil {
		c.OnErrorDropped(err)
		globalStats.ErrorsDropped.Inc()
		return
	}
	onErrorDropped(err)
}

func newConfig(options []Option) *Config {
	config := DefaultConfig()
	for _, opt := range options {
		if opt != nil {
			opt.Apply(config)
		}
	}
	return config
}

type prefetchOption int

func (o prefetchOption) Apply(config *Config) { config.Prefetch = int(o) }

// WithPrefetch 设置预取数量（同时也是补充请求的批量单位）
func WithPrefetch(prefetch int) Option {
	return prefetchOption(prefetch)
}

type errorModeOption ErrorMode

func (o errorModeOption) Apply(config *Config) { config.ErrorMode = ErrorMode(o) }

// WithErrorMode 设置错误上报模式
func WithErrorMode(mode ErrorMode) Option {
	return errorModeOption(mode)
}

type queueSupplierOption struct {
	supplier QueueSupplier
}

func (o *queueSupplierOption) Apply(config *Config) { config.QueueSupplier = o.supplier }

// WithQueueSupplier 设置缓冲队列工厂，每次订阅调用一次
func WithQueueSupplier(supplier QueueSupplier) Option {
	return &queueSupplierOption{supplier: supplier}
}

type loggerOption struct {
	logger zerolog.Logger
}

func (o *loggerOption) Apply(config *Config) { config.Logger = &o.logger }

// WithLogger 为操作符指定日志记录器
func WithLogger(logger zerolog.Logger) Option {
	return &loggerOption{logger: logger}
}

type meterOption struct {
	meter metric.Meter
}

func (o *meterOption) Apply(config *Config) { config.Meter = o.meter }

// WithMeter 为操作符指定OpenTelemetry Meter
func WithMeter(meter metric.Meter) Option {
	return &meterOption{meter: meter}
}

type errorDroppedOption struct {
	handler func(error)
}

func (o *errorDroppedOption) Apply(config *Config) { config.OnErrorDropped = o.handler }

// WithErrorDroppedHandler 设置该操作符的丢弃错误处理器
func WithErrorDroppedHandler(handler func(error)) Option {
	return &errorDroppedOption{handler: handler}
}

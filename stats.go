// Operator statistics for rxflow
// ConcatMap运行统计：进程级计数器与OpenTelemetry指标
package rxflow

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/atomic"
)

// ============================================================================
// 进程级统计
// ============================================================================

// concatMapCounters 全局计数器
type concatMapCounters struct {
	Subscriptions   atomic.Int64 // 创建的协调者数量
	InnerSubscribed atomic.Int64 // 订阅的内部序列数量
	ScalarFastPath  atomic.Int64 // 直接发射的标量值
	ScalarDeferred  atomic.Int64 // 等待请求的标量值
	ScalarEmpty     atomic.Int64 // 空标量
	FusedSync       atomic.Int64 // 同步融合次数
	FusedAsync      atomic.Int64 // 异步融合次数
	QueueAllocated  atomic.Int64 // 调用队列工厂的次数
	ErrorsDropped   atomic.Int64 // 丢弃的错误
}

var globalStats = &concatMapCounters{}

// ConcatMapStats 统计快照
type ConcatMapStats struct {
	Subscriptions   int64
	InnerSubscribed int64
	ScalarFastPath  int64
	ScalarDeferred  int64
	ScalarEmpty     int64
	FusedSync       int64
	FusedAsync      int64
	QueueAllocated  int64
	ErrorsDropped   int64
}

// GetConcatMapStats 获取统计快照
func GetConcatMapStats() ConcatMapStats {
	return ConcatMapStats{
		Subscriptions:   globalStats.Subscriptions.Load(),
		InnerSubscribed: globalStats.InnerSubscribed.Load(),
		ScalarFastPath:  globalStats.ScalarFastPath.Load(),
		ScalarDeferred:  globalStats.ScalarDeferred.Load(),
		ScalarEmpty:     globalStats.ScalarEmpty.Load(),
		FusedSync:       globalStats.FusedSync.Load(),
		FusedAsync:      globalStats.FusedAsync.Load(),
		QueueAllocated:  globalStats.QueueAllocated.Load(),
		ErrorsDropped:   globalStats.ErrorsDropped.Load(),
	}
}

// ResetConcatMapStats 重置统计
func ResetConcatMapStats() {
	globalStats.Subscriptions.Store(0)
	globalStats.InnerSubscribed.Store(0)
	globalStats.ScalarFastPath.Store(0)
	globalStats.ScalarDeferred.Store(0)
	globalStats.ScalarEmpty.Store(0)
	globalStats.FusedSync.Store(0)
	globalStats.FusedAsync.Store(0)
	globalStats.QueueAllocated.Store(0)
	globalStats.ErrorsDropped.Store(0)
}

// ============================================================================
// OpenTelemetry 指标
// ============================================================================

const meterName = "github.com/xinjiayu/rxflow"

// operatorMetrics 单个操作符实例使用的指标
type operatorMetrics struct {
	innerSubscribed metric.Int64Counter
	scalarFastPath  metric.Int64Counter
	errorsDropped   metric.Int64Counter
	queueAllocated  metric.Int64Counter
	attrs           metric.AddOption
}

// newOperatorMetrics 创建指标，meter为nil时使用noop
func newOperatorMetrics(meter metric.Meter, operator string) (*operatorMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}

	innerSubscribed, err := meter.Int64Counter("rxflow.concatmap.inner_subscribed",
		metric.WithDescription("Number of inner sequences subscribed"),
	)
	if err != nil {
		return nil, err
	}

	scalarFastPath, err := meter.Int64Counter("rxflow.concatmap.scalar_fast_path",
		metric.WithDescription("Number of scalar values emitted without a subscription"),
	)
	if err != nil {
		return nil, err
	}

	errorsDropped, err := meter.Int64Counter("rxflow.concatmap.errors_dropped",
		metric.WithDescription("Number of errors that arrived after termination"),
	)
	if err != nil {
		return nil, err
	}

	queueAllocated, err := meter.Int64Counter("rxflow.concatmap.queue_allocated",
		metric.WithDescription("Number of buffers created by the queue supplier"),
	)
	if err != nil {
		return nil, err
	}

	return &operatorMetrics{
		innerSubscribed: innerSubscribed,
		scalarFastPath:  scalarFastPath,
		errorsDropped:   errorsDropped,
		queueAllocated:  queueAllocated,
		attrs:           metric.WithAttributes(operatorAttr(operator)),
	}, nil
}

func (m *operatorMetrics) recordInnerSubscribed() {
	globalStats.InnerSubscribed.Inc()
	m.innerSubscribed.Add(context.Background(), 1, m.attrs)
}

func (m *operatorMetrics) recordScalarFastPath() {
	globalStats.ScalarFastPath.Inc()
	m.scalarFastPath.Add(context.Background(), 1, m.attrs)
}

func (m *operatorMetrics) recordErrorDropped() {
	m.errorsDropped.Add(context.Background(), 1, m.attrs)
}

func (m *operatorMetrics) recordQueueAllocated() {
	globalStats.QueueAllocated.Inc()
	m.queueAllocated.Add(context.Background(), 1, m.attrs)
}

func operatorAttr(operator string) attribute.KeyValue {
	return attribute.String("operator", operator)
}

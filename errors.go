// Error handling for rxflow
// 错误定义、操作符错误包装、终止错误槽以及丢弃错误处理
package rxflow

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrInvalidPrefetch 预取数量必须为正数
	ErrInvalidPrefetch = errors.New("rxflow: invalid prefetch")
	// ErrNilMapper 映射函数为空
	ErrNilMapper = errors.New("rxflow: mapper is nil")
	// ErrNilSource 上游为空
	ErrNilSource = errors.New("rxflow: source is nil")
	// ErrNilSubscriber 下游订阅者为空
	ErrNilSubscriber = errors.New("rxflow: subscriber is nil")
	// ErrNilQueueSupplier 队列工厂为空
	ErrNilQueueSupplier = errors.New("rxflow: queue supplier is nil")
	// ErrInvalidErrorMode 未知的错误模式
	ErrInvalidErrorMode = errors.New("rxflow: invalid error mode")
	// ErrNilPublisher 映射函数返回了空的Publisher
	ErrNilPublisher = errors.New("rxflow: the mapper returned a nil Publisher")
	// ErrQueueFull 缓冲队列溢出，上游违反了请求数量
	ErrQueueFull = errors.New("rxflow: queue is full")
	// ErrInvalidRequest 请求数量必须为正数
	ErrInvalidRequest = errors.New("rxflow: request amount must be positive")
	// ErrDuplicateSubscription 同一订阅者收到了第二个订阅
	ErrDuplicateSubscription = errors.New("rxflow: subscription already set")
	// ErrMoreProduced 发射数量超过了请求数量
	ErrMoreProduced = errors.New("rxflow: more produced than requested")
	// ErrPanic 回调发生panic
	ErrPanic = errors.New("rxflow: panic recovered")
	// ErrEmpty 流为空，没有数据项
	ErrEmpty = errors.New("rxflow: flowable is empty")
)

// ============================================================================
// 操作符错误
// ============================================================================

// OperatorError 操作符内部失败，关联触发失败的上游数据项
type OperatorError struct {
	// Op 失败的操作，例如 "map"、"poll"、"call"
	Op string
	// Value 触发失败的数据项，HasValue为false时无意义
	Value    interface{}
	HasValue bool
	// Cause 原始错误
	Cause error
}

// Error 返回错误描述
func (e *OperatorError) Error() string {
	if e.HasValue {
		return fmt.Sprintf("rxflow: %s failed for value %v: %v", e.Op, e.Value, e.Cause)
	}
	return fmt.Sprintf("rxflow: %s failed: %v", e.Op, e.Cause)
}

// Unwrap 返回原始错误
func (e *OperatorError) Unwrap() error { return e.Cause }

// newOperatorError 取消上游并包装错误
func newOperatorError(upstream FlowableSubscription, op string, cause error) error {
	if upstream != nil {
		upstream.Cancel()
	}
	return &OperatorError{Op: op, Cause: cause}
}

// newOperatorValueError 取消上游并包装带数据项的错误
func newOperatorValueError(upstream FlowableSubscription, op string, cause error, value interface{}) error {
	if upstream != nil {
		upstream.Cancel()
	}
	return &OperatorError{Op: op, Value: value, HasValue: true, Cause: cause}
}

// ============================================================================
// 终止错误槽
// ============================================================================

// errorBox 错误槽中的不可变值
type errorBox struct {
	err error
}

// terminatedBox 终止哨兵，错误已被取走投递
var terminatedBox = &errorBox{}

// errorSlot 基于CAS的终止错误槽
// 后到的错误合并为组合错误；槽被取走后add失败，由调用者转入丢弃通道
type errorSlot struct {
	p atomic.Pointer[errorBox]
}

// add 合并错误，槽已终止时返回false
func (s *errorSlot) add(err error) bool {
	for {
		current := s.p.Load()
		if current == terminatedBox {
			return false
		}
		next := err
		if current != nil {
			next = multierr.Append(current.err, err)
		}
		if s.p.CompareAndSwap(current, &errorBox{err: next}) {
			return true
		}
	}
}

// terminate 取走累积的错误并终止槽
// 返回 (nil, true) 表示之前已被终止
func (s *errorSlot) terminate() (err error, already bool) {
	previous := s.p.Swap(terminatedBox)
	if previous == terminatedBox {
		return nil, true
	}
	if previous == nil {
		return nil, false
	}
	return previous.err, false
}

// load 读取当前错误（不终止）
func (s *errorSlot) load() error {
	current := s.p.Load()
	if current == nil || current == terminatedBox {
		return nil
	}
	return current.err
}

// isTerminated 检查槽是否已被取走
func (s *errorSlot) isTerminated() bool {
	return s.p.Load() == terminatedBox
}

// ============================================================================
// 丢弃错误处理
// ============================================================================

var (
	droppedMu      sync.RWMutex
	droppedHandler func(error)
)

// SetErrorDroppedHandler 设置全局丢弃错误处理器，传入nil恢复默认（记录warn日志）
func SetErrorDroppedHandler(handler func(error)) {
	droppedMu.Lock()
	droppedHandler = handler
	droppedMu.Unlock()
}

// onErrorDropped 处理已终止后到达、无法投递的错误
func onErrorDropped(err error) {
	globalStats.ErrorsDropped.Inc()

	droppedMu.RLock()
	handler := droppedHandler
	droppedMu.RUnlock()

	if handler != nil {
		handler(err)
		return
	}
	l := Logger()
	l.Warn().Err(err).Msg("error dropped after termination")
}

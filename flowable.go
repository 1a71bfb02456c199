// Flowable contract for rxflow
// 支持背压的响应式数据流接口，基于Reactive Streams规范
package rxflow

import (
	"context"
	"math"

	"go.uber.org/atomic"
)

// Unbounded 无限请求量
const Unbounded int64 = math.MaxInt64

// ============================================================================
// Subscriber 接口定义
// ============================================================================

// FlowableSubscription 订阅接口，支持请求管理
type FlowableSubscription interface {
	// Request 请求指定数量的数据项
	Request(n int64)
	// Cancel 取消订阅
	Cancel()
	// IsCancelled 检查是否已取消
	IsCancelled() bool
}

// Subscriber Flowable的订阅者接口
type Subscriber interface {
	// OnSubscribe 订阅开始时调用
	OnSubscribe(subscription FlowableSubscription)
	// OnNext 接收到新数据时调用
	OnNext(item Item)
	// OnError 发生错误时调用
	OnError(err error)
	// OnComplete 数据流完成时调用
	OnComplete()
}

// Publisher 发布者接口，符合Reactive Streams规范
type Publisher interface {
	// Subscribe 订阅Subscriber
	Subscribe(subscriber Subscriber)
}

// ScalarCallable 标量源能力
// 实现者同步地给出至多一个值：ok为false表示为空
type ScalarCallable interface {
	Call() (value interface{}, ok bool, err error)
}

// ============================================================================
// Flowable 接口定义
// ============================================================================

// Flowable 支持背压的响应式数据流接口
type Flowable interface {
	Publisher

	// SubscribeWithCallbacks 使用回调函数订阅，返回的订阅需要调用Request才会开始发射
	SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) FlowableSubscription

	// SubscribeOn 指定订阅操作运行的调度器
	SubscribeOn(scheduler Scheduler) Flowable

	// Map 转换每个数据项
	Map(transformer Transformer) Flowable

	// Filter 过滤数据项
	Filter(predicate Predicate) Flowable

	// Take 取前N个数据项，随后取消上游
	Take(count int64) Flowable

	// ConcatMap 将每个数据项映射为Publisher，并按顺序逐个连接
	ConcatMap(mapper ConcatMapper, options ...Option) Flowable

	// ConcatMapDelayError 同ConcatMap，默认在所有序列结束后才上报错误
	ConcatMapDelayError(mapper ConcatMapper, options ...Option) Flowable

	// BlockingToSlice 阻塞收集全部数据项
	BlockingToSlice(ctx context.Context) ([]interface{}, error)

	// BlockingFirst 阻塞获取第一个数据项
	BlockingFirst(ctx context.Context) (interface{}, error)
}

// ============================================================================
// 请求量工具
// ============================================================================

// addCap 饱和加法
func addCap(a, b int64) int64 {
	u := a + b
	if u < 0 {
		return Unbounded
	}
	return u
}

// addCapAtomic 原子地饱和累加请求量，返回累加前的值
func addCapAtomic(requested *atomic.Int64, n int64) int64 {
	for {
		r := requested.Load()
		if r == Unbounded {
			return Unbounded
		}
		if requested.CompareAndSwap(r, addCap(r, n)) {
			return r
		}
	}
}

// onceFlag 只能触发一次的原子标志
type onceFlag struct {
	v atomic.Bool
}

// fire 首次调用返回true
func (f *onceFlag) fire() bool {
	return f.v.CompareAndSwap(false, true)
}

// fired 检查是否已触发
func (f *onceFlag) fired() bool {
	return f.v.Load()
}

// ============================================================================
// 基础订阅实现
// ============================================================================

// subscriptionImpl FlowableSubscription的基础实现
type subscriptionImpl struct {
	cancelled onceFlag
	onRequest func(int64)
	onCancel  func()
}

// NewFlowableSubscription 创建新的FlowableSubscription
// onRequest只会收到正数，取消后不再回调
func NewFlowableSubscription(onRequest func(int64), onCancel func()) FlowableSubscription {
	return &subscriptionImpl{
		onRequest: onRequest,
		onCancel:  onCancel,
	}
}

// Request 请求指定数量的数据项
func (s *subscriptionImpl) Request(n int64) {
	if n <= 0 || s.IsCancelled() {
		return
	}
	if s.onRequest != nil {
		s.onRequest(n)
	}
}

// Cancel 取消订阅
func (s *subscriptionImpl) Cancel() {
	if s.cancelled.fire() && s.onCancel != nil {
		s.onCancel()
	}
}

// IsCancelled 检查是否已取消
func (s *subscriptionImpl) IsCancelled() bool {
	return s.cancelled.fired()
}

// cancelledSubscription 已取消的空订阅，用于在出错前满足OnSubscribe约定
type cancelledSubscription struct{}

func (cancelledSubscription) Request(int64)     {}
func (cancelledSubscription) Cancel()           {}
func (cancelledSubscription) IsCancelled() bool { return true }

// errorSubscriber 先发送空订阅再发送错误
func errorSubscriber(subscriber Subscriber, err error) {
	subscriber.OnSubscribe(cancelledSubscription{})
	subscriber.OnError(err)
}

// completeSubscriber 先发送空订阅再发送完成
func completeSubscriber(subscriber Subscriber) {
	subscriber.OnSubscribe(cancelledSubscription{})
	subscriber.OnComplete()
}

// ============================================================================
// 延迟订阅
// ============================================================================

// deferredSubscription 在真实订阅到达前暂存请求与取消
type deferredSubscription struct {
	s         atomic.Pointer[FlowableSubscription]
	requested atomic.Int64
	cancelled onceFlag
}

// set 设置真实订阅并补发暂存的请求
func (d *deferredSubscription) set(s FlowableSubscription) bool {
	if !d.s.CompareAndSwap(nil, &s) {
		s.Cancel()
		onErrorDropped(ErrDuplicateSubscription)
		return false
	}
	if d.cancelled.fired() {
		s.Cancel()
		return false
	}
	if r := d.requested.Swap(0); r != 0 {
		s.Request(r)
	}
	return true
}

// Request 请求指定数量的数据项
func (d *deferredSubscription) Request(n int64) {
	if n <= 0 {
		onErrorDropped(ErrInvalidRequest)
		return
	}
	if p := d.s.Load(); p != nil {
		(*p).Request(n)
		return
	}
	addCapAtomic(&d.requested, n)
	if p := d.s.Load(); p != nil {
		if r := d.requested.Swap(0); r != 0 {
			(*p).Request(r)
		}
	}
}

// Cancel 取消订阅
func (d *deferredSubscription) Cancel() {
	if !d.cancelled.fire() {
		return
	}
	if p := d.s.Load(); p != nil {
		(*p).Cancel()
	}
}

// IsCancelled 检查是否已取消
func (d *deferredSubscription) IsCancelled() bool {
	return d.cancelled.fired()
}

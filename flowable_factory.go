// Flowable factory functions for rxflow
// Flowable工厂函数，提供各种创建Flowable的方法
package rxflow

import (
	"go.uber.org/atomic"
)

// ============================================================================
// 基础工厂函数
// ============================================================================

// FlowableJust 从给定的值创建Flowable
// 单个值时返回可同步取值的标量流
func FlowableJust(values ...interface{}) Flowable {
	switch len(values) {
	case 0:
		return FlowableEmpty()
	case 1:
		return newScalarFlowable(values[0])
	}
	return FlowableFromSlice(values)
}

// FlowableEmpty 创建一个空的Flowable，立即完成
func FlowableEmpty() Flowable {
	f := &emptyFlowable{}
	f.source = completeSubscriber
	f.self = f
	return f
}

// FlowableNever 创建一个永不发射任何值的Flowable
func FlowableNever() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(NewFlowableSubscription(nil, nil))
	})
}

// FlowableError 创建一个立即发送错误的Flowable，不需要请求
func FlowableError(err error) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		errorSubscriber(subscriber, err)
	})
}

// FlowableRange 创建发射 [start, start+count) 整数序列的Flowable
func FlowableRange(start int, count int) Flowable {
	if count <= 0 {
		return FlowableEmpty()
	}
	if count == 1 {
		return newScalarFlowable(start)
	}
	return NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(newIndexedSubscription(subscriber, count, func(i int) interface{} {
			return start + i
		}))
	})
}

// FlowableFromSlice 从切片创建Flowable，订阅时复制切片
func FlowableFromSlice(slice []interface{}) Flowable {
	if len(slice) == 0 {
		return FlowableEmpty()
	}
	values := make([]interface{}, len(slice))
	copy(values, slice)

	return NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(newIndexedSubscription(subscriber, len(values), func(i int) interface{} {
			return values[i]
		}))
	})
}

// FlowableFromCallable 每次订阅时调用fn得到唯一的值
func FlowableFromCallable(fn func() (interface{}, error)) Flowable {
	f := &callableFlowable{fn: fn}
	f.source = f.subscribe
	f.self = f
	return f
}

// FlowableDefer 每次订阅时才创建真正的上游
func FlowableDefer(supplier func() (Publisher, error)) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		var p Publisher
		err := SafeExecute(func() error {
			var e error
			p, e = supplier()
			return e
		})
		if err == nil && p == nil {
			err = ErrNilPublisher
		}
		if err != nil {
			errorSubscriber(subscriber, err)
			return
		}
		p.Subscribe(subscriber)
	})
}

// FlowableFromChannel 从通道创建异步Flowable
// 通道由独立的goroutine读取，下游可以异步融合
func FlowableFromChannel(ch <-chan interface{}) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		processor := NewUnicastProcessor()
		processor.Subscribe(subscriber)

		go func() {
			for v := range ch {
				if processor.IsCancelled() {
					return
				}
				processor.Emit(v)
			}
			processor.OnComplete()
		}()
	})
}

// ============================================================================
// 标量流
// ============================================================================

// scalarFlowable 持有一个已知值的流
type scalarFlowable struct {
	flowableImpl
	value interface{}
}

func newScalarFlowable(value interface{}) Flowable {
	f := &scalarFlowable{value: value}
	f.source = f.subscribe
	f.self = f
	return f
}

// Call 同步返回持有的值
func (f *scalarFlowable) Call() (interface{}, bool, error) {
	return f.value, true, nil
}

func (f *scalarFlowable) subscribe(subscriber Subscriber) {
	subscriber.OnSubscribe(newWeakScalarSubscription(f.value, subscriber))
}

// emptyFlowable 立即完成的标量流
type emptyFlowable struct {
	flowableImpl
}

// Call 没有值
func (f *emptyFlowable) Call() (interface{}, bool, error) {
	return nil, false, nil
}

// callableFlowable 订阅时计算唯一值的流
type callableFlowable struct {
	flowableImpl
	fn func() (interface{}, error)
}

// Call 同步计算值
func (f *callableFlowable) Call() (interface{}, bool, error) {
	v, err := f.fn()
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (f *callableFlowable) subscribe(subscriber Subscriber) {
	var fired onceFlag
	var cancelled onceFlag
	subscriber.OnSubscribe(NewFlowableSubscription(
		func(n int64) {
			if !fired.fire() {
				return
			}
			value, _, err := callScalar(f)
			if cancelled.fired() {
				return
			}
			if err != nil {
				subscriber.OnError(err)
				return
			}
			subscriber.OnNext(CreateItem(value))
			subscriber.OnComplete()
		},
		func() {
			cancelled.fire()
		},
	))
}

// ============================================================================
// 按下标发射的订阅 - 支持同步融合
// ============================================================================

// indexedSubscription 逐个发射 [0, count) 下标对应的值
// 同步融合时由消费者通过Poll拉取
type indexedSubscription struct {
	actual    Subscriber
	count     int
	valueAt   func(i int) interface{}
	index     int
	requested atomic.Int64
	cancelled onceFlag
}

func newIndexedSubscription(actual Subscriber, count int, valueAt func(i int) interface{}) *indexedSubscription {
	return &indexedSubscription{actual: actual, count: count, valueAt: valueAt}
}

// Request 请求指定数量的数据项，只有把计数从0增加的调用者负责发射
func (s *indexedSubscription) Request(n int64) {
	if n <= 0 {
		onErrorDropped(ErrInvalidRequest)
		return
	}
	if addCapAtomic(&s.requested, n) != 0 {
		return
	}
	if n == Unbounded {
		s.fastPath()
		return
	}
	s.slowPath(n)
}

func (s *indexedSubscription) fastPath() {
	for i := s.index; i < s.count; i++ {
		if s.cancelled.fired() {
			return
		}
		s.actual.OnNext(CreateItem(s.valueAt(i)))
	}
	if !s.cancelled.fired() {
		s.actual.OnComplete()
	}
}

func (s *indexedSubscription) slowPath(r int64) {
	var e int64
	i := s.index

	for {
		for i != s.count && e != r {
			if s.cancelled.fired() {
				return
			}
			s.actual.OnNext(CreateItem(s.valueAt(i)))
			i++
			e++
		}

		if i == s.count {
			if !s.cancelled.fired() {
				s.actual.OnComplete()
			}
			return
		}

		r = s.requested.Load()
		if r == e {
			s.index = i
			r = s.requested.Sub(e)
			if r == 0 {
				return
			}
			if r == Unbounded {
				s.fastPath()
				return
			}
			e = 0
		}
	}
}

// Cancel 取消订阅
func (s *indexedSubscription) Cancel() {
	s.cancelled.fire()
}

// IsCancelled 检查是否已取消
func (s *indexedSubscription) IsCancelled() bool {
	return s.cancelled.fired()
}

// RequestFusion 只接受同步融合
func (s *indexedSubscription) RequestFusion(mode FusionMode) FusionMode {
	if mode&FusionSync != 0 {
		return FusionSync
	}
	return FusionNone
}

// Poll 拉取下一个值
func (s *indexedSubscription) Poll() (interface{}, bool, error) {
	if s.index == s.count {
		return nil, false, nil
	}
	v := s.valueAt(s.index)
	s.index++
	return v, true, nil
}

// IsEmpty 是否已经拉取完毕
func (s *indexedSubscription) IsEmpty() bool {
	return s.index == s.count
}

// Clear 丢弃剩余的值
func (s *indexedSubscription) Clear() {
	s.index = s.count
}

// Size 剩余数量
func (s *indexedSubscription) Size() int {
	return s.count - s.index
}

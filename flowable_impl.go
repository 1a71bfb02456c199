// Flowable core implementation for rxflow
// Flowable核心实现，支持背压处理的响应式数据流
package rxflow

import (
	"context"
	"sync"
)

// ============================================================================
// Flowable 核心实现
// ============================================================================

// flowableImpl Flowable的核心实现
type flowableImpl struct {
	source func(subscriber Subscriber)

	// self 作为操作符上游的对象，携带标量等附加能力
	self Publisher
}

// NewFlowable 创建新的Flowable
func NewFlowable(source func(subscriber Subscriber)) Flowable {
	return &flowableImpl{source: source}
}

// publisher 返回操作符应当订阅的上游
func (f *flowableImpl) publisher() Publisher {
	if f.self != nil {
		return f.self
	}
	return f
}

// Subscribe 订阅Subscriber
func (f *flowableImpl) Subscribe(subscriber Subscriber) {
	if subscriber == nil {
		onErrorDropped(ErrNilSubscriber)
		return
	}
	f.source(subscriber)
}

// SubscribeWithCallbacks 使用回调函数订阅
// 返回的订阅在上游就绪前暂存请求与取消
func (f *flowableImpl) SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) FlowableSubscription {
	subscriber := &callbackSubscriber{
		onNext:     onNext,
		onError:    onError,
		onComplete: onComplete,
	}
	f.Subscribe(subscriber)
	return &subscriber.subscription
}

// SubscribeOn 指定订阅操作运行的调度器
func (f *flowableImpl) SubscribeOn(scheduler Scheduler) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		parent := &subscribeOnSubscriber{actual: subscriber}
		subscriber.OnSubscribe(parent)

		task := scheduler.Schedule(func() {
			f.publisher().Subscribe(parent)
		})
		parent.mu.Lock()
		parent.task = task
		parent.mu.Unlock()
		if parent.IsCancelled() {
			task.Dispose()
		}
	})
}

// ============================================================================
// 转换操作符
// ============================================================================

// Map 转换每个数据项
func (f *flowableImpl) Map(transformer Transformer) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.publisher().Subscribe(&mapSubscriber{
			downstream:  subscriber,
			transformer: transformer,
		})
	})
}

// Filter 过滤数据项
func (f *flowableImpl) Filter(predicate Predicate) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.publisher().Subscribe(&filterSubscriber{
			downstream: subscriber,
			predicate:  predicate,
		})
	})
}

// Take 取前N个数据项
func (f *flowableImpl) Take(count int64) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		t := &takeSubscriber{downstream: subscriber}
		t.remaining.Store(count)
		f.publisher().Subscribe(t)
	})
}

// ============================================================================
// 阻塞操作符
// ============================================================================

// BlockingToSlice 阻塞收集全部数据项，ctx结束时取消订阅
func (f *flowableImpl) BlockingToSlice(ctx context.Context) ([]interface{}, error) {
	done := make(chan struct{})
	var (
		mu    sync.Mutex
		items []interface{}
		err   error
	)

	subscription := f.SubscribeWithCallbacks(
		func(value interface{}) {
			mu.Lock()
			items = append(items, value)
			mu.Unlock()
		},
		func(e error) {
			mu.Lock()
			err = e
			mu.Unlock()
			close(done)
		},
		func() {
			close(done)
		},
	)
	subscription.Request(Unbounded)

	select {
	case <-done:
	case <-ctx.Done():
		subscription.Cancel()
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	result := make([]interface{}, len(items))
	copy(result, items)
	return result, err
}

// BlockingFirst 阻塞获取第一个数据项
func (f *flowableImpl) BlockingFirst(ctx context.Context) (interface{}, error) {
	type result struct {
		value interface{}
		err   error
	}
	ch := make(chan result, 1)
	var once onceFlag
	send := func(r result) {
		if once.fire() {
			ch <- r
		}
	}

	subscription := f.SubscribeWithCallbacks(
		func(value interface{}) {
			send(result{value: value})
		},
		func(e error) {
			send(result{err: e})
		},
		func() {
			send(result{err: ErrEmpty})
		},
	)
	subscription.Request(1)

	select {
	case r := <-ch:
		subscription.Cancel()
		return r.value, r.err
	case <-ctx.Done():
		subscription.Cancel()
		return nil, ctx.Err()
	}
}

// ============================================================================
// 辅助结构体
// ============================================================================

// callbackSubscriber 回调订阅者
type callbackSubscriber struct {
	subscription deferredSubscription
	onNext       OnNext
	onError      OnError
	onComplete   OnComplete
	terminated   onceFlag
}

func (cs *callbackSubscriber) OnSubscribe(subscription FlowableSubscription) {
	cs.subscription.set(subscription)
}

func (cs *callbackSubscriber) OnNext(item Item) {
	if cs.terminated.fired() {
		return
	}
	if cs.onNext != nil {
		cs.onNext(item.Value)
	}
}

func (cs *callbackSubscriber) OnError(err error) {
	if !cs.terminated.fire() {
		onErrorDropped(err)
		return
	}
	if cs.onError != nil {
		cs.onError(err)
		return
	}
	onErrorDropped(err)
}

func (cs *callbackSubscriber) OnComplete() {
	if !cs.terminated.fire() {
		return
	}
	if cs.onComplete != nil {
		cs.onComplete()
	}
}

// subscribeOnSubscriber 在调度器上订阅上游，请求在上游就绪后补发
type subscribeOnSubscriber struct {
	deferredSubscription

	actual Subscriber
	task   Disposable
	mu     sync.Mutex
}

func (s *subscribeOnSubscriber) OnSubscribe(subscription FlowableSubscription) {
	s.set(subscription)
}

func (s *subscribeOnSubscriber) OnNext(item Item) {
	s.actual.OnNext(item)
}

func (s *subscribeOnSubscriber) OnError(err error) {
	s.actual.OnError(err)
}

func (s *subscribeOnSubscriber) OnComplete() {
	s.actual.OnComplete()
}

func (s *subscribeOnSubscriber) Cancel() {
	s.deferredSubscription.Cancel()
	s.mu.Lock()
	task := s.task
	s.mu.Unlock()
	if task != nil {
		task.Dispose()
	}
}

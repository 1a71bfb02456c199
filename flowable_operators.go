// Flowable operators implementation for rxflow
// Flowable操作符的具体实现，每个操作符把自己作为订阅交给下游
package rxflow

import (
	"go.uber.org/atomic"
)

// ============================================================================
// 操作符订阅基础
// ============================================================================

// operatorSubscription 转发请求与取消，隐藏上游的融合能力
type operatorSubscription struct {
	upstream FlowableSubscription
	done     onceFlag
}

func (o *operatorSubscription) Request(n int64) {
	o.upstream.Request(n)
}

func (o *operatorSubscription) Cancel() {
	o.upstream.Cancel()
}

func (o *operatorSubscription) IsCancelled() bool {
	return o.upstream.IsCancelled()
}

// ============================================================================
// Map操作符订阅者
// ============================================================================

// mapSubscriber Map操作符的订阅者实现
type mapSubscriber struct {
	operatorSubscription
	downstream  Subscriber
	transformer Transformer
}

func (ms *mapSubscriber) OnSubscribe(subscription FlowableSubscription) {
	ms.upstream = subscription
	ms.downstream.OnSubscribe(ms)
}

func (ms *mapSubscriber) OnNext(item Item) {
	if ms.done.fired() {
		return
	}

	var result interface{}
	err := SafeExecute(func() error {
		var e error
		result, e = ms.transformer(item.Value)
		return e
	})
	if err != nil {
		ms.OnError(newOperatorValueError(ms.upstream, "map", err, item.Value))
		return
	}
	ms.downstream.OnNext(CreateItem(result))
}

func (ms *mapSubscriber) OnError(err error) {
	if !ms.done.fire() {
		onErrorDropped(err)
		return
	}
	ms.downstream.OnError(err)
}

func (ms *mapSubscriber) OnComplete() {
	if ms.done.fire() {
		ms.downstream.OnComplete()
	}
}

// ============================================================================
// Filter操作符订阅者
// ============================================================================

// filterSubscriber Filter操作符的订阅者实现
type filterSubscriber struct {
	operatorSubscription
	downstream Subscriber
	predicate  Predicate
}

func (fs *filterSubscriber) OnSubscribe(subscription FlowableSubscription) {
	fs.upstream = subscription
	fs.downstream.OnSubscribe(fs)
}

func (fs *filterSubscriber) OnNext(item Item) {
	if fs.done.fired() {
		return
	}

	var pass bool
	err := SafeExecute(func() error {
		pass = fs.predicate(item.Value)
		return nil
	})
	if err != nil {
		fs.OnError(newOperatorValueError(fs.upstream, "filter", err, item.Value))
		return
	}

	if pass {
		fs.downstream.OnNext(item)
		return
	}
	// 被过滤的数据项不消耗下游请求
	fs.upstream.Request(1)
}

func (fs *filterSubscriber) OnError(err error) {
	if !fs.done.fire() {
		onErrorDropped(err)
		return
	}
	fs.downstream.OnError(err)
}

func (fs *filterSubscriber) OnComplete() {
	if fs.done.fire() {
		fs.downstream.OnComplete()
	}
}

// ============================================================================
// Take操作符订阅者
// ============================================================================

// takeSubscriber Take操作符的订阅者实现
type takeSubscriber struct {
	operatorSubscription
	downstream Subscriber
	remaining  atomic.Int64
}

func (ts *takeSubscriber) OnSubscribe(subscription FlowableSubscription) {
	ts.upstream = subscription
	if ts.remaining.Load() <= 0 {
		subscription.Cancel()
		ts.done.fire()
		completeSubscriber(ts.downstream)
		return
	}
	ts.downstream.OnSubscribe(ts)
}

func (ts *takeSubscriber) OnNext(item Item) {
	if ts.done.fired() {
		return
	}

	r := ts.remaining.Dec()
	if r < 0 {
		return
	}
	ts.downstream.OnNext(item)

	if r == 0 {
		ts.upstream.Cancel()
		ts.OnComplete()
	}
}

func (ts *takeSubscriber) OnError(err error) {
	if !ts.done.fire() {
		onErrorDropped(err)
		return
	}
	ts.downstream.OnError(err)
}

func (ts *takeSubscriber) OnComplete() {
	if ts.done.fire() {
		ts.downstream.OnComplete()
	}
}

package rxflow

import (
	"go.uber.org/atomic"
)

// ============================================================================
// 多订阅仲裁者 - 同一时刻只持有一个内部订阅
// 替换订阅时，之前未满足的请求量转移给新订阅，既不重复也不丢失
// ============================================================================

// multiSubscriptionArbiter 可替换上游订阅并保留请求量的仲裁者
type multiSubscriptionArbiter struct {
	// 以下两个字段只在持有wip时访问
	subscription FlowableSubscription
	requested    int64

	missedSubscription atomic.Pointer[FlowableSubscription]
	missedRequested    atomic.Int64
	missedProduced     atomic.Int64

	wip       atomic.Int32
	cancelled atomic.Bool
	unbounded atomic.Bool

	dropError func(error)
}

// set 安装新的订阅，并向它补发尚未满足的请求量
func (a *multiSubscriptionArbiter) set(s FlowableSubscription) {
	if a.cancelled.Load() {
		s.Cancel()
		return
	}

	if a.wip.Load() == 0 && a.wip.CompareAndSwap(0, 1) {
		a.subscription = s
		r := a.requested

		if a.wip.Dec() != 0 {
			a.drainLoop()
		}
		if r != 0 {
			s.Request(r)
		}
		return
	}

	a.missedSubscription.Store(&s)
	a.drain()
}

// request 累加请求量并转发给当前订阅
func (a *multiSubscriptionArbiter) request(n int64) {
	if n <= 0 {
		a.dropError(ErrInvalidRequest)
		return
	}
	if a.unbounded.Load() {
		return
	}

	if a.wip.Load() == 0 && a.wip.CompareAndSwap(0, 1) {
		r := a.requested
		if r != Unbounded {
			r = addCap(r, n)
			a.requested = r
			if r == Unbounded {
				a.unbounded.Store(true)
			}
		}
		s := a.subscription

		if a.wip.Dec() != 0 {
			a.drainLoop()
		}
		if s != nil {
			s.Request(n)
		}
		return
	}

	addCapAtomic(&a.missedRequested, n)
	a.drain()
}

// produced 扣减当前订阅已发射的数量
func (a *multiSubscriptionArbiter) produced(n int64) {
	if a.unbounded.Load() {
		return
	}

	if a.wip.Load() == 0 && a.wip.CompareAndSwap(0, 1) {
		r := a.requested
		if r != Unbounded {
			u := r - n
			if u < 0 {
				a.dropError(ErrMoreProduced)
				u = 0
			}
			a.requested = u
		} else {
			a.unbounded.Store(true)
		}

		if a.wip.Dec() == 0 {
			return
		}
		a.drainLoop()
		return
	}

	addCapAtomic(&a.missedProduced, n)
	a.drain()
}

// cancel 取消当前及之后安装的订阅，幂等
func (a *multiSubscriptionArbiter) cancel() {
	if a.cancelled.CompareAndSwap(false, true) {
		a.drain()
	}
}

// isUnbounded 下游是否已请求无限数量
func (a *multiSubscriptionArbiter) isUnbounded() bool {
	return a.unbounded.Load()
}

func (a *multiSubscriptionArbiter) drain() {
	if a.wip.Inc() != 1 {
		return
	}
	a.drainLoop()
}

func (a *multiSubscriptionArbiter) drainLoop() {
	missed := int32(1)

	var requestAmount int64
	var requestTarget FlowableSubscription

	for {
		var ms FlowableSubscription
		if p := a.missedSubscription.Load(); p != nil {
			if p = a.missedSubscription.Swap(nil); p != nil {
				ms = *p
			}
		}

		mr := a.missedRequested.Load()
		if mr != 0 {
			mr = a.missedRequested.Swap(0)
		}

		mp := a.missedProduced.Load()
		if mp != 0 {
			mp = a.missedProduced.Swap(0)
		}

		s := a.subscription

		if a.cancelled.Load() {
			if s != nil {
				s.Cancel()
				a.subscription = nil
			}
			if ms != nil {
				ms.Cancel()
			}
			requestAmount = 0
			requestTarget = nil
		} else {
			r := a.requested
			if r != Unbounded {
				u := addCap(r, mr)
				if u != Unbounded {
					v := u - mp
					if v < 0 {
						a.dropError(ErrMoreProduced)
						v = 0
					}
					r = v
				} else {
					r = u
					a.unbounded.Store(true)
				}
				a.requested = r
			}

			if ms != nil {
				a.subscription = ms
				// r 已包含全部未满足的请求量
				requestAmount = r
				requestTarget = ms
				if r == 0 {
					requestTarget = nil
				}
			} else if mr != 0 && s != nil {
				requestAmount = addCap(requestAmount, mr)
				requestTarget = s
			}
		}

		missed = a.wip.Sub(missed)
		if missed == 0 {
			if requestAmount != 0 && requestTarget != nil {
				requestTarget.Request(requestAmount)
			}
			return
		}
	}
}

// ============================================================================
// ConcatMap 内部协调者
// ============================================================================

// concatMapSupport 外层协调者接收内部信号的回调
type concatMapSupport interface {
	innerNext(value interface{})
	innerComplete()
	innerError(err error)
}

// concatMapInner 订阅每个内部序列的订阅者，在替换时保留请求量
type concatMapInner struct {
	multiSubscriptionArbiter

	parent concatMapSupport

	// 当前内部序列已转发的数量，只在内部序列的串行信号中访问
	produced int64
}

func newConcatMapInner(parent concatMapSupport, dropError func(error)) *concatMapInner {
	inner := &concatMapInner{parent: parent}
	inner.dropError = dropError
	return inner
}

// OnSubscribe 安装新的内部订阅
func (ci *concatMapInner) OnSubscribe(subscription FlowableSubscription) {
	ci.set(subscription)
}

// OnNext 计数并转发给外层
func (ci *concatMapInner) OnNext(item Item) {
	ci.produced++
	ci.parent.innerNext(item.Value)
}

// OnError 先结算已发射数量再通知外层
func (ci *concatMapInner) OnError(err error) {
	ci.flushProduced()
	ci.parent.innerError(err)
}

// OnComplete 先结算已发射数量再通知外层
func (ci *concatMapInner) OnComplete() {
	ci.flushProduced()
	ci.parent.innerComplete()
}

func (ci *concatMapInner) flushProduced() {
	if p := ci.produced; p != 0 {
		ci.produced = 0
		ci.multiSubscriptionArbiter.produced(p)
	}
}

// ============================================================================
// 标量订阅 - 持有一个预先计算的值
// ============================================================================

// weakScalarSubscription 首次收到正数请求时发射值并完成
// 发射前取消则永远不再发射，也不发送终止信号
type weakScalarSubscription struct {
	actual    Subscriber
	value     interface{}
	once      onceFlag
	cancelled onceFlag
}

func newWeakScalarSubscription(value interface{}, actual Subscriber) *weakScalarSubscription {
	return &weakScalarSubscription{actual: actual, value: value}
}

// Request 首次正数请求时发射
func (ws *weakScalarSubscription) Request(n int64) {
	if n > 0 && ws.once.fire() {
		ws.actual.OnNext(CreateItem(ws.value))
		ws.actual.OnComplete()
	}
}

// Cancel 阻止尚未发生的发射
func (ws *weakScalarSubscription) Cancel() {
	ws.cancelled.fire()
	ws.once.fire()
}

// IsCancelled 检查是否已取消
func (ws *weakScalarSubscription) IsCancelled() bool {
	return ws.cancelled.fired()
}

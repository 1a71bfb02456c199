// Processor implementations for rxflow
// 单播处理器：同时作为订阅者与Flowable，缓冲数据直到唯一的订阅者请求
package rxflow

import (
	"errors"

	"go.uber.org/atomic"
)

// ErrUnicastSubscribed 单播处理器只允许一个订阅者
var ErrUnicastSubscribed = errors.New("rxflow: unicast processor allows only one subscriber")

// ============================================================================
// UnicastProcessor - 单播处理器
// ============================================================================

// UnicastProcessor 缓冲所有数据项，只服务一个订阅者
// 发射端必须串行调用 OnNext/OnError/OnComplete
// 支持异步融合：融合后下游直接从内部队列拉取
type UnicastProcessor struct {
	flowableImpl

	queue       Queue
	actual      atomic.Pointer[Subscriber]
	once        onceFlag
	done        atomic.Bool
	err         error
	cancelled   atomic.Bool
	wip         atomic.Int32
	requested   atomic.Int64
	outputFused bool
}

// NewUnicastProcessor 创建使用无界队列的单播处理器
func NewUnicastProcessor() *UnicastProcessor {
	return NewUnicastProcessorWithQueue(NewLinkedQueue())
}

// NewUnicastProcessorWithQueue 使用指定队列创建单播处理器
func NewUnicastProcessorWithQueue(queue Queue) *UnicastProcessor {
	p := &UnicastProcessor{queue: queue}
	p.source = p.subscribe
	p.self = p
	return p
}

func (p *UnicastProcessor) subscribe(subscriber Subscriber) {
	if !p.once.fire() {
		errorSubscriber(subscriber, ErrUnicastSubscribed)
		return
	}

	subscriber.OnSubscribe(p)
	p.actual.Store(&subscriber)
	if p.cancelled.Load() {
		p.actual.Store(nil)
		return
	}
	p.drain()
}

// ============================================================================
// 发射端
// ============================================================================

// OnSubscribe 作为订阅者时请求全部数据
func (p *UnicastProcessor) OnSubscribe(subscription FlowableSubscription) {
	if p.done.Load() || p.cancelled.Load() {
		subscription.Cancel()
		return
	}
	subscription.Request(Unbounded)
}

// OnNext 缓冲数据项
func (p *UnicastProcessor) OnNext(item Item) {
	if p.done.Load() || p.cancelled.Load() {
		return
	}
	if !p.queue.Offer(item.Value) {
		p.OnError(ErrQueueFull)
		return
	}
	p.drain()
}

// Emit 缓冲一个值
func (p *UnicastProcessor) Emit(value interface{}) {
	p.OnNext(CreateItem(value))
}

// OnError 以错误终止
func (p *UnicastProcessor) OnError(err error) {
	if p.done.Load() || p.cancelled.Load() {
		onErrorDropped(err)
		return
	}
	p.err = err
	p.done.Store(true)
	p.drain()
}

// OnComplete 正常终止
func (p *UnicastProcessor) OnComplete() {
	if p.done.Load() || p.cancelled.Load() {
		return
	}
	p.done.Store(true)
	p.drain()
}

// ============================================================================
// 订阅端
// ============================================================================

// Request 请求指定数量的数据项
func (p *UnicastProcessor) Request(n int64) {
	if n <= 0 {
		onErrorDropped(ErrInvalidRequest)
		return
	}
	addCapAtomic(&p.requested, n)
	p.drain()
}

// Cancel 取消订阅并丢弃缓冲的数据
func (p *UnicastProcessor) Cancel() {
	if !p.cancelled.CompareAndSwap(false, true) {
		return
	}
	if !p.outputFused && p.wip.Inc() == 1 {
		p.queue.Clear()
		p.actual.Store(nil)
	}
}

// IsCancelled 检查是否已取消
func (p *UnicastProcessor) IsCancelled() bool {
	return p.cancelled.Load()
}

// RequestFusion 只接受异步融合
func (p *UnicastProcessor) RequestFusion(mode FusionMode) FusionMode {
	if mode&FusionAsync != 0 {
		p.outputFused = true
		return FusionAsync
	}
	return FusionNone
}

// Poll 融合模式下拉取下一个值
func (p *UnicastProcessor) Poll() (interface{}, bool, error) {
	return p.queue.Poll()
}

// IsEmpty 队列是否为空
func (p *UnicastProcessor) IsEmpty() bool {
	return p.queue.IsEmpty()
}

// Clear 丢弃缓冲的数据
func (p *UnicastProcessor) Clear() {
	p.queue.Clear()
}

// Size 缓冲的数量
func (p *UnicastProcessor) Size() int {
	return p.queue.Size()
}

// ============================================================================
// 排空
// ============================================================================

func (p *UnicastProcessor) drain() {
	if p.wip.Inc() != 1 {
		return
	}

	missed := int32(1)
	for {
		if a := p.actual.Load(); a != nil {
			if p.outputFused {
				p.drainFused(*a)
			} else {
				p.drainRegular(*a)
			}
			return
		}

		missed = p.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}

// drainFused 融合模式只发送信号，数据由下游Poll
func (p *UnicastProcessor) drainFused(a Subscriber) {
	missed := int32(1)
	for {
		if p.cancelled.Load() {
			p.actual.Store(nil)
			return
		}

		d := p.done.Load()
		a.OnNext(Item{})

		if d {
			p.actual.Store(nil)
			if p.err != nil {
				a.OnError(p.err)
			} else {
				a.OnComplete()
			}
			return
		}

		missed = p.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}

func (p *UnicastProcessor) drainRegular(a Subscriber) {
	missed := int32(1)
	for {
		r := p.requested.Load()
		var e int64

		for r != e {
			d := p.done.Load()
			v, ok, _ := p.queue.Poll()

			if p.checkTerminated(d, !ok, a) {
				return
			}
			if !ok {
				break
			}

			a.OnNext(CreateItem(v))
			e++
		}

		if r == e && p.checkTerminated(p.done.Load(), p.queue.IsEmpty(), a) {
			return
		}

		if e != 0 && r != Unbounded {
			p.requested.Sub(e)
		}

		missed = p.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}

func (p *UnicastProcessor) checkTerminated(d, empty bool, a Subscriber) bool {
	if p.cancelled.Load() {
		p.queue.Clear()
		p.actual.Store(nil)
		return true
	}
	if d && empty {
		p.actual.Store(nil)
		if p.err != nil {
			a.OnError(p.err)
		} else {
			a.OnComplete()
		}
		return true
	}
	return false
}

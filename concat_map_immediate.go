package rxflow

import (
	"go.uber.org/atomic"
)

// ============================================================================
// 立即错误策略 - 任意错误都立刻取消另一侧并终止下游
// ============================================================================

// concatMapImmediate 立即错误模式的外层协调者
// guard 串行化内部数据发射与错误投递
type concatMapImmediate struct {
	concatMapBase

	guard atomic.Int32
}

func newConcatMapImmediate(actual Subscriber, mapper ConcatMapper, config *Config, metrics *operatorMetrics) *concatMapImmediate {
	c := &concatMapImmediate{}
	c.init(actual, mapper, config, metrics, c)
	return c
}

// OnSubscribe 接收上游订阅
func (c *concatMapImmediate) OnSubscribe(s FlowableSubscription) {
	c.subscribe(s, c, c.drain)
}

// OnNext 缓冲上游数据项
func (c *concatMapImmediate) OnNext(item Item) {
	if !c.offer(item) {
		c.upstream.Cancel()
		c.OnError(ErrQueueFull)
		return
	}
	c.drain()
}

// OnError 上游错误：取消内部序列并尝试投递
func (c *concatMapImmediate) OnError(err error) {
	if c.cancelled.Load() {
		c.dropError(err)
		return
	}
	if !c.errors.add(err) {
		c.dropError(err)
		return
	}

	c.inner.cancel()
	if c.guard.Inc() == 1 {
		c.deliverError()
	}
}

// OnComplete 上游完成
func (c *concatMapImmediate) OnComplete() {
	c.done.Store(true)
	c.drain()
}

// Request 请求指定数量的数据项
func (c *concatMapImmediate) Request(n int64) {
	c.request(n, c.drain)
}

// Cancel 取消订阅
func (c *concatMapImmediate) Cancel() {
	c.cancel()
}

func (c *concatMapImmediate) innerNext(value interface{}) {
	if c.guard.Load() == 0 && c.guard.CompareAndSwap(0, 1) {
		c.actual.OnNext(CreateItem(value))
		if c.guard.CompareAndSwap(1, 0) {
			return
		}
		// 发射期间有错误到达
		c.deliverError()
	}
}

func (c *concatMapImmediate) innerComplete() {
	c.active.Store(false)
	c.drain()
}

func (c *concatMapImmediate) innerError(err error) {
	if c.cancelled.Load() {
		c.dropError(err)
		return
	}
	if !c.errors.add(err) {
		c.dropError(err)
		return
	}

	c.upstream.Cancel()
	if c.guard.Inc() == 1 {
		c.deliverError()
	}
}

// fail 排空循环内部产生的错误，上游已被取消
func (c *concatMapImmediate) fail(err error) {
	if !c.errors.add(err) {
		c.dropError(err)
		return
	}
	c.inner.cancel()
	if c.guard.Inc() == 1 {
		c.deliverError()
	}
}

// deliverError 终止错误槽并投递累积的错误，只会成功一次
func (c *concatMapImmediate) deliverError() {
	err, already := c.errors.terminate()
	if already || err == nil {
		return
	}
	c.logTerminated(err)
	c.actual.OnError(err)
}

func (c *concatMapImmediate) drain() {
	if c.wip.Inc() != 1 {
		return
	}

	for {
		if c.cancelled.Load() {
			return
		}

		// 已有错误时不再映射任何数据项
		if c.errors.load() != nil || c.errors.isTerminated() {
			c.queue.Clear()
			return
		}

		if !c.active.Load() {
			d := c.done.Load()

			value, ok, err := c.queue.Poll()
			if err != nil {
				c.fail(newOperatorError(c.upstream, "poll", err))
				return
			}

			if d && !ok {
				if c.guard.CompareAndSwap(0, 1) {
					// 终止错误槽，之后到达的错误转入丢弃通道
					err, _ := c.errors.terminate()
					c.logTerminated(err)
					if err != nil {
						c.actual.OnError(err)
						return
					}
					c.actual.OnComplete()
				}
				return
			}

			if ok {
				src, err := c.mapNext(value)
				if err != nil {
					c.fail(err)
					return
				}

				if src.kind == innerScalar {
					if !src.present {
						globalStats.ScalarEmpty.Inc()
						continue
					}

					if c.inner.isUnbounded() {
						if c.guard.Load() == 0 && c.guard.CompareAndSwap(0, 1) {
							c.metrics.recordScalarFastPath()
							c.actual.OnNext(CreateItem(src.value))
							if !c.guard.CompareAndSwap(1, 0) {
								c.deliverError()
								return
							}
						}
						continue
					}
				}

				c.subscribeInner(src)
			}
		}

		if c.wip.Dec() == 0 {
			return
		}
	}
}

package rxflow

// ============================================================================
// 延迟错误策略
// veryEnd=false 时错误在当前内部序列结束后发送
// veryEnd=true 时错误累积到所有序列结束后合并发送
// ============================================================================

// concatMapDelayed 边界与末尾错误模式的外层协调者
type concatMapDelayed struct {
	concatMapBase

	veryEnd bool
}

func newConcatMapDelayed(actual Subscriber, mapper ConcatMapper, config *Config, metrics *operatorMetrics, veryEnd bool) *concatMapDelayed {
	c := &concatMapDelayed{veryEnd: veryEnd}
	c.init(actual, mapper, config, metrics, c)
	return c
}

// OnSubscribe 接收上游订阅
func (c *concatMapDelayed) OnSubscribe(s FlowableSubscription) {
	c.subscribe(s, c, c.drain)
}

// OnNext 缓冲上游数据项
func (c *concatMapDelayed) OnNext(item Item) {
	if !c.offer(item) {
		c.upstream.Cancel()
		c.OnError(ErrQueueFull)
		return
	}
	c.drain()
}

// OnError 记录上游错误，等待边界
func (c *concatMapDelayed) OnError(err error) {
	if c.cancelled.Load() {
		c.dropError(err)
		return
	}
	if !c.errors.add(err) {
		c.dropError(err)
		return
	}
	c.done.Store(true)
	c.drain()
}

// OnComplete 上游完成
func (c *concatMapDelayed) OnComplete() {
	c.done.Store(true)
	c.drain()
}

// Request 请求指定数量的数据项
func (c *concatMapDelayed) Request(n int64) {
	c.request(n, c.drain)
}

// Cancel 取消订阅
func (c *concatMapDelayed) Cancel() {
	c.cancel()
}

func (c *concatMapDelayed) innerNext(value interface{}) {
	c.actual.OnNext(CreateItem(value))
}

func (c *concatMapDelayed) innerComplete() {
	c.active.Store(false)
	c.drain()
}

func (c *concatMapDelayed) innerError(err error) {
	if c.cancelled.Load() {
		c.dropError(err)
		return
	}
	if !c.errors.add(err) {
		c.dropError(err)
		return
	}

	if !c.veryEnd {
		c.upstream.Cancel()
		c.done.Store(true)
	}
	c.active.Store(false)
	c.drain()
}

// fail 排空循环内部产生的错误，与已累积的错误合并后立即发送
func (c *concatMapDelayed) fail(err error) {
	if !c.errors.add(err) {
		c.dropError(err)
		return
	}
	c.terminate()
}

// terminate 根据错误槽发送错误或完成信号
func (c *concatMapDelayed) terminate() {
	err, already := c.errors.terminate()
	if already {
		return
	}
	c.logTerminated(err)
	if err != nil {
		c.actual.OnError(err)
		return
	}
	c.actual.OnComplete()
}

func (c *concatMapDelayed) drain() {
	if c.wip.Inc() != 1 {
		return
	}

	for {
		if c.cancelled.Load() {
			return
		}

		if !c.active.Load() {
			d := c.done.Load()

			if d && !c.veryEnd && c.errors.load() != nil {
				c.queue.Clear()
				c.terminate()
				return
			}

			value, ok, err := c.queue.Poll()
			if err != nil {
				c.fail(newOperatorError(c.upstream, "poll", err))
				return
			}

			if d && !ok {
				c.terminate()
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
						c.metrics.recordScalarFastPath()
						c.actual.OnNext(CreateItem(src.value))
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

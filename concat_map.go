// ConcatMap operator for rxflow
// 将每个上游数据项映射为内部序列，按顺序逐个订阅并拼接输出
package rxflow

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const concatMapOperator = "concat_map"

// ConcatMapper 将上游数据项映射为内部序列
type ConcatMapper func(value interface{}) (Publisher, error)

// ============================================================================
// 入口
// ============================================================================

// NewConcatMap 创建ConcatMap流，参数在组装时校验
func NewConcatMap(source Publisher, mapper ConcatMapper, options ...Option) (Flowable, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if mapper == nil {
		return nil, ErrNilMapper
	}

	config := newConfig(options)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	metrics, err := newOperatorMetrics(config.Meter, concatMapOperator)
	if err != nil {
		return nil, err
	}

	return NewFlowable(func(subscriber Subscriber) {
		if trySubscribeScalarMap(source, subscriber, mapper, config, metrics) {
			return
		}
		source.Subscribe(newConcatMapSubscriber(subscriber, mapper, config, metrics))
	}), nil
}

// NewConcatMapSubscriber 创建可直接订阅上游的ConcatMap订阅者
func NewConcatMapSubscriber(downstream Subscriber, mapper ConcatMapper, options ...Option) (Subscriber, error) {
	if downstream == nil {
		return nil, ErrNilSubscriber
	}
	if mapper == nil {
		return nil, ErrNilMapper
	}

	config := newConfig(options)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	metrics, err := newOperatorMetrics(config.Meter, concatMapOperator)
	if err != nil {
		return nil, err
	}
	return newConcatMapSubscriber(downstream, mapper, config, metrics), nil
}

// newConcatMapSubscriber 按错误模式选择协调者
func newConcatMapSubscriber(actual Subscriber, mapper ConcatMapper, config *Config, metrics *operatorMetrics) Subscriber {
	globalStats.Subscriptions.Inc()

	switch config.ErrorMode {
	case ErrorModeBoundary:
		return newConcatMapDelayed(actual, mapper, config, metrics, false)
	case ErrorModeEnd:
		return newConcatMapDelayed(actual, mapper, config, metrics, true)
	default:
		return newConcatMapImmediate(actual, mapper, config, metrics)
	}
}

// ConcatMap 按顺序拼接映射出的内部序列
// 配置错误以错误信号的形式交给订阅者
func (f *flowableImpl) ConcatMap(mapper ConcatMapper, options ...Option) Flowable {
	flowable, err := NewConcatMap(f.publisher(), mapper, options...)
	if err != nil {
		return FlowableError(err)
	}
	return flowable
}

// ConcatMapDelayError 与ConcatMap相同，但错误延迟到所有序列结束后发送
func (f *flowableImpl) ConcatMapDelayError(mapper ConcatMapper, options ...Option) Flowable {
	opts := make([]Option, 0, len(options)+1)
	opts = append(opts, WithErrorMode(ErrorModeEnd))
	opts = append(opts, options...)
	return f.ConcatMap(mapper, opts...)
}

// ============================================================================
// 内部序列分类
// ============================================================================

type innerKind int

const (
	innerSequence innerKind = iota
	innerScalar
)

// innerSource 映射结果的分类，每个数据项只计算一次
type innerSource struct {
	kind innerKind

	// innerScalar
	value   interface{}
	present bool

	// innerSequence
	publisher Publisher
}

// applyMapper 执行映射函数，panic与空结果都转为错误
func applyMapper(mapper ConcatMapper, value interface{}) (Publisher, error) {
	var p Publisher
	err := SafeExecute(func() error {
		var e error
		p, e = mapper(value)
		return e
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNilPublisher
	}
	return p, nil
}

// classifyInner 识别可同步取值的标量序列
func classifyInner(p Publisher) (innerSource, error) {
	sc, ok := p.(ScalarCallable)
	if !ok {
		return innerSource{kind: innerSequence, publisher: p}, nil
	}

	value, present, err := callScalar(sc)
	if err != nil {
		return innerSource{}, err
	}
	return innerSource{kind: innerScalar, value: value, present: present}, nil
}

func callScalar(sc ScalarCallable) (value interface{}, present bool, err error) {
	err = SafeExecute(func() error {
		var e error
		value, present, e = sc.Call()
		return e
	})
	return value, present, err
}

// trySubscribeScalarMap 上游本身是标量时直接映射，不创建协调者
func trySubscribeScalarMap(source Publisher, actual Subscriber, mapper ConcatMapper, config *Config, metrics *operatorMetrics) bool {
	sc, ok := source.(ScalarCallable)
	if !ok {
		return false
	}

	value, present, err := callScalar(sc)
	if err != nil {
		errorSubscriber(actual, &OperatorError{Op: "call", Cause: err})
		return true
	}
	if !present {
		completeSubscriber(actual)
		return true
	}

	p, err := applyMapper(mapper, value)
	if err != nil {
		errorSubscriber(actual, &OperatorError{Op: "map", Value: value, HasValue: true, Cause: err})
		return true
	}

	src, err := classifyInner(p)
	if err != nil {
		errorSubscriber(actual, &OperatorError{Op: "call", Value: value, HasValue: true, Cause: err})
		return true
	}

	switch {
	case src.kind == innerSequence:
		metrics.recordInnerSubscribed()
		src.publisher.Subscribe(actual)
	case src.present:
		metrics.recordScalarFastPath()
		actual.OnSubscribe(newWeakScalarSubscription(src.value, actual))
	default:
		globalStats.ScalarEmpty.Inc()
		completeSubscriber(actual)
	}

	l := config.logger()
	l.Debug().
		Str(fieldOperator, concatMapOperator).
		Msg("scalar source mapped without coordinator")
	return true
}

// ============================================================================
// 协调者公共部分
// ============================================================================

// concatMapBase 两种错误策略共享的状态与上游处理
type concatMapBase struct {
	actual   Subscriber
	inner    *concatMapInner
	mapper   ConcatMapper
	config   *Config
	metrics  *operatorMetrics
	log      zerolog.Logger
	prefetch int
	limit    int

	// 以下字段只在OnSubscribe或drain循环中访问
	upstream   FlowableSubscription
	queue      pollable
	ownQueue   Queue
	sourceMode FusionMode
	consumed   int

	done      atomic.Bool
	cancelled atomic.Bool
	active    atomic.Bool
	wip       atomic.Int32
	errors    errorSlot

	firstRequest onceFlag
}

func (b *concatMapBase) init(actual Subscriber, mapper ConcatMapper, config *Config, metrics *operatorMetrics, parent concatMapSupport) {
	b.actual = actual
	b.mapper = mapper
	b.config = config
	b.metrics = metrics
	b.prefetch = config.Prefetch
	b.limit = config.Prefetch - (config.Prefetch >> 2)
	b.inner = newConcatMapInner(parent, b.dropError)
	b.log = config.logger().With().
		Str(fieldSubscriptionID, uuid.NewString()).
		Str(fieldOperator, concatMapOperator).
		Str(fieldErrorMode, config.ErrorMode.String()).
		Logger()
}

// subscribe 协商融合模式并准备缓冲区
// self 作为下游看到的订阅，drain 为具体策略的排空循环
func (b *concatMapBase) subscribe(s FlowableSubscription, self FlowableSubscription, drain func()) {
	if b.upstream != nil {
		s.Cancel()
		b.dropError(ErrDuplicateSubscription)
		return
	}
	b.upstream = s

	if qs, ok := IsQueueSubscription(s); ok {
		switch qs.RequestFusion(FusionAny) {
		case FusionSync:
			b.sourceMode = FusionSync
			b.queue = qs
			b.done.Store(true)
			globalStats.FusedSync.Inc()
			b.logSubscribed()

			b.actual.OnSubscribe(self)
			drain()
			return
		case FusionAsync:
			b.sourceMode = FusionAsync
			b.queue = qs
			globalStats.FusedAsync.Inc()
			b.logSubscribed()

			b.actual.OnSubscribe(self)
			b.requestUpstream(s)
			return
		}
	}

	q, err := b.config.QueueSupplier(b.prefetch)
	if err == nil && q == nil {
		err = ErrNilQueueSupplier
	}
	if err != nil {
		b.log.Error().Err(err).Msg("queue supplier failed")
		errorSubscriber(b.actual, newOperatorError(s, "queue", err))
		return
	}
	b.metrics.recordQueueAllocated()
	b.ownQueue = q
	b.queue = q
	b.logSubscribed()

	b.actual.OnSubscribe(self)
	b.requestUpstream(s)
}

func (b *concatMapBase) requestUpstream(s FlowableSubscription) {
	if b.prefetch >= UnboundedPrefetch {
		s.Request(Unbounded)
		return
	}
	s.Request(int64(b.prefetch))
}

// offer 缓冲上游数据项，返回false表示缓冲区溢出
func (b *concatMapBase) offer(item Item) bool {
	if b.sourceMode == FusionAsync {
		return true
	}
	return b.ownQueue.Offer(item.Value)
}

// request 转发下游请求，首次请求触发一次排空
func (b *concatMapBase) request(n int64, drain func()) {
	if n <= 0 {
		b.dropError(ErrInvalidRequest)
		return
	}
	b.inner.request(n)
	if b.firstRequest.fire() {
		drain()
	}
}

// cancel 取消内部与上游，幂等
func (b *concatMapBase) cancel() {
	if !b.cancelled.CompareAndSwap(false, true) {
		return
	}
	b.inner.cancel()
	if b.upstream != nil {
		b.upstream.Cancel()
	}
	b.log.Debug().Msg("concat map cancelled")
}

// IsCancelled 检查是否已取消
func (b *concatMapBase) IsCancelled() bool {
	return b.cancelled.Load()
}

// replenish 消费计数达到阈值后向上游补充请求
func (b *concatMapBase) replenish() {
	if b.sourceMode == FusionSync || b.prefetch >= UnboundedPrefetch {
		return
	}
	b.consumed++
	if b.consumed == b.limit {
		b.consumed = 0
		b.upstream.Request(int64(b.limit))
	}
}

// mapNext 映射一个出队的数据项并分类
func (b *concatMapBase) mapNext(value interface{}) (innerSource, error) {
	p, err := applyMapper(b.mapper, value)
	if err != nil {
		return innerSource{}, newOperatorValueError(b.upstream, "map", err, value)
	}

	b.replenish()

	src, err := classifyInner(p)
	if err != nil {
		return innerSource{}, newOperatorValueError(b.upstream, "call", err, value)
	}
	return src, nil
}

// subscribeInner 将下一个内部序列交给内部协调者
func (b *concatMapBase) subscribeInner(src innerSource) {
	b.active.Store(true)
	if src.kind == innerScalar {
		globalStats.ScalarDeferred.Inc()
		b.inner.set(newWeakScalarSubscription(src.value, b.inner))
		return
	}
	b.metrics.recordInnerSubscribed()
	src.publisher.Subscribe(b.inner)
}

// dropError 报告无法投递的错误
func (b *concatMapBase) dropError(err error) {
	b.metrics.recordErrorDropped()
	b.log.Debug().Err(err).Msg("error dropped")
	b.config.dropError(err)
}

func (b *concatMapBase) logSubscribed() {
	b.log.Debug().
		Int(fieldPrefetch, b.prefetch).
		Stringer(fieldFusion, b.sourceMode).
		Msg("concat map subscribed")
}

func (b *concatMapBase) logTerminated(err error) {
	if err != nil {
		b.log.Debug().Err(err).Msg("concat map failed")
		return
	}
	b.log.Debug().Msg("concat map completed")
}

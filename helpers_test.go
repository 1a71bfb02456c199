package rxflow

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
)

// ============================================================================
// 测试辅助
// ============================================================================

// recordingSubscriber 记录收到的全部信号，请求由测试显式发出
type recordingSubscriber struct {
	mu           sync.Mutex
	subscription FlowableSubscription
	values       []interface{}
	err          error
	errCount     int
	completes    int
	subscribed   chan struct{}
	done         chan struct{}
	terminal     onceFlag
	initial      int64

	// onNext 记录数据后调用，可用于阻塞发射线程
	onNext  func(value interface{})
	inNext  atomic.Bool
	overlap atomic.Bool
}

func newRecordingSubscriber(initial int64) *recordingSubscriber {
	return &recordingSubscriber{
		initial:    initial,
		subscribed: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (r *recordingSubscriber) OnSubscribe(subscription FlowableSubscription) {
	r.mu.Lock()
	r.subscription = subscription
	r.mu.Unlock()
	close(r.subscribed)

	if r.initial > 0 {
		subscription.Request(r.initial)
	}
}

func (r *recordingSubscriber) OnNext(item Item) {
	r.inNext.Store(true)
	defer r.inNext.Store(false)

	r.mu.Lock()
	r.values = append(r.values, item.Value)
	r.mu.Unlock()

	if r.onNext != nil {
		r.onNext(item.Value)
	}
}

func (r *recordingSubscriber) OnError(err error) {
	if r.inNext.Load() {
		r.overlap.Store(true)
	}
	r.mu.Lock()
	r.err = err
	r.errCount++
	r.mu.Unlock()
	if r.terminal.fire() {
		close(r.done)
	}
}

func (r *recordingSubscriber) OnComplete() {
	r.mu.Lock()
	r.completes++
	r.mu.Unlock()
	if r.terminal.fire() {
		close(r.done)
	}
}

func (r *recordingSubscriber) request(n int64) {
	r.mu.Lock()
	s := r.subscription
	r.mu.Unlock()
	s.Request(n)
}

func (r *recordingSubscriber) cancel() {
	r.mu.Lock()
	s := r.subscription
	r.mu.Unlock()
	s.Cancel()
}

func (r *recordingSubscriber) await(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(timeout):
		t.Fatalf("没有在 %v 内收到终止信号，已收到 %v", timeout, r.snapshot())
	}
}

func (r *recordingSubscriber) snapshot() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]interface{}, len(r.values))
	copy(result, r.values)
	return result
}

func (r *recordingSubscriber) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *recordingSubscriber) terminalCounts() (errCount, completes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errCount, r.completes
}

// manualPublisher 由测试驱动发射的上游，记录订阅次数、请求量与取消
type manualPublisher struct {
	mu         sync.Mutex
	subscriber Subscriber
	subscribes atomic.Int32
	requested  atomic.Int64
	cancelled  atomic.Bool
}

func (p *manualPublisher) Subscribe(subscriber Subscriber) {
	p.subscribes.Inc()
	p.mu.Lock()
	p.subscriber = subscriber
	p.mu.Unlock()

	subscriber.OnSubscribe(NewFlowableSubscription(
		func(n int64) { addCapAtomic(&p.requested, n) },
		func() { p.cancelled.Store(true) },
	))
}

func (p *manualPublisher) current() Subscriber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscriber
}

func (p *manualPublisher) emit(values ...interface{}) {
	s := p.current()
	for _, v := range values {
		s.OnNext(CreateItem(v))
	}
}

func (p *manualPublisher) complete() {
	p.current().OnComplete()
}

func (p *manualPublisher) fail(err error) {
	p.current().OnError(err)
}

// countingScalar 可同步取值的标量，记录被订阅的次数
type countingScalar struct {
	value      interface{}
	present    bool
	subscribes *atomic.Int32
}

func (c countingScalar) Call() (interface{}, bool, error) {
	return c.value, c.present, nil
}

func (c countingScalar) Subscribe(subscriber Subscriber) {
	c.subscribes.Inc()
	if !c.present {
		completeSubscriber(subscriber)
		return
	}
	subscriber.OnSubscribe(newWeakScalarSubscription(c.value, subscriber))
}

// valuesThenError 首次请求时发射全部值然后以错误结束，不考虑请求数量
func valuesThenError(err error, values ...interface{}) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		var once onceFlag
		subscriber.OnSubscribe(NewFlowableSubscription(func(int64) {
			if !once.fire() {
				return
			}
			for _, v := range values {
				subscriber.OnNext(CreateItem(v))
			}
			subscriber.OnError(err)
		}, nil))
	})
}

// testSubscription 记录请求量与取消
type testSubscription struct {
	requested atomic.Int64
	requests  atomic.Int32
	cancelled atomic.Bool
}

func (s *testSubscription) Request(n int64) {
	s.requests.Inc()
	addCapAtomic(&s.requested, n)
}

func (s *testSubscription) Cancel() {
	s.cancelled.Store(true)
}

func (s *testSubscription) IsCancelled() bool {
	return s.cancelled.Load()
}

// droppedErrors 收集丢弃的错误
type droppedErrors struct {
	mu   sync.Mutex
	errs []error
}

func (d *droppedErrors) handle(err error) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
}

func (d *droppedErrors) all() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]error, len(d.errs))
	copy(result, d.errs)
	return result
}

// Scheduler implementations for rxflow
// 调度器：决定订阅与任务在哪个goroutine上执行
package rxflow

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Scheduler 调度器接口
type Scheduler interface {
	// Schedule 执行任务，返回可用于取消尚未开始的任务的句柄
	Schedule(action func()) Disposable

	// ScheduleWithDelay 延迟执行任务
	ScheduleWithDelay(action func(), delay time.Duration) Disposable
}

// runTask 执行任务，panic转为丢弃的错误
func runTask(action func()) {
	if err := SafeExecute(func() error {
		action()
		return nil
	}); err != nil {
		onErrorDropped(err)
	}
}

// cancellableTask 执行前检查是否已取消
func cancellableTask(action func()) (func(), Disposable) {
	var disposed atomic.Bool
	d := NewBaseDisposable(func() { disposed.Store(true) })
	return func() {
		if !disposed.Load() {
			runTask(action)
		}
	}, d
}

// ============================================================================
// 立即调度器 - Immediate Scheduler
// ============================================================================

// immediateScheduler 立即在当前goroutine中执行任务
type immediateScheduler struct{}

// NewImmediateScheduler 创建立即调度器
func NewImmediateScheduler() Scheduler {
	return &immediateScheduler{}
}

// Schedule 立即执行任务
func (s *immediateScheduler) Schedule(action func()) Disposable {
	action()
	return NewBaseDisposable(nil)
}

// ScheduleWithDelay 阻塞等待后执行任务
func (s *immediateScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	time.Sleep(delay)
	action()
	return NewBaseDisposable(nil)
}

// ============================================================================
// 新goroutine调度器 - Goroutine Scheduler
// ============================================================================

// goroutineScheduler 为每个任务创建新的goroutine
type goroutineScheduler struct{}

// NewGoroutineScheduler 创建新goroutine调度器
func NewGoroutineScheduler() Scheduler {
	return &goroutineScheduler{}
}

// Schedule 在新goroutine中执行任务
func (s *goroutineScheduler) Schedule(action func()) Disposable {
	task, d := cancellableTask(action)
	go task()
	return d
}

// ScheduleWithDelay 延迟在新goroutine中执行任务
func (s *goroutineScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	task, d := cancellableTask(action)
	timer := time.AfterFunc(delay, task)
	return NewBaseDisposable(func() {
		timer.Stop()
		d.Dispose()
	})
}

// ============================================================================
// 线程池调度器 - Thread Pool Scheduler
// ============================================================================

// ThreadPoolScheduler 使用固定大小的goroutine池执行任务
type ThreadPoolScheduler struct {
	workers   int
	taskQueue chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	disposed  atomic.Bool
}

// NewThreadPoolScheduler 创建线程池调度器，workers<=0 时使用CPU数量
func NewThreadPoolScheduler(workers int) *ThreadPoolScheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())

	scheduler := &ThreadPoolScheduler{
		workers:   workers,
		taskQueue: make(chan func(), workers*2),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < workers; i++ {
		scheduler.wg.Add(1)
		go scheduler.worker()
	}

	return scheduler
}

// Schedule 在线程池中执行任务，队列满时阻塞
func (s *ThreadPoolScheduler) Schedule(action func()) Disposable {
	if s.disposed.Load() {
		return NewBaseDisposable(nil)
	}

	task, d := cancellableTask(action)
	select {
	case s.taskQueue <- task:
	case <-s.ctx.Done():
	}
	return d
}

// ScheduleWithDelay 延迟在线程池中执行任务
func (s *ThreadPoolScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	task, d := cancellableTask(action)
	timer := time.AfterFunc(delay, func() {
		s.Schedule(task)
	})
	return NewBaseDisposable(func() {
		timer.Stop()
		d.Dispose()
	})
}

// worker 工作goroutine
func (s *ThreadPoolScheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.taskQueue:
			task()
		}
	}
}

// Dispose 释放线程池资源，等待正在执行的任务结束
func (s *ThreadPoolScheduler) Dispose() {
	if s.disposed.CompareAndSwap(false, true) {
		s.cancel()
		s.wg.Wait()
	}
}

// IsDisposed 检查是否已释放
func (s *ThreadPoolScheduler) IsDisposed() bool {
	return s.disposed.Load()
}

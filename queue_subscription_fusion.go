package rxflow

import (
	"fmt"

	"go.uber.org/atomic"
)

// ============================================================================
// QueueSubscription融合协议 - 对标Reactive Streams的队列融合
// 操作符可以直接访问上游的内部队列，跳过自己的缓冲区
// ============================================================================

// FusionMode 融合模式
type FusionMode int

const (
	// FusionNone 不支持融合
	FusionNone FusionMode = 0
	// FusionSync 同步融合：上游已持有全部数据，Poll返回ok=false即表示完成
	FusionSync FusionMode = 1
	// FusionAsync 异步融合：数据陆续进入上游队列，每次到达通过OnNext通知
	FusionAsync FusionMode = 2
	// FusionAny 任意融合模式
	FusionAny = FusionSync | FusionAsync
	// FusionThreadBarrier 请求方会跨越线程边界拉取数据
	FusionThreadBarrier FusionMode = 4
)

// String 返回融合模式名称
func (m FusionMode) String() string {
	switch m &^ FusionThreadBarrier {
	case FusionNone:
		return "none"
	case FusionSync:
		return "sync"
	case FusionAsync:
		return "async"
	case FusionAny:
		return "any"
	default:
		return fmt.Sprintf("FusionMode(%d)", int(m))
	}
}

// Queue 单生产者单消费者队列
// 生产者只调用Offer，消费者调用Poll/IsEmpty/Clear
type Queue interface {
	// Offer 添加元素，队列已满时返回false
	Offer(value interface{}) bool
	// Poll 取出元素，ok为false表示当前为空
	Poll() (value interface{}, ok bool, err error)
	// IsEmpty 检查是否为空
	IsEmpty() bool
	// Clear 清空队列
	Clear()
	// Size 返回元素数量
	Size() int
}

// QueueSubscription 队列订阅接口
type QueueSubscription interface {
	FlowableSubscription

	// RequestFusion 请求融合模式，返回实际授予的模式
	RequestFusion(mode FusionMode) FusionMode

	// Poll 从融合队列中拉取下一个元素
	Poll() (value interface{}, ok bool, err error)

	// IsEmpty 检查融合队列是否为空
	IsEmpty() bool

	// Clear 清空融合队列
	Clear()

	// Size 返回融合队列大小
	Size() int
}

// pollable 消费者视角的队列
type pollable interface {
	Poll() (value interface{}, ok bool, err error)
	IsEmpty() bool
	Clear()
}

// QueueSupplier 队列工厂，每次订阅调用一次
type QueueSupplier func(capacity int) (Queue, error)

// MaxRingCapacity 默认队列工厂预分配环形队列的上限，超过时改用链表队列
const MaxRingCapacity = 10_000_000

// DefaultQueueSupplier 默认队列工厂：有界环形队列，容量过大或无界预取时使用链表队列
func DefaultQueueSupplier(capacity int) (Queue, error) {
	if capacity > MaxRingCapacity {
		return NewLinkedQueue(), nil
	}
	return NewFusionQueue(capacity), nil
}

// ============================================================================
// 有界融合队列 - 单生产者单消费者环形缓冲区
// ============================================================================

// FusionQueue 高性能无锁融合队列
type FusionQueue struct {
	buffer   []interface{}
	mask     int64
	head     atomic.Int64 // 生产者指针
	tail     atomic.Int64 // 消费者指针
	capacity int
}

// NewFusionQueue 创建新的融合队列，容量向上取整为2的幂
func NewFusionQueue(capacity int) *FusionQueue {
	if capacity <= 0 {
		capacity = 16
	}
	actualCapacity := 1
	for actualCapacity < capacity {
		actualCapacity <<= 1
	}

	return &FusionQueue{
		buffer:   make([]interface{}, actualCapacity),
		mask:     int64(actualCapacity - 1),
		capacity: actualCapacity,
	}
}

// Offer 向队列添加元素
func (fq *FusionQueue) Offer(value interface{}) bool {
	head := fq.head.Load()
	if head-fq.tail.Load() >= int64(fq.capacity) {
		return false
	}

	fq.buffer[head&fq.mask] = value
	fq.head.Store(head + 1)
	return true
}

// Poll 从队列获取元素
func (fq *FusionQueue) Poll() (interface{}, bool, error) {
	tail := fq.tail.Load()
	if tail >= fq.head.Load() {
		return nil, false, nil
	}

	index := tail & fq.mask
	value := fq.buffer[index]
	fq.buffer[index] = nil
	fq.tail.Store(tail + 1)
	return value, true, nil
}

// IsEmpty 检查队列是否为空
func (fq *FusionQueue) IsEmpty() bool {
	return fq.tail.Load() >= fq.head.Load()
}

// Size 获取当前队列大小
func (fq *FusionQueue) Size() int {
	size := fq.head.Load() - fq.tail.Load()
	if size < 0 {
		return 0
	}
	return int(size)
}

// Capacity 返回实际容量
func (fq *FusionQueue) Capacity() int {
	return fq.capacity
}

// Clear 清空队列，只能由消费者调用
func (fq *FusionQueue) Clear() {
	for {
		if _, ok, _ := fq.Poll(); !ok {
			return
		}
	}
}

// ============================================================================
// 无界链表队列 - 单生产者单消费者
// ============================================================================

type linkedNode struct {
	value interface{}
	next  atomic.Pointer[linkedNode]
}

// LinkedQueue 无界无锁链表队列
type LinkedQueue struct {
	head *linkedNode // 消费者持有
	tail *linkedNode // 生产者持有
	size atomic.Int64
}

// NewLinkedQueue 创建无界链表队列
func NewLinkedQueue() *LinkedQueue {
	stub := &linkedNode{}
	return &LinkedQueue{head: stub, tail: stub}
}

// Offer 添加元素，永远成功
func (q *LinkedQueue) Offer(value interface{}) bool {
	n := &linkedNode{value: value}
	q.size.Inc()
	q.tail.next.Store(n)
	q.tail = n
	return true
}

// Poll 取出元素
func (q *LinkedQueue) Poll() (interface{}, bool, error) {
	next := q.head.next.Load()
	if next == nil {
		return nil, false, nil
	}
	value := next.value
	next.value = nil
	q.head = next
	q.size.Dec()
	return value, true, nil
}

// IsEmpty 检查是否为空
func (q *LinkedQueue) IsEmpty() bool {
	return q.head.next.Load() == nil
}

// Size 返回元素数量
func (q *LinkedQueue) Size() int {
	return int(q.size.Load())
}

// Clear 清空队列，只能由消费者调用
func (q *LinkedQueue) Clear() {
	for {
		if _, ok, _ := q.Poll(); !ok {
			return
		}
	}
}

// IsQueueSubscription 检查订阅是否支持队列融合
func IsQueueSubscription(s FlowableSubscription) (QueueSubscription, bool) {
	qs, ok := s.(QueueSubscription)
	return qs, ok
}

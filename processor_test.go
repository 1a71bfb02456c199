package rxflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// 单播处理器测试
// ============================================================================

func TestUnicastProcessor(t *testing.T) {
	t.Run("订阅前的数据被缓冲", func(t *testing.T) {
		p := NewUnicastProcessor()
		p.Emit(1)
		p.Emit(2)
		p.OnComplete()

		values, err := p.BlockingToSlice(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, []interface{}{1, 2}, values)
	})

	t.Run("遵守请求数量", func(t *testing.T) {
		p := NewUnicastProcessor()
		rec := newRecordingSubscriber(0)
		p.Subscribe(rec)

		for i := 0; i < 5; i++ {
			p.Emit(i)
		}
		assert.Empty(t, rec.snapshot())

		rec.request(2)
		assert.Equal(t, []interface{}{0, 1}, rec.snapshot())

		p.OnComplete()
		_, completes := rec.terminalCounts()
		assert.Zero(t, completes, "缓冲数据发射完之前不应完成")

		rec.request(3)
		rec.await(t, time.Second)
		assert.Equal(t, []interface{}{0, 1, 2, 3, 4}, rec.snapshot())
	})

	t.Run("错误在缓冲数据之后发送", func(t *testing.T) {
		boom := errors.New("boom")
		p := NewUnicastProcessor()
		p.Emit("a")
		p.OnError(boom)

		values, err := p.BlockingToSlice(testContext(t))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []interface{}{"a"}, values)
	})

	t.Run("只允许一个订阅者", func(t *testing.T) {
		p := NewUnicastProcessor()
		p.Subscribe(newRecordingSubscriber(0))

		second := newRecordingSubscriber(0)
		p.Subscribe(second)
		second.await(t, time.Second)
		assert.ErrorIs(t, second.failure(), ErrUnicastSubscribed)
	})

	t.Run("取消后丢弃数据", func(t *testing.T) {
		p := NewUnicastProcessor()
		rec := newRecordingSubscriber(0)
		p.Subscribe(rec)
		p.Emit(1)

		rec.cancel()
		assert.True(t, p.IsCancelled())
		assert.True(t, p.IsEmpty())

		p.Emit(2)
		rec.request(10)
		assert.Empty(t, rec.snapshot())
	})

	t.Run("有界队列溢出", func(t *testing.T) {
		p := NewUnicastProcessorWithQueue(NewFusionQueue(2))
		rec := newRecordingSubscriber(0)
		p.Subscribe(rec)

		p.Emit(1)
		p.Emit(2)
		p.Emit(3)

		rec.request(10)
		rec.await(t, time.Second)
		assert.Equal(t, []interface{}{1, 2}, rec.snapshot())
		assert.ErrorIs(t, rec.failure(), ErrQueueFull)
	})

	t.Run("作为订阅者转发上游", func(t *testing.T) {
		p := NewUnicastProcessor()
		FlowableRange(1, 3).Subscribe(p)

		values, err := p.BlockingToSlice(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, []interface{}{1, 2, 3}, values)
	})

	t.Run("异步融合的ConcatMap上游", func(t *testing.T) {
		ResetConcatMapStats()
		p := NewUnicastProcessor()

		go func() {
			for i := 1; i <= 50; i++ {
				p.Emit(i)
			}
			p.OnComplete()
		}()

		values, err := p.ConcatMap(rangeMapper(2), WithPrefetch(4)).BlockingToSlice(testContext(t))
		require.NoError(t, err)
		require.Len(t, values, 100)
		for i := 1; i <= 50; i++ {
			assert.Equal(t, i*10, values[(i-1)*2])
			assert.Equal(t, i*10+1, values[(i-1)*2+1])
		}
		assert.Equal(t, int64(1), GetConcatMapStats().FusedAsync)
	})
}

package rxflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

// ============================================================================
// 错误槽测试
// ============================================================================

func TestErrorSlot(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")

	t.Run("合并多个错误", func(t *testing.T) {
		var slot errorSlot
		require.True(t, slot.add(first))
		require.True(t, slot.add(second))

		err := slot.load()
		assert.ErrorIs(t, err, first)
		assert.ErrorIs(t, err, second)
		assert.Len(t, multierr.Errors(err), 2)
		assert.False(t, slot.isTerminated())
	})

	t.Run("终止后拒绝新错误", func(t *testing.T) {
		var slot errorSlot
		slot.add(first)

		err, already := slot.terminate()
		assert.False(t, already)
		assert.Equal(t, first, err)
		assert.True(t, slot.isTerminated())
		assert.Nil(t, slot.load())

		assert.False(t, slot.add(second))

		err, already = slot.terminate()
		assert.True(t, already)
		assert.Nil(t, err)
	})

	t.Run("没有错误时终止", func(t *testing.T) {
		var slot errorSlot
		err, already := slot.terminate()
		assert.NoError(t, err)
		assert.False(t, already)
		assert.False(t, slot.add(first))
	})

	t.Run("并发添加不丢失", func(t *testing.T) {
		var slot errorSlot
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				slot.add(errors.New("concurrent"))
			}()
		}
		wg.Wait()

		err, _ := slot.terminate()
		assert.Len(t, multierr.Errors(err), 50)
	})
}

// ============================================================================
// 操作符错误测试
// ============================================================================

func TestOperatorError(t *testing.T) {
	cause := errors.New("bad value")

	t.Run("关联数据项并取消上游", func(t *testing.T) {
		upstream := &testSubscription{}
		err := newOperatorValueError(upstream, "map", cause, 7)

		assert.True(t, upstream.IsCancelled())
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "map")
		assert.Contains(t, err.Error(), "7")

		var opErr *OperatorError
		require.ErrorAs(t, err, &opErr)
		assert.True(t, opErr.HasValue)
		assert.Equal(t, 7, opErr.Value)
	})

	t.Run("没有数据项", func(t *testing.T) {
		upstream := &testSubscription{}
		err := newOperatorError(upstream, "poll", cause)

		assert.True(t, upstream.IsCancelled())
		var opErr *OperatorError
		require.ErrorAs(t, err, &opErr)
		assert.False(t, opErr.HasValue)
		assert.Equal(t, "poll", opErr.Op)
	})
}

func TestErrorDroppedHandler(t *testing.T) {
	dropped := &droppedErrors{}
	SetErrorDroppedHandler(dropped.handle)
	t.Cleanup(func() { SetErrorDroppedHandler(nil) })

	ResetConcatMapStats()
	boom := errors.New("boom")
	onErrorDropped(boom)

	assert.Equal(t, []error{boom}, dropped.all())
	assert.Equal(t, int64(1), GetConcatMapStats().ErrorsDropped)

	t.Run("配置中的处理器优先", func(t *testing.T) {
		local := &droppedErrors{}
		config := newConfig([]Option{WithErrorDroppedHandler(local.handle)})
		config.dropError(boom)

		assert.Equal(t, []error{boom}, local.all())
		assert.Len(t, dropped.all(), 1)
	})
}

func TestSafeExecute(t *testing.T) {
	t.Run("返回函数的错误", func(t *testing.T) {
		boom := errors.New("boom")
		assert.Equal(t, boom, SafeExecute(func() error { return boom }))
	})

	t.Run("panic转为错误", func(t *testing.T) {
		err := SafeExecute(func() error { panic("kaboom") })
		assert.ErrorIs(t, err, ErrPanic)
		assert.Contains(t, err.Error(), "kaboom")
	})

	t.Run("panic的错误值被保留", func(t *testing.T) {
		boom := errors.New("boom")
		err := SafeExecute(func() error { panic(boom) })
		assert.ErrorIs(t, err, ErrPanic)
		assert.ErrorIs(t, err, boom)
	})
}

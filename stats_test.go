package rxflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// counterValue 读取计数器的累计值，未记录时返回0
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s 应为Int64计数器", name)

			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func newTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func TestConcatMapMetrics(t *testing.T) {
	t.Run("内部订阅与标量快速路径", func(t *testing.T) {
		reader, provider := newTestMeter()
		meter := provider.Meter("rxflow-test")

		values, err := FlowableRange(1, 3).
			ConcatMap(func(v interface{}) (Publisher, error) {
				if v == 2 {
					return FlowableJust(v), nil
				}
				return FlowableRange(v.(int)*10, 2), nil
			}, WithMeter(meter)).
			BlockingToSlice(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, []interface{}{10, 11, 2, 30, 31}, values)

		assert.Equal(t, int64(2), counterValue(t, reader, "rxflow.concatmap.inner_subscribed"))
		assert.Equal(t, int64(1), counterValue(t, reader, "rxflow.concatmap.scalar_fast_path"))
		assert.Zero(t, counterValue(t, reader, "rxflow.concatmap.queue_allocated"))
	})

	t.Run("队列分配与丢弃的错误", func(t *testing.T) {
		reader, provider := newTestMeter()
		meter := provider.Meter("rxflow-test")

		pub := &manualPublisher{}
		f, err := NewConcatMap(pub, rangeMapper(1),
			WithMeter(meter), WithErrorDroppedHandler(func(error) {}))
		require.NoError(t, err)

		rec := newRecordingSubscriber(Unbounded)
		f.Subscribe(rec)
		rec.cancel()
		pub.fail(errors.New("late"))

		assert.Equal(t, int64(1), counterValue(t, reader, "rxflow.concatmap.queue_allocated"))
		assert.Equal(t, int64(1), counterValue(t, reader, "rxflow.concatmap.errors_dropped"))
	})
}

func TestNoopMetrics(t *testing.T) {
	m, err := newOperatorMetrics(nil, concatMapOperator)
	require.NoError(t, err)
	require.NotNil(t, m)

	ResetConcatMapStats()
	assert.NotPanics(t, func() {
		m.recordInnerSubscribed()
		m.recordScalarFastPath()
		m.recordQueueAllocated()
		m.recordErrorDropped()
	})

	stats := GetConcatMapStats()
	assert.Equal(t, int64(1), stats.InnerSubscribed)
	assert.Equal(t, int64(1), stats.ScalarFastPath)
	assert.Equal(t, int64(1), stats.QueueAllocated)
}

func TestConcatMapStats(t *testing.T) {
	ResetConcatMapStats()

	f, err := NewConcatMap(FlowableRange(1, 4), func(v interface{}) (Publisher, error) {
		switch v.(int) % 3 {
		case 0:
			return FlowableEmpty(), nil
		case 1:
			return FlowableJust(v), nil
		}
		return FlowableRange(0, 2), nil
	})
	require.NoError(t, err)

	rec := newRecordingSubscriber(Unbounded)
	f.Subscribe(rec)
	rec.await(t, time.Second)
	require.NoError(t, rec.failure())
	assert.Equal(t, []interface{}{1, 0, 1, 4}, rec.snapshot())

	stats := GetConcatMapStats()
	assert.Equal(t, int64(1), stats.Subscriptions)
	assert.Equal(t, int64(1), stats.FusedSync)
	assert.Equal(t, int64(2), stats.ScalarFastPath)
	assert.Zero(t, stats.ScalarDeferred)
	assert.Equal(t, int64(1), stats.ScalarEmpty)
	assert.Equal(t, int64(1), stats.InnerSubscribed)
	assert.Zero(t, stats.QueueAllocated)

	ResetConcatMapStats()
	assert.Equal(t, ConcatMapStats{}, GetConcatMapStats())
}

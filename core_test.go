package rxflow

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMode(t *testing.T) {
	tests := []struct {
		input string
		want  ErrorMode
	}{
		{"", ErrorModeImmediate},
		{"immediate", ErrorModeImmediate},
		{"BOUNDARY", ErrorModeBoundary},
		{" end ", ErrorModeEnd},
	}
	for _, tt := range tests {
		mode, err := ParseErrorMode(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, mode)
	}

	_, err := ParseErrorMode("later")
	assert.ErrorIs(t, err, ErrInvalidErrorMode)

	assert.Equal(t, "boundary", ErrorModeBoundary.String())
	assert.Equal(t, "ErrorMode(7)", ErrorMode(7).String())
}

func TestConfigOptions(t *testing.T) {
	t.Run("默认配置", func(t *testing.T) {
		config := newConfig(nil)
		require.NoError(t, config.Validate())
		assert.Equal(t, DefaultPrefetch, config.Prefetch)
		assert.Equal(t, ErrorModeImmediate, config.ErrorMode)
		assert.NotNil(t, config.QueueSupplier)
		assert.Nil(t, config.Meter)
	})

	t.Run("选项依次应用", func(t *testing.T) {
		config := newConfig([]Option{
			WithPrefetch(8),
			WithErrorMode(ErrorModeEnd),
			nil,
			WithErrorMode(ErrorModeBoundary),
		})
		assert.Equal(t, 8, config.Prefetch)
		assert.Equal(t, ErrorModeBoundary, config.ErrorMode)
	})

	t.Run("日志记录器", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)
		config := newConfig([]Option{WithLogger(logger)})

		l := config.logger()
		l.Info().Msg("hello")
		assert.Contains(t, buf.String(), "hello")
	})
}

func TestPackageLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))
	t.Cleanup(func() { SetLogger(zerolog.Nop()) })

	_, err := FlowableRange(1, 2).ConcatMap(rangeMapper(1)).BlockingToSlice(testContext(t))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"subscription_id"`)
	assert.Contains(t, out, `"operator":"concat_map"`)
	assert.Contains(t, out, `"fusion":"sync"`)
	assert.Contains(t, out, "concat map completed")

	t.Run("标量上游的快捷路径也记录日志", func(t *testing.T) {
		buf.Reset()
		values, err := FlowableJust(1).ConcatMap(rangeMapper(2)).BlockingToSlice(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, []interface{}{10, 11}, values)
		assert.Contains(t, buf.String(), "scalar source mapped without coordinator")
	})

	t.Run("默认处理器记录丢弃的错误", func(t *testing.T) {
		buf.Reset()
		onErrorDropped(errors.New("late"))
		assert.Contains(t, buf.String(), `"level":"warn"`)
		assert.Contains(t, buf.String(), "late")
	})
}

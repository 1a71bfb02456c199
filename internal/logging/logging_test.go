package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, FormatConsole, cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	t.Run("无效级别", func(t *testing.T) {
		cfg := Config{Level: "loud", Format: FormatJSON}
		assert.Error(t, cfg.Validate())
	})

	t.Run("无效格式", func(t *testing.T) {
		cfg := Config{Level: "debug", Format: "xml"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("New拒绝无效配置", func(t *testing.T) {
		_, err := New(Config{Level: "debug", Format: "xml"}, "demo")
		assert.Error(t, err)
	})
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Format: FormatJSON}, "demo", &buf)

	logger.Info().Str("operator", "concat_map").Msg("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "demo", entry["component"])
	assert.Equal(t, "concat_map", entry["operator"])
	assert.Equal(t, "hello", entry["message"])
}

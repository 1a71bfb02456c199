// Package logging 根据配置构建zerolog日志记录器
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config 日志配置
type Config struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"`
	Output    string `yaml:"output" mapstructure:"output"`
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
}

// ApplyDefaults 填充默认值
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatConsole
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate 检查配置
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Level)); err != nil {
		return fmt.Errorf("logging.level is invalid (got: %s): %w", c.Level, err)
	}
	switch strings.ToLower(c.Format) {
	case FormatConsole, FormatJSON:
	default:
		return fmt.Errorf("logging.format must be one of [console json] (got: %s)", c.Format)
	}
	return nil
}

// New 创建日志记录器，component 写入每条日志
func New(cfg Config, component string) (zerolog.Logger, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return zerolog.Nop(), err
	}

	level, _ := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	return NewWithWriter(cfg, component, outputWriter(cfg.Output)).Level(level), nil
}

// NewWithWriter 使用指定输出创建日志记录器，不做校验
func NewWithWriter(cfg Config, component string, w io.Writer) zerolog.Logger {
	if strings.ToLower(cfg.Format) == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, NoColor: cfg.NoColor, TimeFormat: "15:04:05.000"}
	}

	zc := zerolog.New(w).With().Str("component", component)
	if cfg.Timestamp {
		zc = zc.Timestamp()
	}
	return zc.Logger()
}

func outputWriter(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout
	default:
		return os.Stderr
	}
}

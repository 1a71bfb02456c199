// Package config 加载演示程序的配置
// 优先级：环境变量 > .env 文件 > YAML 文件 > 默认值
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xinjiayu/rxflow"
	"github.com/xinjiayu/rxflow/internal/logging"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "CONCATMAP"

// Config 演示程序配置
type Config struct {
	// Items 外层序列长度
	Items int `yaml:"items" mapstructure:"items"`
	// InnerSize 每个内部序列的长度，1 表示标量
	InnerSize int `yaml:"inner_size" mapstructure:"inner_size"`
	Prefetch  int `yaml:"prefetch" mapstructure:"prefetch"`
	// ErrorMode immediate | boundary | end
	ErrorMode string `yaml:"error_mode" mapstructure:"error_mode"`
	// FailAt 该数据项的内部序列以错误结束，-1 表示不失败
	FailAt int `yaml:"fail_at" mapstructure:"fail_at"`
	// Async 外层序列在独立goroutine上订阅
	Async bool `yaml:"async" mapstructure:"async"`

	Logging logging.Config `yaml:"logging" mapstructure:"logging"`
}

// ApplyDefaults 填充默认值
// Items 与 InnerSize 的零值有意义（空序列），默认值由加载器提供
func (c *Config) ApplyDefaults() {
	if c.Prefetch == 0 {
		c.Prefetch = rxflow.DefaultPrefetch
	}
	if c.ErrorMode == "" {
		c.ErrorMode = rxflow.ErrorModeImmediate.String()
	}
	c.Logging.ApplyDefaults()
}

// Validate 检查配置
func (c *Config) Validate() error {
	var errs []error
	if c.Items < 0 {
		errs = append(errs, fmt.Errorf("items must be >= 0 (got: %d)", c.Items))
	}
	if c.InnerSize < 0 {
		errs = append(errs, fmt.Errorf("inner_size must be >= 0 (got: %d)", c.InnerSize))
	}
	if c.Prefetch <= 0 {
		errs = append(errs, fmt.Errorf("prefetch must be > 0 (got: %d)", c.Prefetch))
	}
	if _, err := rxflow.ParseErrorMode(c.ErrorMode); err != nil {
		errs = append(errs, fmt.Errorf("error_mode: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Mode 解析后的错误模式
func (c *Config) Mode() rxflow.ErrorMode {
	mode, _ := rxflow.ParseErrorMode(c.ErrorMode)
	return mode
}

// LoaderOption 加载选项
type LoaderOption func(*loader)

type loader struct {
	configFile string
	envFile    string
}

// WithConfigFile 指定YAML配置文件
func WithConfigFile(path string) LoaderOption {
	return func(l *loader) { l.configFile = path }
}

// WithEnvFile 指定.env文件
func WithEnvFile(path string) LoaderOption {
	return func(l *loader) { l.envFile = path }
}

// Load 加载配置，文件不存在时跳过
func Load(opts ...LoaderOption) (*Config, error) {
	l := &loader{envFile: ".env"}
	for _, opt := range opts {
		opt(l)
	}

	if l.envFile != "" && fileExists(l.envFile) {
		// 不覆盖已存在的环境变量
		if err := godotenv.Load(l.envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	v.SetDefault("items", 5)
	v.SetDefault("inner_size", 3)
	v.SetDefault("prefetch", rxflow.DefaultPrefetch)
	v.SetDefault("error_mode", rxflow.ErrorModeImmediate.String())
	v.SetDefault("fail_at", -1)
	v.SetDefault("async", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logging.FormatConsole)
	v.SetDefault("logging.output", "stderr")

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

package rxflow

import (
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// 日志字段
const (
	fieldSubscriptionID = "subscription_id"
	fieldOperator       = "operator"
	fieldErrorMode      = "error_mode"
	fieldPrefetch       = "prefetch"
	fieldFusion         = "fusion"
)

var pkgLogger atomic.Pointer[zerolog.Logger]

// SetLogger 设置包级日志记录器，默认不输出任何日志
func SetLogger(logger zerolog.Logger) {
	pkgLogger.Store(&logger)
}

// Logger 返回包级日志记录器
func Logger() zerolog.Logger {
	if l := pkgLogger.Load(); l != nil {
		return *l
	}
	return zerolog.Nop()
}

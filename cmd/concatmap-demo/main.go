// concatmap-demo 运行一个可配置的ConcatMap流水线并打印结果
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"github.com/xinjiayu/rxflow"
	"github.com/xinjiayu/rxflow/internal/config"
	"github.com/xinjiayu/rxflow/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "path to a .env file")
	timeout := flag.Duration("timeout", 10*time.Second, "maximum run time")
	flag.Parse()

	if err := run(*configFile, *envFile, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "concatmap-demo:", err)
		os.Exit(1)
	}
}

func run(configFile, envFile string, timeout time.Duration) error {
	opts := []config.LoaderOption{config.WithEnvFile(envFile)}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging, "concatmap-demo")
	if err != nil {
		return err
	}
	rxflow.SetLogger(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	source := rxflow.FlowableRange(1, cfg.Items)
	if cfg.Async {
		pool := rxflow.NewThreadPoolScheduler(2)
		defer pool.Dispose()
		source = source.SubscribeOn(pool)
	}

	pipeline := source.ConcatMap(innerMapper(cfg),
		rxflow.WithPrefetch(cfg.Prefetch),
		rxflow.WithErrorMode(cfg.Mode()),
		rxflow.WithLogger(logger),
		rxflow.WithErrorDroppedHandler(func(err error) {
			logger.Warn().Err(err).Msg("error dropped")
		}),
	)

	logger.Info().
		Int("items", cfg.Items).
		Int("inner_size", cfg.InnerSize).
		Int("prefetch", cfg.Prefetch).
		Stringer("error_mode", cfg.Mode()).
		Bool("async", cfg.Async).
		Msg("running pipeline")

	values, runErr := pipeline.BlockingToSlice(ctx)
	for _, v := range values {
		fmt.Println(v)
	}
	logStats(logger, rxflow.GetConcatMapStats())

	if runErr != nil {
		return fmt.Errorf("pipeline failed after %d values: %w", len(values), runErr)
	}
	return nil
}

// innerMapper 数据项 i 映射为 [i*100, i*100+inner_size)
func innerMapper(cfg *config.Config) rxflow.ConcatMapper {
	return func(value interface{}) (rxflow.Publisher, error) {
		i := value.(int)
		if i == cfg.FailAt {
			return rxflow.FlowableError(fmt.Errorf("inner sequence %d failed", i)), nil
		}
		if cfg.InnerSize == 1 {
			return rxflow.FlowableJust(i * 100), nil
		}
		return rxflow.FlowableRange(i*100, cfg.InnerSize), nil
	}
}

func logStats(logger zerolog.Logger, stats rxflow.ConcatMapStats) {
	logger.Info().
		Int64("subscriptions", stats.Subscriptions).
		Int64("inner_subscribed", stats.InnerSubscribed).
		Int64("scalar_fast_path", stats.ScalarFastPath).
		Int64("scalar_deferred", stats.ScalarDeferred).
		Int64("fused_sync", stats.FusedSync).
		Int64("queue_allocated", stats.QueueAllocated).
		Int64("errors_dropped", stats.ErrorsDropped).
		Msg("concat map stats")
}

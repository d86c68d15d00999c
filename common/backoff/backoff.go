// common/backoff/backoff.go
//
// Пакет backoff: экспоненциальные повторы для трёх мест, где отказ
// обычно временный. dxfeed.Connect повторяет только ErrUnreachable,
// остальное помечает Permanent. Kafka-продьюсер повторяет подключение
// к брокерам и каждую публикацию. Redis-хранилище повторяет ping при
// старте и Set.
package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/dxfeed-go/common/logger"
)

var serviceLabel = "unknown"

// Метрики размечены именем процесса (quote-relay, тесты: unknown).
var metrics = struct {
	Retries   *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Successes *prometheus.CounterVec
	Delays    *prometheus.HistogramVec
}{
	Retries: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "common", Subsystem: "backoff", Name: "retries_total",
		Help: "Retry attempts scheduled after a failed call",
	}, []string{"service"}),
	Failures: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "common", Subsystem: "backoff", Name: "failures_total",
		Help: "Calls abandoned: permanent error, exhausted policy or cancelled context",
	}, []string{"service"}),
	Successes: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "common", Subsystem: "backoff", Name: "successes_total",
		Help: "Calls that succeeded, possibly after retries",
	}, []string{"service"}),
	Delays: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "common", Subsystem: "backoff", Name: "retry_delay_seconds",
		Help:    "Delay before each retry",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"}),
}

// SetServiceLabel вызывается из common.InitServiceName до первого Execute.
func SetServiceLabel(name string) { serviceLabel = name }

// Config: политика повторов. Читается из секций dxfeed.backoff,
// kafka.backoff и redis.backoff.
//
// Нулевые поля получают значения по умолчанию. Полностью нулевой Config
// вызывающие трактуют как «без повторов» (см. IsZero).
type Config struct {
	// Первая пауза.
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	// Разброс паузы, 0..1.
	RandomizationFactor float64 `mapstructure:"randomization_factor"`
	// Рост паузы между попытками, не меньше 1.
	Multiplier float64 `mapstructure:"multiplier"`
	// Потолок одной паузы.
	MaxInterval time.Duration `mapstructure:"max_interval"`
	// Общий бюджет времени; 0: без ограничения.
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`
	// Число повторов после первой попытки; 0: без ограничения.
	MaxRetries uint64 `mapstructure:"max_retries"`
	// Таймаут одной попытки; 0: только ctx вызывающего.
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout"`
}

// IsZero: политика не задана, вызывающий выполняет операцию один раз.
func (c Config) IsZero() bool { return c == Config{} }

func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.RandomizationFactor <= 0 {
		c.RandomizationFactor = 0.5
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}

func (c Config) validate() error {
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		return fmt.Errorf("randomization_factor %v outside [0,1]", c.RandomizationFactor)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier %v below 1", c.Multiplier)
	}
	return nil
}

// strategy строит расписание пауз; ctx прерывает ожидание между попытками.
func (c Config) strategy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.InitialInterval
	bo.RandomizationFactor = c.RandomizationFactor
	bo.Multiplier = c.Multiplier
	bo.MaxInterval = c.MaxInterval
	bo.MaxElapsedTime = c.MaxElapsedTime
	if c.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = backoff.Stop
	}
	var b backoff.BackOff = bo
	if c.MaxRetries > 0 {
		b = backoff.WithMaxRetries(bo, c.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// RetryableFunc: одна попытка. ctx несёт таймаут попытки, если он задан.
type RetryableFunc func(ctx context.Context) error

// ErrMaxRetries: Execute сдался. Err: ошибка последней попытки,
// errors.Is/As доходят до неё (и до причины Permanent).
type ErrMaxRetries struct {
	Err      error
	Attempts int
}

func (e *ErrMaxRetries) Error() string {
	return fmt.Sprintf("backoff: gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ErrMaxRetries) Unwrap() error { return e.Err }

// Permanent: ошибка, которую бессмысленно повторять (отказ
// аутентификации, неверная конфигурация). Execute возвращает её сразу.
func Permanent(err error) error { return backoff.Permanent(err) }

// Execute вызывает fn до успеха или до исчерпания политики cfg.
// Каждый повтор пишется в лог предупреждением и попадает в метрики.
func Execute(ctx context.Context, cfg Config, log *logger.Logger, fn RetryableFunc) error {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("backoff: invalid config: %w", err)
	}

	attempts := 0
	attempt := func() error {
		attempts++
		if cfg.PerAttemptTimeout <= 0 {
			return fn(ctx)
		}
		actx, cancel := context.WithTimeout(ctx, cfg.PerAttemptTimeout)
		defer cancel()
		return fn(actx)
	}
	onRetry := func(err error, delay time.Duration) {
		metrics.Retries.WithLabelValues(serviceLabel).Inc()
		metrics.Delays.WithLabelValues(serviceLabel).Observe(delay.Seconds())
		log.Warn("retrying after failure",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(attempt, cfg.strategy(ctx), onRetry); err != nil {
		metrics.Failures.WithLabelValues(serviceLabel).Inc()
		log.Error("giving up", zap.Int("attempts", attempts), zap.Error(err))
		return &ErrMaxRetries{Err: err, Attempts: attempts}
	}
	metrics.Successes.WithLabelValues(serviceLabel).Inc()
	return nil
}

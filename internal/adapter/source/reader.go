// Package source wraps upstream value reads behind retry and a circuit
// breaker, for nodes whose current value lives on flaky field equipment
// rather than in process memory. A Reader plugs into the engine as the
// sampling function of timed monitored items.
package source

import (
	"context"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/nexus-edge/opcua-server/internal/addrspace"
	"github.com/nexus-edge/opcua-server/internal/metrics"
	"github.com/nexus-edge/opcua-server/internal/monitor"
)

// ReadFunc performs one upstream read.
type ReadFunc func(ctx context.Context) (*ua.Variant, error)

// ReaderConfig holds configuration for a breaker-guarded reader.
type ReaderConfig struct {
	// Name identifies the breaker in logs and state-change events
	Name string

	// Timeout is the per-read timeout
	Timeout time.Duration

	// MaxRetries is the number of retry attempts on failure
	MaxRetries int

	// RetryDelay is the base delay between retries (exponential backoff applied)
	RetryDelay time.Duration

	// BreakerThreshold is the consecutive-failure count that opens the breaker
	BreakerThreshold uint32

	// BreakerCooldown is how long the breaker stays open before probing
	BreakerCooldown time.Duration
}

// Reader reads values from an upstream source with retry and circuit
// breaking, and converts the outcome into a DataValue the engine can
// ingest: failures become BadNoCommunication readings rather than lost
// samples.
type Reader struct {
	config  ReaderConfig
	read    ReadFunc
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	metrics *metrics.Registry
}

// NewReader creates a breaker-guarded upstream reader.
func NewReader(config ReaderConfig, read ReadFunc, logger zerolog.Logger, metricsReg *metrics.Registry) *Reader {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 100 * time.Millisecond
	}
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = 5
	}
	if config.BreakerCooldown <= 0 {
		config.BreakerCooldown = 30 * time.Second
	}

	r := &Reader{
		config:  config,
		read:    read,
		logger:  logger.With().Str("component", "source-reader").Str("source", config.Name).Logger(),
		metrics: metricsReg,
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    config.Name,
		Timeout: config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return r
}

// SamplingFunc adapts the reader to the engine's sampling contract.
func (r *Reader) SamplingFunc() monitor.SamplingFunc {
	return func(last *ua.DataValue, deliver func(*ua.DataValue)) {
		deliver(r.Sample(context.Background()))
	}
}

// Sample performs one guarded read and returns the resulting reading.
func (r *Reader) Sample(ctx context.Context) *ua.DataValue {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ObserveSourceReadDuration(time.Since(start).Seconds())
		}
	}()

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.readWithRetry(ctx)
	})

	now := time.Now()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Upstream read failed")
		return addrspace.NewDataValue(nil, ua.StatusBadNoCommunication, time.Time{}, now)
	}

	return addrspace.NewDataValue(result.(*ua.Variant), ua.StatusOK, now, now)
}

// readWithRetry applies exponential backoff around the upstream read.
func (r *Reader) readWithRetry(ctx context.Context) (*ua.Variant, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt)
			r.logger.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying upstream read")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		readCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		v, err := r.read(readCtx)
		cancel()

		if err == nil {
			return v, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

// backoff calculates exponential backoff delay, capped at 10 seconds.
func (r *Reader) backoff(attempt int) time.Duration {
	delay := r.config.RetryDelay * time.Duration(1<<uint(attempt))
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	return delay
}

package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() ReaderConfig {
	return ReaderConfig{
		Name:             "test-source",
		Timeout:          time.Second,
		MaxRetries:       1,
		RetryDelay:       time.Millisecond,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	}
}

func TestSampleReturnsReading(t *testing.T) {
	r := NewReader(testConfig(), func(ctx context.Context) (*ua.Variant, error) {
		return ua.MustVariant(42.0), nil
	}, zerolog.Nop(), nil)

	dv := r.Sample(context.Background())

	require.NotNil(t, dv)
	assert.Equal(t, ua.StatusOK, dv.Status)
	assert.Equal(t, 42.0, dv.Value.Float())
	assert.False(t, dv.ServerTimestamp.IsZero())
}

func TestSampleRetriesTransientFailure(t *testing.T) {
	calls := 0
	r := NewReader(testConfig(), func(ctx context.Context) (*ua.Variant, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return ua.MustVariant(1.0), nil
	}, zerolog.Nop(), nil)

	dv := r.Sample(context.Background())

	assert.Equal(t, 2, calls)
	assert.Equal(t, ua.StatusOK, dv.Status)
}

func TestSampleFailureBecomesBadReading(t *testing.T) {
	r := NewReader(testConfig(), func(ctx context.Context) (*ua.Variant, error) {
		return nil, errors.New("device unreachable")
	}, zerolog.Nop(), nil)

	dv := r.Sample(context.Background())

	require.NotNil(t, dv)
	assert.Equal(t, ua.StatusBadNoCommunication, dv.Status)
	assert.Nil(t, dv.Value)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	r := NewReader(testConfig(), func(ctx context.Context) (*ua.Variant, error) {
		calls++
		return nil, errors.New("device unreachable")
	}, zerolog.Nop(), nil)

	for i := 0; i < 5; i++ {
		dv := r.Sample(context.Background())
		assert.Equal(t, ua.StatusBadNoCommunication, dv.Status)
	}

	// Threshold 3 with one retry per sample: the breaker opens after the
	// third failed sample and the remaining samples never hit the source.
	assert.Equal(t, 6, calls)
}

func TestSamplingFuncDelivers(t *testing.T) {
	r := NewReader(testConfig(), func(ctx context.Context) (*ua.Variant, error) {
		return ua.MustVariant(7.0), nil
	}, zerolog.Nop(), nil)

	fn := r.SamplingFunc()
	done := make(chan *ua.DataValue, 1)
	fn(nil, func(dv *ua.DataValue) { done <- dv })

	select {
	case dv := <-done:
		assert.Equal(t, 7.0, dv.Value.Float())
	case <-time.After(time.Second):
		t.Fatal("sampling func did not deliver")
	}
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("address already in use")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return errors.New("persistent error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestConfig_Next(t *testing.T) {
	cfg, err := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}.normalize()
	require.NoError(t, err)

	d := cfg.InitialDelay
	var got []time.Duration
	for i := 0; i < 4; i++ {
		d = cfg.next(d)
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}, got)
}

func TestConfig_SleepForJitter(t *testing.T) {
	cfg := Config{AddJitter: true}
	for i := 0; i < 50; i++ {
		d := cfg.sleepFor(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 125*time.Millisecond)
	}
	assert.Equal(t, 100*time.Millisecond, Config{}.sleepFor(100*time.Millisecond))
}

func TestDo_RetryablePredicate(t *testing.T) {
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return err.Error() == "again" }

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts == 1 {
			return errors.New("again")
		}
		return errors.New("stop")
	})

	require.Error(t, err)
	assert.Equal(t, "stop", err.Error())
	assert.Equal(t, 2, attempts)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error { return errors.New("fail") })

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	v, err := DoWithResult(context.Background(), fastConfig(3), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative delay", Config{InitialDelay: -1}},
		{"max below initial", Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := Do(context.Background(), tt.cfg, func() error { called = true; return nil })
			assert.Error(t, err)
			assert.False(t, called)
		})
	}
}

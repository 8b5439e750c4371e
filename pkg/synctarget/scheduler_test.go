package synctarget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewScheduler_DefaultsConfig(t *testing.T) {
	s := NewScheduler(nil, nil, nil, SchedulerConfig{}, testLogger())

	assert.Equal(t, DefaultPollInterval, s.config.PollInterval)
	assert.Equal(t, DefaultLockTTL, s.config.LockTTL)
	assert.Equal(t, DefaultEnqueueJitter, s.config.EnqueueJitter)
	assert.Equal(t, SyncTaskStream, s.config.Stream)
}

func TestNewScheduler_KeepsExplicitConfig(t *testing.T) {
	s := NewScheduler(nil, nil, nil, SchedulerConfig{
		PollInterval:  time.Minute,
		LockTTL:       2 * time.Minute,
		EnqueueJitter: time.Second,
		Stream:        "other:stream",
	}, testLogger())

	assert.Equal(t, time.Minute, s.config.PollInterval)
	assert.Equal(t, 2*time.Minute, s.config.LockTTL)
	assert.Equal(t, time.Second, s.config.EnqueueJitter)
	assert.Equal(t, "other:stream", s.config.Stream)
}

func TestEnqueueJitter_StaysWithinBound(t *testing.T) {
	max := 50 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := enqueueJitter(max)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, max)
	}
}

func TestEnqueueJitter_ZeroBound(t *testing.T) {
	assert.Equal(t, time.Duration(0), enqueueJitter(0))
}

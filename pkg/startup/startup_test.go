package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recordingDependency struct {
	name      string
	dependsOn []string
	startErr  error
	starts    *[]string
	stops     *[]string
}

func (d *recordingDependency) GetName() string     { return d.name }
func (d *recordingDependency) DependsOn() []string { return d.dependsOn }

func (d *recordingDependency) Start(ctx context.Context) error {
	if d.startErr != nil {
		return d.startErr
	}
	*d.starts = append(*d.starts, d.name)
	return nil
}

func (d *recordingDependency) Stop(ctx context.Context) error {
	*d.stops = append(*d.stops, d.name)
	return nil
}

func indexOf(items []string, name string) int {
	for i, item := range items {
		if item == name {
			return i
		}
	}
	return -1
}

func TestStart_DependenciesStartBeforeDependents(t *testing.T) {
	var starts, stops []string

	s := NewStartup(testLogger(), 1)
	s.AddDependency(&recordingDependency{name: "services", dependsOn: []string{"database", "redis"}, starts: &starts, stops: &stops})
	s.AddDependency(&recordingDependency{name: "database", starts: &starts, stops: &stops})
	s.AddDependency(&recordingDependency{name: "redis", starts: &starts, stops: &stops})
	s.AddDependency(&recordingDependency{name: "http-server", dependsOn: []string{"services"}, starts: &starts, stops: &stops})

	require.NoError(t, s.Start(context.Background()))
	require.Len(t, starts, 4)

	assert.Less(t, indexOf(starts, "database"), indexOf(starts, "services"))
	assert.Less(t, indexOf(starts, "redis"), indexOf(starts, "services"))
	assert.Less(t, indexOf(starts, "services"), indexOf(starts, "http-server"))
}

func TestStart_EachDependencyStartsOnce(t *testing.T) {
	var starts, stops []string

	s := NewStartup(testLogger(), 1)
	s.AddDependency(&recordingDependency{name: "database", starts: &starts, stops: &stops})
	s.AddDependency(&recordingDependency{name: "workers", dependsOn: []string{"database"}, starts: &starts, stops: &stops})
	s.AddDependency(&recordingDependency{name: "http-server", dependsOn: []string{"database"}, starts: &starts, stops: &stops})

	require.NoError(t, s.Start(context.Background()))

	count := 0
	for _, name := range starts {
		if name == "database" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestStart_FailureExhaustsAttempts(t *testing.T) {
	var starts, stops []string

	s := NewStartup(testLogger(), 1)
	s.AddDependency(&recordingDependency{name: "database", startErr: errors.New("connection refused"), starts: &starts, stops: &stops})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup failed after 1 attempts")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStop_StopsEachDependencyOnce(t *testing.T) {
	var starts, stops []string

	s := NewStartup(testLogger(), 1)
	s.AddDependency(&recordingDependency{name: "database", starts: &starts, stops: &stops})
	s.AddDependency(&recordingDependency{name: "services", dependsOn: []string{"database"}, starts: &starts, stops: &stops})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	require.Len(t, stops, 2)
	assert.GreaterOrEqual(t, indexOf(stops, "database"), 0)
	assert.GreaterOrEqual(t, indexOf(stops, "services"), 0)
}

func TestStop_SkipsDependenciesThatNeverStarted(t *testing.T) {
	var starts, stops []string

	s := NewStartup(testLogger(), 1)
	s.AddDependency(&recordingDependency{name: "database", startErr: errors.New("connection refused"), starts: &starts, stops: &stops})

	require.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	assert.Empty(t, stops)
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: time.Second},
		{attempt: 3, want: 2 * time.Second},
		{attempt: 4, want: 3 * time.Second},
		{attempt: 5, want: 5 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(tt.attempt))
	}
}

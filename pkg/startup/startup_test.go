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

func recorder(log *[]string, name string, needs ...string) *Func {
	return &Func{
		Name:    name,
		Needs:   needs,
		StartFn: func(context.Context) error { *log = append(*log, "start "+name); return nil },
		StopFn:  func(context.Context) error { *log = append(*log, "stop "+name); return nil },
	}
}

func TestStartup_Order(t *testing.T) {
	var log []string
	s := NewStartup(testLogger(), 1).
		AddDependency(recorder(&log, "http", "database", "redis")).
		AddDependency(recorder(&log, "redis")).
		AddDependency(recorder(&log, "database"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start database", "start redis", "start http"}, log)
	assert.Equal(t, StatusStarted, s.Status("http"))

	log = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop http", "stop redis", "stop database"}, log)
	assert.Equal(t, StatusStopped, s.Status("database"))
}

func TestStartup_RetriesWithBackoff(t *testing.T) {
	calls := 0
	flaky := &Func{Name: "database", StartFn: func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}}
	starts := 0
	stable := &Func{Name: "cache", StartFn: func(context.Context) error { starts++; return nil }}

	s := NewStartup(testLogger(), 5).WithBackoffUnit(time.Millisecond).AddDependency(flaky).AddDependency(stable)
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, starts)
}

func TestStartup_GivesUp(t *testing.T) {
	s := NewStartup(testLogger(), 2).WithBackoffUnit(time.Millisecond).
		AddDependency(&Func{Name: "kafka", StartFn: func(context.Context) error { return errors.New("no brokers") }})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "no brokers")
	assert.Equal(t, StatusFailed, s.Status("kafka"))
}

func TestStartup_MissingAndCyclicDependencies(t *testing.T) {
	s := NewStartup(testLogger(), 1).AddDependency(&Func{Name: "http", Needs: []string{"database"}})
	assert.ErrorContains(t, s.Start(context.Background()), "not registered")

	s = NewStartup(testLogger(), 1).
		AddDependency(&Func{Name: "a", Needs: []string{"b"}}).
		AddDependency(&Func{Name: "b", Needs: []string{"a"}})
	assert.ErrorContains(t, s.Start(context.Background()), "cycle")
}

func TestStartup_CanceledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStartup(testLogger(), 3).WithBackoffUnit(time.Hour).
		AddDependency(&Func{Name: "db", StartFn: func(context.Context) error { cancel(); return errors.New("down") }})

	assert.ErrorIs(t, s.Start(ctx), context.Canceled)
}

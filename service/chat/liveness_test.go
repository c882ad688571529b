package chat

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dmchat/tools/errs"

	"github.com/stretchr/testify/require"
)

func TestMonitor_NoPongDeclaresDeadOnce(t *testing.T) {
	req := require.New(t)
	var (
		probes atomic.Int32
		deaths atomic.Int32
		cause  atomic.Value
	)
	m := NewMonitor(20*time.Millisecond, 10*time.Millisecond,
		func() error { probes.Add(1); return nil },
		func(err error) { deaths.Add(1); cause.Store(err) })

	start := time.Now()
	go m.Run()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor never gave up")
	}
	req.Less(time.Since(start), 200*time.Millisecond)
	req.Equal(int32(1), deaths.Load())
	req.Equal(int32(1), probes.Load())
	req.Equal(StateDead, m.State())
	req.True(errors.Is(cause.Load().(error), errs.ErrLivenessTimeout))
}

func TestMonitor_SteadyPongKeepsAlive(t *testing.T) {
	req := require.New(t)
	var (
		m      *Monitor
		probes atomic.Int32
		deaths atomic.Int32
	)
	m = NewMonitor(10*time.Millisecond, 20*time.Millisecond,
		func() error { probes.Add(1); go m.Pong(); return nil },
		func(error) { deaths.Add(1) })
	go m.Run()
	defer m.Stop()

	time.Sleep(150 * time.Millisecond)

	req.Zero(deaths.Load())
	req.Greater(probes.Load(), int32(3))
	req.NotEqual(StateDead, m.State())
}

func TestMonitor_StopEndsWithoutOnDead(t *testing.T) {
	req := require.New(t)
	var deaths atomic.Int32
	m := NewMonitor(5*time.Millisecond, time.Hour,
		func() error { return nil },
		func(error) { deaths.Add(1) })
	go m.Run()

	time.Sleep(20 * time.Millisecond)
	m.Stop()
	m.Stop()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	req.Zero(deaths.Load())
	req.Equal(StateDead, m.State())
}

func TestMonitor_ProbeWriteFailureIsDeath(t *testing.T) {
	req := require.New(t)
	died := make(chan error, 1)
	m := NewMonitor(5*time.Millisecond, time.Hour,
		func() error { return errs.New("broken pipe") },
		func(err error) { died <- err })
	go m.Run()

	select {
	case err := <-died:
		req.True(errors.Is(err, errs.ErrLivenessTimeout))
	case <-time.After(time.Second):
		t.Fatal("probe failure was ignored")
	}
	<-m.Done()
}

func TestMonitor_UnsolicitedPongDoesNotAnswerProbe(t *testing.T) {
	req := require.New(t)
	died := make(chan struct{})
	m := NewMonitor(30*time.Millisecond, 10*time.Millisecond,
		func() error { return nil },
		func(error) { close(died) })

	// a pong before any probe is discarded
	m.Pong()
	go m.Run()

	select {
	case <-died:
	case <-time.After(time.Second):
		t.Fatal("stale pong kept the connection alive")
	}
	req.Equal(StateDead, m.State())
}

func TestMonitor_HoldMakesMissedPongInconclusive(t *testing.T) {
	req := require.New(t)
	var (
		probes atomic.Int32
		deaths atomic.Int32
	)
	m := NewMonitor(10*time.Millisecond, 5*time.Millisecond,
		func() error { probes.Add(1); return nil },
		func(error) { deaths.Add(1) })

	// Given a peer whose pongs cannot be read
	m.Hold()
	go m.Run()
	defer m.Stop()

	// Then unanswered probes do not kill it while held
	time.Sleep(80 * time.Millisecond)
	req.Zero(deaths.Load())
	req.Greater(probes.Load(), int32(2))

	// When the hold ends and pongs still do not come, the next probe is fatal
	m.Release()
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor never gave up after release")
	}
	req.Equal(int32(1), deaths.Load())
}

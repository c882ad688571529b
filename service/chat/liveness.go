package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"dmchat/tools/errs"
)

type LivenessState int32

const (
	StateAlive LivenessState = iota
	StateAwaitingPong
	StateDead
)

func (s LivenessState) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateAwaitingPong:
		return "awaiting_pong"
	default:
		return "dead"
	}
}

// Monitor probes one connection every interval and declares it dead when
// a probe is not answered within deadline. onDead runs at most once, on
// the monitor goroutine.
type Monitor struct {
	interval time.Duration
	deadline time.Duration
	probe    func() error
	onDead   func(cause error)

	state    atomic.Int32
	pong     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// held 期间错过的 pong 不算超时
	held      atomic.Int32
	suspended atomic.Bool
}

func NewMonitor(interval, deadline time.Duration, probe func() error, onDead func(error)) *Monitor {
	return &Monitor{
		interval: interval,
		deadline: deadline,
		probe:    probe,
		onDead:   onDead,
		pong:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *Monitor) State() LivenessState { return LivenessState(m.state.Load()) }

// Pong records a probe acknowledgement. It never blocks.
func (m *Monitor) Pong() {
	select {
	case m.pong <- struct{}{}:
	default:
	}
}

// Hold marks the peer's pongs as unobservable, e.g. while the reader is
// blocked on back-pressure. A probe whose window overlaps a hold is
// inconclusive rather than fatal. Every Hold needs a matching Release.
func (m *Monitor) Hold() {
	m.held.Add(1)
	m.suspended.Store(true)
}

func (m *Monitor) Release() { m.held.Add(-1) }

// Stop ends the monitor without calling onDead. Safe to call from onDead
// and more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Done is closed once Run has returned and its timers are released.
func (m *Monitor) Done() <-chan struct{} { return m.done }

func (m *Monitor) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

func (m *Monitor) Run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var (
		timer   *time.Timer
		expired <-chan time.Time
	)
	clearDeadline := func() {
		if timer != nil {
			timer.Stop()
			timer, expired = nil, nil
		}
	}
	defer clearDeadline()

	for {
		select {
		case <-m.stop:
			m.state.Store(int32(StateDead))
			return

		case <-ticker.C:
			if m.stopped() || m.State() != StateAlive {
				continue
			}
			// discard an unsolicited pong so it cannot answer this probe
			select {
			case <-m.pong:
			default:
			}
			m.suspended.Store(m.held.Load() > 0)
			m.state.Store(int32(StateAwaitingPong))
			timer = time.NewTimer(m.deadline)
			expired = timer.C
			if err := m.probe(); err != nil {
				m.die(errs.ErrLivenessTimeout.WrapMsg("probe write failed", "err", err))
				return
			}

		case <-m.pong:
			if m.State() == StateAwaitingPong {
				clearDeadline()
				m.state.Store(int32(StateAlive))
			}

		case <-expired:
			clearDeadline()
			if m.stopped() {
				m.state.Store(int32(StateDead))
				return
			}
			if m.suspended.Load() {
				m.state.Store(int32(StateAlive))
				continue
			}
			m.die(errs.ErrLivenessTimeout.WrapMsg("pong not received", "deadline", m.deadline))
			return
		}
	}
}

func (m *Monitor) die(cause error) {
	m.state.Store(int32(StateDead))
	if m.onDead != nil {
		m.onDead(cause)
	}
}

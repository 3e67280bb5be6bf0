package pcsc

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebfe/scard"

	"github.com/gregLibert/smartcard-service/pkg/smartcard"
)

// monitor watches reader states on its own PC/SC context, since a blocking
// GetStatusChange would stall every other call made on the same context.
type monitor struct {
	b   *Backend
	ctx Context

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// delivering is set while an event handler runs on the monitor goroutine.
	delivering atomic.Bool

	// state holds the last observed state per reader name.
	state map[string]scard.StateFlag
}

func newMonitor(b *Backend, ctx Context) *monitor {
	return &monitor{
		b:     b,
		ctx:   ctx,
		done:  make(chan struct{}),
		state: make(map[string]scard.StateFlag),
	}
}

func (m *monitor) start() {
	// the initial scan sets the baseline without events
	if names, err := m.ctx.ListReaders(); err == nil {
		states := m.states(names)
		if err := m.ctx.GetStatusChange(states, 0); err == nil || errors.Is(err, scard.ErrTimeout) {
			for _, rs := range states {
				m.state[rs.Reader] = rs.EventState &^ scard.StateChanged
			}
		}
	}

	m.wg.Add(1)
	go m.run()
}

// stop ends the monitor goroutine and waits for it. A stop issued while an event is
// being delivered does not wait, since the handler itself may be the caller: the
// goroutine exits without touching its context once the handler returns.
func (m *monitor) stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		if err := m.ctx.Cancel(); err != nil {
			m.b.log.Debugf("monitor: cancel: %v", err)
		}
	})
	if m.delivering.Load() {
		return
	}
	m.wg.Wait()
}

func (m *monitor) stopped() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// sleep waits one poll interval, returning false when the monitor is stopped.
func (m *monitor) sleep() bool {
	t := time.NewTimer(m.b.cfg.PollInterval)
	defer t.Stop()

	select {
	case <-m.done:
		return false
	case <-t.C:
		return true
	}
}

func (m *monitor) run() {
	defer m.wg.Done()

	for !m.stopped() {
		names, err := m.ctx.ListReaders()
		if err != nil && !errors.Is(err, scard.ErrNoReadersAvailable) {
			m.fail(err)
			if !m.sleep() {
				return
			}
			continue
		}
		m.forgetDetached(names)
		if m.stopped() {
			return
		}
		if len(names) == 0 {
			if !m.sleep() {
				return
			}
			continue
		}

		states := m.states(names)
		err = m.ctx.GetStatusChange(states, m.b.cfg.PollInterval)
		switch {
		case err == nil:
			m.update(states)
			if m.stopped() {
				return
			}
		case errors.Is(err, scard.ErrTimeout):
		case errors.Is(err, scard.ErrCancelled):
			if m.stopped() {
				return
			}
		default:
			m.fail(err)
			if !m.sleep() {
				return
			}
		}
	}
}

// states builds the status query for names, starting from the last observed state.
func (m *monitor) states(names []string) []scard.ReaderState {
	states := make([]scard.ReaderState, len(names))
	for i, name := range names {
		states[i].Reader = name
		states[i].CurrentState = scard.StateUnaware
		if st, ok := m.state[name]; ok {
			states[i].CurrentState = st
		}
	}
	return states
}

func (m *monitor) update(states []scard.ReaderState) {
	for _, rs := range states {
		present := rs.EventState&scard.StatePresent != 0
		prev, known := m.state[rs.Reader]
		was := prev&scard.StatePresent != 0
		m.state[rs.Reader] = rs.EventState &^ scard.StateChanged

		switch {
		case present && (!known || !was):
			m.emit(rs.Reader, smartcard.EventInserted)
		case !present && known && was:
			m.emit(rs.Reader, smartcard.EventRemoved)
		}
	}
}

// forgetDetached reports a removal for readers unplugged with an element inside.
func (m *monitor) forgetDetached(names []string) {
	attached := make(map[string]bool, len(names))
	for _, name := range names {
		attached[name] = true
	}
	for name, st := range m.state {
		if attached[name] {
			continue
		}
		delete(m.state, name)
		if st&scard.StatePresent != 0 {
			m.emit(name, smartcard.EventRemoved)
		}
	}
}

func (m *monitor) emit(name string, ev smartcard.EventType) {
	m.delivering.Store(true)
	defer m.delivering.Store(false)
	m.b.emit(name, ev)
}

func (m *monitor) fail(err error) {
	m.b.log.Warnf("monitor: %v", err)
	for name := range m.state {
		m.emit(name, smartcard.EventIOError)
	}
}

// Package connectivity maintains one reachability signal for the backends,
// fed by periodic health probes and by platform events.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/habedi/inspecta/pkg/clock"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is the poll period.
const DefaultInterval = 30 * time.Second

// Event is a platform signal the monitor reacts to.
type Event int

const (
	// Focus is the application regaining the foreground.
	Focus Event = iota
	// Online is the platform reporting network access.
	Online
	// Offline is the platform reporting loss of network access.
	Offline
)

func (e Event) String() string {
	switch e {
	case Focus:
		return "focus"
	case Online:
		return "online"
	case Offline:
		return "offline"
	}
	return "unknown"
}

// State is the reachability signal.
type State struct {
	Online      bool
	LastChecked time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock driving the poll ticker and timestamps.
func WithClock(c clock.Clock) Option { return func(m *Monitor) { m.clock = c } }

// WithInterval sets the poll period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// Monitor owns the reachability signal. The signal is true only after every
// prober succeeded; an Offline event drops it at once without probing.
type Monitor struct {
	probers  []Prober
	clock    clock.Clock
	interval time.Duration

	mu      sync.Mutex
	state   State
	seq     uint64 // last issued probe sequence number
	applied uint64 // sequence of the probe or event that produced state
	subs    map[int]func(State)
	nextSub int
	started bool
	stopped bool
	ticker  *clock.Ticker
	ctx     context.Context
	cancel  context.CancelFunc
	loop    sync.WaitGroup
	probes  sync.WaitGroup
}

// NewMonitor returns a monitor over probers. It does nothing until Start.
func NewMonitor(probers []Prober, opts ...Option) *Monitor {
	m := &Monitor{
		probers:  probers,
		clock:    clock.Real(),
		interval: DefaultInterval,
		subs:     make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start issues an immediate probe and starts polling. It is a no-op on a
// started or stopped monitor. Cancelling ctx has the same effect as Stop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.ticker = m.clock.NewTicker(m.interval)
	ticks := m.ticker.C
	m.loop.Add(1)
	m.mu.Unlock()

	log.Debug().Dur("interval", m.interval).Int("probers", len(m.probers)).Msg("Connectivity monitor started")

	go func() {
		defer m.loop.Done()
		m.probe(m.ctx, "start")
		for {
			select {
			case <-m.ctx.Done():
				m.Stop()
				return
			case <-ticks:
				m.probe(m.ctx, "poll")
			}
		}
	}()
}

// HandleEvent reacts to a platform event. Focus and Online probe in the
// background; Offline drops the signal synchronously.
func (m *Monitor) HandleEvent(e Event) {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx

	if e == Offline {
		m.seq++
		m.applied = m.seq
		changed := m.setLocked(false)
		subs := m.subscribersLocked(changed)
		state := m.state
		m.mu.Unlock()
		log.Info().Msg("Platform reported offline")
		notify(subs, state)
		return
	}

	m.probes.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.probes.Done()
		m.probe(ctx, e.String())
	}()
}

// Check probes now and returns the resulting state.
func (m *Monitor) Check(ctx context.Context) State {
	m.probe(ctx, "check")
	return m.State()
}

// probe runs every prober and applies the result unless a newer probe or an
// Offline event got there first.
func (m *Monitor) probe(ctx context.Context, trigger string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	results := ProbeAll(ctx, m.probers)
	online := allOK(results)
	for _, r := range results {
		if r.Err != nil {
			log.Debug().Err(r.Err).Str("backend", r.Name).Str("trigger", trigger).Msg("Health probe failed")
		}
	}

	m.mu.Lock()
	if m.stopped || seq <= m.applied {
		m.mu.Unlock()
		log.Debug().Str("trigger", trigger).Msg("Discarding stale health probe result")
		return
	}
	m.applied = seq
	changed := m.setLocked(online)
	subs := m.subscribersLocked(changed)
	state := m.state
	m.mu.Unlock()

	if changed {
		log.Info().Bool("online", online).Str("trigger", trigger).Msg("Connectivity changed")
	}
	notify(subs, state)
}

// setLocked stamps the state and reports whether the signal flipped. The
// first update always counts as a change.
func (m *Monitor) setLocked(online bool) bool {
	changed := m.state.LastChecked.IsZero() || m.state.Online != online
	m.state = State{Online: online, LastChecked: m.clock.Now()}
	return changed
}

func (m *Monitor) subscribersLocked(changed bool) []func(State) {
	if !changed || len(m.subs) == 0 {
		return nil
	}
	subs := make([]func(State), 0, len(m.subs))
	for i := 0; i < m.nextSub; i++ {
		if fn, ok := m.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func notify(subs []func(State), s State) {
	for _, fn := range subs {
		fn(s)
	}
}

// State returns the current signal.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports the current signal.
func (m *Monitor) Online() bool { return m.State().Online }

// Subscribe registers fn to be called on every transition of the signal.
func (m *Monitor) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Stop stops polling, cancels in-flight probes and drops subscribers. Later
// events are ignored. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.ticker != nil {
		m.ticker.Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.subs = make(map[int]func(State))
	m.mu.Unlock()
	log.Debug().Msg("Connectivity monitor stopped")
}

// Wait blocks until the poll loop and every background probe have returned.
// Call it after Stop.
func (m *Monitor) Wait() {
	m.loop.Wait()
	m.probes.Wait()
}

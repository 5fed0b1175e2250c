// Package serviceworker coordinates the lifecycle of the background update
// agent: registration, update detection, the skip-waiting handshake and the
// reload that hands control to a new version.
package serviceworker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/habedi/inspecta/pkg/clock"
	"github.com/rs/zerolog/log"
)

const (
	DefaultScriptURL      = "/sw.js"
	DefaultCheckInterval  = time.Hour
	DefaultReloadFallback = 3 * time.Second

	// MaxPersistentFailures consecutive persistent update-check failures stop
	// the periodic checker.
	MaxPersistentFailures = 3

	// PeriodicSyncTag names the background re-sync requested at registration.
	PeriodicSyncTag         = "content-sync"
	PeriodicSyncMinInterval = 24 * time.Hour
)

var (
	ErrNoUpdateWaiting = errors.New("no update is waiting for activation")
	ErrStopped         = errors.New("update agent manager is stopped")
)

// persistentFailureMarkers identify update-check errors that retrying will
// not fix.
var persistentFailureMarkers = []string{
	"bad http response code (404)",
	"unsupported mime type",
	"failed to fetch the script",
	"script resource is behind a redirect",
}

// IsPersistentFailure reports whether err is an update-check failure that
// will keep happening.
func IsPersistentFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range persistentFailureMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithScriptURL(u string) Option { return func(m *Manager) { m.scriptURL = u } }

func WithCheckInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.checkInterval = d
		}
	}
}

func WithReloadFallback(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reloadFallback = d
		}
	}
}

func WithErrorReporter(r ErrorReporter) Option { return func(m *Manager) { m.reporter = r } }

// WithOnline gates periodic update checks on connectivity.
func WithOnline(online func() bool) Option { return func(m *Manager) { m.online = online } }

// pendingReload is one armed skip-waiting handshake. Whichever of the
// controller change and the fallback timer comes first consumes it.
type pendingReload struct {
	consumed bool
	timer    *clock.Timer
}

// Manager drives the lifecycle state machine. Platform events are fed in
// through HandleEvent, usually by the Container passed to NewManager.
type Manager struct {
	container      Container
	reloader       Reloader
	reporter       ErrorReporter
	clock          clock.Clock
	online         func() bool
	scriptURL      string
	checkInterval  time.Duration
	reloadFallback time.Duration

	mu         sync.Mutex
	state      State
	reg        Registration
	installing Worker
	waiting    Worker
	pending    *pendingReload
	failures   int
	ticker     *clock.Ticker
	checking   bool
	started    bool
	stopped    bool
	subs       map[int]func(Status)
	nextSub    int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager returns a manager in the Unregistered state.
func NewManager(container Container, reloader Reloader, opts ...Option) *Manager {
	m := &Manager{
		container:      container,
		reloader:       reloader,
		clock:          clock.Real(),
		online:         func() bool { return true },
		scriptURL:      DefaultScriptURL,
		checkInterval:  DefaultCheckInterval,
		reloadFallback: DefaultReloadFallback,
		subs:           make(map[int]func(Status)),
	}
	m.reporter = ErrorReporterFunc(func(err error) {
		log.Error().Err(err).Msg("Update agent registration failed")
	})
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers the script. On success the state becomes Registered and
// periodic update checks begin; on failure it becomes Failed and the error
// goes to the reporter. Start is a no-op after the first call.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	ctx = m.ctx
	m.mu.Unlock()

	reg, err := m.container.Register(ctx, m.scriptURL, m.HandleEvent)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if err != nil {
		subs := m.setStateLocked(Failed)
		status := m.statusLocked()
		m.mu.Unlock()
		m.reporter.Report(fmt.Errorf("failed to register %s: %w", m.scriptURL, err))
		notify(subs, status)
		return
	}

	m.reg = reg
	var subs []func(Status)
	if m.state == Unregistered {
		subs = m.setStateLocked(Registered)
	}
	status := m.statusLocked()
	m.ticker = m.clock.NewTicker(m.checkInterval)
	m.checking = true
	ticks := m.ticker.C
	m.wg.Add(1)
	m.mu.Unlock()

	log.Info().Str("script", m.scriptURL).Dur("check_interval", m.checkInterval).Msg("Update agent registered")
	notify(subs, status)

	if syncer, ok := reg.(PeriodicSyncer); ok {
		if err := syncer.RegisterPeriodicSync(ctx, PeriodicSyncTag, PeriodicSyncMinInterval); err != nil {
			log.Debug().Err(err).Msg("Periodic background sync unavailable")
		}
	}

	go func() {
		defer m.wg.Done()
		m.checkLoop(ctx, reg, ticks)
	}()
}

func (m *Manager) checkLoop(ctx context.Context, reg Registration, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			if !m.online() {
				log.Debug().Msg("Offline, skipping update check")
				continue
			}
			if !m.recordCheck(reg.Update(ctx)) {
				return
			}
		}
	}
}

// recordCheck counts consecutive persistent failures and reports whether
// checking should continue.
func (m *Manager) recordCheck(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false
	}

	switch {
	case err == nil:
		m.failures = 0
		log.Debug().Msg("Update check completed")
		return true
	case !IsPersistentFailure(err):
		m.failures = 0
		log.Debug().Err(err).Msg("Update check failed")
		return true
	}

	m.failures++
	log.Warn().Err(err).Int("consecutive", m.failures).Msg("Update check failed persistently")
	if m.failures < MaxPersistentFailures {
		return true
	}
	m.ticker.Stop()
	m.checking = false
	log.Warn().Msg("Stopping periodic update checks")
	return false
}

// HandleEvent applies a platform lifecycle event.
func (m *Manager) HandleEvent(ev Event) {
	if ev.Kind == ControllerChange {
		m.mu.Lock()
		p := m.pending
		m.mu.Unlock()
		if p == nil {
			log.Debug().Msg("Controller changed without a pending update")
			return
		}
		m.reload(p, "controllerchange")
		return
	}

	m.mu.Lock()
	if m.stopped || m.state == Failed || ev.Worker == nil {
		m.mu.Unlock()
		return
	}

	var subs []func(Status)
	switch ev.Kind {
	case UpdateFound:
		if m.pending != nil {
			// The handshake was for a version that is now superseded.
			m.pending.timer.Stop()
			m.pending = nil
			log.Info().Msg("Newer version found, cancelling pending reload")
		}
		m.installing = ev.Worker
		m.waiting = nil
		subs = m.setStateLocked(InstallingNew)
		log.Info().Str("worker", ev.Worker.ID()).Msg("New version installing")
	case StateChange:
		if m.state != InstallingNew || m.installing == nil || m.installing.ID() != ev.Worker.ID() {
			break
		}
		switch ev.WorkerState {
		case WorkerInstalled:
			m.installing = nil
			if m.container.HasController() {
				m.waiting = ev.Worker
				subs = m.setStateLocked(WaitingForActivation)
				log.Info().Str("worker", ev.Worker.ID()).Msg("New version waiting for activation")
			} else {
				subs = m.setStateLocked(Activated)
				log.Info().Str("worker", ev.Worker.ID()).Msg("First version installed and active")
			}
		case WorkerRedundant:
			m.installing = nil
			subs = m.setStateLocked(Registered)
			log.Warn().Str("worker", ev.Worker.ID()).Msg("New version failed to install")
		}
	}
	status := m.statusLocked()
	m.mu.Unlock()
	notify(subs, status)
}

// ApplyUpdate starts the skip-waiting handshake with the waiting worker.
// The application reloads exactly once: on the controller change, or after
// the reload fallback if that never arrives.
func (m *Manager) ApplyUpdate() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.state != WaitingForActivation || m.waiting == nil {
		m.mu.Unlock()
		return ErrNoUpdateWaiting
	}
	if m.pending != nil {
		m.mu.Unlock()
		return nil
	}
	p := &pendingReload{}
	m.pending = p
	p.timer = m.clock.AfterFunc(m.reloadFallback, func() { m.reload(p, "fallback timer") })
	waiting := m.waiting
	m.mu.Unlock()

	if err := waiting.PostMessage(Message{Type: MessageSkipWaiting}); err != nil {
		m.mu.Lock()
		if m.pending == p && !p.consumed {
			p.timer.Stop()
			m.pending = nil
		}
		m.mu.Unlock()
		return fmt.Errorf("failed to signal waiting worker %s: %w", waiting.ID(), err)
	}
	log.Info().Str("worker", waiting.ID()).Dur("fallback", m.reloadFallback).Msg("Skip-waiting sent")
	return nil
}

// reload consumes p and reloads. Only the first caller for a given p gets
// through.
func (m *Manager) reload(p *pendingReload, trigger string) {
	m.mu.Lock()
	if m.stopped || m.pending != p || p.consumed {
		m.mu.Unlock()
		return
	}
	p.consumed = true
	m.pending = nil
	p.timer.Stop()
	m.waiting = nil
	subs := m.setStateLocked(Activated)
	status := m.statusLocked()
	m.mu.Unlock()

	log.Info().Str("trigger", trigger).Msg("Reloading to activate the new version")
	m.reloader.Reload()
	notify(subs, status)
}

func (m *Manager) setStateLocked(s State) []func(Status) {
	if m.state == s {
		return nil
	}
	log.Debug().Stringer("from", m.state).Stringer("to", s).Msg("Update agent state changed")
	m.state = s
	subs := make([]func(Status), 0, len(m.subs))
	for i := 0; i < m.nextSub; i++ {
		if fn, ok := m.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func (m *Manager) statusLocked() Status {
	return Status{State: m.state, Waiting: m.waiting}
}

func notify(subs []func(Status), s Status) {
	for _, fn := range subs {
		fn(s)
	}
}

// Status returns the current state and waiting worker.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Checking reports whether periodic update checks are running.
func (m *Manager) Checking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checking
}

// Subscribe registers fn to be called on every state change.
func (m *Manager) Subscribe(fn func(Status)) (unsubscribe func()) {
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

// Stop stops update checks, cancels a pending reload and drops subscribers.
// Events arriving afterwards are ignored.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.checking = false
	if m.pending != nil {
		m.pending.timer.Stop()
		m.pending = nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.subs = make(map[int]func(Status))
	m.mu.Unlock()
	log.Debug().Msg("Update agent manager stopped")
}

// Wait blocks until the update-check loop has returned. Call it after Stop.
func (m *Manager) Wait() { m.wg.Wait() }

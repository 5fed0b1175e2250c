// Package app wires the session core together for the command line.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/habedi/inspecta/auth"
	"github.com/habedi/inspecta/client"
	"github.com/habedi/inspecta/config"
	"github.com/habedi/inspecta/connectivity"
	"github.com/habedi/inspecta/db"
	"github.com/habedi/inspecta/pkg/clock"
	"github.com/habedi/inspecta/serviceworker"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Container holds every long-lived component.
type Container struct {
	config   *config.Config
	store    *auth.TokenStore
	session  *auth.SessionManager
	backends *client.Backends
	probers  []connectivity.Prober
	monitor  *connectivity.Monitor
	updates  *serviceworker.Manager
	storage  *db.SessionStorage
	paths    *connectivity.PathKeeper

	detach []func()
}

// Option customises how a Container is built.
type Option func(*options)

type options struct {
	clock     clock.Clock
	transport http.RoundTripper
	reloader  serviceworker.Reloader
	reporter  serviceworker.ErrorReporter
	navigate  func(path string)
}

// WithClock replaces the wall clock for every timer and expiry check.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithTransport sets the transport under the API interceptors.
func WithTransport(rt http.RoundTripper) Option { return func(o *options) { o.transport = rt } }

// WithReloader is called when a new update agent version takes control.
func WithReloader(r serviceworker.Reloader) Option { return func(o *options) { o.reloader = r } }

// WithErrorReporter receives update agent registration failures.
func WithErrorReporter(r serviceworker.ErrorReporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithNavigator is called with the path to restore after an offline spell.
func WithNavigator(fn func(path string)) Option { return func(o *options) { o.navigate = fn } }

// NewContainer builds the components from cfg on top of gormDB.
func NewContainer(cfg *config.Config, gormDB *gorm.DB, opts ...Option) (*Container, error) {
	o := options{
		clock: clock.Real(),
		reloader: serviceworker.ReloaderFunc(func() {
			log.Info().Msg("New version active, restart to use it")
		}),
	}
	for _, opt := range opts {
		opt(&o)
	}

	store := auth.NewTokenStore(db.NewTokenRepository(gormDB))
	session := auth.NewSessionManager(store,
		auth.WithClock(o.clock),
		auth.WithMaxRetries(cfg.Session.MaxRetries),
		auth.WithRefreshTimeout(cfg.Session.RefreshTimeout),
	)

	backends, err := client.NewBackends(session, client.Endpoints{
		Primary: cfg.Backends.API,
		Asset:   cfg.Backends.Asset,
		Auth:    cfg.Backends.Auth,
		GenAI:   cfg.Backends.GenAI,
	}, o.transport, cfg.Backends.RequestTimeout)
	if err != nil {
		return nil, err
	}

	var probers []connectivity.Prober
	for _, b := range []struct{ name, url string }{
		{client.Primary, cfg.Backends.API},
		{client.Asset, cfg.Backends.Asset},
	} {
		p, err := connectivity.NewHTTPProber(b.name, b.url, cfg.Health.ExpectedToken, cfg.Health.Timeout, o.clock)
		if err != nil {
			return nil, err
		}
		probers = append(probers, p)
	}
	monitor := connectivity.NewMonitor(probers,
		connectivity.WithClock(o.clock),
		connectivity.WithInterval(cfg.Health.Interval),
	)

	agent, err := serviceworker.NewScriptAgent(cfg.Backends.API, nil, "")
	if err != nil {
		return nil, err
	}
	swOpts := []serviceworker.Option{
		serviceworker.WithClock(o.clock),
		serviceworker.WithScriptURL(cfg.Updates.ScriptURL),
		serviceworker.WithCheckInterval(cfg.Updates.CheckInterval),
		serviceworker.WithReloadFallback(cfg.Updates.ReloadFallback),
		serviceworker.WithOnline(monitor.Online),
	}
	if o.reporter != nil {
		swOpts = append(swOpts, serviceworker.WithErrorReporter(o.reporter))
	}
	updates := serviceworker.NewManager(agent, o.reloader, swOpts...)

	storage := db.NewSessionStorage()
	c := &Container{
		config:   cfg,
		store:    store,
		session:  session,
		backends: backends,
		probers:  probers,
		monitor:  monitor,
		updates:  updates,
		storage:  storage,
		paths:    connectivity.NewPathKeeper(storage),
	}
	c.detach = append(c.detach,
		c.paths.Attach(monitor, o.navigate),
		session.OnExpired(func(e *auth.SessionExpiredError) {
			log.Warn().Str("reason", string(e.Reason)).Msg("Session expired, please log in again")
		}),
	)
	return c, nil
}

// Start begins connectivity polling and registers the update agent.
func (c *Container) Start(ctx context.Context) {
	c.monitor.Start(ctx)
	c.updates.Start(ctx)
}

// Close stops every background component and waits for them.
func (c *Container) Close() {
	for _, fn := range c.detach {
		fn()
	}
	c.detach = nil
	c.updates.Stop()
	c.monitor.Stop()
	c.updates.Wait()
	c.monitor.Wait()
}

// Probe checks every backend once without touching the monitor's state.
func (c *Container) Probe(ctx context.Context) []connectivity.ProbeResult {
	return connectivity.ProbeAll(ctx, c.probers)
}

// Backend returns the API client registered under name.
func (c *Container) Backend(name string) (*client.Client, error) {
	cl, err := c.backends.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w (known: %v)", err, c.backends.Names())
	}
	return cl, nil
}

func (c *Container) Config() *config.Config { return c.config }
func (c *Container) Store() *auth.TokenStore { return c.store }
func (c *Container) Session() *auth.SessionManager { return c.session }
func (c *Container) Backends() *client.Backends { return c.backends }
func (c *Container) Monitor() *connectivity.Monitor { return c.monitor }
func (c *Container) Updates() *serviceworker.Manager { return c.updates }
func (c *Container) Paths() *connectivity.PathKeeper { return c.paths }
func (c *Container) SessionStorage() *db.SessionStorage { return c.storage }

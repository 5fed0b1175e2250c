package client

import (
	"fmt"
	"net/http"
	"time"

	"github.com/habedi/inspecta/auth"
	"github.com/rs/zerolog/log"
)

// Backend names.
const (
	Primary = "primary"
	Asset   = "asset"
	Auth    = "auth"
	GenAI   = "genai"
)

// Endpoints holds the base URL of every backend.
type Endpoints struct {
	Primary string
	Asset   string
	Auth    string
	GenAI   string
}

// Backends is the set of API clients sharing one session.
type Backends struct {
	Primary *Client
	Asset   *Client
	Auth    *AuthAPI
	GenAI   *Client

	transports map[string]*auth.Transport
}

// NewBackends builds the four clients, each with its own interceptor and its
// own refresh call. base is the underlying transport; nil means
// http.DefaultTransport.
func NewBackends(session *auth.SessionManager, ep Endpoints, base http.RoundTripper, timeout time.Duration) (*Backends, error) {
	b := &Backends{transports: make(map[string]*auth.Transport, 4)}

	build := func(name, baseURL string, variant RefreshVariant) (*Client, error) {
		// The exchanger calls back through the client it refreshes for.
		ex := &Exchanger{variant: variant}
		t := session.Transport(name, base, ex)
		c, err := New(name, baseURL, t, timeout)
		if err != nil {
			return nil, err
		}
		ex.client = c
		b.transports[name] = t
		log.Debug().Str("client", name).Str("url", c.BaseURL()).Str("refresh", variant.String()).Msg("API client configured")
		return c, nil
	}

	var err error
	if b.Primary, err = build(Primary, ep.Primary, PairBody); err != nil {
		return nil, err
	}
	if b.Asset, err = build(Asset, ep.Asset, RefreshOnlyBody); err != nil {
		return nil, err
	}
	authClient, err := build(Auth, ep.Auth, PairBody)
	if err != nil {
		return nil, err
	}
	b.Auth = &AuthAPI{Client: authClient}
	if b.GenAI, err = build(GenAI, ep.GenAI, RefreshOnlyBody); err != nil {
		return nil, err
	}
	return b, nil
}

// Get returns the client registered under name.
func (b *Backends) Get(name string) (*Client, error) {
	switch name {
	case Primary:
		return b.Primary, nil
	case Asset:
		return b.Asset, nil
	case Auth:
		return b.Auth.Client, nil
	case GenAI:
		return b.GenAI, nil
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}

// Names lists the backends in a stable order.
func (b *Backends) Names() []string {
	return []string{Primary, Asset, Auth, GenAI}
}

// RetryCount reports the interceptor retry counter of the named client.
func (b *Backends) RetryCount(name string) int {
	if t, ok := b.transports[name]; ok {
		return t.RetryCount()
	}
	return 0
}

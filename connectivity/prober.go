package connectivity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/habedi/inspecta/pkg/clock"
	"github.com/habedi/inspecta/pkg/pool"
	"github.com/rs/zerolog/log"
)

// Defaults for the health probe.
const (
	DefaultProbeTimeout  = 10 * time.Second
	DefaultExpectedToken = "Healthy"
)

// Prober checks that one backend is reachable.
type Prober interface {
	Name() string
	Probe(ctx context.Context) error
}

// HTTPProber issues GET <base>/health?_=<unix-millis> and expects the body to
// be the availability token.
type HTTPProber struct {
	name     string
	endpoint *url.URL
	expected string
	timeout  time.Duration
	client   *http.Client
	clock    clock.Clock
}

// NewHTTPProber returns a prober for baseURL. A zero timeout or empty token
// falls back to the defaults.
func NewHTTPProber(name, baseURL, expected string, timeout time.Duration, clk clock.Clock) (*HTTPProber, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid %s health URL %q", name, baseURL)
	}
	if expected == "" {
		expected = DefaultExpectedToken
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &HTTPProber{
		name:     name,
		endpoint: base.ResolveReference(&url.URL{Path: "health"}),
		expected: expected,
		timeout:  timeout,
		client:   &http.Client{},
		clock:    clk,
	}, nil
}

func (p *HTTPProber) Name() string { return p.name }

// Probe fails on any transport error, non-2xx status or unexpected body.
func (p *HTTPProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	u := *p.endpoint
	u.RawQuery = url.Values{"_": {strconv.FormatInt(p.clock.Now().UnixMilli(), 10)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")
	log.Debug().Str("backend", p.name).Str("url", p.endpoint.String()).Msg("Sending health probe")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s health probe failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("%s health probe: failed to read body: %w", p.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s health probe: unexpected status %d", p.name, resp.StatusCode)
	}
	if got := normalizeToken(string(body)); got != p.expected {
		return fmt.Errorf("%s health probe: unexpected response %q", p.name, got)
	}
	log.Debug().Str("backend", p.name).Int("status", resp.StatusCode).Msg("Health probe succeeded")
	return nil
}

// normalizeToken accepts both a bare token and a JSON string.
func normalizeToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// ProbeResult is the outcome of one backend probe.
type ProbeResult struct {
	Name    string
	Err     error
	Latency time.Duration
}

// OK reports whether the backend answered as expected.
func (r ProbeResult) OK() bool { return r.Err == nil }

// ProbeAll runs every prober concurrently and returns results in prober order.
func ProbeAll(ctx context.Context, probers []Prober) []ProbeResult {
	return pool.Map(ctx, probers, func(ctx context.Context, p Prober) ProbeResult {
		start := time.Now()
		err := p.Probe(ctx)
		latency := time.Since(start)
		log.Debug().Str("backend", p.Name()).Dur("latency", latency).Bool("ok", err == nil).Msg("Health probe finished")
		return ProbeResult{Name: p.Name(), Err: err, Latency: latency}
	})
}

// allOK is the aggregate signal. No probers means no signal.
func allOK(results []ProbeResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.OK() {
			return false
		}
	}
	return true
}

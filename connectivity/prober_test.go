package connectivity

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/habedi/inspecta/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProber_Probe(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"bare token", http.StatusOK, "Healthy", false},
		{"json string", http.StatusOK, "\"Healthy\"\n", false},
		{"padded", http.StatusOK, "  Healthy  ", false},
		{"wrong token", http.StatusOK, "Degraded", true},
		{"empty body", http.StatusOK, "", true},
		{"server error", http.StatusServiceUnavailable, "Healthy", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p, err := NewHTTPProber("primary", server.URL, "", 0, nil)
			require.NoError(t, err)
			err = p.Probe(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHTTPProber_CacheBustingQuery(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	var gotPath, gotStamp string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotStamp = r.URL.Query().Get("_")
		_, _ = w.Write([]byte("Healthy"))
	}))
	defer server.Close()

	p, err := NewHTTPProber("asset", server.URL+"/base/", "", 0, clock.Fake(now))
	require.NoError(t, err)
	require.NoError(t, p.Probe(context.Background()))

	assert.Equal(t, "/base/health", gotPath)
	assert.Equal(t, strconv.FormatInt(now.UnixMilli(), 10), gotStamp)
}

func TestHTTPProber_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p, err := NewHTTPProber("primary", server.URL, "", 50*time.Millisecond, nil)
	require.NoError(t, err)

	start := time.Now()
	assert.Error(t, p.Probe(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPProber_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	p, err := NewHTTPProber("primary", url, "", time.Second, nil)
	require.NoError(t, err)
	assert.Error(t, p.Probe(context.Background()))
}

func TestNewHTTPProber_InvalidURL(t *testing.T) {
	_, err := NewHTTPProber("primary", "not a url", "", 0, nil)
	assert.Error(t, err)
}

func TestNormalizeToken(t *testing.T) {
	assert.Equal(t, "Healthy", normalizeToken(` "Healthy" `))
	assert.Equal(t, "Healthy", normalizeToken("Healthy\r\n"))
	assert.Equal(t, `"`, normalizeToken(`"`))
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogs routes the global logger to a buffer at debug level.
func captureLogs(t *testing.T) *logBuffer {
	t.Helper()
	out := &logBuffer{}
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(out)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
	return out
}

func TestProbeAll_LogsEachProbe(t *testing.T) {
	logs := captureLogs(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Healthy"))
	}))
	defer server.Close()

	p, err := NewHTTPProber("primary", server.URL, "", 0, nil)
	require.NoError(t, err)
	results := ProbeAll(context.Background(), []Prober{p})
	require.Len(t, results, 1)
	require.True(t, results[0].OK())

	out := logs.String()
	assert.Contains(t, out, "Sending health probe")
	assert.Contains(t, out, "Health probe succeeded")
	assert.Contains(t, out, `"backend":"primary"`)
}

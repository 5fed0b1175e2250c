package serviceworker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/habedi/inspecta/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptServer struct {
	mu          sync.Mutex
	body        string
	status      int
	contentType string
}

func (s *scriptServer) set(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
}

func (s *scriptServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.URL.Path != "/sw.js" {
		http.NotFound(w, r)
		return
	}
	if s.status == http.StatusFound {
		http.Redirect(w, r, "/elsewhere.js", http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", s.contentType)
	if s.status != 0 {
		w.WriteHeader(s.status)
	}
	_, _ = w.Write([]byte(s.body))
}

func newScriptServer(t *testing.T) (*scriptServer, *ScriptAgent) {
	t.Helper()
	s := &scriptServer{body: "self.version = 1;", contentType: "text/javascript; charset=utf-8"}
	server := httptest.NewServer(s)
	t.Cleanup(server.Close)
	agent, err := NewScriptAgent(server.URL, nil, "")
	require.NoError(t, err)
	return s, agent
}

func TestScriptAgent_FullUpdateCycle(t *testing.T) {
	script, agent := newScriptServer(t)
	clk := clock.Fake(epoch)
	var reloads atomic.Int32
	m := NewManager(agent, ReloaderFunc(func() { reloads.Add(1) }), WithClock(clk))
	t.Cleanup(func() {
		m.Stop()
		m.Wait()
	})

	m.Start(context.Background())
	assert.Equal(t, Activated, m.Status().State, "first install activates without a prompt")
	first := agent.Controller()
	require.NotEmpty(t, first)

	clk.Advance(time.Hour)
	require.Eventually(t, func() bool { return m.Status().State == Activated }, time.Second, time.Millisecond)
	assert.Equal(t, first, agent.Controller(), "unchanged script is not a new version")

	script.set("self.version = 2;")
	clk.Advance(time.Hour)
	require.Eventually(t, func() bool { return m.Status().State == WaitingForActivation }, time.Second, time.Millisecond)
	waiting := m.Status().Waiting
	require.NotNil(t, waiting)
	assert.NotEqual(t, first, waiting.ID())

	require.NoError(t, m.ApplyUpdate())
	assert.Equal(t, int32(1), reloads.Load())
	assert.Equal(t, waiting.ID(), agent.Controller())
	assert.Equal(t, Activated, m.Status().State)

	clk.Advance(DefaultReloadFallback)
	assert.Equal(t, int32(1), reloads.Load())
}

func TestScriptAgent_RegisterFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		persistent  bool
	}{
		{"not found", http.StatusNotFound, "text/plain", true},
		{"html", 0, "text/html", true},
		{"redirect", http.StatusFound, "", true},
		{"server error", http.StatusInternalServerError, "text/javascript", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, agent := newScriptServer(t)
			script.status = tt.status
			script.contentType = tt.contentType

			_, err := agent.Register(context.Background(), "/sw.js", func(Event) {})
			require.Error(t, err)
			assert.Equal(t, tt.persistent, IsPersistentFailure(err), err.Error())
		})
	}
}

func TestScriptAgent_UnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	agent, err := NewScriptAgent(url, nil, "")
	require.NoError(t, err)
	_, err = agent.Register(context.Background(), "sw.js", func(Event) {})
	require.Error(t, err)
	assert.False(t, IsPersistentFailure(err))
}

func TestNewScriptAgent_Validation(t *testing.T) {
	_, err := NewScriptAgent("relative/path", nil, "")
	assert.Error(t, err)
	_, err = NewScriptAgent("http://localhost", nil, "crc32")
	assert.Error(t, err)
}

func TestScriptWorker_SkipWaitingRequiresWaiting(t *testing.T) {
	_, agent := newScriptServer(t)
	_, err := agent.Register(context.Background(), "/sw.js", func(Event) {})
	require.NoError(t, err)

	agent.mu.Lock()
	active := agent.controller
	agent.mu.Unlock()
	assert.Error(t, active.PostMessage(Message{Type: MessageSkipWaiting}))
}

package serviceworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/habedi/inspecta/pkg/hasher"
	"github.com/rs/zerolog/log"
)

// maxScriptSize caps how much of the script is read when fingerprinting.
const maxScriptSize = 4 << 20

// ScriptAgent is a Container for processes without a browser. It fetches
// the worker script over HTTP and treats a change of its content digest as a
// new version. A worker that receives SKIP_WAITING takes control and the
// agent emits ControllerChange.
type ScriptAgent struct {
	base   *url.URL
	client *http.Client
	algo   string

	mu         sync.Mutex
	script     *url.URL
	sink       func(Event)
	controller *scriptWorker
	waiting    *scriptWorker
	versions   int
}

// NewScriptAgent resolves script URLs against baseURL. A nil client means a
// default client; redirects are never followed. algo is a pkg/hasher
// algorithm name, empty for the default.
func NewScriptAgent(baseURL string, client *http.Client, algo string) (*ScriptAgent, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid update agent base URL %q", baseURL)
	}
	if algo == "" {
		algo = hasher.DefaultAlgorithm
	}
	if !hasher.IsValidHashAlgo(algo) {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algo)
	}
	c := &http.Client{}
	if client != nil {
		*c = *client
	}
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &ScriptAgent{base: base, client: c, algo: algo}, nil
}

// Register fetches the script and installs it as the first version.
func (a *ScriptAgent) Register(ctx context.Context, scriptURL string, sink func(Event)) (Registration, error) {
	ref, err := url.Parse(strings.TrimLeft(scriptURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid script URL %q: %w", scriptURL, err)
	}
	script := a.base.ResolveReference(ref)
	digest, err := a.fetch(ctx, script)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.script = script
	a.sink = sink
	a.mu.Unlock()

	a.install(digest)
	return &scriptRegistration{agent: a}, nil
}

// HasController reports whether a version is active.
func (a *ScriptAgent) HasController() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controller != nil
}

// Controller returns the ID of the active version, empty before registration.
func (a *ScriptAgent) Controller() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.controller == nil {
		return ""
	}
	return a.controller.ID()
}

// update fetches the script and installs it when the digest is new.
func (a *ScriptAgent) update(ctx context.Context) error {
	a.mu.Lock()
	script := a.script
	a.mu.Unlock()

	digest, err := a.fetch(ctx, script)
	if err != nil {
		return err
	}

	a.mu.Lock()
	known := (a.controller != nil && a.controller.digest == digest) ||
		(a.waiting != nil && a.waiting.digest == digest)
	a.mu.Unlock()
	if known {
		return nil
	}
	a.install(digest)
	return nil
}

// install runs a new worker through installing to installed. The first
// version activates on its own; later ones wait for SKIP_WAITING.
func (a *ScriptAgent) install(digest string) {
	a.mu.Lock()
	a.versions++
	w := &scriptWorker{agent: a, id: fmt.Sprintf("v%d-%s", a.versions, digest[:12]), digest: digest}
	sink := a.sink
	first := a.controller == nil
	a.mu.Unlock()

	log.Debug().Str("worker", w.id).Msg("Installing update agent version")
	sink(Event{Kind: UpdateFound, Worker: w})

	if first {
		sink(Event{Kind: StateChange, Worker: w, WorkerState: WorkerInstalled})
		a.activate(w, false)
		return
	}
	a.mu.Lock()
	a.waiting = w
	a.mu.Unlock()
	sink(Event{Kind: StateChange, Worker: w, WorkerState: WorkerInstalled})
}

func (a *ScriptAgent) activate(w *scriptWorker, announce bool) {
	a.mu.Lock()
	if a.waiting == w {
		a.waiting = nil
	}
	a.controller = w
	sink := a.sink
	a.mu.Unlock()

	sink(Event{Kind: StateChange, Worker: w, WorkerState: WorkerActivated})
	if announce {
		sink(Event{Kind: ControllerChange, Worker: w})
	}
}

// fetch downloads the script and returns its digest. Failure messages match
// the ones IsPersistentFailure recognises where retrying will not help.
func (a *ScriptAgent) fetch(ctx context.Context, script *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, script.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("script request to %s failed: %w", script.Host, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return "", fmt.Errorf("the script resource is behind a redirect (%d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("a bad HTTP response code (%d) was received when fetching the script", resp.StatusCode)
	}
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || !isJavaScript(mediaType) {
		return "", fmt.Errorf("the script has an unsupported MIME type (%q)", resp.Header.Get("Content-Type"))
	}
	return hasher.Fingerprint(io.LimitReader(resp.Body, maxScriptSize), a.algo)
}

func isJavaScript(mediaType string) bool {
	switch mediaType {
	case "text/javascript", "application/javascript", "application/x-javascript":
		return true
	}
	return false
}

type scriptRegistration struct {
	agent *ScriptAgent
}

func (r *scriptRegistration) Update(ctx context.Context) error {
	return r.agent.update(ctx)
}

type scriptWorker struct {
	agent  *ScriptAgent
	id     string
	digest string
}

func (w *scriptWorker) ID() string { return w.id }

// PostMessage delivers msg the way the platform would: serialised and
// dispatched on the worker side.
func (w *scriptWorker) PostMessage(msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return DispatchMessage(w, raw)
}

func (w *scriptWorker) SkipWaiting() error {
	w.agent.mu.Lock()
	waiting := w.agent.waiting == w
	w.agent.mu.Unlock()
	if !waiting {
		return errors.New("worker is not waiting")
	}
	w.agent.activate(w, true)
	return nil
}

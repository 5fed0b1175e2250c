package serviceworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// WorkerState is the platform lifecycle state of one worker instance.
type WorkerState string

const (
	WorkerInstalling WorkerState = "installing"
	WorkerInstalled  WorkerState = "installed"
	WorkerActivating WorkerState = "activating"
	WorkerActivated  WorkerState = "activated"
	WorkerRedundant  WorkerState = "redundant"
)

// Worker is a worker instance owned by the platform.
type Worker interface {
	ID() string
	PostMessage(msg Message) error
}

// Registration is a successful registration of the worker script.
type Registration interface {
	// Update asks the platform to check the script for a new version.
	Update(ctx context.Context) error
}

// PeriodicSyncer is implemented by registrations that can schedule
// background re-syncs.
type PeriodicSyncer interface {
	RegisterPeriodicSync(ctx context.Context, tag string, minInterval time.Duration) error
}

// Container is the platform side: it registers the script and reports
// lifecycle events to sink.
type Container interface {
	Register(ctx context.Context, scriptURL string, sink func(Event)) (Registration, error)
	// HasController reports whether a worker already controls the application.
	HasController() bool
}

// EventKind names a platform lifecycle event.
type EventKind int

const (
	// UpdateFound is a new worker starting to install.
	UpdateFound EventKind = iota
	// StateChange is a worker moving to a new WorkerState.
	StateChange
	// ControllerChange is a new worker taking control.
	ControllerChange
)

func (k EventKind) String() string {
	switch k {
	case UpdateFound:
		return "updatefound"
	case StateChange:
		return "statechange"
	case ControllerChange:
		return "controllerchange"
	}
	return "unknown"
}

// Event is one platform lifecycle event.
type Event struct {
	Kind        EventKind
	Worker      Worker
	WorkerState WorkerState // StateChange only
}

// MessageSkipWaiting tells a waiting worker to activate immediately.
const MessageSkipWaiting = "SKIP_WAITING"

// Message is posted from the application to a worker.
type Message struct {
	Type string `json:"type"`
}

// SkipWaiter is the worker-side primitive that activates a waiting worker.
type SkipWaiter interface {
	SkipWaiting() error
}

// DispatchMessage handles a raw message on the worker side. Unknown message
// types are ignored.
func DispatchMessage(w SkipWaiter, raw []byte) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("invalid worker message: %w", err)
	}
	if msg.Type == MessageSkipWaiting {
		return w.SkipWaiting()
	}
	return nil
}

// ErrorReporter receives lifecycle failures.
type ErrorReporter interface {
	Report(err error)
}

// ErrorReporterFunc adapts a function to ErrorReporter.
type ErrorReporterFunc func(err error)

func (f ErrorReporterFunc) Report(err error) { f(err) }

// Reloader restarts the application so the new worker takes over.
type Reloader interface {
	Reload()
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func()

func (f ReloaderFunc) Reload() { f() }

// Package event implements the build-progress event emitter: a small
// observer-pattern bus of typed callbacks, letting in-process subscribers
// (the CLI, tests) react to Builder/Cache progress without depending on
// their internals.
package event

import (
	"sync"

	"github.com/maruel/ksid"
)

// Kind tags an Event's payload shape, e.g. "ready", "file:success",
// "package:complete".
type Kind string

const (
	KindReady           Kind = "ready"
	KindStarted         Kind = "started"
	KindSkipped         Kind = "skipped"
	KindComplete        Kind = "complete"
	KindTerminated      Kind = "terminated"
	KindProjectStarted  Kind = "project:started"
	KindProjectComplete Kind = "project:complete"
	KindPackageStarted  Kind = "package:started"
	KindPackageComplete Kind = "package:complete"
	KindFileStarted     Kind = "file:started"
	KindFileSkipped     Kind = "file:skipped"
	KindFileSuccess     Kind = "file:success"
	KindFileError       Kind = "file:error"
)

// Event is one emitted occurrence. RunID correlates the project:, package:
// and file: events of a single BuildProject call; the Compiler Cache's own
// events (ready, started, skipped, complete, terminated) carry a zero
// RunID. Package and SourcePath are empty where not applicable (e.g.
// project-level events).
type Event struct {
	Kind       Kind
	RunID      ksid.ID
	Package    string
	SourcePath string
	Reason     string
	Errors     []string
	ErrorCount int
}

// Handler receives emitted events. Handlers run synchronously on the
// emitting goroutine and must not block.
type Handler func(Event)

// Bus is a minimal observer registry: subscribers register Handlers for a
// Kind and Emit invokes all of them in registration order.
type Bus struct {
	mu       sync.Mutex
	handlers map[Kind][]Handler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// On registers h to run whenever an event of kind k is emitted.
func (b *Bus) On(k Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[k] = append(b.handlers[k], h)
}

// Emit synchronously invokes every handler registered for ev.Kind.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	hs := append([]Handler(nil), b.handlers[ev.Kind]...)
	b.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

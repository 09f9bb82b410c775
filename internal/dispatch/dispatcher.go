// Package dispatch implements the message-type -> handler table (§4.10):
// a registration-time mutex protects the table itself, but once a handler
// reference is read out, it runs with no lock held, on whichever
// connection's reactor thread invoked it.
package dispatch

import (
	"log"
	"sync"

	"echomesh/internal/protocol"
	"echomesh/internal/stream"
)

// Handler processes one decoded message for the connection it arrived on.
type Handler func(conn *stream.Connection, env protocol.Envelope)

// Dispatcher routes decoded envelopes to registered handlers by their Type
// field. A missing handler is logged and the message is dropped (§4.10).
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string]Handler
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register installs (or replaces) the handler for messageType.
func (d *Dispatcher) Register(messageType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[messageType] = h
}

// Dispatch looks up the handler for env.Type and, if present, runs it
// without holding the table's mutex. Called on the owning connection's
// reactor thread, once per fully parsed frame.
func (d *Dispatcher) Dispatch(conn *stream.Connection, env protocol.Envelope) {
	d.mu.Lock()
	h, ok := d.handlers[env.Type]
	d.mu.Unlock()

	if !ok {
		log.Printf("dispatch: no handler registered for message type %q, dropping", env.Type)
		return
	}
	h(conn, env)
}

// Package multi drives a set of easy handles together. Transfers run concurrently
// while the caller steps the set with Perform or SocketAction, blocks in Wait, and
// collects results with InfoRead.
package multi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/transferkit/internal/easy"
	"github.com/italolelis/transferkit/internal/option"
	"github.com/italolelis/transferkit/internal/telemetry"
	"github.com/italolelis/transferkit/internal/transfer"
)

type state int

const (
	statePending state = iota
	stateRunning
	stateDone
	stateCompleted
)

type entry struct {
	h        *easy.Handle
	state    state
	cancel   context.CancelFunc
	exited   chan struct{}
	deadline time.Time
	result   error
}

// Multi owns a set of easy handles and the connection pool they share. It must be
// released with Close and is never copied.
type Multi struct {
	id    string
	flags transfer.GlobalFlags

	mu       sync.Mutex
	closed   bool
	entries  []*entry
	byHandle map[*easy.Handle]*entry
	msgs     []*Message
	running  int
	maxTotal int
	socketFn option.SocketFunc
	cbErr    error
	tel      *telemetry.Telemetry

	rt      *http.Transport
	sockets *sockets

	notify chan struct{}
	wake   chan struct{}
}

// New creates a multi handle with the default global flags.
func New() (*Multi, error) {
	return NewWithFlags(transfer.GlobalDefault)
}

// NewWithFlags creates a multi handle, initializing the global state with flags.
func NewWithFlags(flags transfer.GlobalFlags) (*Multi, error) {
	if err := transfer.Init(flags); err != nil {
		return nil, transfer.NewMultiError("multi_init", transfer.MultiInternalError, "global init failed", err)
	}

	m := &Multi{
		id:       uuid.NewString(),
		flags:    flags,
		byHandle: make(map[*easy.Handle]*entry),
		notify:   make(chan struct{}, 1),
		wake:     make(chan struct{}, 1),
	}

	m.sockets = newSockets(m.socketEvent)
	m.rt = transfer.NewTransport()
	m.rt.DialContext = m.sockets.wrap(m.rt.DialContext)

	return m, nil
}

// ID returns the unique id of the multi handle.
func (m *Multi) ID() string {
	return m.id
}

// Instrument records transfer set gauges and socket counters on tel. Handles added
// afterwards are instrumented too.
func (m *Multi) Instrument(tel *telemetry.Telemetry) {
	m.mu.Lock()
	m.tel = tel
	m.mu.Unlock()
}

// SetOption applies multi settings in order and stops at the first failure.
func (m *Multi) SetOption(settings ...option.Setting[option.MultiOption]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed("setopt")
	}

	for _, s := range settings {
		opt, v := s.Key(), s.Any()

		if !opt.Known() {
			return transfer.NewMultiError("setopt", transfer.MultiUnknownOption, "unknown option "+opt.String(), nil)
		}

		if !opt.Accepts(v) {
			return transfer.NewMultiError("setopt", transfer.MultiBadFunctionArgument, "bad value for "+opt.String(), nil)
		}

		switch opt {
		case option.MaxTotalConnections:
			m.maxTotal = v.(int)
		case option.SocketFunction:
			switch fn := v.(type) {
			case option.SocketFunc:
				m.socketFn = fn
			case func(int, option.PollEvent, any) error:
				m.socketFn = fn
			default:
				m.socketFn = nil
			}
		}
	}

	return nil
}

// Add puts handles in the set, in order, stopping at the first failure. Handles
// added before the failure stay in the set.
func (m *Multi) Add(handles ...*easy.Handle) error {
	for _, h := range handles {
		if err := m.add(h); err != nil {
			return err
		}
	}

	return nil
}

func (m *Multi) add(h *easy.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed("add_handle")
	}

	if h == nil {
		return transfer.NewMultiError("add_handle", transfer.MultiBadEasyHandle, "nil easy handle", nil)
	}

	if err := h.Attach(m, m.rt); err != nil {
		switch {
		case errors.Is(err, easy.ErrAlreadyAttached):
			return transfer.NewMultiError("add_handle", transfer.MultiAddedAlready, "", err)
		default:
			return transfer.NewMultiError("add_handle", transfer.MultiBadEasyHandle, "", err)
		}
	}

	if m.tel != nil {
		h.Instrument(m.tel)
	}

	e := &entry{h: h, state: statePending}
	m.entries = append(m.entries, e)
	m.byHandle[h] = e
	m.running++

	m.signal()

	return nil
}

// Remove takes handles out of the set, in order, stopping at the first failure. A
// running transfer is aborted and waited for, and its queued message is dropped.
func (m *Multi) Remove(handles ...*easy.Handle) error {
	for _, h := range handles {
		if err := m.remove(h); err != nil {
			return err
		}
	}

	return nil
}

func (m *Multi) remove(h *easy.Handle) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return errClosed("remove_handle")
	}

	e, ok := m.byHandle[h]
	if h == nil || !ok {
		m.mu.Unlock()
		return transfer.NewMultiError("remove_handle", transfer.MultiBadEasyHandle, "handle is not in this multi handle", nil)
	}

	delete(m.byHandle, h)
	m.entries = deleteEntry(m.entries, e)
	m.msgs = deleteMessages(m.msgs, h)

	if e.state != stateCompleted {
		m.running--
	}

	cancel, exited := e.cancel, e.exited
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-exited
	}

	h.Detach(m)

	return nil
}

// Handles returns the handles in the set, in the order they were added.
func (m *Multi) Handles() []*easy.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*easy.Handle, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.h)
	}

	return out
}

// Running returns how many transfers are pending or in progress, as of the last step.
func (m *Multi) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.running
}

// MessagesQueued returns how many completion messages wait to be read.
func (m *Multi) MessagesQueued() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.msgs)
}

// SocketStats reports the connections opened by the set.
func (m *Multi) SocketStats() SocketStats {
	return m.sockets.Stats()
}

// Close aborts every transfer, detaches every handle and closes idle connections.
// Only the first call has an effect. Every later operation fails with BadHandle.
func (m *Multi) Close() error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return nil
	}

	m.closed = true
	entries := m.entries
	m.entries = nil
	m.byHandle = nil
	m.msgs = nil
	m.running = 0
	m.mu.Unlock()

	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
			<-e.exited
		}

		e.h.Detach(m)
	}

	m.rt.CloseIdleConnections()
	transfer.Cleanup()

	return nil
}

func (m *Multi) socketEvent(sock Socket, what option.PollEvent, data any) {
	m.mu.Lock()
	fn, tel := m.socketFn, m.tel
	m.mu.Unlock()

	tel.RecordSocket(what != option.PollRemove)

	if fn == nil {
		return
	}

	if err := fn(int(sock), what, data); err != nil {
		m.mu.Lock()
		if m.cbErr == nil {
			m.cbErr = err
		}
		m.mu.Unlock()
	}
}

// signal wakes a blocked Wait. Called with m.mu held or from transfer goroutines.
func (m *Multi) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func errClosed(op string) *transfer.MultiError {
	return transfer.NewMultiError(op, transfer.MultiBadHandle, "multi handle is closed", nil)
}

func deleteEntry(entries []*entry, e *entry) []*entry {
	for i, cur := range entries {
		if cur == e {
			return append(entries[:i], entries[i+1:]...)
		}
	}

	return entries
}

func deleteMessages(msgs []*Message, h *easy.Handle) []*Message {
	out := msgs[:0]
	for _, msg := range msgs {
		if msg.Handle != h {
			out = append(out, msg)
		}
	}

	return out
}

// Package easy implements the single-transfer handle: typed option setting, a
// synchronous Perform, typed info queries, reset and URL escaping, on top of net/http.
package easy

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/transferkit/internal/cookiejar"
	"github.com/italolelis/transferkit/internal/telemetry"
	"github.com/italolelis/transferkit/internal/transfer"
)

var (
	// ErrHandleClosed is returned by Attach on a closed handle.
	ErrHandleClosed = errors.New("easy handle is closed")
	// ErrAlreadyAttached is returned by Attach when the handle belongs to a multi handle.
	ErrAlreadyAttached = errors.New("easy handle is already attached")
)

// Handle owns one transfer session. It must be released with Close.
type Handle struct {
	id    string
	flags transfer.GlobalFlags

	mu      sync.Mutex
	opts    options
	info    info
	jar     *cookiejar.Jar
	tel     *telemetry.Telemetry
	closed  bool
	running bool

	// owner is the multi handle holding this handle and shared is its transport.
	owner  any
	shared *http.Transport

	derived    *http.Transport
	derivedKey transportKey
}

// New creates a handle with the default global flags.
func New() (*Handle, error) {
	return NewWithFlags(transfer.GlobalDefault)
}

// NewWithFlags creates a handle, initializing the global state with flags.
func NewWithFlags(flags transfer.GlobalFlags) (*Handle, error) {
	if err := transfer.Init(flags); err != nil {
		return nil, err
	}

	return &Handle{
		id:    uuid.NewString(),
		flags: flags,
		opts:  defaultOptions(),
		info:  newInfo(),
	}, nil
}

// ID returns the unique id of the handle.
func (h *Handle) ID() string {
	return h.id
}

// Instrument makes later performs record spans and metrics on tel.
func (h *Handle) Instrument(tel *telemetry.Telemetry) {
	h.mu.Lock()
	h.tel = tel
	h.mu.Unlock()
}

// Reset restores every option to its default and clears the session info. Pooled
// connections and the cookie store are kept.
func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	jarPath := h.opts.cookieJar
	h.opts = defaultOptions()
	h.opts.cookieJar = jarPath
	h.info = newInfo()
}

// Dup returns a deep copy of the handle options. The copy has a new id, empty info,
// and is not attached to any multi handle.
func (h *Handle) Dup() (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errClosed("dup")
	}

	c, err := NewWithFlags(h.flags)
	if err != nil {
		return nil, err
	}

	c.opts = h.opts.clone()
	c.tel = h.tel

	if h.opts.cookieJar != "" {
		jar, err := cookiejar.Open(h.opts.cookieJar)
		if err != nil {
			transfer.Cleanup()
			return nil, transfer.NewError("dup", transfer.CodeFailedInit, "cannot open cookie jar", err)
		}

		c.jar = jar
	}

	return c, nil
}

// Close releases the handle. Only the first call has an effect. A handle still
// attached to a multi handle cannot be closed.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	if h.owner != nil {
		return transfer.NewError("close", transfer.CodeBadFunctionArgument, "handle is attached to a multi handle", nil)
	}

	if h.running {
		return transfer.NewError("close", transfer.CodeBadFunctionArgument, "transfer in progress", nil)
	}

	h.closed = true

	if h.derived != nil {
		h.derived.CloseIdleConnections()
		h.derived = nil
	}

	var err error
	if h.jar != nil {
		err = h.jar.Close()
		h.jar = nil
	}

	transfer.Cleanup()

	return err
}

// Closed reports whether Close has released the handle.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.closed
}

// Attach binds the handle to owner, routing its transfers through rt.
func (h *Handle) Attach(owner any, rt *http.Transport) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.closed:
		return ErrHandleClosed
	case h.owner != nil:
		return ErrAlreadyAttached
	}

	h.owner = owner
	h.shared = rt

	return nil
}

// Detach releases the binding made by Attach. It reports false when owner does not
// hold the handle.
func (h *Handle) Detach(owner any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.owner == nil || h.owner != owner {
		return false
	}

	h.owner = nil
	h.shared = nil

	if h.derived != nil {
		h.derived.CloseIdleConnections()
		h.derived = nil
	}

	return true
}

// Attached reports whether the handle belongs to a multi handle.
func (h *Handle) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.owner != nil
}

func errClosed(op string) *transfer.Error {
	return transfer.NewError(op, transfer.CodeBadFunctionArgument, "handle is closed", ErrHandleClosed)
}

// TransferTimeout returns the Timeout option, zero when unset.
func (h *Handle) TransferTimeout() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.opts.timeout
}

package transfer

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// GlobalFlags select the subsystems Init sets up.
type GlobalFlags int

const (
	GlobalNothing GlobalFlags = 0
	GlobalSSL     GlobalFlags = 1 << 0
	GlobalWin32   GlobalFlags = 1 << 1
	GlobalAll     GlobalFlags = GlobalSSL | GlobalWin32
	GlobalDefault GlobalFlags = GlobalAll
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	keepAlivePeriod       = 30 * time.Second
	maxIdleConns          = 100
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = 1 * time.Second
	maxConnsPerHost       = 16

	// DefaultUserAgent is sent when a handle does not set UserAgent.
	DefaultUserAgent = "transferkit/" + version
	version          = "1.0.0"
)

var global struct {
	mu        sync.Mutex
	refs      int
	flags     GlobalFlags
	transport *http.Transport
}

// Init sets up the process-wide state shared by every handle. Calls are reference
// counted and each successful Init must be paired with a Cleanup.
func Init(flags GlobalFlags) error {
	if flags&^GlobalAll != 0 {
		return NewError("global_init", CodeFailedInit, fmt.Sprintf("unknown global flags %#x", int(flags)), nil)
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if global.refs == 0 {
		global.transport = NewTransport()
		global.flags = flags
	} else {
		global.flags |= flags
	}

	global.refs++

	return nil
}

// Cleanup releases one Init reference. The shared transport is torn down with the last one.
func Cleanup() {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.refs == 0 {
		return
	}

	global.refs--
	if global.refs == 0 {
		global.transport.CloseIdleConnections()
		global.transport = nil
		global.flags = GlobalNothing
	}
}

// SSLEnabled reports whether https transfers are allowed.
func SSLEnabled() bool {
	global.mu.Lock()
	defer global.mu.Unlock()

	return global.flags&GlobalSSL != 0
}

// Transport returns the shared transport, or nil when Init has not been called.
func Transport() *http.Transport {
	global.mu.Lock()
	defer global.mu.Unlock()

	return global.transport
}

// NewTransport builds a transport with the library defaults. The multi handle uses it
// for its own connection pool.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: keepAlivePeriod,
		}).DialContext,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		DisableCompression:    true,
		MaxConnsPerHost:       maxConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// Version reports the library version string.
func Version() string {
	return "transferkit/" + version + " net/http"
}

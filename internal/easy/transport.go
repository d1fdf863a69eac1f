package easy

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/transferkit/internal/transfer"
)

// transportKey describes the per-handle changes applied on top of a shared transport.
type transportKey struct {
	base           *http.Transport
	insecure       bool
	proxy          string
	connectTimeout time.Duration
}

func (k transportKey) plain() bool {
	return !k.insecure && k.proxy == "" && k.connectTimeout <= 0
}

// transportFor returns the transport a perform should use. Handles that need TLS,
// proxy or connect timeout changes get a private clone of base, cached until the
// settings change. Called with h.mu held.
func (h *Handle) transportFor(base *http.Transport, o options) (*http.Transport, error) {
	key := transportKey{
		base:           base,
		insecure:       !o.sslVerifyPeer,
		proxy:          o.proxy,
		connectTimeout: o.connectTimeout,
	}

	if key.plain() {
		return base, nil
	}

	if h.derived != nil && h.derivedKey == key {
		return h.derived, nil
	}

	tr := base.Clone()

	if key.insecure {
		if tr.TLSClientConfig == nil {
			tr.TLSClientConfig = &tls.Config{}
		}

		tr.TLSClientConfig.InsecureSkipVerify = true
	}

	if key.proxy != "" {
		raw := key.proxy
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}

		pu, err := url.Parse(raw)
		if err != nil || pu.Host == "" {
			return nil, transfer.NewError("perform", transfer.CodeCouldntResolveProxy, "invalid proxy "+key.proxy, err)
		}

		tr.Proxy = http.ProxyURL(pu)
	}

	if key.connectTimeout > 0 {
		dial := tr.DialContext
		if dial == nil {
			dial = (&net.Dialer{}).DialContext
		}

		timeout := key.connectTimeout
		tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return dial(ctx, network, addr)
		}
		tr.TLSHandshakeTimeout = timeout
	}

	if h.derived != nil {
		h.derived.CloseIdleConnections()
	}

	h.derived, h.derivedKey = tr, key

	return tr, nil
}

// timings collects httptrace events. Callbacks may run on transport goroutines.
type timings struct {
	mu sync.Mutex

	dnsDone     time.Duration
	connectDone time.Duration
	tlsDone     time.Duration
	firstByte   time.Duration
	remote      string
}

func (t *timings) trace(start time.Time) *httptrace.ClientTrace {
	since := func(dst *time.Duration) {
		t.mu.Lock()
		*dst = time.Since(start)
		t.mu.Unlock()
	}

	return &httptrace.ClientTrace{
		DNSDone: func(httptrace.DNSDoneInfo) {
			since(&t.dnsDone)
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				since(&t.connectDone)
			}
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				since(&t.tlsDone)
			}
		},
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn == nil {
				return
			}

			t.mu.Lock()
			t.remote = info.Conn.RemoteAddr().String()
			t.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			since(&t.firstByte)
		},
	}
}

func (t *timings) apply(in *info) {
	t.mu.Lock()
	defer t.mu.Unlock()

	in.nameLookup = t.dnsDone
	in.connect = max(t.connectDone, in.nameLookup)
	in.appConnect = t.tlsDone
	in.startTransfer = t.firstByte

	if host, port, err := net.SplitHostPort(t.remote); err == nil {
		in.primaryIP = host
		in.primaryPort, _ = strconv.Atoi(port)
	}
}

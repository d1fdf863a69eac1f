package transfer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrTooManyRedirects is returned by redirect policies when the redirect limit is hit.
	ErrTooManyRedirects = errors.New("maximum redirects followed")
	// ErrAbortedByCallback is returned when a progress or write callback stops a transfer.
	ErrAbortedByCallback = errors.New("aborted by callback")
	// ErrFilesizeExceeded is returned when a body grows past the configured limit.
	ErrFilesizeExceeded = errors.New("maximum file size exceeded")
)

// ClassifyError maps an error returned by the net/http stack onto a result code.
func ClassifyError(err error) Code {
	if err == nil {
		return CodeOK
	}

	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}

	switch {
	case errors.Is(err, ErrTooManyRedirects):
		return CodeTooManyRedirects
	case errors.Is(err, ErrAbortedByCallback), errors.Is(err, context.Canceled):
		return CodeAbortedByCallback
	case errors.Is(err, ErrFilesizeExceeded):
		return CodeFilesizeExceeded
	case errors.Is(err, context.DeadlineExceeded):
		return CodeOperationTimedout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if isProxyError(err) {
			return CodeCouldntResolveProxy
		}

		return CodeCouldntResolveHost
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return CodePeerFailedVerification
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return CodeSSLConnectError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeOperationTimedout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return CodeCouldntConnect
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unsupported protocol scheme"):
		return CodeUnsupportedProtocol
	case strings.Contains(msg, "tls: "):
		return CodeSSLConnectError
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		strings.Contains(msg, "server closed idle connection"):
		return CodeGotNothing
	}

	return CodeRecvError
}

// ClassifyStatus converts an HTTP status code into the code FailOnError reports.
func ClassifyStatus(status int) Code {
	if status >= http.StatusBadRequest {
		return CodeHTTPReturnedError
	}

	return CodeOK
}

func isProxyError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "proxyconnect" {
		return true
	}

	return strings.Contains(err.Error(), "proxyconnect")
}

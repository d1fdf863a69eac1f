package easy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/italolelis/transferkit/internal/logctx"
	"github.com/italolelis/transferkit/internal/option"
	"github.com/italolelis/transferkit/internal/progress"
	"github.com/italolelis/transferkit/internal/telemetry"
	"github.com/italolelis/transferkit/internal/transfer"
)

const bufferSize = 32 * 1024

// session is the state of one perform call, detached from the handle lock.
type session struct {
	opts options
	jar  http.CookieJar
	tel  *telemetry.Telemetry
	rt   *http.Transport
	x    *xferState
	tm   timings
}

// Perform runs the transfer synchronously. A handle attached to a multi handle is
// driven by that multi handle and cannot be performed directly.
func (h *Handle) Perform(ctx context.Context) error {
	return h.perform(ctx, nil)
}

// PerformFor runs the transfer on behalf of owner, the multi handle holding h.
func (h *Handle) PerformFor(ctx context.Context, owner any) error {
	if owner == nil {
		return transfer.NewError("perform", transfer.CodeBadFunctionArgument, "nil owner", nil)
	}

	return h.perform(ctx, owner)
}

func (h *Handle) perform(ctx context.Context, owner any) error {
	s, err := h.begin(owner)
	if err != nil {
		return err
	}

	ctx = logctx.WithTransferID(ctx, h.id)
	in := newInfo()

	err = s.tel.InstrumentTransfer(ctx, s.method(), func(ctx context.Context) error {
		return s.do(ctx, &in)
	})

	h.mu.Lock()
	h.info = in
	h.running = false
	h.mu.Unlock()

	return err
}

func (h *Handle) begin(owner any) (*session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.closed:
		return nil, errClosed("perform")
	case owner == nil && h.owner != nil:
		return nil, transfer.NewError("perform", transfer.CodeFailedInit, "easy handle already used in multi handle", nil)
	case owner != nil && h.owner != owner:
		return nil, transfer.NewError("perform", transfer.CodeBadFunctionArgument, "handle is not attached to this multi handle", nil)
	case h.running:
		return nil, transfer.NewError("perform", transfer.CodeBadFunctionArgument, "perform already in progress", nil)
	}

	base := h.shared
	if base == nil {
		base = transfer.Transport()
	}

	if base == nil {
		return nil, transfer.NewError("perform", transfer.CodeFailedInit, "global state is not initialized", nil)
	}

	opts := h.opts.clone()

	rt, err := h.transportFor(base, opts)
	if err != nil {
		return nil, err
	}

	s := &session{
		opts: opts,
		tel:  h.tel,
		rt:   rt,
		x:    &xferState{fn: opts.xferInfo},
	}

	if h.jar != nil {
		s.jar = h.jar
	}

	h.running = true

	return s, nil
}

func (s *session) method() string {
	o := s.opts

	switch {
	case o.customRequest != "":
		return o.customRequest
	case o.noBody:
		return http.MethodHead
	case o.post || o.hasPostFields:
		return http.MethodPost
	case o.upload:
		return http.MethodPut
	}

	return http.MethodGet
}

func (s *session) do(ctx context.Context, in *info) error {
	o := s.opts
	logger := logctx.LoggerFromContext(ctx)

	u, err := parseURL(o.url)
	if err != nil {
		return err
	}

	method := s.method()
	in.effectiveURL = u.String()
	in.effectiveMethod = method

	if o.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		in.total = time.Since(start)
		s.tm.apply(in)
		in.sizeUpload = s.x.ulNow.Load()

		s.tel.RecordTransferBytes("download", in.sizeDownload)
		s.tel.RecordTransferBytes("upload", in.sizeUpload)
	}()

	ctx = httptrace.WithClientTrace(ctx, s.tm.trace(start))

	body, bodyLen := s.requestBody(method)

	req, reqErr := http.NewRequestWithContext(ctx, method, u.String(), body)
	if reqErr != nil {
		return transfer.NewError("perform", transfer.CodeURLMalformat, reqErr.Error(), reqErr)
	}

	if body != nil && bodyLen >= 0 {
		req.ContentLength = bodyLen
	}

	s.applyHeaders(req, method)

	if o.verbose {
		logger.DebugContext(ctx, "sending request", "method", method, "url", u.Redacted(), "headers", headerNames(req.Header))
	}

	resp, doErr := s.client(in).Do(req)
	if doErr != nil {
		return s.fail(doErr)
	}
	defer resp.Body.Close()

	s.fillResponse(in, resp)

	if o.verbose {
		logger.DebugContext(ctx, "received response",
			"status", resp.StatusCode,
			"content_length", resp.ContentLength,
			"headers", headerNames(resp.Header),
		)
	}

	if err := s.writeHeaders(resp); err != nil {
		return err
	}

	switch {
	case o.failOnError && resp.StatusCode >= http.StatusBadRequest:
		return transfer.NewError("perform", transfer.ClassifyStatus(resp.StatusCode),
			fmt.Sprintf("The requested URL returned error: %d", resp.StatusCode), nil)
	case o.resumeFrom > 0 && resp.StatusCode == http.StatusOK:
		return transfer.NewError("perform", transfer.CodeRangeError, "server does not support resuming the transfer", nil)
	case o.maxFileSize > 0 && resp.ContentLength > o.maxFileSize:
		return transfer.NewError("perform", transfer.CodeFilesizeExceeded, "", transfer.ErrFilesizeExceeded)
	}

	if method == http.MethodHead {
		return nil
	}

	return s.readBody(resp, in)
}

func (s *session) requestBody(method string) (io.Reader, int64) {
	o := s.opts
	if method == http.MethodHead {
		return nil, 0
	}

	var (
		body io.Reader
		n    int64 = -1
	)

	switch {
	case o.hasPostFields:
		body, n = bytes.NewReader(o.postFields), int64(len(o.postFields))
	case (o.post || o.upload || o.customRequest != "") && o.readData != nil:
		body = o.readData
	default:
		return nil, 0
	}

	s.x.ulTotal.Store(max(n, 0))

	return progress.NewReader(body, n, 0, func(read, _ int64) error {
		s.x.ulNow.Store(read)
		return s.x.report()
	}), n
}

func (s *session) applyHeaders(req *http.Request, method string) {
	o := s.opts

	req.Header.Set("Accept", "*/*")

	ua := o.userAgent
	if ua == "" {
		ua = transfer.DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	if o.referer != "" {
		req.Header.Set("Referer", o.referer)
	}

	if o.cookie != "" {
		req.Header.Add("Cookie", o.cookie)
	}

	if o.hasPostFields && method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if o.userPwd != "" {
		user, pass, _ := strings.Cut(o.userPwd, ":")
		req.SetBasicAuth(user, pass)
	}

	switch {
	case o.rng != "":
		req.Header.Set("Range", "bytes="+o.rng)
	case o.resumeFrom > 0:
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", o.resumeFrom))
	}

	replaced := make(map[string]bool)

	for _, line := range o.headers {
		// "Name;" sends the header with an empty value.
		if name, ok := strings.CutSuffix(strings.TrimSpace(line), ";"); ok && !strings.Contains(name, ":") {
			req.Header[textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))] = []string{""}
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		name = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		switch {
		case name == "":
			continue
		case name == "Host":
			if value != "" {
				req.Host = value
			}
			continue
		case value == "" && name == "User-Agent":
			// An empty User-Agent keeps net/http from adding its own.
			req.Header["User-Agent"] = []string{""}
			continue
		case value == "":
			req.Header.Del(name)
			continue
		}

		if !replaced[name] {
			req.Header.Del(name)
			replaced[name] = true
		}

		req.Header.Add(name, value)
	}
}

func (s *session) client(in *info) *http.Client {
	o := s.opts

	var rt http.RoundTripper = s.rt

	if o.bearer != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: o.bearer, TokenType: "Bearer"}),
			Base:   rt,
		}
	}

	if s.tel.Enabled() {
		rt = otelhttp.NewTransport(rt,
			otelhttp.WithTracerProvider(s.tel.TracerProvider()),
			otelhttp.WithMeterProvider(s.tel.MeterProvider()),
		)
	}

	c := &http.Client{
		Transport:     rt,
		CheckRedirect: s.checkRedirect(in),
	}

	if s.jar != nil {
		c.Jar = s.jar
	}

	return c
}

func (s *session) checkRedirect(in *info) func(*http.Request, []*http.Request) error {
	o := s.opts

	return func(req *http.Request, via []*http.Request) error {
		if !o.followLocation {
			return http.ErrUseLastResponse
		}

		if req.Response != nil {
			if err := s.writeHeaders(req.Response); err != nil {
				return err
			}
		}

		if o.maxRedirs >= 0 && len(via) > o.maxRedirs {
			return fmt.Errorf("%w (%d)", transfer.ErrTooManyRedirects, o.maxRedirs)
		}

		in.redirectCount = len(via)

		return nil
	}
}

func (s *session) fillResponse(in *info, resp *http.Response) {
	in.responseCode = resp.StatusCode
	in.contentType = resp.Header.Get("Content-Type")
	in.contentLength = resp.ContentLength

	if resp.Request != nil && resp.Request.URL != nil {
		in.effectiveURL = resp.Request.URL.String()
	}

	if resp.StatusCode >= http.StatusMultipleChoices && resp.StatusCode < http.StatusBadRequest {
		if loc, err := resp.Location(); err == nil {
			in.redirectURL = loc.String()
		}
	}

	s.x.dlTotal.Store(max(resp.ContentLength, 0))
}

func (s *session) writeHeaders(resp *http.Response) error {
	w := s.opts.headerData
	if w == nil {
		return nil
	}

	var b bytes.Buffer

	fmt.Fprintf(&b, "%s %s\r\n", resp.Proto, resp.Status)

	if err := resp.Header.Write(&b); err != nil {
		return transfer.NewError("perform", transfer.CodeWriteError, "failed writing header", err)
	}

	b.WriteString("\r\n")

	if _, err := w.Write(b.Bytes()); err != nil {
		return transfer.NewError("perform", transfer.CodeWriteError, "failed writing header", err)
	}

	return nil
}

func (s *session) readBody(resp *http.Response, in *info) error {
	o := s.opts
	sink := s.sink()

	pr := progress.NewReader(resp.Body, resp.ContentLength, 0, func(read, _ int64) error {
		s.x.dlNow.Store(read)
		return s.x.report()
	})

	buf := make([]byte, bufferSize)

	for {
		n, rerr := pr.Read(buf)
		if n > 0 {
			in.sizeDownload += int64(n)

			if o.maxFileSize > 0 && in.sizeDownload > o.maxFileSize {
				return transfer.NewError("perform", transfer.CodeFilesizeExceeded, "", transfer.ErrFilesizeExceeded)
			}

			wn, werr := sink.Write(buf[:n])
			if werr == nil && wn != n {
				werr = io.ErrShortWrite
			}

			if werr != nil {
				return transfer.NewError("perform", transfer.CodeWriteError, "", werr)
			}
		}

		if rerr == io.EOF {
			return nil
		}

		if rerr != nil {
			return s.fail(rerr)
		}
	}
}

func (s *session) sink() io.Writer {
	o := s.opts

	switch {
	case o.writeFunc != nil:
		return funcWriter(o.writeFunc)
	case o.writeData != nil:
		return o.writeData
	}

	return io.Discard
}

func (s *session) fail(err error) error {
	code := transfer.ClassifyError(err)

	return transfer.NewError("perform", code, err.Error(), err)
}

type funcWriter option.WriteFunc

func (f funcWriter) Write(p []byte) (int, error) {
	n := f(p)
	if n != len(p) {
		return n, io.ErrShortWrite
	}

	return n, nil
}

// xferState feeds XferInfoFunction from both transfer directions.
type xferState struct {
	fn option.XferInfoFunc
	mu sync.Mutex

	dlTotal, dlNow atomic.Int64
	ulTotal, ulNow atomic.Int64
}

func (x *xferState) report() error {
	if x.fn == nil {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.fn(x.dlTotal.Load(), x.dlNow.Load(), x.ulTotal.Load(), x.ulNow.Load()); err != nil {
		return fmt.Errorf("%w: %w", transfer.ErrAbortedByCallback, err)
	}

	return nil
}

func parseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, transfer.NewError("perform", transfer.CodeURLMalformat, "no URL set", nil)
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, transfer.NewError("perform", transfer.CodeURLMalformat, err.Error(), err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
	case "https":
		if !transfer.SSLEnabled() {
			return nil, transfer.NewError("perform", transfer.CodeUnsupportedProtocol, "SSL support was not initialized", nil)
		}
	default:
		return nil, transfer.NewError("perform", transfer.CodeUnsupportedProtocol,
			fmt.Sprintf("protocol %q not supported", u.Scheme), nil)
	}

	if u.Host == "" {
		return nil, transfer.NewError("perform", transfer.CodeURLMalformat, "no host in URL", nil)
	}

	return u, nil
}

func headerNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}

	return names
}

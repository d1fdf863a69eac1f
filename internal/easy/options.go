package easy

import (
	"container/list"
	"fmt"
	"io"
	"time"

	"github.com/italolelis/transferkit/internal/cookiejar"
	"github.com/italolelis/transferkit/internal/option"
	"github.com/italolelis/transferkit/internal/transfer"
)

// options is the full option state of a handle. Perform works on a copy.
type options struct {
	url           string
	customRequest string
	noBody        bool
	post          bool
	upload        bool
	postFields    []byte
	hasPostFields bool
	readData      io.Reader

	headers   []string
	userAgent string
	referer   string
	cookie    string
	cookieJar string
	userPwd   string
	bearer    string
	rng       string
	proxy     string

	followLocation bool
	maxRedirs      int
	timeout        time.Duration
	connectTimeout time.Duration
	failOnError    bool
	resumeFrom     int64
	maxFileSize    int64
	sslVerifyPeer  bool

	writeData  io.Writer
	writeFunc  option.WriteFunc
	headerData io.Writer
	xferInfo   option.XferInfoFunc

	private any
	verbose bool
}

func defaultOptions() options {
	return options{
		maxRedirs:     -1,
		sslVerifyPeer: true,
	}
}

func (o options) clone() options {
	c := o
	if o.headers != nil {
		c.headers = append([]string(nil), o.headers...)
	}

	if o.postFields != nil {
		c.postFields = append([]byte(nil), o.postFields...)
	}

	return c
}

// Add applies settings in order and stops at the first one that fails. Settings
// applied before the failure stay in effect.
func (h *Handle) Add(settings ...option.Setting[option.Option]) error {
	for _, s := range settings {
		if s == nil {
			return transfer.NewError("setopt", transfer.CodeBadFunctionArgument, "nil option", nil)
		}

		if err := h.set(s.Key(), s.Any()); err != nil {
			return err
		}
	}

	return nil
}

// AddPairs applies a slice of same-typed pairs in order.
func AddPairs[V any](h *Handle, pairs []option.Pair[option.Option, V]) error {
	for _, p := range pairs {
		if err := h.set(p.Key(), p.Any()); err != nil {
			return err
		}
	}

	return nil
}

// AddList applies an ordered list whose elements are option settings.
func (h *Handle) AddList(l *list.List) error {
	if l == nil {
		return nil
	}

	for e := l.Front(); e != nil; e = e.Next() {
		s, ok := e.Value.(option.Setting[option.Option])
		if !ok {
			return transfer.NewError("setopt", transfer.CodeBadFunctionArgument,
				fmt.Sprintf("list element %T is not an option setting", e.Value), nil)
		}

		if err := h.set(s.Key(), s.Any()); err != nil {
			return err
		}
	}

	return nil
}

func (h *Handle) set(opt option.Option, v any) error {
	if !opt.Known() {
		return transfer.NewError("setopt", transfer.CodeUnknownOption, fmt.Sprintf("unknown option %s", opt), nil)
	}

	if !opt.Accepts(v) {
		return transfer.NewError("setopt", transfer.CodeBadFunctionArgument,
			fmt.Sprintf("option %s does not accept a %T", opt, v), nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errClosed("setopt")
	}

	o := &h.opts

	switch opt {
	case option.URL:
		o.url = v.(string)
	case option.CustomRequest:
		o.customRequest = v.(string)
	case option.HTTPGet:
		if v.(bool) {
			o.noBody, o.post, o.upload = false, false, false
			o.postFields, o.hasPostFields = nil, false
		}
	case option.NoBody:
		o.noBody = v.(bool)
	case option.Post:
		o.post = v.(bool)
	case option.PostFields:
		switch b := v.(type) {
		case string:
			o.postFields = []byte(b)
		case []byte:
			o.postFields = append([]byte(nil), b...)
		}
		o.hasPostFields = true
	case option.Upload:
		o.upload = v.(bool)
	case option.ReadData:
		o.readData, _ = v.(io.Reader)
	case option.HTTPHeader:
		lines, _ := v.([]string)
		o.headers = append([]string(nil), lines...)
	case option.UserAgent:
		o.userAgent = v.(string)
	case option.Referer:
		o.referer = v.(string)
	case option.Cookie:
		o.cookie = v.(string)
	case option.CookieJar:
		return h.setCookieJar(v.(string))
	case option.UserPwd:
		o.userPwd = v.(string)
	case option.XOAuth2Bearer:
		o.bearer = v.(string)
	case option.FollowLocation:
		o.followLocation = v.(bool)
	case option.MaxRedirs:
		n := v.(int)
		if n < -1 {
			return transfer.NewError("setopt", transfer.CodeBadFunctionArgument, "MAXREDIRS must be -1 or more", nil)
		}
		o.maxRedirs = n
	case option.Timeout:
		o.timeout = v.(time.Duration)
	case option.ConnectTimeout:
		o.connectTimeout = v.(time.Duration)
	case option.FailOnError:
		o.failOnError = v.(bool)
	case option.WriteData:
		o.writeData, _ = v.(io.Writer)
	case option.WriteFunction:
		o.writeFunc = toWriteFunc(v)
	case option.HeaderData:
		o.headerData, _ = v.(io.Writer)
	case option.XferInfoFunction:
		o.xferInfo = toXferInfoFunc(v)
	case option.Range:
		o.rng = v.(string)
	case option.ResumeFrom:
		o.resumeFrom = toInt64(v)
	case option.MaxFileSize:
		o.maxFileSize = toInt64(v)
	case option.SSLVerifyPeer:
		o.sslVerifyPeer = v.(bool)
	case option.Proxy:
		o.proxy = v.(string)
	case option.Private:
		o.private = v
	case option.Verbose:
		o.verbose = v.(bool)
	}

	return nil
}

// setCookieJar swaps the persistent cookie store. Called with h.mu held.
func (h *Handle) setCookieJar(path string) error {
	if path == h.opts.cookieJar && (path == "" || h.jar != nil) {
		return nil
	}

	var jar *cookiejar.Jar

	if path != "" {
		var err error

		jar, err = cookiejar.Open(path)
		if err != nil {
			return transfer.NewError("setopt", transfer.CodeFailedInit, "cannot open cookie jar", err)
		}
	}

	if h.jar != nil {
		_ = h.jar.Close()
	}

	h.jar = jar
	h.opts.cookieJar = path

	return nil
}

func toWriteFunc(v any) option.WriteFunc {
	switch f := v.(type) {
	case option.WriteFunc:
		return f
	case func([]byte) int:
		return f
	}

	return nil
}

func toXferInfoFunc(v any) option.XferInfoFunc {
	switch f := v.(type) {
	case option.XferInfoFunc:
		return f
	case func(int64, int64, int64, int64) error:
		return f
	}

	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	}

	return 0
}

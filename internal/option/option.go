package option

import (
	"io"
	"strconv"
	"time"
)

// Option identifies an easy handle setting. Values follow the classic option numbering.
type Option int

const (
	Verbose          Option = 41
	NoBody           Option = 44
	FailOnError      Option = 45
	Upload           Option = 46
	Post             Option = 47
	FollowLocation   Option = 52
	SSLVerifyPeer    Option = 64
	MaxRedirs        Option = 68
	ConnectTimeout   Option = 78
	HTTPGet          Option = 80
	Timeout          Option = 13
	WriteData        Option = 10001
	URL              Option = 10002
	Proxy            Option = 10004
	UserPwd          Option = 10005
	Range            Option = 10007
	ReadData         Option = 10009
	PostFields       Option = 10015
	Referer          Option = 10016
	UserAgent        Option = 10018
	Cookie           Option = 10022
	HTTPHeader       Option = 10023
	HeaderData       Option = 10029
	CustomRequest    Option = 10036
	CookieJar        Option = 10082
	Private          Option = 10103
	XOAuth2Bearer    Option = 10220
	WriteFunction    Option = 20011
	XferInfoFunction Option = 20219
	ResumeFrom       Option = 30116
	MaxFileSize      Option = 30117
)

// WriteFunc receives body bytes and returns how many it consumed. Returning less than
// len(p) fails the transfer with a write error.
type WriteFunc func(p []byte) int

// XferInfoFunc reports transfer progress. A non-nil error aborts the transfer.
type XferInfoFunc func(dlTotal, dlNow, ulTotal, ulNow int64) error

var names = map[Option]string{
	Verbose:          "VERBOSE",
	NoBody:           "NOBODY",
	FailOnError:      "FAILONERROR",
	Upload:           "UPLOAD",
	Post:             "POST",
	FollowLocation:   "FOLLOWLOCATION",
	SSLVerifyPeer:    "SSL_VERIFYPEER",
	MaxRedirs:        "MAXREDIRS",
	ConnectTimeout:   "CONNECTTIMEOUT",
	HTTPGet:          "HTTPGET",
	Timeout:          "TIMEOUT",
	WriteData:        "WRITEDATA",
	URL:              "URL",
	Proxy:            "PROXY",
	UserPwd:          "USERPWD",
	Range:            "RANGE",
	ReadData:         "READDATA",
	PostFields:       "POSTFIELDS",
	Referer:          "REFERER",
	UserAgent:        "USERAGENT",
	Cookie:           "COOKIE",
	HTTPHeader:       "HTTPHEADER",
	HeaderData:       "HEADERDATA",
	CustomRequest:    "CUSTOMREQUEST",
	CookieJar:        "COOKIEJAR",
	Private:          "PRIVATE",
	XOAuth2Bearer:    "XOAUTH2_BEARER",
	WriteFunction:    "WRITEFUNCTION",
	XferInfoFunction: "XFERINFOFUNCTION",
	ResumeFrom:       "RESUME_FROM_LARGE",
	MaxFileSize:      "MAXFILESIZE_LARGE",
}

func (o Option) String() string {
	if n, ok := names[o]; ok {
		return n
	}

	return "OPTION(" + strconv.Itoa(int(o)) + ")"
}

// Known reports whether o is a supported option.
func (o Option) Known() bool {
	_, ok := names[o]
	return ok
}

// Accepts reports whether v has the type o expects. A nil value is accepted by options
// that can be cleared.
func (o Option) Accepts(v any) bool {
	switch o {
	case URL, CustomRequest, UserAgent, Referer, Cookie, CookieJar, UserPwd,
		XOAuth2Bearer, Range, Proxy:
		_, ok := v.(string)
		return ok
	case HTTPGet, NoBody, Post, Upload, FollowLocation, FailOnError, SSLVerifyPeer, Verbose:
		_, ok := v.(bool)
		return ok
	case PostFields:
		switch v.(type) {
		case string, []byte:
			return true
		}
	case HTTPHeader:
		_, ok := v.([]string)
		return ok || v == nil
	case MaxRedirs:
		_, ok := v.(int)
		return ok
	case ResumeFrom, MaxFileSize:
		switch v.(type) {
		case int, int64:
			return true
		}
	case Timeout, ConnectTimeout:
		_, ok := v.(time.Duration)
		return ok
	case ReadData:
		_, ok := v.(io.Reader)
		return ok || v == nil
	case WriteData, HeaderData:
		_, ok := v.(io.Writer)
		return ok || v == nil
	case WriteFunction:
		switch v.(type) {
		case WriteFunc, func([]byte) int, nil:
			return true
		}
	case XferInfoFunction:
		switch v.(type) {
		case XferInfoFunc, func(int64, int64, int64, int64) error, nil:
			return true
		}
	case Private:
		return true
	}

	return false
}

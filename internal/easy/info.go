package easy

import (
	"fmt"
	"time"

	"github.com/italolelis/transferkit/internal/transfer"
)

// Info identifies a session value readable with GetInfo.
type Info int

const (
	EffectiveURL Info = iota + 1
	ResponseCode
	ContentType
	TotalTime
	NameLookupTime
	ConnectTime
	AppConnectTime
	StartTransferTime
	SizeDownload
	SizeUpload
	SpeedDownload
	ContentLengthDownload
	RedirectCount
	RedirectURL
	PrimaryIP
	PrimaryPort
	EffectiveMethod
	Private
)

var infoNames = map[Info]string{
	EffectiveURL:          "EFFECTIVE_URL",
	ResponseCode:          "RESPONSE_CODE",
	ContentType:           "CONTENT_TYPE",
	TotalTime:             "TOTAL_TIME",
	NameLookupTime:        "NAMELOOKUP_TIME",
	ConnectTime:           "CONNECT_TIME",
	AppConnectTime:        "APPCONNECT_TIME",
	StartTransferTime:     "STARTTRANSFER_TIME",
	SizeDownload:          "SIZE_DOWNLOAD",
	SizeUpload:            "SIZE_UPLOAD",
	SpeedDownload:         "SPEED_DOWNLOAD",
	ContentLengthDownload: "CONTENT_LENGTH_DOWNLOAD",
	RedirectCount:         "REDIRECT_COUNT",
	RedirectURL:           "REDIRECT_URL",
	PrimaryIP:             "PRIMARY_IP",
	PrimaryPort:           "PRIMARY_PORT",
	EffectiveMethod:       "EFFECTIVE_METHOD",
	Private:               "PRIVATE",
}

func (i Info) String() string {
	if n, ok := infoNames[i]; ok {
		return n
	}

	return fmt.Sprintf("INFO(%d)", int(i))
}

// info is the result of the last perform.
type info struct {
	effectiveURL    string
	effectiveMethod string
	responseCode    int
	contentType     string
	contentLength   int64
	redirectCount   int
	redirectURL     string
	primaryIP       string
	primaryPort     int

	total         time.Duration
	nameLookup    time.Duration
	connect       time.Duration
	appConnect    time.Duration
	startTransfer time.Duration

	sizeDownload int64
	sizeUpload   int64
}

func newInfo() info {
	return info{contentLength: -1}
}

func (in info) speedDownload() float64 {
	if in.total <= 0 {
		return 0
	}

	return float64(in.sizeDownload) / in.total.Seconds()
}

// GetInfo returns the session value for key. The type parameter must match the
// value type of the key: string, int, int64, float64, time.Duration, or any for Private.
func GetInfo[T any](h *Handle, key Info) (T, error) {
	var zero T

	v, err := h.infoValue(key)
	if err != nil {
		return zero, err
	}

	if v == nil {
		return zero, nil
	}

	t, ok := v.(T)
	if !ok {
		return zero, transfer.NewError("getinfo", transfer.CodeBadFunctionArgument,
			fmt.Sprintf("info %s is a %T, not a %T", key, v, zero), nil)
	}

	return t, nil
}

func (h *Handle) infoValue(key Info) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errClosed("getinfo")
	}

	in := h.info

	switch key {
	case EffectiveURL:
		return in.effectiveURL, nil
	case ResponseCode:
		return in.responseCode, nil
	case ContentType:
		return in.contentType, nil
	case TotalTime:
		return in.total, nil
	case NameLookupTime:
		return in.nameLookup, nil
	case ConnectTime:
		return in.connect, nil
	case AppConnectTime:
		return in.appConnect, nil
	case StartTransferTime:
		return in.startTransfer, nil
	case SizeDownload:
		return in.sizeDownload, nil
	case SizeUpload:
		return in.sizeUpload, nil
	case SpeedDownload:
		return in.speedDownload(), nil
	case ContentLengthDownload:
		return in.contentLength, nil
	case RedirectCount:
		return in.redirectCount, nil
	case RedirectURL:
		return in.redirectURL, nil
	case PrimaryIP:
		return in.primaryIP, nil
	case PrimaryPort:
		return in.primaryPort, nil
	case EffectiveMethod:
		return in.effectiveMethod, nil
	case Private:
		return h.opts.private, nil
	}

	return nil, transfer.NewError("getinfo", transfer.CodeUnknownOption, fmt.Sprintf("unknown info %s", key), nil)
}

package option

import "strconv"

// MultiOption identifies a multi handle setting.
type MultiOption int

const (
	MaxTotalConnections MultiOption = 13
	SocketFunction      MultiOption = 20001
)

// PollEvent tells a SocketFunc what happened to a socket.
type PollEvent int

const (
	PollIn     PollEvent = 1
	PollOut    PollEvent = 2
	PollInOut  PollEvent = 3
	PollRemove PollEvent = 4
)

func (e PollEvent) String() string {
	switch e {
	case PollIn:
		return "IN"
	case PollOut:
		return "OUT"
	case PollInOut:
		return "INOUT"
	case PollRemove:
		return "REMOVE"
	}

	return "POLL(" + strconv.Itoa(int(e)) + ")"
}

// SocketFunc is told when a multi handle opens or closes a socket. data is whatever
// was associated with the socket through Assign. A non-nil error aborts the next step.
type SocketFunc func(sock int, what PollEvent, data any) error

var multiNames = map[MultiOption]string{
	MaxTotalConnections: "MAX_TOTAL_CONNECTIONS",
	SocketFunction:      "SOCKETFUNCTION",
}

func (o MultiOption) String() string {
	if n, ok := multiNames[o]; ok {
		return n
	}

	return "MULTIOPTION(" + strconv.Itoa(int(o)) + ")"
}

// Known reports whether o is a supported multi option.
func (o MultiOption) Known() bool {
	_, ok := multiNames[o]
	return ok
}

// Accepts reports whether v has the type o expects.
func (o MultiOption) Accepts(v any) bool {
	switch o {
	case MaxTotalConnections:
		n, ok := v.(int)
		return ok && n >= 0
	case SocketFunction:
		switch v.(type) {
		case SocketFunc, func(int, PollEvent, any) error, nil:
			return true
		}
	}

	return false
}

package option

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiOption_Accepts(t *testing.T) {
	tests := []struct {
		name string
		opt  MultiOption
		v    any
		want bool
	}{
		{name: "max total", opt: MaxTotalConnections, v: 4, want: true},
		{name: "max total zero", opt: MaxTotalConnections, v: 0, want: true},
		{name: "max total negative", opt: MaxTotalConnections, v: -1, want: false},
		{name: "max total int64", opt: MaxTotalConnections, v: int64(4), want: false},
		{name: "socket func literal", opt: SocketFunction, v: func(int, PollEvent, any) error { return nil }, want: true},
		{name: "socket func typed", opt: SocketFunction, v: SocketFunc(nil), want: true},
		{name: "socket func cleared", opt: SocketFunction, v: nil, want: true},
		{name: "socket func wrong", opt: SocketFunction, v: "cb", want: false},
		{name: "unknown", opt: MultiOption(1), v: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opt.Accepts(tt.v))
		})
	}
}

func TestMultiOption_String(t *testing.T) {
	assert.Equal(t, "MAX_TOTAL_CONNECTIONS", MaxTotalConnections.String())
	assert.Equal(t, "MULTIOPTION(1)", MultiOption(1).String())
	assert.True(t, SocketFunction.Known())
	assert.False(t, MultiOption(1).Known())
	assert.Equal(t, "REMOVE", PollRemove.String())
	assert.Equal(t, "POLL(9)", PollEvent(9).String())
}

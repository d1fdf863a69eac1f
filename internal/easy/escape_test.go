package easy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/transferkit/internal/transfer"
)

func TestEscape(t *testing.T) {
	h := newHandle(t)

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "abcXYZ019-._~", want: "abcXYZ019-._~"},
		{in: "a b", want: "a%20b"},
		{in: "a+b/c?d=e&f", want: "a%2Bb%2Fc%3Fd%3De%26f"},
		{in: "ü", want: "%C3%BC"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := h.Escape(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			back, err := h.Unescape(got)
			require.NoError(t, err)
			assert.Equal(t, tt.in, back)
		})
	}
}

func TestUnescape(t *testing.T) {
	h := newHandle(t)

	got, err := h.Unescape("a+b%20c")
	require.NoError(t, err)
	assert.Equal(t, "a+b c", got)

	_, err = h.Unescape("bad%zz")
	assert.ErrorIs(t, err, transfer.CodeURLMalformat)
}

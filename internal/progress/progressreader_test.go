package progress

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReportsEveryInterval(t *testing.T) {
	var reports []int64

	r := NewReader(strings.NewReader(strings.Repeat("a", 100)), -1, 10, func(read, _ int64) error {
		reports = append(reports, read)
		return nil
	})

	buf := make([]byte, 10)
	for {
		_, err := r.Read(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}

	assert.Len(t, reports, 10)
	assert.Equal(t, int64(100), r.BytesRead())
}

func TestReader_ReportsFivePercentMark(t *testing.T) {
	var reports []int64

	r := NewReader(strings.NewReader(strings.Repeat("a", 100)), 100, 1000, func(read, _ int64) error {
		reports = append(reports, read)
		return nil
	})

	one := make([]byte, 1)
	for i := 0; i < 6; i++ {
		_, err := r.Read(one)
		require.NoError(t, err)
	}

	assert.Equal(t, []int64{5}, reports)
}

func TestReader_CallbackErrorStopsRead(t *testing.T) {
	stop := errors.New("stop")
	r := NewReader(strings.NewReader("abcdef"), 6, 0, func(int64, int64) error {
		return stop
	})

	n, err := r.Read(make([]byte, 3))
	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, stop)
}

func TestReader_NilCallback(t *testing.T) {
	r := NewReader(strings.NewReader("abc"), 3, 0, nil)

	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
}

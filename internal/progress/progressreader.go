package progress

import "io"

// Func receives the cumulative byte count and the expected total (-1 when unknown).
// A non-nil error stops the read and is returned to the caller.
type Func func(read int64, total int64) error

// Reader wraps an io.Reader and reports progress via a callback.
type Reader struct {
	Reader         io.Reader
	Total          int64
	OnProgress     Func
	totalRead      int64 // cumulative total
	lastReport     int64 // bytes since last report
	reportInterval int64 // bytes
}

// NewReader wraps r. An interval of zero reports after every read.
func NewReader(r io.Reader, total int64, interval int64, cb Func) *Reader {
	return &Reader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.reportInterval || pr.crossedFivePercent(int64(n)) {
			pr.lastReport = 0

			if pr.OnProgress != nil {
				if cbErr := pr.OnProgress(pr.totalRead, pr.Total); cbErr != nil {
					return n, cbErr
				}
			}
		}
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}

func (pr *Reader) crossedFivePercent(n int64) bool {
	return pr.Total > 0 && pr.totalRead*100/pr.Total >= 5 && (pr.totalRead-n)*100/pr.Total < 5
}

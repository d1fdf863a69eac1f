package multi

import (
	"reflect"
	"time"

	"github.com/italolelis/transferkit/internal/transfer"
)

// WaitFD is an extra descriptor for Wait. Ready is closed or sent on when the
// descriptor becomes ready, and Wait copies Events into Revents when it does.
type WaitFD struct {
	Ready   <-chan struct{}
	Events  int
	Revents int
}

// Wait blocks until a transfer can be stepped, an extra descriptor is ready, Wakeup is
// called, or timeout passes. It returns the number of ready transfers plus ready extra
// descriptors.
func (m *Multi) Wait(extra []WaitFD, timeout time.Duration) (int, error) {
	if err := m.checkOpen("wait"); err != nil {
		return 0, err
	}

	if timeout < 0 {
		return 0, transfer.NewMultiError("wait", transfer.MultiBadFunctionArgument, "negative timeout", nil)
	}

	for i := range extra {
		extra[i].Revents = 0
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	const (
		caseNotify = iota
		caseWake
		caseTimer
		caseExtra
	)

	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(m.notify)},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(m.wake)},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)},
	}

	for _, fd := range extra {
		ch := reflect.ValueOf(fd.Ready)
		if fd.Ready == nil {
			// A nil channel never becomes ready.
			ch = reflect.Value{}
		}

		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: ch})
	}

	for {
		n, err := m.readyNow(extra)
		if err != nil || n > 0 {
			return n, err
		}

		chosen, _, _ := reflect.Select(cases)

		switch {
		case chosen == caseWake:
			return m.readyNow(extra)
		case chosen == caseTimer:
			return m.readyNow(extra)
		case chosen >= caseExtra:
			extra[chosen-caseExtra].Revents = extra[chosen-caseExtra].Events
			n, err := m.readyNow(extra)

			return max(n, 1), err
		}
	}
}

// Wakeup makes a blocked Wait return early.
func (m *Multi) Wakeup() error {
	if err := m.checkOpen("wakeup"); err != nil {
		return err
	}

	select {
	case m.wake <- struct{}{}:
	default:
	}

	return nil
}

func (m *Multi) readyNow(extra []WaitFD) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, errClosed("wait")
	}

	n := m.ready()
	m.mu.Unlock()

	for i := range extra {
		if extra[i].Ready == nil {
			continue
		}

		if extra[i].Revents != 0 {
			n++
			continue
		}

		select {
		case <-extra[i].Ready:
			extra[i].Revents = extra[i].Events
			n++
		default:
		}
	}

	return n, nil
}

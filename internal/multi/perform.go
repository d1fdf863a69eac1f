package multi

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/transferkit/internal/logctx"
	"github.com/italolelis/transferkit/internal/transfer"
)

// NoTimeout is returned by Timeout when nothing in the set has a deadline.
const NoTimeout time.Duration = -1

// Perform harvests finished transfers into the message queue and starts pending ones.
// It never blocks on network I/O. settled reports whether nothing is pending or
// running any more. Transfers keep the values of ctx but not its cancellation; they
// are aborted by Remove or Close.
func (m *Multi) Perform(ctx context.Context) (settled bool, err error) {
	return m.step(ctx, "perform")
}

// SocketAction runs the same step as Perform, triggered by an event on sock, or by an
// expired timeout when sock is SocketTimeout.
func (m *Multi) SocketAction(ctx context.Context, sock Socket, events int) (settled bool, err error) {
	if err := m.checkOpen("socket_action"); err != nil {
		return false, err
	}

	if events&^(CSelectIn|CSelectOut|CSelectErr) != 0 {
		return false, transfer.NewMultiError("socket_action", transfer.MultiBadFunctionArgument, fmt.Sprintf("unknown event bits %#x", events), nil)
	}

	if sock != SocketTimeout && !m.sockets.known(sock) {
		return false, transfer.NewMultiError("socket_action", transfer.MultiBadSocket, fmt.Sprintf("unknown socket %d", sock), nil)
	}

	return m.step(ctx, "socket_action")
}

func (m *Multi) step(ctx context.Context, op string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, errClosed(op)
	}

	if err := m.cbErr; err != nil {
		m.cbErr = nil
		return false, transfer.NewMultiError(op, transfer.MultiAbortedByCallback, "socket callback failed", err)
	}

	m.harvest(ctx)
	m.start(ctx)

	m.tel.RecordMultiState(m.running, len(m.msgs))

	return m.running == 0, nil
}

// harvest queues a DONE message for every transfer that exited since the last step.
// Called with m.mu held.
func (m *Multi) harvest(ctx context.Context) {
	for _, e := range m.entries {
		if e.state != stateDone {
			continue
		}

		e.state = stateCompleted
		m.running--
		m.msgs = append(m.msgs, &Message{Msg: MsgDone, Handle: e.h, Result: e.result})

		logctx.LoggerFromContext(ctx).Debug("transfer completed",
			"transfer_id", e.h.ID(),
			"code", int(transfer.CodeOf(e.result)),
		)
	}
}

// start launches pending transfers while the connection budget allows it. Called
// with m.mu held.
func (m *Multi) start(ctx context.Context) {
	active := 0
	for _, e := range m.entries {
		if e.state == stateRunning || e.state == stateDone {
			active++
		}
	}

	for _, e := range m.entries {
		if e.state != statePending {
			continue
		}

		if m.maxTotal > 0 && active >= m.maxTotal {
			return
		}

		m.launch(ctx, e)
		active++
	}
}

func (m *Multi) launch(ctx context.Context, e *entry) {
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	e.state = stateRunning
	e.cancel = cancel
	e.exited = make(chan struct{})

	if d := e.h.TransferTimeout(); d > 0 {
		e.deadline = time.Now().Add(d)
	}

	go func() {
		defer close(e.exited)
		defer cancel()

		err := e.h.PerformFor(tctx, m)

		m.mu.Lock()
		if e.state == stateRunning {
			e.state = stateDone
			e.result = err
		}
		m.mu.Unlock()

		m.signal()
	}()
}

// ready reports how many transfers a step would act on right now. Called with m.mu held.
func (m *Multi) ready() int {
	n := 0
	active := 0

	for _, e := range m.entries {
		switch e.state {
		case stateDone:
			n++
			active++
		case stateRunning:
			active++
		}
	}

	for _, e := range m.entries {
		if e.state == statePending && (m.maxTotal == 0 || active < m.maxTotal) {
			n++
			active++
		}
	}

	return n
}

// Timeout returns how long the caller may wait before the next step. It is zero when
// a step has work to do now and NoTimeout when nothing is tracked or no running
// transfer has a deadline.
func (m *Multi) Timeout() (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errClosed("timeout")
	}

	if m.running == 0 {
		return NoTimeout, nil
	}

	if m.ready() > 0 {
		return 0, nil
	}

	var earliest time.Time
	for _, e := range m.entries {
		if e.state != stateRunning || e.deadline.IsZero() {
			continue
		}

		if earliest.IsZero() || e.deadline.Before(earliest) {
			earliest = e.deadline
		}
	}

	if earliest.IsZero() {
		return NoTimeout, nil
	}

	return max(time.Until(earliest), 0), nil
}

// FDSet fills read with every open socket of the set and returns the highest socket,
// or -1 when none is open. write and exc are cleared. Any of the sets may be nil.
func (m *Multi) FDSet(read, write, exc FDSet) (Socket, error) {
	if err := m.checkOpen("fdset"); err != nil {
		return -1, err
	}

	for _, s := range []FDSet{read, write, exc} {
		if s != nil {
			s.Clear()
		}
	}

	highest := Socket(-1)
	for _, sock := range m.sockets.snapshot() {
		if read != nil {
			read.Set(sock)
		}

		highest = max(highest, sock)
	}

	return highest, nil
}

// Assign associates data with an open socket. The data is handed to the socket
// function when the socket is removed.
func (m *Multi) Assign(sock Socket, data any) error {
	if err := m.checkOpen("assign"); err != nil {
		return err
	}

	if !m.sockets.assign(sock, data) {
		return transfer.NewMultiError("assign", transfer.MultiBadSocket, fmt.Sprintf("unknown socket %d", sock), nil)
	}

	return nil
}

func (m *Multi) checkOpen(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed(op)
	}

	return nil
}

package multi

import (
	"github.com/italolelis/transferkit/internal/easy"
	"github.com/italolelis/transferkit/internal/transfer"
)

// MsgType identifies a completion message.
type MsgType int

const (
	MsgNone MsgType = iota
	MsgDone
)

// Message reports that a transfer in the set finished.
type Message struct {
	Msg    MsgType
	Handle *easy.Handle
	Result error
}

// Code returns the result code of the finished transfer.
func (msg *Message) Code() transfer.Code {
	return transfer.CodeOf(msg.Result)
}

// InfoRead pops the oldest completion message and returns it with the number of
// messages still queued. It returns nil when the queue is empty.
func (m *Multi) InfoRead() (*Message, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.msgs) == 0 {
		return nil, 0
	}

	msg := m.msgs[0]
	m.msgs[0] = nil
	m.msgs = m.msgs[1:]

	return msg, len(m.msgs)
}

// InfoReadFor pops the completion message of h, if one is queued.
func (m *Multi) InfoReadFor(h *easy.Handle) (*Message, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, msg := range m.msgs {
		if msg.Handle != h {
			continue
		}

		m.msgs = append(m.msgs[:i], m.msgs[i+1:]...)

		return msg, len(m.msgs)
	}

	return nil, len(m.msgs)
}

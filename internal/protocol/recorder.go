package protocol

import (
	"sync"
)

// Recorder is a Sender that keeps every message in memory.
// It is intended for tests.
type Recorder struct {
	mu       sync.Mutex
	messages [][]byte
	err      error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// SetError makes subsequent sends fail with err.
func (r *Recorder) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Send records a copy of data.
func (r *Recorder) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, append([]byte(nil), data...))
	return nil
}

// Messages returns a snapshot of the recorded messages.
func (r *Recorder) Messages() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.messages))
	copy(out, r.messages)
	return out
}

// Types returns the tags of the recorded messages in order.
func (r *Recorder) Types() []MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]MessageType, 0, len(r.messages))
	for _, m := range r.messages {
		if len(m) > 0 {
			types = append(types, MessageType(m[0]))
		}
	}
	return types
}

// OfType returns the payloads of all recorded messages with tag t.
func (r *Recorder) OfType(t MessageType) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, m := range r.messages {
		if len(m) > 0 && MessageType(m[0]) == t {
			out = append(out, m[1:])
		}
	}
	return out
}

// Reset discards recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

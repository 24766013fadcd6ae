package midi

import (
	"sync"
	"time"
)

// SafeOutput wraps an output port so that callers never have to care
// whether the physical endpoint is still there. Sends through an
// invalid handle are silent no-ops; the handle is invalidated by the
// device poll when the endpoint disappears.
type SafeOutput struct {
	manager *DeviceManager
	info    EndpointInfo

	mu   sync.Mutex
	port OutputPort
}

// Info returns the endpoint this handle was opened for
func (s *SafeOutput) Info() EndpointInfo {
	return s.info
}

// Name returns the display name, or a marker when invalid
func (s *SafeOutput) Name() string {
	if !s.IsValid() {
		return "invalid_midi_out"
	}
	return s.info.Name
}

// IsValid reports whether the underlying port is still usable
func (s *SafeOutput) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

func (s *SafeOutput) invalidate() {
	s.mu.Lock()
	s.port = nil
	s.mu.Unlock()
}

// Send transmits one message immediately. Empty SysEx frames are
// suppressed, they confuse vintage hardware.
func (s *SafeOutput) Send(msg Message) {
	if msg.IsEmptySysEx() {
		return
	}
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return
	}
	s.manager.logMessage(msg, s.info.Name, true)
	if err := port.Send(msg); err != nil {
		// Device vanished mid-send, the poll will invalidate us shortly
		s.invalidate()
	}
}

// SendBlock transmits a batch of messages at full speed
func (s *SafeOutput) SendBlock(msgs []Message) {
	for _, msg := range msgs {
		s.Send(msg)
	}
}

// SendBlockThrottled sleeps between messages, for slow devices that
// drop data when flooded.
func (s *SafeOutput) SendBlockThrottled(msgs []Message, wait time.Duration) {
	for _, msg := range msgs {
		if msg.IsEmptySysEx() {
			continue
		}
		time.Sleep(wait)
		s.Send(msg)
	}
}

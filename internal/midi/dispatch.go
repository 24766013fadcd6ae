package midi

import (
	"sync"
	"time"
)

// Handler receives complete messages together with their source endpoint
type Handler func(source EndpointInfo, msg Message)

// PartialHandler receives growing SysEx chunks before a frame completes
type PartialHandler func(source EndpointInfo, data []byte, bytesSoFar int)

// Dispatcher fans incoming messages out to keyed subscribers. Dispatch
// iterates over a snapshot of the subscriber set, so handlers may
// subscribe and unsubscribe reentrantly without invalidating the pass.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string]*subscription
	partials map[string]PartialHandler
}

type subscription struct {
	fn      Handler
	timeout time.Duration
	timer   *time.Timer
	done    chan struct{}
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]*subscription),
		partials: make(map[string]PartialHandler),
	}
}

// Subscribe registers a handler under a key, replacing any previous
// registration for that key.
func (d *Dispatcher) Subscribe(key string, fn Handler) {
	d.SubscribeWithTimeout(key, fn, 0)
}

// SubscribeWithTimeout registers a handler with an idle timeout. If no
// message has been delivered to the handler for the given duration, a
// synthetic timeout message (see IsTimeoutMessage) is delivered exactly
// once per idle interval.
func (d *Dispatcher) SubscribeWithTimeout(key string, fn Handler, timeout time.Duration) {
	d.mu.Lock()
	if old, ok := d.handlers[key]; ok {
		old.stopLocked()
	}
	sub := &subscription{fn: fn, timeout: timeout}
	if timeout > 0 {
		sub.done = make(chan struct{})
		sub.timer = time.NewTimer(timeout)
		go sub.watchIdle()
	}
	d.handlers[key] = sub
	d.mu.Unlock()
}

// Unsubscribe removes a handler. Removing an unknown key is a no-op.
func (d *Dispatcher) Unsubscribe(key string) {
	d.mu.Lock()
	if sub, ok := d.handlers[key]; ok {
		sub.stopLocked()
		delete(d.handlers, key)
	}
	d.mu.Unlock()
}

// SubscribePartial registers a partial-SysEx handler under a key
func (d *Dispatcher) SubscribePartial(key string, fn PartialHandler) {
	d.mu.Lock()
	d.partials[key] = fn
	d.mu.Unlock()
}

// UnsubscribePartial removes a partial-SysEx handler
func (d *Dispatcher) UnsubscribePartial(key string) {
	d.mu.Lock()
	delete(d.partials, key)
	d.mu.Unlock()
}

// HandlerCount returns the number of registered message handlers
func (d *Dispatcher) HandlerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// Dispatch delivers one incoming message to every subscriber. The lock
// is held only to take the snapshot; no user code runs under it.
func (d *Dispatcher) Dispatch(source EndpointInfo, msg Message) {
	d.mu.Lock()
	snapshot := make([]*subscription, 0, len(d.handlers))
	for _, sub := range d.handlers {
		snapshot = append(snapshot, sub)
	}
	d.mu.Unlock()

	for _, sub := range snapshot {
		sub.resetIdle()
		sub.fn(source, msg)
	}
}

// DispatchPartial delivers a partial SysEx chunk to every partial
// subscriber and resets the idle clock of every timed handler, since a
// chunk proves the device is still talking.
func (d *Dispatcher) DispatchPartial(source EndpointInfo, data []byte, bytesSoFar int) {
	d.mu.Lock()
	snapshot := make([]PartialHandler, 0, len(d.partials))
	for _, fn := range d.partials {
		snapshot = append(snapshot, fn)
	}
	timed := make([]*subscription, 0, len(d.handlers))
	for _, sub := range d.handlers {
		if sub.timeout > 0 {
			timed = append(timed, sub)
		}
	}
	d.mu.Unlock()

	for _, sub := range timed {
		sub.resetIdle()
	}
	for _, fn := range snapshot {
		fn(source, data, bytesSoFar)
	}
}

func (s *subscription) watchIdle() {
	for {
		select {
		case <-s.timer.C:
			s.fn(EndpointInfo{}, TimeoutMessage())
			// Re-arm so the next idle interval can fire again
			s.timer.Reset(s.timeout)
		case <-s.done:
			return
		}
	}
}

func (s *subscription) resetIdle() {
	if s.timer == nil {
		return
	}
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
	s.timer.Reset(s.timeout)
}

// stopLocked must be called with the dispatcher lock held. The timer
// field stays set because watchIdle and resetIdle read it without the
// lock; the closed done channel is what ends watchIdle.
func (s *subscription) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
}

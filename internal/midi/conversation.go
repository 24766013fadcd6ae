package midi

import (
	"context"
	"time"

	"github.com/franz/sysex-librarian/internal/util"
	"github.com/google/uuid"
)

// IncomingMessage pairs a message with the input it arrived on
type IncomingMessage struct {
	Source  EndpointInfo
	Message Message
}

const conversationQueueSize = 256

// Conversation is the cooperative protocol primitive: send a request,
// await the next incoming message, continue. The dispatcher callback
// only enqueues; all user logic runs on the goroutine that drives the
// conversation, so the I/O thread is never blocked.
type Conversation struct {
	dispatcher *Dispatcher
	key        string
	queue      chan IncomingMessage
	closed     chan struct{}
}

// StartConversation subscribes a queueing handler and returns the
// conversation. Close must be called when the protocol is done, usually
// via defer.
func (d *Dispatcher) StartConversation(timeout time.Duration) *Conversation {
	c := &Conversation{
		dispatcher: d,
		key:        "conversation-" + uuid.NewString(),
		queue:      make(chan IncomingMessage, conversationQueueSize),
		closed:     make(chan struct{}),
	}
	d.SubscribeWithTimeout(c.key, func(source EndpointInfo, msg Message) {
		select {
		case c.queue <- IncomingMessage{Source: source, Message: msg}:
		case <-c.closed:
		default:
			// Never block the I/O thread; a full queue means the
			// conversation logic stopped consuming
			util.WarnLog("Dropping MIDI message, protocol conversation queue is full")
		}
	}, timeout)
	return c
}

// Await suspends until the next incoming message arrives or the context
// is cancelled. The resumed value may be the idle-timeout sentinel when
// the subscription carries a timeout.
func (c *Conversation) Await(ctx context.Context) (IncomingMessage, error) {
	select {
	case msg := <-c.queue:
		return msg, nil
	case <-ctx.Done():
		return IncomingMessage{}, util.ErrCancelled
	case <-c.closed:
		return IncomingMessage{}, util.ErrCancelled
	}
}

// AwaitFor is Await with a deadline. The second return is false when
// the deadline expired before a message arrived.
func (c *Conversation) AwaitFor(ctx context.Context, d time.Duration) (IncomingMessage, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case msg := <-c.queue:
		return msg, true
	case <-timer.C:
		return IncomingMessage{}, false
	case <-ctx.Done():
		return IncomingMessage{}, false
	case <-c.closed:
		return IncomingMessage{}, false
	}
}

// Close removes the subscription. Safe to call more than once.
func (c *Conversation) Close() {
	select {
	case <-c.closed:
		return
	default:
	}
	close(c.closed)
	c.dispatcher.Unsubscribe(c.key)
}

package presence

import (
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
)

// Emitter is the outbound side the composer talks to. The realtime
// channel satisfies it; while disconnected every call returns an error the
// composer swallows, so a timer firing after a disconnect is a no-op.
type Emitter interface {
	StartTyping(conversationId string) error
	StopTyping(conversationId string) error
}

// Composer debounces the session user's typing indicator: start-typing on
// the first keystroke after an idle period, automatic stop-typing after
// the configured inactivity window, immediate stop on clear or send.
type Composer struct {
	conversationId string
	stopAfter      time.Duration
	emitter        Emitter

	mu      sync.Mutex
	active  bool
	pending *time.Timer
	closed  bool
}

// NewComposer creates a composer for one conversation
func NewComposer(conversationId string, stopAfter time.Duration, emitter Emitter) *Composer {
	return &Composer{
		conversationId: conversationId,
		stopAfter:      stopAfter,
		emitter:        emitter,
	}
}

// Activity records a keystroke: emits start-typing when entering the
// active state and (re)schedules the automatic stop
func (c *Composer) Activity() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if !c.active {
		c.active = true
		if err := c.emitter.StartTyping(c.conversationId); err != nil {
			log.Debug("start typing: %v", err)
		}
	}

	if c.pending != nil {
		c.pending.Stop()
	}
	c.pending = time.AfterFunc(c.stopAfter, c.timeout)
}

// Stop ends the typing state immediately and cancels the pending timer.
// Called when the input is cleared or a message is sent.
func (c *Composer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Close cancels any pending timer and ends the typing state. Safe to call
// more than once; after Close the composer ignores further activity.
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.stopLocked()
	c.closed = true
}

func (c *Composer) stopLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	if c.active {
		c.active = false
		if err := c.emitter.StopTyping(c.conversationId); err != nil {
			log.Debug("stop typing: %v", err)
		}
	}
}

func (c *Composer) timeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.active {
		return
	}
	c.pending = nil
	c.active = false
	if err := c.emitter.StopTyping(c.conversationId); err != nil {
		log.Debug("stop typing after idle: %v", err)
	}
}

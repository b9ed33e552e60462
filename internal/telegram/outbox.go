package telegram

import (
	"context"
	"log"
)

const defaultQueueSize = 64

// outbound is one queued message. Buttons are optional.
type outbound struct {
	label   string
	text    string
	buttons []Button
}

// WithQueueSize bounds the outbound queue. Messages beyond it are dropped.
func WithQueueSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// enqueue hands a message to the sender goroutine without blocking the
// caller. A full or closed queue drops the message.
func (c *Client) enqueue(m outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		log.Printf("WARN: Telegram queue closed, dropping %s", m.label)
		c.dropped.Add(1)
		return
	}
	select {
	case c.queue <- m:
	default:
		c.dropped.Add(1)
		log.Printf("WARN: Telegram queue full (%d), dropping %s", cap(c.queue), m.label)
	}
}

func (c *Client) drain() {
	defer close(c.done)
	for m := range c.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		var err error
		if len(m.buttons) > 0 {
			err = c.SendInteractive(ctx, m.text, m.buttons)
		} else {
			err = c.Notify(ctx, m.text)
		}
		cancel()
		if err != nil {
			log.Printf("WARN: Telegram send failed for %s: %v", m.label, err)
		}
	}
}

// Dropped reports how many messages were discarded since New.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Close stops accepting messages and waits for the queue to flush or ctx to
// end. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

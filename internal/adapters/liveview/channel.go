package liveview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned once the socket is gone.
	ErrClosed = errors.New("live channel closed")
	// ErrCommandFailed is returned when the browser rejects a command.
	ErrCommandFailed = errors.New("command failed")
)

// Transport writes one JSON message to the browser.
type Transport interface {
	WriteJSON(v any) error
}

// Channel multiplexes commands, replies and state over one Transport. Writes
// are serialized; replies are matched to requests by id.
type Channel struct {
	wmu sync.Mutex
	out Transport

	mu      sync.Mutex
	pending map[string]chan Inbound
	closed  bool
	newID   func() string
}

// NewChannel wraps out.
func NewChannel(out Transport) *Channel {
	return &Channel{
		out:     out,
		pending: make(map[string]chan Inbound),
		newID:   func() string { return uuid.NewString() },
	}
}

// Send writes msg as is.
func (c *Channel) Send(msg Outbound) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.out.WriteJSON(msg)
}

// Notify sends a command that needs no answer.
func (c *Channel) Notify(cmd string, args any) error {
	return c.Send(Outbound{Type: TypeCommand, ID: c.newID(), Cmd: cmd, Args: args})
}

// Request sends a command and waits for the browser's reply or ctx.
func (c *Channel) Request(ctx context.Context, cmd string, args any) (json.RawMessage, error) {
	id := c.newID()
	ch := make(chan Inbound, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.Send(Outbound{Type: TypeCommand, ID: id, Cmd: cmd, Args: args}); err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", cmd, ctx.Err())
	case r, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", cmd, ErrClosed)
		}
		if !r.OK {
			return nil, fmt.Errorf("%s: %s: %w", cmd, r.Error, ErrCommandFailed)
		}
		return r.Data, nil
	}
}

// Deliver routes a reply to its waiting request. It reports false for
// replies nobody waits for.
func (c *Channel) Deliver(r Inbound) bool {
	c.mu.Lock()
	ch, ok := c.pending[r.ID]
	if ok {
		delete(c.pending, r.ID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

// Close fails every waiting request; later sends return ErrClosed.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

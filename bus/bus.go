// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bus routes messages between in-process plugins. Every plugin
// consumes its own inbox on a dedicated goroutine, so a plugin handles its
// messages one at a time and in delivery order.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/inconshreveable/log15"
)

// Actions every plugin understands.
const (
	InitAction = "init"
	StopAction = "stop"
)

var (
	ErrUnknownPlugin    = errors.New("unknown plugin")
	ErrDuplicatePlugin  = errors.New("plugin already registered")
	ErrClosed           = errors.New("bus closed")
	errInvalidInboxSize = errors.New("inbox size must be positive")
)

const DefaultInboxSize = 100

// Message is a request addressed to one plugin.
type Message struct {
	ID      string          `json:"id"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply answers the message with the same ID.
type Reply struct {
	ID      string          `json:"id"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Handler processes the messages of one plugin.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) (json.RawMessage, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, msg *Message) (json.RawMessage, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) (json.RawMessage, error) {
	return f(ctx, msg)
}

type envelope struct {
	ctx   context.Context
	msg   *Message
	reply chan *Reply
}

type plugin struct {
	name    string
	handler Handler
	inbox   chan *envelope
}

func (p *plugin) run(wg *sync.WaitGroup) {
	defer wg.Done()

	for env := range p.inbox {
		reply := &Reply{
			ID:   env.msg.ID,
			From: p.name,
			To:   env.msg.From,
		}
		if err := env.ctx.Err(); err != nil {
			reply.Error = err.Error()
			env.reply <- reply
			continue
		}
		payload, err := p.handler.HandleMessage(env.ctx, env.msg)
		reply.Payload = payload
		if err != nil {
			log.Debug("plugin failed to handle message",
				"plugin", p.name,
				"action", env.msg.Action,
				"id", env.msg.ID,
				"error", err,
			)
			reply.Error = err.Error()
		}
		env.reply <- reply
	}
}

// Bus delivers messages to registered plugins.
type Bus struct {
	inboxSize int

	lock    sync.RWMutex
	plugins map[string]*plugin
	closed  bool

	wg sync.WaitGroup
}

// New returns an empty bus whose plugin inboxes hold [inboxSize] messages.
func New(inboxSize int) (*Bus, error) {
	if inboxSize <= 0 {
		return nil, errInvalidInboxSize
	}
	return &Bus{
		inboxSize: inboxSize,
		plugins:   make(map[string]*plugin),
	}, nil
}

// Register starts delivering messages addressed to [name] to [handler].
func (b *Bus) Register(name string, handler Handler) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, ok := b.plugins[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, name)
	}
	p := &plugin{
		name:    name,
		handler: handler,
		inbox:   make(chan *envelope, b.inboxSize),
	}
	b.plugins[name] = p
	b.wg.Add(1)
	go p.run(&b.wg)
	log.Info("registered plugin", "plugin", name)
	return nil
}

// Send delivers [msg] and waits for its reply. An ID is assigned if the
// message has none. A non-nil reply is returned whenever the plugin
// answered, including when it reported an error.
func (b *Bus) Send(ctx context.Context, msg *Message) (*Reply, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	env := &envelope{
		ctx:   ctx,
		msg:   msg,
		reply: make(chan *Reply, 1),
	}
	if err := b.enqueue(ctx, env); err != nil {
		return nil, err
	}

	select {
	case reply := <-env.reply:
		if reply.Error != "" {
			return reply, fmt.Errorf("plugin %s failed %s: %s", msg.To, msg.Action, reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bus) enqueue(ctx context.Context, env *envelope) error {
	b.lock.RLock()
	defer b.lock.RUnlock()

	if b.closed {
		return ErrClosed
	}
	p, ok := b.plugins[env.msg.To]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, env.msg.To)
	}
	select {
	case p.inbox <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages and waits until every plugin drained its
// inbox.
func (b *Bus) Close() {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return
	}
	b.closed = true
	for _, p := range b.plugins {
		close(p.inbox)
	}
	b.lock.Unlock()

	b.wg.Wait()
}

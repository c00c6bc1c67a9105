// Package router implements the stateless command router: the only
// component that talks to both the MemTable and the manager.
package router

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/guycipher/lsmstore/internal/command"
)

// ErrChannelClosed means a counterpart component's inbox was closed
// while a request was in flight.
var ErrChannelClosed = errors.New("router: counterpart channel closed")

// Router holds message endpoints only; it never touches the MemTable's
// map or the manager's files directly.
type Router struct {
	toMemTable chan command.Envelope
	toManager  chan command.Envelope
}

// New builds a Router over the two component inboxes.
func New(toMemTable, toManager chan command.Envelope) *Router {
	return &Router{toMemTable: toMemTable, toManager: toManager}
}

// Dispatch sends cmd to the MemTable, and on a Get miss falls back to the
// manager, per the component contract:
//  1. Send Command to MemTable, await reply.
//  2. If MemTable replies with a value or a tombstone, return it.
//  3. If MemTable replies not-found and the command is Get, forward to
//     manager, await reply, return it.
//  4. Otherwise return not-found.
func (r *Router) Dispatch(ctx context.Context, cmd command.Command) (command.Reply, error) {
	reply, err := r.call(ctx, r.toMemTable, cmd)
	if err != nil {
		return command.Reply{}, err
	}
	if reply.Err != nil {
		return reply, nil
	}
	if reply.Found {
		return reply, nil
	}
	if cmd.Kind != command.Get {
		return command.Reply{}, nil
	}
	return r.call(ctx, r.toManager, cmd)
}

func (r *Router) call(ctx context.Context, inbox chan command.Envelope, cmd command.Command) (command.Reply, error) {
	env := command.NewEnvelope(cmd)
	select {
	case inbox <- env:
	case <-ctx.Done():
		return command.Reply{}, ctx.Err()
	}

	select {
	case reply := <-env.Reply:
		return reply, nil
	case <-ctx.Done():
		return command.Reply{}, ctx.Err()
	}
}

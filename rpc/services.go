package rpc

import (
	"context"
	"fmt"
)

// HandshakeService answers handshake streams. Each stream gets its own Responder.
type HandshakeService interface {
	NewResponder(ctx context.Context) (Responder, error)
}

// Responder turns one handshake message into its reply.
type Responder interface {
	Respond(ctx context.Context, msg string) (string, error)
	Close() error
}

// FrontEndSpawner starts one more front end for the current session.
type FrontEndSpawner interface {
	SpawnFrontEnd(ctx context.Context) error
}

// Echo replies with its tag prepended to each message.
type Echo struct {
	Tag string
}

func (e *Echo) NewResponder(ctx context.Context) (Responder, error) { return e, nil }

func (e *Echo) Respond(ctx context.Context, msg string) (string, error) { return e.Tag + msg, nil }

func (e *Echo) Close() error { return nil }

// Relay forwards every message of a stream through an upstream handshake stream and tags
// the upstream's reply.
type Relay struct {
	Tag string
	// Open starts the upstream stream for one incoming stream.
	Open func(ctx context.Context) (*HandshakeStream, error)
}

func (r *Relay) NewResponder(ctx context.Context) (Responder, error) {
	upstream, err := r.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening upstream handshake: %w", err)
	}
	return &relayResponder{tag: r.Tag, upstream: upstream}, nil
}

type relayResponder struct {
	tag      string
	upstream *HandshakeStream
}

func (r *relayResponder) Respond(ctx context.Context, msg string) (string, error) {
	reply, err := r.upstream.Exchange(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("relaying to upstream: %w", err)
	}
	return r.tag + reply, nil
}

func (r *relayResponder) Close() error { return r.upstream.Close() }

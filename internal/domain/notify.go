package domain

import (
	"context"
	"fmt"
	"net/http"
)

// MessageKind mirrors the WebSocket frame type a message travels in.
type MessageKind int

const (
	MessageText MessageKind = iota
	MessageBinary
)

// Message is an opaque broadcast payload. It is never persisted.
type Message struct {
	Kind    MessageKind
	Payload []byte
}

func TextMessage(s string) Message { return Message{Kind: MessageText, Payload: []byte(s)} }

// InboundPolicy decides what an actor does with frames its sessions send.
type InboundPolicy string

const (
	// InboundBroadcast rebroadcasts every inbound frame to all sessions of the topic.
	InboundBroadcast InboundPolicy = "broadcast"
	// InboundIgnore drops inbound frames.
	InboundIgnore InboundPolicy = "ignore"
)

func ParseInboundPolicy(s string) (InboundPolicy, error) {
	switch p := InboundPolicy(s); p {
	case InboundBroadcast, InboundIgnore:
		return p, nil
	default:
		return "", fmt.Errorf("unknown inbound policy %q", s)
	}
}

// Handle addresses one logical topic actor, hosted locally or by a peer instance.
// ServeHTTP handles the actor's protocol paths (".../websocket", ".../notify").
type Handle interface {
	http.Handler
	ID() ActorID
	Notify(ctx context.Context, msg Message) error
}

// Claim is the outcome of asking the placement substrate for an actor.
type Claim struct {
	Local bool
	// Owner is the advertised base URL of the hosting instance when Local is false.
	Owner string
}

// Placement decides which process hosts an actor identity.
type Placement interface {
	Claim(ctx context.Context, id ActorID) (Claim, error)
	Release(ctx context.Context, id ActorID) error
}

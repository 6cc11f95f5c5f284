// Package gateway is the server side of the conversation protocol: one
// Session per client socket, bridged to an Agent backend.
package gateway

import (
	"context"
)

// Callbacks receive agent output. They run on the agent's own goroutine.
type Callbacks struct {
	OnText         func(text string)
	OnAudio        func(base64Data string) // 16-bit PCM at 24kHz
	OnTurnComplete func()
	OnInterrupted  func()
	OnError        func(err error)
}

// Agent is a conversational backend for one client session
type Agent interface {
	Start(ctx context.Context, cb Callbacks)
	SendText(text string) error
	// SendAudio forwards 16-bit PCM at 16kHz
	SendAudio(pcm []byte) error
	Close() error
}

// AgentRequest describes the session an agent is created for
type AgentRequest struct {
	SessionID string
	UserID    string
	Audio     bool
}

// AgentFactory creates the agent for a new session
type AgentFactory func(ctx context.Context, req AgentRequest) (Agent, error)

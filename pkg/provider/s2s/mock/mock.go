// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled live sessions.
// Use Session to push server events and inspect which audio the caller sent.
//
// Example:
//
//	p := &mock.Provider{}
//	sess, _ := p.Connect(ctx, cfg)
//	p.Last().Open()
//	p.Last().Push(s2s.Message{InputTranscript: "olá"})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/didata-ai/didata/pkg/provider/s2s"
)

// ErrClosed is returned by Session.SendAudio after Close.
var ErrClosed = errors.New("mock: session closed")

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Gate, if non-nil, blocks Connect until it is closed or receives a value,
	// or until the Connect context is done.
	Gate chan struct{}

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions []*Session
	started  chan struct{}
}

// Connect records the call, optionally waits on Gate, and returns a fresh
// Session or ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.Gate
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Started returns a channel that receives a value each time Connect is
// entered. Call it before the code under test connects.
func (p *Provider) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan struct{}, 16)
	}
	return p.started
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Sessions returns every session handed out by Connect, in order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Last returns the most recent session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.Session. Open and Push queue
// events; Fail and Hangup also end the stream the way a real transport does.
type Session struct {
	mu sync.Mutex

	events chan s2s.Event
	ended  bool

	// SendErr, if non-nil, is returned by SendAudio.
	SendErr error

	sent       [][]byte
	closeCount int
	sentCh     chan []byte
}

// NewSession returns a Session with a buffered event stream.
func NewSession() *Session {
	return &Session{
		events: make(chan s2s.Event, 64),
		sentCh: make(chan []byte, 256),
	}
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCount > 0 {
		return ErrClosed
	}
	cp := append([]byte(nil), chunk...)
	s.sent = append(s.sent, cp)
	select {
	case s.sentCh <- cp:
	default:
	}
	return s.SendErr
}

// Events implements s2s.Session.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Close implements s2s.Session. The events channel is closed on first call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	s.endLocked()
	return nil
}

// Open emits EventOpen.
func (s *Session) Open() { s.push(s2s.Event{Kind: s2s.EventOpen}) }

// Push emits a message event.
func (s *Session) Push(m s2s.Message) { s.push(s2s.Event{Kind: s2s.EventMessage, Message: m}) }

// Fail emits EventError and ends the stream.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- s2s.Event{Kind: s2s.EventError, Err: err}
	s.endLocked()
}

// Hangup emits EventClose and ends the stream.
func (s *Session) Hangup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- s2s.Event{Kind: s2s.EventClose}
	s.endLocked()
}

func (s *Session) push(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

func (s *Session) endLocked() {
	if !s.ended {
		s.ended = true
		close(s.events)
	}
}

// Sent returns copies of every chunk passed to SendAudio.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentCh delivers each chunk as it is sent. Chunks beyond its buffer are only
// visible through Sent.
func (s *Session) SentCh() <-chan []byte { return s.sentCh }

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Ensure Session implements s2s.Session at compile time.
var _ s2s.Session = (*Session)(nil)

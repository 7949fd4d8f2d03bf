// Package s2s defines the Provider interface for live speech-to-speech model
// backends.
//
// A live provider holds one persistent, bidirectional session with a remote
// model that accepts raw microphone audio and streams back synthesised speech
// together with transcripts of both sides of the conversation. Everything the
// remote end reports (the handshake acknowledgement, content, errors and the
// close) arrives as an [Event] on a single channel, so a consumer can fold the
// whole session into one serialized dispatch loop.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"fmt"
	"time"
)

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventOpen reports that the remote end acknowledged the session setup and
	// is ready for audio.
	EventOpen EventKind = iota + 1

	// EventMessage carries a [Message]. Any combination of its fields may be set.
	EventMessage

	// EventError reports a session-level failure. The session is unusable
	// afterwards and the channel closes shortly after.
	EventError

	// EventClose reports that the remote end ended the session cleanly.
	EventClose
)

// String returns the lowercase name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Message is one inbound server message. Every field is independently optional;
// consumers must process whichever are present.
type Message struct {
	// InputTranscript is a delta of the model's transcription of user speech.
	InputTranscript string

	// OutputTranscript is a delta of the text version of the model's speech.
	OutputTranscript string

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// Interrupted reports that the model stopped generating because the user
	// started speaking.
	Interrupted bool

	// Audio holds inline base64 PCM16 chunks at the provider's output rate, in
	// arrival order.
	Audio []string
}

// Event is a single item on a session's event stream.
type Event struct {
	Kind EventKind

	// Message is set for EventMessage.
	Message Message

	// Err is set for EventError.
	Err error
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice is the prebuilt voice name used for synthesised speech.
	Voice string

	// Instructions is the system instruction: persona plus lesson context.
	Instructions string

	// InputTranscription enables transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription enables transcripts of the model's speech.
	OutputTranscription bool
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// Voices lists the prebuilt voice names the provider accepts.
	Voices []string

	// InputSampleRate is the PCM rate SendAudio expects.
	InputSampleRate int

	// OutputSampleRate is the PCM rate of inbound audio chunks.
	OutputSampleRate int

	// MaxSessionDuration is the provider-imposed session limit, zero if none.
	MaxSessionDuration time.Duration
}

// Session represents an open live session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// SendAudio delivers one raw PCM16 little-endian mono chunk at the
	// provider's input rate. Returns an error if the session is closed or the
	// write fails; the chunk is not retried.
	SendAudio(chunk []byte) error

	// Events returns the session's event stream. The channel is closed after
	// the final EventError or EventClose, or once Close has been called.
	// Consumers must drain it promptly.
	Events() <-chan Event

	// Close terminates the session. No new events are queued after Close
	// returns and the Events channel is closed once the reader exits. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live speech-to-speech backend.
type Provider interface {
	// Connect dials the remote endpoint and sends the session setup. The
	// returned Session emits EventOpen once the remote end acknowledges.
	//
	// Returns an error if the connection cannot be established. The caller
	// owns the Session and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about this provider.
	Capabilities() Capabilities
}

package live

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/didata-ai/didata/internal/archive"
	"github.com/didata-ai/didata/pkg/audio"
	"github.com/didata-ai/didata/pkg/provider/s2s"
)

// noiseMarker is the token the live model inserts for non-speech input.
const noiseMarker = "<noise>"

// InterruptedMarker replaces the live transcript when the user barges in.
const InterruptedMarker = "(Interrompido)"

// Player is the playback side the reconciler drives.
// *audioio.Controller satisfies it.
type Player interface {
	PlayAudioChunk(b64 string) error
	StopAudioPlayback()
}

// slots tracks the message currently receiving deltas for each speaker.
// An empty id means the next delta opens a new message.
type slots struct {
	userActiveID string
	aiActiveID   string
}

// Outcome summarises what one inbound message changed.
type Outcome struct {
	// Transcript is the last non-empty text delta, or [InterruptedMarker].
	Transcript string

	// Interrupted is set when playback was cut.
	Interrupted bool

	// AudioErr is a non-decode playback failure. Decode failures are logged
	// and skipped.
	AudioErr error
}

// Reconciler folds streamed transcript deltas into stable log messages.
//
// It is not safe for concurrent use; the live controller calls it only from
// its dispatch goroutine. Log mutations go through [archive.Log], which
// serializes them against hydration and resets.
type Reconciler struct {
	log    *archive.Log
	player Player
	logger *slog.Logger
	now    func() time.Time
	slots  slots
}

// NewReconciler returns a Reconciler writing to log and playing through
// player.
func NewReconciler(log *archive.Log, player Player, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{log: log, player: player, logger: logger, now: time.Now}
}

// Apply processes every field present on m in a fixed order: user delta,
// model delta, turn complete, interruption, audio.
func (r *Reconciler) Apply(m s2s.Message) Outcome {
	var out Outcome

	if d := stripNoise(m.InputTranscript); d != "" {
		r.slots.userActiveID = r.mintOrAppend(r.slots.userActiveID, archive.SenderUser, d)
		out.Transcript = d
	}
	if d := stripNoise(m.OutputTranscript); d != "" {
		r.slots.aiActiveID = r.mintOrAppend(r.slots.aiActiveID, archive.SenderAssistant, d)
		out.Transcript = d
	}

	if m.TurnComplete {
		r.slots = slots{}
	}

	if m.Interrupted {
		r.player.StopAudioPlayback()
		out.Interrupted = true
		out.Transcript = InterruptedMarker
	}

	for _, chunk := range m.Audio {
		if chunk == "" {
			continue
		}
		err := r.player.PlayAudioChunk(chunk)
		switch {
		case err == nil:
		case errors.Is(err, audio.ErrDecode):
			r.logger.Debug("live: skipping undecodable chunk", "err", err)
		default:
			out.AudioErr = err
			return out
		}
	}
	return out
}

// Reset forgets both active messages. The log is left untouched.
func (r *Reconciler) Reset() { r.slots = slots{} }

// mintOrAppend appends delta to the message with id, or starts a new message
// when id is empty or no longer in the log. It returns the slot's active id.
func (r *Reconciler) mintOrAppend(id string, sender archive.Sender, delta string) string {
	if id != "" && r.log.AppendText(id, delta) {
		return id
	}
	m := archive.NewMessage(sender, delta, r.now())
	r.log.Append(m)
	return m.ID
}

func stripNoise(s string) string {
	if !strings.Contains(s, noiseMarker) {
		return s
	}
	return strings.ReplaceAll(s, noiseMarker, "")
}

// Package dispatch routes decoded backend frames to the conversation log,
// the playback engine, and the notice renderer.
package dispatch

import (
	"log/slog"

	"github.com/rbright/voicebridge/internal/conversation"
	"github.com/rbright/voicebridge/internal/protocol"
)

// MalformedNotice is shown once for each frame that fails to parse.
const MalformedNotice = "Error processing message from voice bridge"

// Sink receives routed frames.
type Sink interface {
	// Append records a conversation entry.
	Append(role conversation.Role, text string)
	// Play hands a base64 audio payload to playback. Must not block.
	Play(payload string)
	// Notice renders a system notice without recording it.
	Notice(text string)
}

// Dispatcher routes one inbound frame at a time.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger
}

// New constructs a dispatcher. A nil logger discards output.
func New(sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{sink: sink, logger: logger.With("component", "dispatch")}
}

// Dispatch decodes frame and applies its side effect. It returns the
// routed kind, or KindUnknown for unknown and malformed frames.
func (d *Dispatcher) Dispatch(frame []byte) protocol.Kind {
	msg, err := protocol.Decode(frame)
	if err != nil {
		d.logger.Warn("malformed inbound frame", "error", err, "bytes", len(frame))
		d.sink.Notice(MalformedNotice)
		return protocol.KindUnknown
	}

	switch msg.Kind {
	case protocol.KindTranscription:
		d.sink.Append(conversation.RoleUser, msg.Text)
	case protocol.KindResponse:
		d.sink.Append(conversation.RoleAssistant, msg.Text)
	case protocol.KindAudio:
		d.sink.Play(msg.Data)
	case protocol.KindStatus:
		d.sink.Append(conversation.RoleSystem, msg.Message)
	case protocol.KindSummary:
		d.logger.Info("session summary",
			"message_count", msg.Summary.MessageCount,
			"session_duration_s", msg.Summary.DurationSeconds,
			"oldest_message", msg.Summary.OldestMessage,
			"newest_message", msg.Summary.NewestMessage,
		)
		d.sink.Notice(msg.Summary.Line())
	case protocol.KindError:
		d.logger.Warn("backend error", "message", msg.Message)
		d.sink.Append(conversation.RoleSystem, "Error: "+msg.Message)
	default:
		d.logger.Debug("ignoring unknown frame type", "type", msg.RawType)
	}
	return msg.Kind
}

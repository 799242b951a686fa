// Package protocol defines the JSON text frames exchanged with the voice backend.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/bytedance/sonic"
)

// Kind is the frame discriminator carried in the "type" field.
type Kind string

const (
	KindAudio         Kind = "audio"
	KindControl       Kind = "control"
	KindTranscription Kind = "transcription"
	KindResponse      Kind = "response"
	KindStatus        Kind = "status"
	KindSummary       Kind = "summary"
	KindError         Kind = "error"
	KindUnknown       Kind = ""
)

// Action is a control command understood by the backend.
type Action string

const (
	ActionClearContext Action = "clear_context"
	ActionGetSummary   Action = "get_summary"
)

// ErrMalformed marks inbound frames that are not valid JSON or lack a required field.
var ErrMalformed = errors.New("malformed frame")

// Outbound is one client -> backend frame. Fields are unexported so a
// constructed value cannot change before it is encoded.
type Outbound struct {
	kind   Kind
	data   string
	action Action
}

// Audio wraps one PCM16 chunk as an outbound audio frame.
func Audio(pcm []byte) Outbound {
	return Outbound{kind: KindAudio, data: EncodePayload(pcm)}
}

// Control builds an outbound control frame.
func Control(action Action) Outbound {
	return Outbound{kind: KindControl, action: action}
}

func (o Outbound) Kind() Kind     { return o.kind }
func (o Outbound) Data() string   { return o.data }
func (o Outbound) Action() Action { return o.action }

type outboundFrame struct {
	Type   Kind   `json:"type"`
	Data   string `json:"data,omitempty"`
	Action Action `json:"action,omitempty"`
}

// Encode serializes an outbound frame to its JSON text form.
func Encode(o Outbound) ([]byte, error) {
	switch o.kind {
	case KindAudio:
		return sonic.Marshal(outboundFrame{Type: KindAudio, Data: o.data})
	case KindControl:
		if o.action != ActionClearContext && o.action != ActionGetSummary {
			return nil, fmt.Errorf("unsupported control action %q", o.action)
		}
		return sonic.Marshal(outboundFrame{Type: KindControl, Action: o.action})
	default:
		return nil, fmt.Errorf("unsupported outbound kind %q", o.kind)
	}
}

// Summary is the session summary reported by the backend.
type Summary struct {
	MessageCount    int
	DurationSeconds float64
	OldestMessage   string
	NewestMessage   string
}

// Line renders the user-facing summary sentence.
func (s Summary) Line() string {
	minutes := int(math.Floor(s.DurationSeconds / 60))
	return fmt.Sprintf("Session Summary: %d messages over %d minutes", s.MessageCount, minutes)
}

// Inbound is one decoded backend -> client frame.
type Inbound struct {
	Kind Kind
	// RawType keeps the received discriminator for frames with an unknown kind.
	RawType string
	Text    string
	Message string
	Data    string
	Summary Summary
}

type inboundFrame struct {
	Type    *string         `json:"type"`
	Text    *string         `json:"text"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type summaryFrame struct {
	MessageCount    *int     `json:"message_count"`
	SessionDuration *float64 `json:"session_duration"`
	OldestMessage   *string  `json:"oldest_message"`
	NewestMessage   *string  `json:"newest_message"`
}

// Decode parses one inbound text frame. Frames with an unrecognized type
// decode to KindUnknown without error.
func Decode(frame []byte) (Inbound, error) {
	var raw inboundFrame
	if err := sonic.Unmarshal(frame, &raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Type == nil {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	msg := Inbound{Kind: Kind(*raw.Type), RawType: *raw.Type}
	switch msg.Kind {
	case KindTranscription, KindResponse:
		if raw.Text == nil {
			return Inbound{}, missingField(msg.Kind, "text")
		}
		msg.Text = *raw.Text
	case KindStatus, KindError:
		if raw.Message == nil {
			return Inbound{}, missingField(msg.Kind, "message")
		}
		msg.Message = *raw.Message
	case KindAudio:
		if isNullOrEmpty(raw.Data) {
			return Inbound{}, missingField(msg.Kind, "data")
		}
		if err := sonic.Unmarshal(raw.Data, &msg.Data); err != nil {
			return Inbound{}, fmt.Errorf("%w: audio data: %v", ErrMalformed, err)
		}
	case KindSummary:
		if isNullOrEmpty(raw.Data) {
			return Inbound{}, missingField(msg.Kind, "data")
		}
		var s summaryFrame
		if err := sonic.Unmarshal(raw.Data, &s); err != nil {
			return Inbound{}, fmt.Errorf("%w: summary data: %v", ErrMalformed, err)
		}
		if s.MessageCount == nil {
			return Inbound{}, missingField(msg.Kind, "data.message_count")
		}
		if s.SessionDuration == nil {
			return Inbound{}, missingField(msg.Kind, "data.session_duration")
		}
		msg.Summary = Summary{
			MessageCount:    *s.MessageCount,
			DurationSeconds: *s.SessionDuration,
		}
		if s.OldestMessage != nil {
			msg.Summary.OldestMessage = *s.OldestMessage
		}
		if s.NewestMessage != nil {
			msg.Summary.NewestMessage = *s.NewestMessage
		}
	default:
		msg.Kind = KindUnknown
	}
	return msg, nil
}

// EncodePayload base64-encodes a binary audio payload.
func EncodePayload(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodePayload reverses EncodePayload.
func DecodePayload(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode base64 payload: %w", err)
	}
	return b, nil
}

func missingField(kind Kind, field string) error {
	return fmt.Errorf("%w: %s frame missing %s", ErrMalformed, kind, field)
}

func isNullOrEmpty(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

package session

import (
	"errors"

	"github.com/rbright/voicebridge/internal/audio"
	"github.com/rbright/voicebridge/internal/playback"
	"github.com/rbright/voicebridge/internal/protocol"
	"github.com/rbright/voicebridge/internal/transport"
)

// Failure classes surfaced by session components, for errors.Is checks.
var (
	ErrDevice    = audio.ErrDevice
	ErrTransport = transport.ErrTransport
	ErrProtocol  = protocol.ErrMalformed
	ErrPlayback  = playback.ErrPlayback
)

var (
	// ErrNotConnected rejects push-to-talk and control commands while the backend is unreachable.
	ErrNotConnected = errors.New("not connected to voice bridge")
	// ErrAlreadyRecording rejects a press while capture is active.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording rejects a release while capture is idle.
	ErrNotRecording = errors.New("not recording")
	// ErrNoReply rejects a copy before any assistant reply arrived.
	ErrNoReply = errors.New("no assistant reply to copy")
)

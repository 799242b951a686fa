package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/rbright/voicebridge/internal/audio"
	"github.com/rbright/voicebridge/internal/conversation"
	"github.com/rbright/voicebridge/internal/fsm"
	"github.com/rbright/voicebridge/internal/ipc"
	"github.com/rbright/voicebridge/internal/protocol"
	"github.com/rbright/voicebridge/internal/transport"
	"github.com/stretchr/testify/require"
)

func TestPressIgnoredWhileDisconnected(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.ctrl.Press(context.Background()), ErrNotConnected)
	require.Zero(t, h.capturer.starts.Load())
	require.False(t, h.ctrl.State().Recording())
}

func TestPressStreamsPCM16WhileRecording(t *testing.T) {
	h := newHarness(t)
	h.open()

	require.NoError(t, h.ctrl.Press(context.Background()))
	require.True(t, h.ctrl.State().Recording())
	require.Equal(t, int32(1), h.indicator.startCues.Load())

	buf := []float32{1, -1, 0, 0.5}
	h.capturer.emit(buf)
	h.capturer.emit(buf)

	frames := h.sender.sent()
	require.Len(t, frames, 2)
	for _, frame := range frames {
		require.Equal(t, protocol.KindAudio, frame.Kind())
		raw, err := protocol.DecodePayload(frame.Data())
		require.NoError(t, err)
		require.Equal(t, []int16{32767, -32768, 0, 16384}, audio.PCM16Samples(raw))
	}
	require.Equal(t, int64(2), h.ctrl.Stats().ChunksSent)
	require.Len(t, h.renderer.levels, 2)
	require.Equal(t, 1.0, h.renderer.levels[0])
}

func TestPressIgnoredWhileRecording(t *testing.T) {
	h := newHarness(t)
	h.open()

	require.NoError(t, h.ctrl.Press(context.Background()))
	require.ErrorIs(t, h.ctrl.Press(context.Background()), ErrAlreadyRecording)
	require.Equal(t, int32(1), h.capturer.starts.Load())
}

func TestNoAudioFramesWhenNotRecording(t *testing.T) {
	h := newHarness(t)
	h.open()

	for i := 0; i < 5; i++ {
		h.ctrl.handleBuffer(make([]float32, audio.DefaultBufferSamples))
	}
	require.Empty(t, h.sender.sent())
	require.Empty(t, h.renderer.levels)
}

func TestReleaseStopsCaptureAndEmission(t *testing.T) {
	h := newHarness(t)
	h.open()

	require.NoError(t, h.ctrl.Press(context.Background()))
	h.capturer.emit([]float32{0.1})
	require.NoError(t, h.ctrl.Release(context.Background()))

	require.False(t, h.ctrl.State().Recording())
	require.Equal(t, int32(1), h.capturer.handle.stops.Load())
	require.Equal(t, int32(1), h.indicator.stopCues.Load())
	require.Equal(t, 1, h.renderer.clears)

	// A callback already in flight on the audio thread must not emit.
	h.capturer.emit([]float32{0.2})
	require.Len(t, h.sender.sent(), 1)

	require.ErrorIs(t, h.ctrl.Release(context.Background()), ErrNotRecording)
}

func TestToggleAlternatesPressAndRelease(t *testing.T) {
	h := newHarness(t)
	h.open()

	require.NoError(t, h.ctrl.Toggle(context.Background()))
	require.True(t, h.ctrl.State().Recording())
	require.NoError(t, h.ctrl.Toggle(context.Background()))
	require.False(t, h.ctrl.State().Recording())
	require.Equal(t, int64(1), h.ctrl.Stats().Presses)
}

func TestCaptureFailureRaisesMicrophoneNotice(t *testing.T) {
	h := newHarness(t)
	h.capturer.err = &audio.CaptureError{Device: "default", Err: fmt.Errorf("permission denied")}
	h.open()

	err := h.ctrl.Press(context.Background())
	require.ErrorIs(t, err, ErrDevice)
	require.False(t, h.ctrl.State().Recording())
	require.Contains(t, h.renderer.noticeList(), NoticeMicrophone)
	require.Equal(t, int32(1), h.indicator.errors.Load())
	require.Zero(t, h.ctrl.State().Log().Len())

	// No automatic retry: a second press starts a fresh attempt.
	h.capturer.err = nil
	require.NoError(t, h.ctrl.Press(context.Background()))
	require.Equal(t, int32(2), h.capturer.starts.Load())
}

func TestCloseForcesRecordingOffAndStopsFrames(t *testing.T) {
	h := newHarness(t)
	h.open()
	require.NoError(t, h.ctrl.Press(context.Background()))
	h.capturer.emit([]float32{0.3})
	require.Len(t, h.sender.sent(), 1)

	h.drop(fmt.Errorf("%w: read: EOF", ErrTransport))

	require.False(t, h.ctrl.State().Connected())
	require.False(t, h.ctrl.State().Recording())
	require.Equal(t, int32(1), h.capturer.handle.stops.Load())

	h.capturer.emit([]float32{0.4})
	require.ErrorIs(t, h.ctrl.ClearContext(), ErrNotConnected)
	require.Len(t, h.sender.sent(), 1)
	require.Equal(t, NoticeReconnecting, h.renderer.noticeList()[len(h.renderer.noticeList())-1])
	require.Zero(t, h.ctrl.State().Log().Len())
}

func TestCloseNoticeWhenRecoveryDisabled(t *testing.T) {
	renderer := &fakeRenderer{}
	ctrl := NewController(Deps{Renderer: renderer, Recovery: transport.ModeOff})
	ctrl.Hooks().OnClose(nil)
	require.Equal(t, []string{NoticeClosed}, renderer.noticeList())
}

func TestControlWhileDisconnectedIsNoop(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.ctrl.ClearContext(), ErrNotConnected)
	require.ErrorIs(t, h.ctrl.RequestSummary(), ErrNotConnected)
	require.Empty(t, h.sender.sent())
	require.Zero(t, h.ctrl.State().Log().Len())
	require.False(t, h.ctrl.State().Recording())
}

func TestControlWhileConnected(t *testing.T) {
	h := newHarness(t)
	h.open()

	require.NoError(t, h.ctrl.ClearContext())
	require.NoError(t, h.ctrl.RequestSummary())

	frames := h.sender.sent()
	require.Len(t, frames, 2)
	require.Equal(t, protocol.ActionClearContext, frames[0].Action())
	require.Equal(t, protocol.ActionGetSummary, frames[1].Action())
}

func TestInboundFramesDriveLogAndPlayback(t *testing.T) {
	h := newHarness(t)
	h.open()
	onMessage := h.ctrl.Hooks().OnMessage

	onMessage([]byte(`{"type":"transcription","text":"turn on the lights"}`))
	onMessage([]byte(`{"type":"response","text":"Done."}`))
	onMessage([]byte(`{"type":"audio","data":"SUQzBAA="}`))
	onMessage([]byte(`{"type":"summary","data":{"message_count":42,"session_duration":125}}`))
	onMessage([]byte(`{"type":"error","message":"rate limited"}`))

	entries := h.ctrl.State().Log().Entries()
	require.Len(t, entries, 3)
	require.Equal(t, conversation.RoleUser, entries[0].Role)
	require.Equal(t, conversation.RoleAssistant, entries[1].Role)
	require.Equal(t, "Error: rate limited", entries[2].Text)
	require.Len(t, h.renderer.entries, 3)

	require.Equal(t, []string{"SUQzBAA="}, h.player.payloads)
	require.Contains(t, h.renderer.noticeList(), "Session Summary: 42 messages over 2 minutes")
}

func TestCopyLastReply(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.ctrl.CopyLastReply(context.Background()), ErrNoReply)

	h.open()
	onMessage := h.ctrl.Hooks().OnMessage
	onMessage([]byte(`{"type":"response","text":"first"}`))
	onMessage([]byte(`{"type":"response","text":"second"}`))
	onMessage([]byte(`{"type":"status","message":"Context cleared"}`))
	h.drop(errBoom)

	require.NoError(t, h.ctrl.CopyLastReply(context.Background()))
	require.Equal(t, []string{"second"}, h.clipboard.copied)
	require.Contains(t, h.renderer.noticeList(), NoticeCopied)

	h.clipboard.err = errBoom
	require.ErrorIs(t, h.ctrl.CopyLastReply(context.Background()), errBoom)
}

func TestInvalidFrameRaisesExactlyOneNotice(t *testing.T) {
	h := newHarness(t)
	h.open()
	before := len(h.renderer.noticeList())

	h.ctrl.Hooks().OnMessage([]byte(`{"type":"response",`))

	require.Len(t, h.renderer.noticeList(), before+1)
	require.Zero(t, h.ctrl.State().Log().Len())
	require.True(t, h.ctrl.State().Connected())
	require.False(t, h.ctrl.State().Recording())
}

func TestOpenAndErrorNotices(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.ctrl.Hooks().OnError(errBoom)

	require.Equal(t, []string{NoticeConnected, NoticeConnectionError}, h.renderer.noticeList())
	require.Equal(t, int32(1), h.indicator.notices.Load())
	require.Equal(t, int32(1), h.indicator.errors.Load())
	require.Zero(t, h.ctrl.State().Log().Len())
}

func TestResetReplacesLog(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.ctrl.Hooks().OnMessage([]byte(`{"type":"status","message":"Context cleared"}`))
	old := h.ctrl.State().Log()
	require.Equal(t, 1, old.Len())

	h.ctrl.Hooks().OnReset()

	require.Zero(t, h.ctrl.State().Log().Len())
	require.NotSame(t, old, h.ctrl.State().Log())
	require.Equal(t, 1, old.Len())
	require.Contains(t, h.renderer.noticeList(), NoticeSessionReset)
}

func TestHandleIPCCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	status := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandStatus})
	require.True(t, status.OK)
	require.Equal(t, string(fsm.StateReconnecting), status.Connection)
	require.False(t, status.Recording)

	press := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandPress})
	require.False(t, press.OK)
	require.Contains(t, press.Error, "not connected")

	h.open()
	press = h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandPress})
	require.True(t, press.OK)
	require.True(t, press.Recording)
	require.Equal(t, string(fsm.StateConnected), press.Connection)

	toggle := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandToggle})
	require.True(t, toggle.OK)
	require.False(t, toggle.Recording)
	require.Equal(t, "released", toggle.Message)

	release := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandRelease})
	require.False(t, release.OK)
	require.Contains(t, release.Error, "not recording")

	clearResp := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandClear})
	require.True(t, clearResp.OK)
	summary := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandSummary})
	require.True(t, summary.OK)

	copyResp := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandCopy})
	require.False(t, copyResp.OK)
	require.Contains(t, copyResp.Error, "no assistant reply")

	unknown := h.ctrl.Handle(ctx, ipc.Request{Command: "definitely-unknown"})
	require.False(t, unknown.OK)
	require.Contains(t, unknown.Error, "unknown command")
}

func TestShutdownStopsActiveCapture(t *testing.T) {
	h := newHarness(t)
	h.open()
	require.NoError(t, h.ctrl.Press(context.Background()))

	h.ctrl.Shutdown(context.Background())
	require.False(t, h.ctrl.State().Recording())
	require.Equal(t, int32(1), h.capturer.handle.stops.Load())
	require.Equal(t, int32(1), h.indicator.hides.Load())
}

func TestUnattachedControllerDropsSends(t *testing.T) {
	ctrl := NewController(Deps{})
	require.ErrorIs(t, ctrl.ClearContext(), ErrNotConnected)
	require.Equal(t, string(fsm.StateDisconnected), ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus}).Connection)
}

func TestSentinelAliases(t *testing.T) {
	require.ErrorIs(t, &audio.CaptureError{Err: errBoom}, ErrDevice)
	require.ErrorIs(t, fmt.Errorf("wrap: %w", protocol.ErrMalformed), ErrProtocol)
}

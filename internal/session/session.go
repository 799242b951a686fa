// Package session coordinates connection state, push-to-talk capture,
// inbound routing, and user feedback for one owner process.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/voicebridge/internal/conversation"
	"github.com/rbright/voicebridge/internal/dispatch"
	"github.com/rbright/voicebridge/internal/fsm"
	"github.com/rbright/voicebridge/internal/ipc"
	"github.com/rbright/voicebridge/internal/protocol"
	"github.com/rbright/voicebridge/internal/transport"
)

// System notices raised by the controller. They are rendered on the console
// and never appended to the conversation log.
const (
	NoticeConnected       = "Connected to voice bridge"
	NoticeConnectionError = "Connection error"
	NoticeReconnecting    = "Connection closed. Reconnecting..."
	NoticeClosed          = "Connection closed."
	NoticeSessionReset    = "Session reset"
	NoticeMicrophone      = "Error accessing microphone. Please check permissions."
	NoticeCopied          = "Copied last reply"
)

// Sender is the outbound half of the connection manager.
type Sender interface {
	Send(protocol.Outbound) bool
	State() fsm.State
}

// Player accepts base64 audio payloads without blocking.
type Player interface {
	Play(payload string)
}

// Renderer shows conversation entries, notices, and the input level.
// Methods may be called from the read loop and the capture goroutine.
type Renderer interface {
	Entry(conversation.Entry)
	Notice(string)
	Level(float64)
	ClearLevel()
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowRecording(context.Context)
	ShowNotice(context.Context, string)
	ShowError(context.Context, string)
	CueStart(context.Context)
	CueStop(context.Context)
	Hide(context.Context)
}

// Clipboard receives copied conversation text.
type Clipboard interface {
	Copy(context.Context, string) error
}

type noopIndicator struct{}

func (noopIndicator) ShowRecording(context.Context)      {}
func (noopIndicator) ShowNotice(context.Context, string) {}
func (noopIndicator) ShowError(context.Context, string)  {}
func (noopIndicator) CueStart(context.Context)           {}
func (noopIndicator) CueStop(context.Context)            {}
func (noopIndicator) Hide(context.Context)               {}

type noopRenderer struct{}

func (noopRenderer) Entry(conversation.Entry) {}
func (noopRenderer) Notice(string)            {}
func (noopRenderer) Level(float64)            {}
func (noopRenderer) ClearLevel()              {}

type noClipboard struct{}

func (noClipboard) Copy(context.Context, string) error {
	return errors.New("clipboard not configured")
}

type noopPlayer struct{}

func (noopPlayer) Play(string) {}

type disconnectedSender struct{}

func (disconnectedSender) Send(protocol.Outbound) bool { return false }
func (disconnectedSender) State() fsm.State            { return fsm.StateDisconnected }

// Deps wires the controller's collaborators. Nil fields fall back to no-ops.
type Deps struct {
	Logger    *slog.Logger
	State     *State
	Capturer  Capturer
	Player    Player
	Renderer  Renderer
	Indicator Indicator
	Clipboard Clipboard
	// Recovery selects the notice shown when the connection closes.
	Recovery transport.Mode
}

// Stats reports capture counters.
type Stats struct {
	ChunksSent    int64
	ChunksDropped int64
	Presses       int64
}

// Controller owns session state transitions and their side effects.
type Controller struct {
	logger    *slog.Logger
	state     *State
	capturer  Capturer
	player    Player
	renderer  Renderer
	indicator Indicator
	clipboard Clipboard
	recovery  transport.Mode
	dispatch  *dispatch.Dispatcher

	out atomic.Pointer[Sender]

	mu      sync.Mutex
	capture CaptureHandle
	runCtx  context.Context

	chunksSent    atomic.Int64
	chunksDropped atomic.Int64
	presses       atomic.Int64
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(deps Deps) *Controller {
	c := &Controller{
		logger:    deps.Logger,
		state:     deps.State,
		capturer:  deps.Capturer,
		player:    deps.Player,
		renderer:  deps.Renderer,
		indicator: deps.Indicator,
		clipboard: deps.Clipboard,
		recovery:  deps.Recovery,
		runCtx:    context.Background(),
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.state == nil {
		c.state = NewState()
	}
	if c.player == nil {
		c.player = noopPlayer{}
	}
	if c.renderer == nil {
		c.renderer = noopRenderer{}
	}
	if c.indicator == nil {
		c.indicator = noopIndicator{}
	}
	if c.clipboard == nil {
		c.clipboard = noClipboard{}
	}
	if c.recovery == "" {
		c.recovery = transport.ModeReload
	}
	c.dispatch = dispatch.New(c, c.logger)
	return c
}

// Attach binds the outbound connection. Until called, sends are dropped.
func (c *Controller) Attach(sender Sender) {
	if sender == nil {
		c.out.Store(nil)
		return
	}
	c.out.Store(&sender)
}

// Bind scopes capture streams to ctx.
func (c *Controller) Bind(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runCtx = ctx
}

func (c *Controller) sender() Sender {
	if s := c.out.Load(); s != nil {
		return *s
	}
	return disconnectedSender{}
}

// State returns the shared session state.
func (c *Controller) State() *State {
	return c.state
}

// Stats returns capture counters.
func (c *Controller) Stats() Stats {
	return Stats{
		ChunksSent:    c.chunksSent.Load(),
		ChunksDropped: c.chunksDropped.Load(),
		Presses:       c.presses.Load(),
	}
}

// Press starts capture. It is ignored while disconnected or already recording.
func (c *Controller) Press(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Connected() {
		return ErrNotConnected
	}
	if c.state.Recording() {
		return ErrAlreadyRecording
	}
	if c.capturer == nil {
		c.micFailure(ctx, fmt.Errorf("%w: no capturer configured", ErrDevice))
		return ErrDevice
	}

	c.state.recording.Store(true)
	handle, err := c.capturer.StartCapture(c.runCtx, c.handleBuffer)
	if err != nil {
		c.state.recording.Store(false)
		c.micFailure(ctx, err)
		return err
	}

	c.capture = handle
	c.presses.Add(1)
	c.logger.Info("push-to-talk engaged")
	c.indicator.CueStart(ctx)
	c.indicator.ShowRecording(ctx)
	return nil
}

// Release stops capture.
func (c *Controller) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Recording() {
		return ErrNotRecording
	}
	c.stopCaptureLocked()
	c.logger.Info("push-to-talk released", "chunks_sent", c.chunksSent.Load())
	c.indicator.CueStop(ctx)
	c.indicator.Hide(ctx)
	return nil
}

// Toggle presses when idle and releases when recording.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.state.Recording() {
		return c.Release(ctx)
	}
	return c.Press(ctx)
}

// ClearContext asks the backend to drop conversation context.
func (c *Controller) ClearContext() error {
	return c.control(protocol.ActionClearContext)
}

// RequestSummary asks the backend for a session summary.
func (c *Controller) RequestSummary() error {
	return c.control(protocol.ActionGetSummary)
}

// CopyLastReply copies the newest assistant entry to the clipboard. It works
// offline.
func (c *Controller) CopyLastReply(ctx context.Context) error {
	entry, ok := c.state.Log().Last(conversation.RoleAssistant)
	if !ok {
		return ErrNoReply
	}
	if err := c.clipboard.Copy(ctx, entry.Text); err != nil {
		c.logger.Warn("copy failed", "error", err)
		return err
	}
	c.Notice(NoticeCopied)
	return nil
}

func (c *Controller) control(action protocol.Action) error {
	if !c.sender().Send(protocol.Control(action)) {
		c.logger.Debug("control dropped while disconnected", "action", string(action))
		return ErrNotConnected
	}
	c.logger.Info("control sent", "action", string(action))
	return nil
}

// Shutdown stops any active capture and clears feedback.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.state.Recording() {
		c.stopCaptureLocked()
	}
	c.mu.Unlock()
	c.indicator.Hide(ctx)
}

// stopCaptureLocked clears the recording flag before tearing the stream
// down so no buffer is emitted after this call begins.
func (c *Controller) stopCaptureLocked() {
	c.state.recording.Store(false)
	if c.capture != nil {
		if err := c.capture.Stop(); err != nil {
			c.logger.Warn("stop capture", "error", err)
		}
		c.capture = nil
	}
	c.renderer.ClearLevel()
}

func (c *Controller) micFailure(ctx context.Context, err error) {
	c.logger.Error("start capture failed", "error", err, "device_error", errors.Is(err, ErrDevice))
	c.Notice(NoticeMicrophone)
	c.indicator.ShowError(ctx, "Microphone unavailable")
}

// Hooks returns connection callbacks bound to this controller.
func (c *Controller) Hooks() transport.Hooks {
	return transport.Hooks{
		OnOpen:    c.onOpen,
		OnMessage: c.onMessage,
		OnClose:   c.onClose,
		OnError:   c.onError,
		OnReset:   c.onReset,
	}
}

func (c *Controller) onOpen() {
	c.state.connected.Store(true)
	c.logger.Info("connected")
	c.Notice(NoticeConnected)
	c.indicator.ShowNotice(context.Background(), NoticeConnected)
}

func (c *Controller) onMessage(frame []byte) {
	c.dispatch.Dispatch(frame)
}

func (c *Controller) onClose(err error) {
	c.state.connected.Store(false)

	c.mu.Lock()
	wasRecording := c.state.Recording()
	if wasRecording {
		c.stopCaptureLocked()
	}
	c.mu.Unlock()

	c.logger.Warn("connection closed", "error", err, "was_recording", wasRecording)
	if wasRecording {
		ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
		c.indicator.Hide(ctx)
		cancel()
	}

	notice := NoticeReconnecting
	if c.recovery == transport.ModeOff {
		notice = NoticeClosed
	}
	c.Notice(notice)
}

func (c *Controller) onError(err error) {
	c.logger.Error("connection error", "error", err)
	c.Notice(NoticeConnectionError)
	c.indicator.ShowError(context.Background(), NoticeConnectionError)
}

func (c *Controller) onReset() {
	previous := c.state.Log().Len()
	c.state.ResetLog()
	c.logger.Info("session state reset", "discarded_entries", previous)
	c.Notice(NoticeSessionReset)
}

// Append implements dispatch.Sink.
func (c *Controller) Append(role conversation.Role, text string) {
	entry := c.state.Log().Append(role, text)
	c.renderer.Entry(entry)
}

// Play implements dispatch.Sink.
func (c *Controller) Play(payload string) {
	c.player.Play(payload)
}

// Notice implements dispatch.Sink. Notices are rendered, never logged to the conversation.
func (c *Controller) Notice(text string) {
	c.logger.Info("notice", "text", text)
	c.renderer.Notice(text)
}

// Handle serves IPC commands for the owner process.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var (
		err     error
		message string
	)
	switch req.Command {
	case ipc.CommandStatus:
		message = "status"
	case ipc.CommandPress:
		err, message = c.Press(ctx), "recording"
	case ipc.CommandRelease:
		err, message = c.Release(ctx), "released"
	case ipc.CommandToggle:
		err = c.Toggle(ctx)
		message = "released"
		if c.state.Recording() {
			message = "recording"
		}
	case ipc.CommandClear:
		err, message = c.ClearContext(), "clear_context sent"
	case ipc.CommandSummary:
		err, message = c.RequestSummary(), "get_summary sent"
	case ipc.CommandCopy:
		err, message = c.CopyLastReply(ctx), "copied"
	default:
		err = fmt.Errorf("unknown command: %s", req.Command)
	}

	resp := c.status()
	if err != nil {
		resp.OK = false
		resp.Error = err.Error()
		return resp
	}
	resp.Message = message
	return resp
}

func (c *Controller) status() ipc.Response {
	return ipc.Response{
		OK:         true,
		Connection: string(c.sender().State()),
		Recording:  c.state.Recording(),
		Entries:    c.state.Log().Len(),
	}
}

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rbright/voicebridge/internal/audio"
	"github.com/rbright/voicebridge/internal/conversation"
	"github.com/rbright/voicebridge/internal/fsm"
	"github.com/rbright/voicebridge/internal/protocol"
)

type fakeSender struct {
	connected atomic.Bool
	mu        sync.Mutex
	frames    []protocol.Outbound
}

func (s *fakeSender) Send(msg protocol.Outbound) bool {
	if !s.connected.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, msg)
	return true
}

func (s *fakeSender) State() fsm.State {
	if s.connected.Load() {
		return fsm.StateConnected
	}
	return fsm.StateReconnecting
}

func (s *fakeSender) sent() []protocol.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Outbound(nil), s.frames...)
}

type fakeHandle struct {
	stops atomic.Int32
}

func (h *fakeHandle) Stop() error {
	h.stops.Add(1)
	return nil
}

type fakeCapturer struct {
	err      error
	starts   atomic.Int32
	mu       sync.Mutex
	onBuffer audio.BufferFunc
	handle   *fakeHandle
}

func (c *fakeCapturer) StartCapture(_ context.Context, onBuffer audio.BufferFunc) (CaptureHandle, error) {
	c.starts.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBuffer = onBuffer
	c.handle = &fakeHandle{}
	return c.handle, nil
}

// emit delivers one buffer through the callback captured at start, as a
// late callback from the audio thread would.
func (c *fakeCapturer) emit(samples []float32) {
	c.mu.Lock()
	cb := c.onBuffer
	c.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

type fakeIndicator struct {
	startCues atomic.Int32
	stopCues  atomic.Int32
	errors    atomic.Int32
	hides     atomic.Int32
	notices   atomic.Int32
}

func (*fakeIndicator) ShowRecording(context.Context)        {}
func (f *fakeIndicator) ShowNotice(context.Context, string) { f.notices.Add(1) }
func (f *fakeIndicator) ShowError(context.Context, string)  { f.errors.Add(1) }
func (f *fakeIndicator) CueStart(context.Context)           { f.startCues.Add(1) }
func (f *fakeIndicator) CueStop(context.Context)            { f.stopCues.Add(1) }
func (f *fakeIndicator) Hide(context.Context)               { f.hides.Add(1) }

type fakeRenderer struct {
	mu      sync.Mutex
	entries []conversation.Entry
	notices []string
	levels  []float64
	clears  int
}

func (r *fakeRenderer) Entry(e conversation.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *fakeRenderer) Notice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, text)
}

func (r *fakeRenderer) Level(level float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
}

func (r *fakeRenderer) ClearLevel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
}

func (r *fakeRenderer) noticeList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

type fakePlayer struct {
	mu       sync.Mutex
	payloads []string
}

func (p *fakePlayer) Play(payload string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
}

type fakeClipboard struct {
	mu     sync.Mutex
	copied []string
	err    error
}

func (c *fakeClipboard) Copy(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.copied = append(c.copied, text)
	return nil
}

type harness struct {
	ctrl      *Controller
	sender    *fakeSender
	capturer  *fakeCapturer
	indicator *fakeIndicator
	renderer  *fakeRenderer
	player    *fakePlayer
	clipboard *fakeClipboard
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sender:    &fakeSender{},
		capturer:  &fakeCapturer{},
		indicator: &fakeIndicator{},
		renderer:  &fakeRenderer{},
		player:    &fakePlayer{},
		clipboard: &fakeClipboard{},
	}
	h.ctrl = NewController(Deps{
		Capturer:  h.capturer,
		Player:    h.player,
		Renderer:  h.renderer,
		Indicator: h.indicator,
		Clipboard: h.clipboard,
	})
	h.ctrl.Attach(h.sender)
	return h
}

// open simulates the connection manager opening the socket.
func (h *harness) open() {
	h.sender.connected.Store(true)
	h.ctrl.Hooks().OnOpen()
}

// drop simulates the connection manager observing a close.
func (h *harness) drop(err error) {
	h.sender.connected.Store(false)
	h.ctrl.Hooks().OnClose(err)
}

var errBoom = errors.New("boom")

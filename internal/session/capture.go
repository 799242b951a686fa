package session

import (
	"context"
	"log/slog"

	"github.com/rbright/voicebridge/internal/audio"
	"github.com/rbright/voicebridge/internal/protocol"
)

// CaptureHandle stops one active capture stream. Stop must be idempotent.
type CaptureHandle interface {
	Stop() error
}

// Capturer opens the microphone and delivers fixed-length float buffers.
type Capturer interface {
	StartCapture(ctx context.Context, onBuffer audio.BufferFunc) (CaptureHandle, error)
}

// PulseCapturer selects a Pulse source and records from it.
type PulseCapturer struct {
	Input       string
	Fallback    string
	Constraints audio.Constraints
	Logger      *slog.Logger
}

func (p PulseCapturer) StartCapture(ctx context.Context, onBuffer audio.BufferFunc) (CaptureHandle, error) {
	selection, err := audio.SelectDevice(ctx, p.Input, p.Fallback, p.Constraints)
	if err != nil {
		return nil, &audio.CaptureError{Device: p.Input, Err: err}
	}
	if selection.Warning != "" && p.Logger != nil {
		p.Logger.Warn("audio device fallback", "warning", selection.Warning)
	}

	capture, err := audio.StartCapture(ctx, selection.Device, p.Constraints, onBuffer)
	if err != nil {
		return nil, err
	}
	if p.Logger != nil {
		p.Logger.Info("capture started", "device", selection.Device.ID, "description", selection.Device.Description)
	}
	return capture, nil
}

// handleBuffer runs on the capture goroutine. It converts one buffer to
// PCM16 and sends it only while both connected and recording.
func (c *Controller) handleBuffer(samples []float32) {
	if !c.state.Recording() || !c.state.Connected() {
		return
	}

	pcm := audio.PCM16Bytes(audio.Float32ToPCM16(samples))
	if c.sender().Send(protocol.Audio(pcm)) {
		c.chunksSent.Add(1)
	} else {
		c.chunksDropped.Add(1)
	}
	c.renderer.Level(audio.Level(samples))
}

// Package indicator shows push-to-talk and connection feedback through
// Hyprland or desktop notifications and plays start/stop cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/voicebridge/internal/audio"
	"github.com/rbright/voicebridge/internal/config"
	"github.com/rbright/voicebridge/internal/hypr"
)

const (
	textRecording = "Listening…"
	textError     = "Voice bridge error"

	colorRecording = "rgb(89b4fa)"
	colorNotice    = "rgb(a6e3a1)"
	colorError     = "rgb(f38ba8)"

	recordingTimeoutMS = 300000
	defaultErrorMS     = 1600
	defaultNoticeMS    = 1200
	dispatchTimeout    = 400 * time.Millisecond
)

// Notifier routes indicator output to the configured backend.
type Notifier struct {
	cfg    config.IndicatorConfig
	logger *slog.Logger
	play   playFunc

	mu        sync.Mutex
	desktopID uint32

	soundMu sync.Mutex
	cues    sync.WaitGroup
}

// New creates a notifier from config. A nil logger discards failures.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{cfg: cfg, logger: logger, play: audio.PlayPCM16}
}

// ShowRecording shows the persistent recording indicator.
func (n *Notifier) ShowRecording(ctx context.Context) {
	n.show(ctx, hypr.IconInfo, recordingTimeoutMS, colorRecording, textRecording)
}

// ShowNotice shows a short-lived system notice.
func (n *Notifier) ShowNotice(ctx context.Context, text string) {
	n.show(ctx, hypr.IconOK, positiveOr(n.cfg.NoticeTimeoutMS, defaultNoticeMS), colorNotice, text)
}

// ShowError shows an error notice. Empty text uses a generic message.
func (n *Notifier) ShowError(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		text = textError
	}
	n.show(ctx, hypr.IconError, positiveOr(n.cfg.ErrorTimeoutMS, defaultErrorMS), colorError, text)
}

// CueStart plays the push-to-talk start cue.
func (n *Notifier) CueStart(ctx context.Context) {
	n.playCue(ctx, cueStart)
}

// CueStop plays the push-to-talk stop cue.
func (n *Notifier) CueStop(ctx context.Context) {
	n.playCue(ctx, cueStop)
}

// Hide dismisses the active indicator.
func (n *Notifier) Hide(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, n.dismiss)
}

// Wait blocks until queued cues finish.
func (n *Notifier) Wait() {
	n.cues.Wait()
}

func (n *Notifier) show(ctx context.Context, icon int, timeoutMS int, color string, text string) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, func(ctx context.Context) error {
		if n.desktop() {
			return n.notifyDesktop(ctx, timeoutMS, text)
		}
		return hypr.Notify(ctx, icon, timeoutMS, color, text)
	})
}

func (n *Notifier) dismiss(ctx context.Context) error {
	if !n.desktop() {
		return hypr.DismissNotify(ctx)
	}

	n.mu.Lock()
	id := n.desktopID
	n.desktopID = 0
	n.mu.Unlock()
	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

func (n *Notifier) desktop() bool {
	return strings.EqualFold(strings.TrimSpace(n.cfg.Backend), config.IndicatorBackendDesktop)
}

// notifyDesktop replaces the previous notification so only one is visible.
func (n *Notifier) notifyDesktop(ctx context.Context, timeoutMS int, text string) error {
	n.mu.Lock()
	replaceID := n.desktopID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = config.DefaultDesktopAppName
	}

	id, err := desktopNotify(ctx, appName, replaceID, text, timeoutMS)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopID = id
	n.mu.Unlock()
	return nil
}

func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.logger.Debug("indicator dispatch failed", "error", err.Error())
	}
}

// playCue plays asynchronously; cues never overlap each other.
func (n *Notifier) playCue(ctx context.Context, kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	ctx = context.WithoutCancel(ctx)
	n.cues.Add(1)
	go func() {
		defer n.cues.Done()
		n.soundMu.Lock()
		defer n.soundMu.Unlock()

		cueCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := emitCue(cueCtx, kind, n.play); err != nil {
			n.logger.Debug("indicator audio cue failed", "error", err.Error())
		}
	}()
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/rbright/voicebridge/internal/audio"
	"github.com/rbright/voicebridge/internal/config"
	"github.com/rbright/voicebridge/internal/indicator"
	"github.com/rbright/voicebridge/internal/ipc"
	"github.com/rbright/voicebridge/internal/output"
	"github.com/rbright/voicebridge/internal/playback"
	"github.com/rbright/voicebridge/internal/render"
	"github.com/rbright/voicebridge/internal/session"
	"github.com/rbright/voicebridge/internal/transport"
	"golang.org/x/sync/errgroup"
)

// components is the owner-process object graph.
type components struct {
	ctrl     *session.Controller
	manager  *transport.Manager
	engine   *playback.Engine
	notifier *indicator.Notifier
	console  *render.Console
}

func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, probeTimeout, acquireRetries, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	c, err := newComponents(cfg, logger, r.Stdout)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Fprintf(r.Stdout, "voicebridge connecting to %s\n", c.manager.URL())
	if err := c.run(ctx, listener, r.Stdin, logger); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newComponents(cfg config.Config, logger *slog.Logger, stdout io.Writer) (*components, error) {
	console := render.NewConsole(stdout, render.Options{Color: cfg.Render.Color, Meter: cfg.Render.Meter})
	notifier := indicator.New(cfg.Indicator, logger)

	player, err := newPlayer(cfg.Playback)
	if err != nil {
		return nil, err
	}
	engine, err := playback.NewEngine(playback.Config{
		Policy:        playback.Policy(cfg.Playback.Policy),
		MaxConcurrent: cfg.Playback.MaxConcurrent,
		Format:        playback.Format(cfg.Playback.Format),
		SampleRate:    cfg.Playback.SampleRate,
	}, player, logger.With("component", "playback"))
	if err != nil {
		return nil, err
	}

	constraints := audio.DefaultConstraints()
	constraints.BufferSamples = cfg.Audio.BufferSamples
	constraints.EchoCancellation = cfg.Audio.EchoCancellation
	constraints.NoiseSuppression = cfg.Audio.NoiseSuppression

	ctrl := session.NewController(session.Deps{
		Logger: logger.With("component", "session"),
		Capturer: session.PulseCapturer{
			Input:       cfg.Audio.Input,
			Fallback:    cfg.Audio.Fallback,
			Constraints: constraints,
			Logger:      logger.With("component", "capture"),
		},
		Player:    engine,
		Renderer:  console,
		Indicator: notifier,
		Clipboard: output.NewClipboard(cfg.Clipboard.Command.Argv, logger.With("component", "clipboard")),
		Recovery:  transport.Mode(cfg.Reconnect.Mode),
	})

	manager, err := transport.NewManager(transportConfig(cfg), ctrl.Hooks(), logger.With("component", "transport"))
	if err != nil {
		return nil, err
	}
	ctrl.Attach(manager)

	return &components{
		ctrl:     ctrl,
		manager:  manager,
		engine:   engine,
		notifier: notifier,
		console:  console,
	}, nil
}

func newPlayer(cfg config.PlaybackConfig) (playback.Player, error) {
	if cfg.Backend == config.PlaybackBackendCommand {
		return playback.NewCommandPlayer(cfg.Command.Argv, "")
	}
	return playback.NewPulsePlayer(""), nil
}

func transportConfig(cfg config.Config) transport.Config {
	return transport.Config{
		Origin:       cfg.Server.Origin,
		Path:         cfg.Server.Path,
		DialTimeout:  millis(cfg.Server.DialTimeoutMS),
		WriteTimeout: millis(cfg.Server.WriteTimeoutMS),
		Heartbeat:    millis(cfg.Server.HeartbeatMS),
		Recovery: transport.Recovery{
			Mode:        transport.Mode(cfg.Reconnect.Mode),
			Delay:       millis(cfg.Reconnect.DelayMS),
			MaxRetries:  cfg.Reconnect.MaxRetries,
			BackoffMax:  millis(cfg.Reconnect.BackoffMaxMS),
			PreserveLog: cfg.Reconnect.PreserveLog,
		},
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// run blocks until ctx is cancelled or the user quits. Every goroutine it
// starts is bound to one errgroup and torn down before it returns.
func (c *components) run(ctx context.Context, listener net.Listener, stdin io.Reader, logger *slog.Logger) error {
	runCtx, quit := context.WithCancel(ctx)
	defer quit()

	g, gctx := errgroup.WithContext(runCtx)
	c.ctrl.Bind(gctx)

	g.Go(func() error { return c.engine.Run(gctx) })
	g.Go(func() error { return ipc.Serve(gctx, listener, c.ctrl) })
	g.Go(func() error {
		err := c.manager.Run(gctx)
		if err == nil && gctx.Err() == nil {
			logger.Info("connection manager stopped; session stays open offline")
		}
		return err
	})

	if stdin != nil {
		// Not part of the group: a blocked stdin read cannot be interrupted.
		go keyLoop(gctx, stdin, c.ctrl, c.console, quit)
	}

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	c.ctrl.Shutdown(shutdownCtx)
	_ = c.manager.Close()
	c.notifier.Wait()

	stats := c.ctrl.Stats()
	wire := c.manager.Stats()
	played := c.engine.Stats()
	logger.Info("session finished",
		"entries", c.ctrl.State().Log().Len(),
		"presses", stats.Presses,
		"chunks_sent", stats.ChunksSent,
		"chunks_dropped", stats.ChunksDropped,
		"frames_received", wire.Received,
		"dials", wire.Dials,
		"clips_played", played.Played,
		"clips_failed", played.Failed,
	)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

const keyHelp = "keys: t=talk c=clear s=summary y=copy q=quit"

// keyTarget is the subset of the controller driven by interactive keys.
type keyTarget interface {
	Toggle(context.Context) error
	ClearContext() error
	RequestSummary() error
	CopyLastReply(context.Context) error
}

type noticer interface {
	Notice(string)
}

// keyLoop reads one command per line: t toggles talk, c clears context,
// s requests a summary, y copies the last reply, q quits. EOF stops reading
// without quitting.
func keyLoop(ctx context.Context, in io.Reader, target keyTarget, out noticer, quit func()) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		var err error
		switch trimmedLine(scanner.Text()) {
		case "":
			continue
		case "t", "talk":
			err = target.Toggle(ctx)
		case "c", "clear":
			err = target.ClearContext()
		case "s", "summary":
			err = target.RequestSummary()
		case "y", "copy":
			err = target.CopyLastReply(ctx)
		case "q", "quit":
			quit()
			return
		default:
			out.Notice(keyHelp)
			continue
		}
		if msg := keyError(err); msg != "" {
			out.Notice(msg)
		}
	}
}

// keyError maps a key action error to a notice. Device errors already
// raised their own notice.
func keyError(err error) string {
	switch {
	case err == nil, errors.Is(err, session.ErrDevice):
		return ""
	case errors.Is(err, session.ErrNotConnected):
		return "Not connected to voice bridge"
	default:
		return err.Error()
	}
}

// Package playback decodes synthesized speech payloads and plays them off
// the dispatch path under an explicit concurrency policy.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbright/voicebridge/internal/protocol"
	"golang.org/x/sync/semaphore"
)

// Policy selects how concurrently received clips are scheduled.
type Policy string

const (
	// PolicyQueue plays clips one at a time in arrival order.
	PolicyQueue Policy = "queue"
	// PolicyOverlap plays clips concurrently, at most MaxConcurrent at once.
	PolicyOverlap Policy = "overlap"
)

const DefaultMaxConcurrent = 4

// Config configures an Engine.
type Config struct {
	Policy        Policy
	MaxConcurrent int
	Format        Format
	// SampleRate applies to raw PCM16 payloads.
	SampleRate int
}

// Stats counts engine outcomes.
type Stats struct {
	Played  int64
	Failed  int64
	Pending int
}

// Engine accepts payloads from the dispatcher without blocking and plays them
// on its own goroutines. Failures are logged and counted, never returned.
type Engine struct {
	cfg    Config
	player Player
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending [][]byte
	stopped bool
	wake    chan struct{}

	played atomic.Int64
	failed atomic.Int64
}

// NewEngine constructs an engine. Queue mode needs Run to be started.
func NewEngine(cfg Config, player Player, logger *slog.Logger) (*Engine, error) {
	if player == nil {
		return nil, fmt.Errorf("playback player is nil")
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicyQueue
	case PolicyQueue, PolicyOverlap:
	default:
		return nil, fmt.Errorf("unsupported playback policy %q", cfg.Policy)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Format == "" {
		cfg.Format = FormatAuto
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		player: player,
		logger: logger.With("component", "playback", "policy", string(cfg.Policy)),
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		wake:   make(chan struct{}, 1),
	}, nil
}

// Play decodes the base64 payload and schedules it. It never blocks on audio.
func (e *Engine) Play(payload string) {
	raw, err := protocol.DecodePayload(payload)
	if err != nil {
		e.fail(fmt.Errorf("%w: %v", ErrPlayback, err))
		return
	}
	if len(raw) == 0 {
		e.fail(fmt.Errorf("%w: empty payload", ErrPlayback))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		e.logger.Debug("dropping clip after shutdown", "bytes", len(raw))
		return
	}

	if e.cfg.Policy == PolicyOverlap {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.sem.Acquire(e.ctx, 1); err != nil {
				return
			}
			defer e.sem.Release(1)
			e.playOne(raw)
		}()
		return
	}

	e.pending = append(e.pending, raw)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run drives the queue worker until ctx is cancelled, then stops in-flight
// playback and waits for overlap workers to exit.
func (e *Engine) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, e.cancel)
	defer stop()

	for {
		select {
		case <-e.ctx.Done():
			e.shutdown()
			return nil
		case <-e.wake:
			for {
				raw, ok := e.pop()
				if !ok {
					break
				}
				e.playOne(raw)
				if e.ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// Close stops playback without waiting for Run.
func (e *Engine) Close() {
	e.cancel()
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	pending := len(e.pending)
	e.mu.Unlock()
	return Stats{
		Played:  e.played.Load(),
		Failed:  e.failed.Load(),
		Pending: pending,
	}
}

func (e *Engine) pop() ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return nil, false
	}
	raw := e.pending[0]
	e.pending[0] = nil
	e.pending = e.pending[1:]
	return raw, true
}

func (e *Engine) playOne(raw []byte) {
	clip, err := Decode(raw, e.cfg.Format, e.cfg.SampleRate)
	if err != nil {
		e.fail(err)
		return
	}
	if err := e.player.Play(e.ctx, clip); err != nil {
		if e.ctx.Err() != nil {
			e.logger.Debug("playback interrupted by shutdown")
			return
		}
		e.fail(err)
		return
	}
	e.played.Add(1)
	e.logger.Debug("clip played",
		"format", string(clip.Format),
		"sample_rate", clip.SampleRate,
		"duration_s", clip.Duration(),
	)
}

func (e *Engine) fail(err error) {
	e.failed.Add(1)
	e.logger.Warn("playback failed", "error", err)
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.stopped = true
	dropped := len(e.pending)
	e.pending = nil
	e.mu.Unlock()

	e.wg.Wait()
	if dropped > 0 {
		e.logger.Info("discarded queued clips on shutdown", "count", dropped)
	}
}

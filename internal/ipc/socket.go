package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var ErrAlreadyRunning = errors.New("voicebridge is already running")

const socketName = "voicebridge.sock"

func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, socketName), nil
}

// Acquire binds the owner socket. A responsive owner yields ErrAlreadyRunning;
// a stale socket file is removed, rescue runs, and binding is retried up to
// retries more times.
func Acquire(
	ctx context.Context,
	path string,
	probeTimeout time.Duration,
	retries int,
	rescue func(context.Context) error,
) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	var fatal error
	stopWith := func(err error) (net.Listener, error) {
		fatal = err
		return nil, backoff.Permanent(err)
	}

	bind := func() (net.Listener, error) {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return stopWith(fmt.Errorf("listen unix %s: %w", path, err))
		}

		alive, probeErr := Probe(ctx, path, probeTimeout)
		if alive {
			return stopWith(ErrAlreadyRunning)
		}
		if probeErr != nil {
			return stopWith(fmt.Errorf("probe existing socket %s: %w", path, probeErr))
		}

		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return stopWith(fmt.Errorf("remove stale socket %s: %w", path, removeErr))
		}
		if rescue != nil {
			_ = rescue(ctx)
		}
		return nil, fmt.Errorf("socket %s was stale", path)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	listener, err := backoff.Retry(ctx, bind,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if fatal != nil {
			return nil, fatal
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to acquire socket %s after %d retries: %w", path, retries, err)
	}
	return listener, nil
}

package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func serveForTest(t *testing.T, socketPath string, handler Handler) context.CancelFunc {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- Serve(ctx, listener, handler) }()

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		require.NoError(t, <-serveDone)
	}
	t.Cleanup(stop)
	return stop
}

func TestSendRoundTrip(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), socketName)
	serveForTest(t, socketPath, HandlerFunc(func(_ context.Context, req Request) Response {
		require.Equal(t, CommandPress, req.Command)
		return Response{OK: true, Connection: "connected", Recording: true, Entries: 3, Message: "recording"}
	}))

	resp, err := Send(context.Background(), socketPath, Request{Command: CommandPress}, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, "connected", resp.Connection)
	require.True(t, resp.Recording)
	require.Equal(t, 3, resp.Entries)
	require.Equal(t, "recording", resp.Message)
}

func TestResponseWireShape(t *testing.T) {
	var buf bytesWriter
	require.NoError(t, writeLine(&buf, Response{OK: false, Connection: "reconnecting", Error: "not connected"}))
	require.Equal(t, byte('\n'), buf.data[len(buf.data)-1])
	require.JSONEq(t, `{"ok":false,"connection":"reconnecting","recording":false,"entries":0,"error":"not connected"}`, string(buf.data))
}

type bytesWriter struct{ data []byte }

func (w *bytesWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func TestSendDecodeResponseError(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), socketName)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		_, _ = reader.ReadBytes('\n')
		_, _ = conn.Write([]byte("not-json\n"))
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestSendReadResponseError(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), socketName)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		_ = conn.Close()
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read response")
}

func TestServeDecodeRequestErrorResponse(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), socketName)
	serveForTest(t, socketPath, HandlerFunc(func(_ context.Context, _ Request) Response {
		return Response{OK: true}
	}))

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not-json\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "decode request")
}

func TestProbe(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), socketName)
	stop := serveForTest(t, socketPath, HandlerFunc(func(_ context.Context, req Request) Response {
		if req.Command == CommandStatus {
			return Response{OK: true, Connection: "connected"}
		}
		return Response{OK: false, Error: "bad"}
	}))

	alive, probeErr := Probe(context.Background(), socketPath, 200*time.Millisecond)
	require.NoError(t, probeErr)
	require.True(t, alive)

	stop()

	alive, probeErr = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, probeErr)
	require.False(t, alive)
}

func TestNoOwner(t *testing.T) {
	require.False(t, NoOwner(nil))
	require.True(t, NoOwner(&net.OpError{Op: "dial", Err: os.ErrNotExist}))
	require.True(t, NoOwner(&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}))
	require.False(t, NoOwner(errors.New("timeout")))
}

func TestServeReturnsWithIdleClientConnected(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), socketName)
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(context.Context, Request) Response {
			return Response{OK: true}
		}))
	}()

	idle, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer idle.Close()

	cancel()
	select {
	case err := <-serveDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve blocked on an idle client")
	}
}

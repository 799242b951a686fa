// Package ipc carries push-to-talk and control commands from short-lived CLI
// invocations to the owner process over a unix socket, one JSON line each way.
package ipc

import (
	"bufio"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

const (
	CommandPress   = "press"
	CommandRelease = "release"
	CommandToggle  = "toggle"
	CommandClear   = "clear"
	CommandSummary = "summary"
	CommandStatus  = "status"
	CommandCopy    = "copy"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK         bool   `json:"ok"`
	Connection string `json:"connection,omitempty"`
	Recording  bool   `json:"recording"`
	Entries    int    `json:"entries"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// writeLine encodes v as one newline-terminated JSON document.
func writeLine(w io.Writer, v any) error {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(payload, '\n'))
	return err
}

// readLine decodes one newline-terminated JSON document into v.
func readLine(r *bufio.Reader, v any, what string) error {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read %s: %w", what, err)
	}
	if err := sonic.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

// Package doctor runs readiness diagnostics for config, tools, audio, and the voice bridge.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbright/voicebridge/internal/audio"
	"github.com/rbright/voicebridge/internal/config"
	"github.com/rbright/voicebridge/internal/transport"
)

const handshakeTimeout = 3 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	endpoint, origin := checkOrigin(cfg.Server)
	checks = append(checks, origin)

	if cfg.Playback.Backend == config.PlaybackBackendCommand {
		checks = append(checks, checkCommand(cfg.Playback.Command.Argv, "playback.command"))
	}
	checks = append(checks, checkCommand(cfg.Clipboard.Command.Argv, "clipboard.command"))

	if cfg.Indicator.Enable {
		switch cfg.Indicator.Backend {
		case config.IndicatorBackendHypr:
			checks = append(checks, checkEnv("HYPRLAND_INSTANCE_SIGNATURE", func(v string) bool {
				return strings.TrimSpace(v) != ""
			}, "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty"))
			checks = append(checks, checkBinary("hyprctl", "indicator.backend=hypr"))
		case config.IndicatorBackendDesktop:
			checks = append(checks, checkBinary("busctl", "indicator.backend=desktop"))
		}
	}

	checks = append(checks, checkAudioSelection(ctx, cfg.Audio))
	if endpoint != "" {
		checks = append(checks, checkHandshake(ctx, endpoint))
	}

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", loaded.Path)
	}
	if loaded.Dotenv != "" {
		message += fmt.Sprintf(", env from %s", loaded.Dotenv)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkOrigin derives the WebSocket endpoint from the configured origin.
func checkOrigin(server config.ServerConfig) (string, Check) {
	endpoint, err := transport.Endpoint(server.Origin, server.Path)
	if err != nil {
		return "", Check{Name: "server.origin", Pass: false, Message: err.Error()}
	}
	return endpoint, Check{Name: "server.origin", Pass: true, Message: fmt.Sprintf("endpoint %s", endpoint)}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.AudioConfig) Check {
	constraints := audio.DefaultConstraints()
	constraints.EchoCancellation = cfg.EchoCancellation
	constraints.NoiseSuppression = cfg.NoiseSuppression

	selection, err := audio.SelectDevice(ctx, cfg.Input, cfg.Fallback, constraints)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkHandshake opens and immediately closes a WebSocket to the endpoint.
func checkHandshake(ctx context.Context, endpoint string) Check {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return Check{Name: "server.handshake", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, endpoint)}
		}
		return Check{Name: "server.handshake", Pass: false, Message: fmt.Sprintf("dial failed: %v", err)}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "doctor"),
		time.Now().Add(time.Second))
	_ = conn.Close()

	status := http.StatusSwitchingProtocols
	if resp != nil {
		status = resp.StatusCode
	}
	return Check{Name: "server.handshake", Pass: true, Message: fmt.Sprintf("HTTP %d from %s", status, endpoint)}
}

package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	reconnectModes   = []string{ReconnectModeReload, ReconnectModeReconnect, ReconnectModeOff}
	playbackBackends = []string{PlaybackBackendPulse, PlaybackBackendCommand}
	playbackPolicies = []string{PlaybackPolicyQueue, PlaybackPolicyOverlap}
	playbackFormats  = []string{"auto", "mp3", "pcm16"}
	indicatorKinds   = []string{IndicatorBackendHypr, IndicatorBackendDesktop}
	logLevels        = []string{"debug", "info", "warn", "error"}
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateOrigin(cfg.Server.Origin); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.Server.Path), "/") {
		return nil, fmt.Errorf("server.path must start with '/'")
	}
	if cfg.Server.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("server.dial_timeout_ms must be > 0")
	}
	if cfg.Server.WriteTimeoutMS <= 0 {
		return nil, fmt.Errorf("server.write_timeout_ms must be > 0")
	}
	if cfg.Server.HeartbeatMS < 0 {
		return nil, fmt.Errorf("server.heartbeat_ms must be >= 0")
	}

	if strings.TrimSpace(cfg.Audio.Input) == "" {
		return nil, fmt.Errorf("audio.input must not be empty")
	}
	if cfg.Audio.BufferSamples <= 0 {
		return nil, fmt.Errorf("audio.buffer_samples must be > 0")
	}

	if err := oneOf("reconnect.mode", cfg.Reconnect.Mode, reconnectModes); err != nil {
		return nil, err
	}
	if cfg.Reconnect.DelayMS < 0 {
		return nil, fmt.Errorf("reconnect.delay_ms must be >= 0")
	}
	if cfg.Reconnect.MaxRetries <= 0 {
		return nil, fmt.Errorf("reconnect.max_retries must be > 0")
	}
	if cfg.Reconnect.BackoffMaxMS < cfg.Reconnect.DelayMS {
		return nil, fmt.Errorf("reconnect.backoff_max_ms must be >= reconnect.delay_ms")
	}
	if cfg.Reconnect.PreserveLog && cfg.Reconnect.Mode != ReconnectModeReconnect {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("reconnect.preserve_log has no effect with reconnect.mode=%s", cfg.Reconnect.Mode)})
	}

	if err := oneOf("playback.backend", cfg.Playback.Backend, playbackBackends); err != nil {
		return nil, err
	}
	if err := oneOf("playback.policy", cfg.Playback.Policy, playbackPolicies); err != nil {
		return nil, err
	}
	if err := oneOf("playback.format", cfg.Playback.Format, playbackFormats); err != nil {
		return nil, err
	}
	if cfg.Playback.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("playback.max_concurrent must be > 0")
	}
	if cfg.Playback.SampleRate <= 0 {
		return nil, fmt.Errorf("playback.sample_rate must be > 0")
	}
	if cfg.Playback.Backend == PlaybackBackendCommand && len(cfg.Playback.Command.Argv) == 0 {
		return nil, fmt.Errorf("playback.command must not be empty when playback.backend=command")
	}

	if err := oneOf("indicator.backend", cfg.Indicator.Backend, indicatorKinds); err != nil {
		return nil, err
	}
	if cfg.Indicator.Backend == IndicatorBackendDesktop && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}
	if cfg.Indicator.NoticeTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.notice_timeout_ms must be >= 0")
	}

	if len(cfg.Clipboard.Command.Argv) == 0 {
		return nil, fmt.Errorf("clipboard.command must not be empty")
	}
	if hasPlaceholder(cfg.Clipboard.Command.Argv) {
		return nil, fmt.Errorf("clipboard.command reads the reply on stdin; %s is not substituted", FilePlaceholder)
	}

	if err := oneOf("log.level", cfg.Log.Level, logLevels); err != nil {
		return nil, err
	}

	return warnings, nil
}

// validateOrigin accepts http(s) page origins and ws(s) endpoints.
func validateOrigin(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("server.origin must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("server.origin %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("server.origin must use http, https, ws, or wss (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server.origin %q has no host", raw)
	}
	return nil
}

func oneOf(field string, value string, allowed []string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of: %s", field, strings.Join(allowed, ", "))
}

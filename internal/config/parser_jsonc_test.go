package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeJSONCRemovesCommentsAndTrailingCommas(t *testing.T) {
	input := `
{
  // line comment
  "items": [
    "one", /* block comment */
    "two",
  ],
  "nested": {
    "enabled": true,
  },
}
`

	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.NotContains(t, normalized, "//")
	require.NotContains(t, normalized, "/*")
	require.NotContains(t, normalized, ",]")
	require.NotContains(t, normalized, ",}")
}

func TestNormalizeJSONCRetainsCommentLikeTextInsideStrings(t *testing.T) {
	input := `{"value":"contains // and /* comment-like */ text",}`
	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.Contains(t, normalized, "// and /* comment-like */")
}

func TestNormalizeJSONCUnterminatedBlockCommentFails(t *testing.T) {
	_, err := normalizeJSONC("{ /* unterminated ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated block comment")
}

func TestEnsureSingleJSONValueRejectsExtraPayload(t *testing.T) {
	decoder := json.NewDecoder(strings.NewReader(`{"one":1}{"two":2}`))
	decoder.DisallowUnknownFields()
	var payload map[string]any
	require.NoError(t, decoder.Decode(&payload))

	err := ensureSingleJSONValue(decoder)
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")

	_, _, err = parseJSONC(`{"log":{"level":"warn"}} 42`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")
}

func TestOffsetToLineCol(t *testing.T) {
	content := "line1\nline2\nline3"
	line, col := offsetToLineCol(content, 1)
	require.Equal(t, 1, line)
	require.Equal(t, 1, col)

	line, col = offsetToLineCol(content, 8) // line2, col2
	require.Equal(t, 2, line)
	require.Equal(t, 2, col)

	line, col = offsetToLineCol(content, 999)
	require.Equal(t, 3, line)
	require.Equal(t, 5, col)
}

func TestParseJSONCAppliesSections(t *testing.T) {
	cfg, warnings, err := parseJSONC(`{
  // remote bridge behind TLS
  "server": {"origin": " https://bridge.example.com ", "heartbeat_ms": 0},
  "audio": {"input": "usb", "buffer_samples": 2048, "echo_cancellation": false},
  "reconnect": {"mode": " Reconnect ", "delay_ms": 500, "max_retries": 3, "backoff_max_ms": 4000, "preserve_log": true},
  "playback": {"backend": "command", "policy": "overlap", "max_concurrent": 2, "format": "MP3", "command": "mpv --no-video {file}"},
  "indicator": {"backend": " desktop ", "desktop_app_name": "  voicebridge-dev  ", "notice_timeout_ms": 900},
  "render": {"meter": false},
  "clipboard": {"command": "xclip -selection clipboard"},
  "log": {"level": "DEBUG"},
}`, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)

	require.Equal(t, "https://bridge.example.com", cfg.Server.Origin)
	require.Equal(t, "/ws", cfg.Server.Path)
	require.Zero(t, cfg.Server.HeartbeatMS)
	require.Equal(t, "usb", cfg.Audio.Input)
	require.Equal(t, 2048, cfg.Audio.BufferSamples)
	require.False(t, cfg.Audio.EchoCancellation)
	require.True(t, cfg.Audio.NoiseSuppression)
	require.Equal(t, ReconnectConfig{Mode: "reconnect", DelayMS: 500, MaxRetries: 3, BackoffMaxMS: 4000, PreserveLog: true}, cfg.Reconnect)
	require.Equal(t, PlaybackBackendCommand, cfg.Playback.Backend)
	require.Equal(t, PlaybackPolicyOverlap, cfg.Playback.Policy)
	require.Equal(t, "mp3", cfg.Playback.Format)
	require.Equal(t, []string{"mpv", "--no-video", "{file}"}, cfg.Playback.Command.Argv)
	require.Equal(t, IndicatorBackendDesktop, cfg.Indicator.Backend)
	require.Equal(t, "voicebridge-dev", cfg.Indicator.DesktopAppName)
	require.Equal(t, 900, cfg.Indicator.NoticeTimeoutMS)
	require.True(t, cfg.Render.Color)
	require.False(t, cfg.Render.Meter)
	require.Equal(t, []string{"xclip", "-selection", "clipboard"}, cfg.Clipboard.Command.Argv)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestParseJSONCRejectsUnknownFields(t *testing.T) {
	_, _, err := parseJSONC(`{"server": {"url": "ws://x"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestParseJSONCRejectsInvalidCommandArgv(t *testing.T) {
	_, _, err := parseJSONC(`{"playback":{"command":"unterminated ' quote"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid playback.command")
}

func TestParseJSONCRejectsEmptyClipboardCommand(t *testing.T) {
	_, _, err := parseJSONC(`{"clipboard":{"command":"  "}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "clipboard.command must not be empty")
}

func TestParseJSONCRejectsMultipleTopLevelValues(t *testing.T) {
	_, _, err := parseJSONC(`{"render":{"color":false}}{"render":{"color":true}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")
}

func TestParseJSONCTypeErrorIncludesLocation(t *testing.T) {
	_, _, err := parseJSONC(`{
  "server": {"origin": 123}
}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2")
	require.Contains(t, err.Error(), "column")
}

func TestParseJSONCValidatesResult(t *testing.T) {
	_, _, err := parseJSONC(`{"reconnect":{"mode":"forever"}}`, Default())
	require.ErrorContains(t, err, "reconnect.mode must be one of")
}

func TestParseRejectsNonObject(t *testing.T) {
	_, _, err := Parse(`origin = http://x`, Default())
	require.ErrorContains(t, err, "JSONC object")

	cfg, warnings, err := Parse("  \n", Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, Default(), cfg)
}

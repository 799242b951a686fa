// Package config resolves, parses, validates, and defaults voicebridge configuration.
package config

// Config is the fully materialized runtime configuration.
type Config struct {
	Server    ServerConfig
	Audio     AudioConfig
	Reconnect ReconnectConfig
	Playback  PlaybackConfig
	Indicator IndicatorConfig
	Render    RenderConfig
	Clipboard ClipboardConfig
	Log       LogConfig
}

// ServerConfig locates the voice bridge backend.
type ServerConfig struct {
	// Origin is the page origin the WebSocket endpoint is derived from,
	// e.g. http://localhost:8000.
	Origin         string
	Path           string
	DialTimeoutMS  int
	WriteTimeoutMS int
	HeartbeatMS    int
}

// AudioConfig controls input-source selection and capture constraints.
type AudioConfig struct {
	Input            string
	Fallback         string
	BufferSamples    int
	EchoCancellation bool
	NoiseSuppression bool
}

// ReconnectConfig selects the recovery policy after a dropped connection.
type ReconnectConfig struct {
	Mode         string
	DelayMS      int
	MaxRetries   int
	BackoffMaxMS int
	PreserveLog  bool
}

// PlaybackConfig controls how inbound audio is played.
type PlaybackConfig struct {
	Backend       string
	Policy        string
	MaxConcurrent int
	Format        string
	SampleRate    int
	Command       CommandConfig
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Enable          bool
	Backend         string
	DesktopAppName  string
	SoundEnable     bool
	ErrorTimeoutMS  int
	NoticeTimeoutMS int
}

// RenderConfig controls terminal output.
type RenderConfig struct {
	Color bool
	Meter bool
}

// ClipboardConfig sets the command that receives copied replies on stdin.
type ClipboardConfig struct {
	Command CommandConfig
}

// LogConfig controls the JSONL runtime log.
type LogConfig struct {
	Level string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
